// Package ledger owns the credential records: lifecycle, quota bookkeeping
// and period resets. A Ledger fronts the database with an in-memory cache so
// quota admission is a local, lock-protected decision.
package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/errs"
	"github.com/pysugar/key-wallet-nexus/internal/vault"
	"gorm.io/gorm"
)

// Ledger is the authoritative map from credential ID to record, plus the
// vault-wide secret hash index. Mutations to a single credential are
// serialized by a per-credential mutex; unrelated credentials proceed in
// parallel.
type Ledger struct {
	db    *gorm.DB
	vault *vault.Vault

	mu     sync.RWMutex // guards the three maps below
	cache  map[string]*models.Credential
	hashes map[string]string // secret hash -> credential id
	locks  map[string]*sync.Mutex
}

// New loads all credentials into the cache and returns a ready Ledger.
func New(database *gorm.DB, v *vault.Vault) *Ledger {
	l := &Ledger{
		db:     database,
		vault:  v,
		cache:  make(map[string]*models.Credential),
		hashes: make(map[string]string),
		locks:  make(map[string]*sync.Mutex),
	}

	var creds []models.Credential
	l.db.Find(&creds)
	for i := range creds {
		c := creds[i]
		l.cache[c.ID] = &c
		l.hashes[c.SecretHash] = c.ID
	}
	log.Printf("📦 Loaded %d credentials into ledger cache", len(creds))
	return l
}

// lockFor returns the mutation lock for a credential id, creating it on
// first use. Never called while holding a credential lock.
func (l *Ledger) lockFor(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[id] = lk
	}
	return lk
}

func (l *Ledger) lookup(id string) (*models.Credential, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.cache[id]
	return c, ok
}

// NewKeyID generates a credential id: "key_" + 32 hex chars.
func NewKeyID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return "key_" + hex.EncodeToString(b)
}

// Metadata describes the service binding and quota for a new credential.
type Metadata struct {
	Service     string             `json:"service"`
	Type        models.ServiceType `json:"type"`
	Quota       float64            `json:"quota"`
	QuotaPeriod models.QuotaPeriod `json:"quotaPeriod"`
	Region      string             `json:"region,omitempty"`
	Webhook     string             `json:"webhook,omitempty"`
	Permissions []string           `json:"permissions,omitempty"`
}

// Register validates and stores a new credential. The raw secret is encrypted
// at rest; only its salted hash is indexed. Duplicate secrets are rejected
// vault-wide, regardless of owner.
func (l *Ledger) Register(owner, rawSecret string, meta Metadata, tier models.KeyTier) (models.CredentialView, error) {
	validation := vault.ValidateFormat(rawSecret)
	if !validation.Valid {
		return models.CredentialView{}, &errs.ValidationError{Issues: validation.Issues}
	}

	hash := l.vault.Hash(rawSecret)
	encrypted, err := l.vault.Encrypt(rawSecret)
	if err != nil {
		return models.CredentialView{}, err
	}

	if tier == "" {
		tier = models.TierFree
	}
	if meta.Type == "" {
		meta.Type = models.ServiceOther
	}
	if meta.QuotaPeriod == "" {
		meta.QuotaPeriod = models.PeriodMonthly
	}

	var perms string
	if len(meta.Permissions) > 0 {
		raw, _ := json.Marshal(meta.Permissions)
		perms = string(raw)
	}

	now := time.Now()
	cred := &models.Credential{
		ID:              NewKeyID(),
		OwnerID:         owner,
		Service:         meta.Service,
		ServiceType:     meta.Type,
		Tier:            tier,
		Status:          models.StatusActive,
		EncryptedSecret: encrypted,
		SecretHash:      hash,
		QuotaLimit:      meta.Quota,
		QuotaPeriod:     meta.QuotaPeriod,
		Region:          meta.Region,
		Webhook:         meta.Webhook,
		Permissions:     perms,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Hash check and insert must be one atomic step so two concurrent
	// registrations of the same secret cannot both succeed.
	l.mu.Lock()
	if _, exists := l.hashes[hash]; exists {
		l.mu.Unlock()
		return models.CredentialView{}, &errs.ConflictError{Hash: hash}
	}
	if err := l.db.Create(cred).Error; err != nil {
		l.mu.Unlock()
		return models.CredentialView{}, err
	}
	l.cache[cred.ID] = cred
	l.hashes[hash] = cred.ID
	l.mu.Unlock()

	if validation.Vendor != "" {
		log.Printf("🔑 Registered %s credential %s for %s (%s, tier=%s)", cred.Service, cred.ID, owner, validation.Vendor, tier)
	} else {
		log.Printf("🔑 Registered %s credential %s for %s (tier=%s)", cred.Service, cred.ID, owner, tier)
	}
	return cred.View(), nil
}

// Get returns a credential by id. When owner is non-empty the credential is
// returned only to its owner; a mismatch reads as not-found.
func (l *Ledger) Get(id, owner string) (models.CredentialView, error) {
	cred, ok := l.lookup(id)
	if !ok {
		return models.CredentialView{}, errs.ErrNotFound
	}

	lk := l.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	if owner != "" && cred.OwnerID != owner {
		return models.CredentialView{}, errs.ErrNotFound
	}
	return cred.View(), nil
}

// FindByHash resolves a secret hash to its credential, if stored.
func (l *Ledger) FindByHash(hash string) (models.CredentialView, bool) {
	l.mu.RLock()
	id, ok := l.hashes[hash]
	l.mu.RUnlock()
	if !ok {
		return models.CredentialView{}, false
	}
	view, err := l.Get(id, "")
	if err != nil {
		return models.CredentialView{}, false
	}
	return view, true
}

// Filters narrows a List call. All set fields must match (AND).
type Filters struct {
	Service string
	Tier    models.KeyTier
	Status  models.KeyStatus
	Type    models.ServiceType
}

// List returns the owner's credentials matching the filters, oldest first.
func (l *Ledger) List(owner string, f Filters) []models.CredentialView {
	l.mu.RLock()
	ids := make([]string, 0, len(l.cache))
	for id, c := range l.cache {
		if c.OwnerID == owner {
			ids = append(ids, id)
		}
	}
	l.mu.RUnlock()

	views := make([]models.CredentialView, 0, len(ids))
	for _, id := range ids {
		view, err := l.Get(id, owner)
		if err != nil {
			continue // deleted since the scan
		}
		if f.Service != "" && view.Service != f.Service {
			continue
		}
		if f.Tier != "" && view.Tier != f.Tier {
			continue
		}
		if f.Status != "" && view.Status != f.Status {
			continue
		}
		if f.Type != "" && view.ServiceType != f.Type {
			continue
		}
		views = append(views, view)
	}

	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.Before(views[j].CreatedAt)
		}
		return views[i].ID < views[j].ID
	})
	return views
}

// MetadataPatch updates individual metadata fields; nil fields stay untouched.
type MetadataPatch struct {
	Quota       *float64            `json:"quota,omitempty"`
	QuotaPeriod *models.QuotaPeriod `json:"quotaPeriod,omitempty"`
	Region      *string             `json:"region,omitempty"`
	Webhook     *string             `json:"webhook,omitempty"`
	Permissions []string            `json:"permissions,omitempty"`
}

// Patch is a partial credential update.
type Patch struct {
	Status   *models.KeyStatus `json:"status,omitempty"`
	Tier     *models.KeyTier   `json:"tier,omitempty"`
	Metadata *MetadataPatch    `json:"metadata,omitempty"`
}

// Update applies a partial update. Metadata merges field by field rather than
// being replaced wholesale. Owner mismatch reads as not-found.
func (l *Ledger) Update(id, owner string, patch Patch) (models.CredentialView, error) {
	cred, ok := l.lookup(id)
	if !ok {
		return models.CredentialView{}, errs.ErrNotFound
	}

	lk := l.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	if cred.OwnerID != owner {
		return models.CredentialView{}, errs.ErrNotFound
	}

	if patch.Status != nil {
		cred.Status = *patch.Status
	}
	if patch.Tier != nil {
		cred.Tier = *patch.Tier
	}
	if m := patch.Metadata; m != nil {
		if m.Quota != nil {
			cred.QuotaLimit = *m.Quota
		}
		if m.QuotaPeriod != nil {
			cred.QuotaPeriod = *m.QuotaPeriod
		}
		if m.Region != nil {
			cred.Region = *m.Region
		}
		if m.Webhook != nil {
			cred.Webhook = *m.Webhook
		}
		if m.Permissions != nil {
			raw, _ := json.Marshal(m.Permissions)
			cred.Permissions = string(raw)
		}
	}
	cred.UpdatedAt = time.Now()

	if err := l.db.Save(cred).Error; err != nil {
		return models.CredentialView{}, err
	}
	log.Printf("✏️ Updated credential %s for %s", id, owner)
	return cred.View(), nil
}

// Delete removes the credential and its hash index entry. Returns false,
// not an error, when the credential is missing or owned by someone else.
func (l *Ledger) Delete(id, owner string) bool {
	cred, ok := l.lookup(id)
	if !ok {
		return false
	}

	lk := l.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	if cred.OwnerID != owner {
		return false
	}

	l.mu.Lock()
	delete(l.cache, id)
	delete(l.hashes, cred.SecretHash)
	delete(l.locks, id)
	l.mu.Unlock()

	if err := l.db.Delete(&models.Credential{}, "id = ?", id).Error; err != nil {
		log.Printf("⚠️ Failed to delete credential %s from db: %v", id, err)
	}
	log.Printf("🗑️ Deleted credential %s for %s (service=%s)", id, owner, cred.Service)
	return true
}

// QuotaInfo is a point-in-time snapshot of a credential's quota state.
type QuotaInfo struct {
	HasQuota  bool    `json:"hasQuota"`
	Remaining float64 `json:"remaining"`
	Limit     float64 `json:"limit"`
	Used      float64 `json:"used"`
}

// CheckQuota reports whether the credential has remaining quota. Unknown ids
// report no quota.
func (l *Ledger) CheckQuota(id string) QuotaInfo {
	cred, ok := l.lookup(id)
	if !ok {
		return QuotaInfo{}
	}

	lk := l.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	remaining := cred.QuotaLimit - cred.QuotaUsed
	if remaining < 0 {
		remaining = 0
	}
	return QuotaInfo{
		HasQuota:  remaining > 0,
		Remaining: remaining,
		Limit:     cred.QuotaLimit,
		Used:      cred.QuotaUsed,
	}
}

// RecordUsage charges cost against the credential in one atomic step:
// lifetime count, daily and monthly usage, quota used, timestamps. No-op if
// the credential no longer exists.
func (l *Ledger) RecordUsage(id string, cost float64) {
	cred, ok := l.lookup(id)
	if !ok {
		return
	}

	lk := l.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	cred.UsageCount++
	cred.DailyUsage += cost
	cred.MonthlyUsage += cost
	cred.QuotaUsed += cost
	if cred.QuotaUsed < 0 {
		cred.QuotaUsed = 0
	}
	now := time.Now()
	cred.LastUsedAt = now
	cred.UpdatedAt = now

	if err := l.db.Save(cred).Error; err != nil {
		log.Printf("⚠️ Failed to persist usage for %s: %v", id, err)
	}
}

// Reserve atomically admits one request against the credential's remaining
// quota, charging cost up front. Two callers racing for the last unit of
// quota cannot both win. Admission only requires that some quota remains, so
// the final charge may carry quotaUsed past the limit by a fraction of one
// cost unit; the credential is then exhausted for every later caller. The
// reservation is finalized by Commit or undone by Release.
func (l *Ledger) Reserve(id string, cost float64) bool {
	cred, ok := l.lookup(id)
	if !ok {
		return false
	}

	lk := l.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	if cred.Status != models.StatusActive {
		return false
	}
	if cred.QuotaLimit-cred.QuotaUsed <= 0 {
		return false
	}
	cred.QuotaUsed += cost
	cred.UpdatedAt = time.Now()

	if err := l.db.Save(cred).Error; err != nil {
		log.Printf("⚠️ Failed to persist reservation for %s: %v", id, err)
	}
	return true
}

// Commit finalizes a reservation after the upstream call delivered a
// response. Quota was already charged by Reserve; this updates the usage
// counters and timestamps.
func (l *Ledger) Commit(id string, cost float64) {
	cred, ok := l.lookup(id)
	if !ok {
		return
	}

	lk := l.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	cred.UsageCount++
	cred.DailyUsage += cost
	cred.MonthlyUsage += cost
	now := time.Now()
	cred.LastUsedAt = now
	cred.UpdatedAt = now

	if err := l.db.Save(cred).Error; err != nil {
		log.Printf("⚠️ Failed to persist usage for %s: %v", id, err)
	}
}

// Release refunds a reservation whose call never produced an upstream
// response, so quotaUsed stays equal to the sum of delivered-response costs.
func (l *Ledger) Release(id string, cost float64) {
	cred, ok := l.lookup(id)
	if !ok {
		return
	}

	lk := l.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	cred.QuotaUsed -= cost
	if cred.QuotaUsed < 0 {
		cred.QuotaUsed = 0
	}
	cred.UpdatedAt = time.Now()

	if err := l.db.Save(cred).Error; err != nil {
		log.Printf("⚠️ Failed to persist release for %s: %v", id, err)
	}
}

// GetDecryptedSecret returns the plaintext secret for an active credential.
// Non-active credentials and unknown ids are unavailable. A blob that fails
// authentication suspends the credential pending owner attention; the
// plaintext is never logged.
func (l *Ledger) GetDecryptedSecret(id string) (string, error) {
	cred, ok := l.lookup(id)
	if !ok {
		return "", errs.ErrNotFound
	}

	lk := l.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	if cred.Status != models.StatusActive {
		return "", &errs.CredentialUnavailableError{KeyID: id}
	}

	secret, err := l.vault.Decrypt(cred.EncryptedSecret)
	if err != nil {
		log.Printf("❌ Failed to decrypt credential %s: %v — suspending", id, err)
		cred.Status = models.StatusSuspended
		cred.UpdatedAt = time.Now()
		if saveErr := l.db.Save(cred).Error; saveErr != nil {
			log.Printf("⚠️ Failed to persist suspension for %s: %v", id, saveErr)
		}
		return "", &errs.CredentialUnavailableError{KeyID: id}
	}
	return secret, nil
}
