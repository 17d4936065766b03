package ledger

import (
	"log"
	"time"

	"github.com/pysugar/key-wallet-nexus/internal/db/models"
)

// allIDs snapshots the cached credential ids.
func (l *Ledger) allIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.cache))
	for id := range l.cache {
		ids = append(ids, id)
	}
	return ids
}

// ResetDaily zeroes the daily usage counter on every credential. Idempotent;
// each credential is reset under its own mutation lock so a reset cannot
// interleave with a concurrent usage recording.
func (l *Ledger) ResetDaily() {
	for _, id := range l.allIDs() {
		cred, ok := l.lookup(id)
		if !ok {
			continue
		}
		lk := l.lockFor(id)
		lk.Lock()
		cred.DailyUsage = 0
		cred.UpdatedAt = time.Now()
		if err := l.db.Save(cred).Error; err != nil {
			log.Printf("⚠️ Failed to persist daily reset for %s: %v", id, err)
		}
		lk.Unlock()
	}
	log.Printf("🔄 Daily usage counters reset")
}

// ResetMonthly zeroes the monthly usage counter on every credential, and the
// quota-used counter on credentials with a monthly quota period. Idempotent.
func (l *Ledger) ResetMonthly() {
	for _, id := range l.allIDs() {
		cred, ok := l.lookup(id)
		if !ok {
			continue
		}
		lk := l.lockFor(id)
		lk.Lock()
		cred.MonthlyUsage = 0
		if cred.QuotaPeriod == models.PeriodMonthly {
			cred.QuotaUsed = 0
		}
		cred.UpdatedAt = time.Now()
		if err := l.db.Save(cred).Error; err != nil {
			log.Printf("⚠️ Failed to persist monthly reset for %s: %v", id, err)
		}
		lk.Unlock()
	}
	log.Printf("🔄 Monthly usage counters reset")
}

// StartResetLoop fires the period resets on day and month boundaries. The
// loop checks hourly; resets themselves are idempotent, so a missed or
// repeated tick is harmless.
func (l *Ledger) StartResetLoop() {
	ticker := time.NewTicker(time.Hour)
	go func() {
		last := time.Now()
		for now := range ticker.C {
			if now.Day() != last.Day() || now.Month() != last.Month() {
				l.ResetDaily()
			}
			if now.Month() != last.Month() {
				l.ResetMonthly()
			}
			last = now
		}
	}()
	log.Printf("🔄 Period reset loop started (interval: 1h)")
}
