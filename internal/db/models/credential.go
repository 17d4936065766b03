package models

import (
	"encoding/json"
	"time"
)

// ServiceType classifies the third-party service a credential belongs to.
type ServiceType string

const (
	ServicePayment   ServiceType = "payment"
	ServiceWeather   ServiceType = "weather"
	ServiceMapping   ServiceType = "mapping"
	ServiceAI        ServiceType = "ai"
	ServiceDatabase  ServiceType = "database"
	ServiceStorage   ServiceType = "storage"
	ServiceMessaging ServiceType = "messaging"
	ServiceAnalytics ServiceType = "analytics"
	ServiceOther     ServiceType = "other"
)

// KeyTier is the service level a credential is billed at.
type KeyTier string

const (
	TierFree    KeyTier = "free"
	TierPaid    KeyTier = "paid"
	TierPremium KeyTier = "premium"
)

// KeyStatus is the credential lifecycle state. Transitions out of active can
// happen any time; suspended/expired return to active only by owner update.
type KeyStatus string

const (
	StatusActive    KeyStatus = "active"
	StatusInactive  KeyStatus = "inactive"
	StatusExpired   KeyStatus = "expired"
	StatusSuspended KeyStatus = "suspended"
)

// QuotaPeriod is the window a credential's quota applies to.
type QuotaPeriod string

const (
	PeriodHourly  QuotaPeriod = "hourly"
	PeriodDaily   QuotaPeriod = "daily"
	PeriodMonthly QuotaPeriod = "monthly"
	PeriodYearly  QuotaPeriod = "yearly"
)

// Credential stores an encrypted third-party API secret plus its usage state.
// EncryptedSecret and SecretHash never leave the ledger; API responses use the
// View projection.
type Credential struct {
	ID              string `gorm:"primaryKey"`
	OwnerID         string `gorm:"index"`
	Service         string `gorm:"index"`
	ServiceType     ServiceType
	Tier            KeyTier
	Status          KeyStatus
	EncryptedSecret string
	SecretHash      string `gorm:"uniqueIndex"`
	QuotaLimit      float64
	QuotaUsed       float64
	QuotaPeriod     QuotaPeriod
	UsageCount      int64
	DailyUsage      float64
	MonthlyUsage    float64
	Region          string
	Webhook         string
	Permissions     string // JSON array of permission strings
	LastUsedAt      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CredentialView is the public projection of a Credential. It has no field for
// the encrypted blob or the lookup hash, so neither can leak through a response.
type CredentialView struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"ownerId"`
	Service      string      `json:"service"`
	ServiceType  ServiceType `json:"serviceType"`
	Tier         KeyTier     `json:"tier"`
	Status       KeyStatus   `json:"status"`
	QuotaLimit   float64     `json:"quota"`
	QuotaUsed    float64     `json:"quotaUsed"`
	QuotaPeriod  QuotaPeriod `json:"quotaPeriod"`
	UsageCount   int64       `json:"usageCount"`
	DailyUsage   float64     `json:"dailyUsage"`
	MonthlyUsage float64     `json:"monthlyUsage"`
	Region       string      `json:"region,omitempty"`
	Webhook      string      `json:"webhook,omitempty"`
	Permissions  []string    `json:"permissions,omitempty"`
	LastUsedAt   time.Time   `json:"lastUsed"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// View returns the sanitized projection of c.
func (c *Credential) View() CredentialView {
	var perms []string
	if c.Permissions != "" {
		_ = json.Unmarshal([]byte(c.Permissions), &perms)
	}
	return CredentialView{
		ID:           c.ID,
		OwnerID:      c.OwnerID,
		Service:      c.Service,
		ServiceType:  c.ServiceType,
		Tier:         c.Tier,
		Status:       c.Status,
		QuotaLimit:   c.QuotaLimit,
		QuotaUsed:    c.QuotaUsed,
		QuotaPeriod:  c.QuotaPeriod,
		UsageCount:   c.UsageCount,
		DailyUsage:   c.DailyUsage,
		MonthlyUsage: c.MonthlyUsage,
		Region:       c.Region,
		Webhook:      c.Webhook,
		Permissions:  perms,
		LastUsedAt:   c.LastUsedAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
