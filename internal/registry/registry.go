// Package registry holds the service profiles: where each upstream service
// lives, how it authenticates, what each tier costs and how calls are
// retried. Profiles are process-wide, read-mostly configuration.
package registry

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/errs"
	"gopkg.in/yaml.v3"
)

// AuthMethod is how the credential is carried on an outbound call.
type AuthMethod string

const (
	AuthHeader AuthMethod = "header"
	AuthQuery  AuthMethod = "query"
	AuthBearer AuthMethod = "bearer"
	AuthBasic  AuthMethod = "basic"
)

// RateLimit is the per-tier request ceiling for a service.
type RateLimit struct {
	PerMinute int `yaml:"rpm" json:"rpm"`
	PerHour   int `yaml:"rph" json:"rph"`
	PerDay    int `yaml:"rpd" json:"rpd"`
}

// RetryPolicy bounds transport-failure retries for a service.
type RetryPolicy struct {
	MaxRetries int `yaml:"max_retries" json:"maxRetries"`
	BackoffMs  int `yaml:"backoff_ms" json:"backoffMs"`
}

// BackoffDuration converts the configured backoff to a duration.
func (p RetryPolicy) BackoffDuration() time.Duration {
	return time.Duration(p.BackoffMs) * time.Millisecond
}

// ServiceProfile describes one upstream service.
type ServiceProfile struct {
	Name       string                       `yaml:"name" json:"name"`
	Type       models.ServiceType           `yaml:"type" json:"type"`
	BaseURL    string                       `yaml:"base_url" json:"baseUrl"`
	AuthMethod AuthMethod                   `yaml:"auth_method" json:"authMethod"`
	AuthKey    string                       `yaml:"auth_key" json:"authKey"` // header or query parameter carrying the credential
	RateLimits map[models.KeyTier]RateLimit `yaml:"rate_limits" json:"rateLimits"`
	Pricing    map[models.KeyTier]float64   `yaml:"pricing" json:"pricing"`
	Retry      RetryPolicy                  `yaml:"retry" json:"retry"`
}

// UnitCost is the per-request cost for a tier; unlisted tiers cost nothing.
func (p ServiceProfile) UnitCost(tier models.KeyTier) float64 {
	return p.Pricing[tier]
}

// Registry maps service names to profiles. Safe for concurrent reads.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]ServiceProfile
}

// New returns a registry seeded with the built-in profiles.
func New() *Registry {
	r := &Registry{profiles: make(map[string]ServiceProfile)}
	for _, p := range defaultProfiles() {
		r.profiles[p.Name] = p
	}
	return r
}

// defaultProfiles covers the services supported out of the box.
func defaultProfiles() []ServiceProfile {
	return []ServiceProfile{
		{
			Name:       "openweather",
			Type:       models.ServiceWeather,
			BaseURL:    "https://api.openweathermap.org",
			AuthMethod: AuthQuery,
			AuthKey:    "appid",
			RateLimits: map[models.KeyTier]RateLimit{
				models.TierFree:    {PerMinute: 60, PerHour: 600, PerDay: 6000},
				models.TierPaid:    {PerMinute: 1000, PerHour: 10000, PerDay: 100000},
				models.TierPremium: {PerMinute: 1000, PerHour: 10000, PerDay: 100000},
			},
			Pricing: map[models.KeyTier]float64{
				models.TierFree: 0, models.TierPaid: 0.001, models.TierPremium: 0.0005,
			},
			Retry: RetryPolicy{MaxRetries: 3, BackoffMs: 250},
		},
		{
			Name:       "stripe",
			Type:       models.ServicePayment,
			BaseURL:    "https://api.stripe.com",
			AuthMethod: AuthBearer,
			AuthKey:    "Authorization",
			RateLimits: map[models.KeyTier]RateLimit{
				models.TierPaid:    {PerMinute: 100, PerHour: 1000, PerDay: 10000},
				models.TierPremium: {PerMinute: 100, PerHour: 1000, PerDay: 10000},
			},
			Pricing: map[models.KeyTier]float64{
				models.TierFree: 0, models.TierPaid: 0.005, models.TierPremium: 0.003,
			},
			Retry: RetryPolicy{MaxRetries: 2, BackoffMs: 500},
		},
		{
			Name:       "googlemaps",
			Type:       models.ServiceMapping,
			BaseURL:    "https://maps.googleapis.com",
			AuthMethod: AuthQuery,
			AuthKey:    "key",
			RateLimits: map[models.KeyTier]RateLimit{
				models.TierFree:    {PerMinute: 100, PerHour: 1000, PerDay: 10000},
				models.TierPaid:    {PerMinute: 500, PerHour: 5000, PerDay: 50000},
				models.TierPremium: {PerMinute: 500, PerHour: 5000, PerDay: 50000},
			},
			Pricing: map[models.KeyTier]float64{
				models.TierFree: 0, models.TierPaid: 0.002, models.TierPremium: 0.001,
			},
			Retry: RetryPolicy{MaxRetries: 3, BackoffMs: 250},
		},
		{
			Name:       "openai",
			Type:       models.ServiceAI,
			BaseURL:    "https://api.openai.com",
			AuthMethod: AuthBearer,
			AuthKey:    "Authorization",
			RateLimits: map[models.KeyTier]RateLimit{
				models.TierPaid:    {PerMinute: 20, PerHour: 200, PerDay: 2000},
				models.TierPremium: {PerMinute: 60, PerHour: 600, PerDay: 6000},
			},
			Pricing: map[models.KeyTier]float64{
				models.TierFree: 0, models.TierPaid: 0.02, models.TierPremium: 0.015,
			},
			Retry: RetryPolicy{MaxRetries: 2, BackoffMs: 1000},
		},
	}
}

// LoadFile overlays profiles from a YAML file onto the registry. Entries with
// the same name replace the built-in defaults.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles []ServiceProfile
	if err := yaml.Unmarshal(raw, &profiles); err != nil {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range profiles {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			continue
		}
		p.Name = name
		r.profiles[name] = p
	}
	log.Printf("✅ Loaded %d service profiles from %s", len(profiles), path)
	return nil
}

// Add registers or replaces a profile.
func (r *Registry) Add(p ServiceProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	r.profiles[p.Name] = p
}

// Lookup finds a profile by service name.
func (r *Registry) Lookup(name string) (ServiceProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Resolve picks the target profile for a routing request: an explicit service
// hint wins; otherwise the endpoint's host is matched against the known base
// URLs. No match is an UnknownServiceError.
func (r *Registry) Resolve(hint, endpoint string) (ServiceProfile, error) {
	if hint != "" {
		if p, ok := r.Lookup(hint); ok {
			return p, nil
		}
		return ServiceProfile{}, &errs.UnknownServiceError{Hint: hint}
	}

	target, err := url.Parse(endpoint)
	if err == nil && target.Host != "" {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, p := range r.profiles {
			base, err := url.Parse(p.BaseURL)
			if err != nil {
				continue
			}
			if strings.EqualFold(base.Host, target.Host) {
				return p, nil
			}
		}
	}
	return ServiceProfile{}, &errs.UnknownServiceError{Endpoint: endpoint}
}

// List returns all profiles sorted by name.
func (r *Registry) List() []ServiceProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
