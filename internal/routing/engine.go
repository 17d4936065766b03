// Package routing picks which credential serves an outbound call. Free-tier
// credentials are preferred while they have quota; paid and premium tiers are
// ranked by unit cost and used as fallback.
package routing

import (
	"log"
	"sort"

	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/errs"
	"github.com/pysugar/key-wallet-nexus/internal/ledger"
	"github.com/pysugar/key-wallet-nexus/internal/registry"
)

// Selection reason codes, surfaced to callers so a routing decision can be
// explained after the fact.
const (
	ReasonFreeTier   = "free-tier-available"
	ReasonLowestPaid = "lowest-cost-paid-tier"
	ReasonLowestPrem = "lowest-cost-premium-tier"
	ReasonFallback   = "fallback-after-quota-exhaustion"
)

// Decision is the outcome of credential selection: which key serves the call,
// against which service profile, and why it was picked.
type Decision struct {
	KeyID         string                  `json:"keyId"`
	Profile       registry.ServiceProfile `json:"-"`
	Service       string                  `json:"service"`
	Tier          models.KeyTier          `json:"tier"`
	Reason        string                  `json:"reason"`
	EstimatedCost float64                 `json:"estimatedCost"`
	// QuotaCost is what the reservation charged against the credential's
	// quota. Dollar-priced tiers meter quota in dollars; free tiers meter it
	// in requests, one unit per call, or quota on a free key could never run
	// out.
	QuotaCost float64 `json:"-"`
}

// Engine ranks an owner's credentials and admits calls against their quotas.
type Engine struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
}

// New wires a selection engine over the given ledger and service registry.
func New(l *ledger.Ledger, r *registry.Registry) *Engine {
	return &Engine{ledger: l, registry: r}
}

// candidate pairs a credential with its remaining quota at ranking time.
type candidate struct {
	view      models.CredentialView
	remaining float64
}

// Select resolves the target service, ranks the owner's active credentials
// for it and reserves quota on the best one. Ranking prefers free-tier keys
// with the most quota left, then paid keys, then premium keys; a tier whose
// keys are all out of quota is skipped entirely. A candidate whose quota is
// gone by reservation time is skipped and the next one is tried, so a race
// for the last unit of quota admits exactly one caller.
func (e *Engine) Select(owner, hint, endpoint string) (Decision, error) {
	profile, err := e.registry.Resolve(hint, endpoint)
	if err != nil {
		return Decision{}, err
	}

	active := e.ledger.List(owner, ledger.Filters{
		Service: profile.Name,
		Status:  models.StatusActive,
	})

	var free, paid, premium []candidate
	freeExhausted := false
	for _, view := range active {
		q := e.ledger.CheckQuota(view.ID)
		if !q.HasQuota {
			if view.Tier == models.TierFree {
				freeExhausted = true
			}
			continue
		}
		c := candidate{view: view, remaining: q.Remaining}
		switch view.Tier {
		case models.TierFree:
			free = append(free, c)
		case models.TierPaid:
			paid = append(paid, c)
		case models.TierPremium:
			premium = append(premium, c)
		}
	}

	// Within a tier, drain the key with the most headroom first; ties break
	// on id so selection stays deterministic.
	byRemaining := func(cands []candidate) func(i, j int) bool {
		return func(i, j int) bool {
			if cands[i].remaining != cands[j].remaining {
				return cands[i].remaining > cands[j].remaining
			}
			return cands[i].view.ID < cands[j].view.ID
		}
	}
	sort.Slice(free, byRemaining(free))
	sort.Slice(paid, byRemaining(paid))
	sort.Slice(premium, byRemaining(premium))

	paidTiers := [][]candidate{paid, premium}
	paidReasons := []string{ReasonLowestPaid, ReasonLowestPrem}

	try := func(cands []candidate, reason string) (Decision, bool) {
		for _, c := range cands {
			cost := profile.UnitCost(c.view.Tier)
			quotaCost := cost
			if quotaCost == 0 {
				quotaCost = 1 // request-metered quota
			}
			if !e.ledger.Reserve(c.view.ID, quotaCost) {
				continue // lost a race or went inactive since ranking
			}
			return Decision{
				KeyID:         c.view.ID,
				Profile:       profile,
				Service:       profile.Name,
				Tier:          c.view.Tier,
				Reason:        reason,
				EstimatedCost: cost,
				QuotaCost:     quotaCost,
			}, true
		}
		return Decision{}, false
	}

	if d, ok := try(free, ReasonFreeTier); ok {
		return d, nil
	}
	for i, cands := range paidTiers {
		reason := paidReasons[i]
		if freeExhausted {
			reason = ReasonFallback
		}
		if d, ok := try(cands, reason); ok {
			if reason == ReasonFallback {
				log.Printf("⚠️ Free tier exhausted for %s, falling back to %s key %s", profile.Name, d.Tier, d.KeyID)
			}
			return d, nil
		}
	}

	return Decision{}, &errs.QuotaExhaustedError{Service: profile.Name}
}
