package costs

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pysugar/key-wallet-nexus/internal/errs"
)

// costUplift models the cost an owner would have paid without free-tier
// prioritization and multi-key spreading.
const costUplift = 1.5

// trendSavingsRate is the flat assumed-savings model used for trend points,
// where per-service data is too coarse to do better.
const trendSavingsRate = 0.75

// ServiceSavings is the modeled saving for one service over a window.
type ServiceSavings struct {
	Service     string  `json:"service"`
	Requests    int     `json:"requests"`
	BeforeCost  float64 `json:"beforeCost"`
	AfterCost   float64 `json:"afterCost"`
	Savings     float64 `json:"savings"`
	SampleCount int     `json:"sampleCount"`
}

// SavingsReport aggregates modeled savings across an owner's services.
type SavingsReport struct {
	OwnerID           string           `json:"ownerId"`
	PeriodDays        int              `json:"periodDays"`
	TotalSavings      float64          `json:"totalSavings"`
	PercentageSavings float64          `json:"percentageSavings"`
	ConfidenceScore   float64          `json:"confidenceScore"`
	Services          []ServiceSavings `json:"services"`
}

// TrendPoint is one day of cost activity with its estimated saving.
type TrendPoint struct {
	Date    string  `json:"date"`
	Cost    float64 `json:"cost"`
	Savings float64 `json:"savings"`
}

// Analyzer derives savings reports and suggestions from the cost ledger.
type Analyzer struct {
	tracker *Tracker
}

// NewAnalyzer builds an analyzer over the given tracker.
func NewAnalyzer(t *Tracker) *Analyzer {
	return &Analyzer{tracker: t}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// CalculateSavings models what the owner saved over the trailing window
// compared to running every request without free-tier routing. The window
// must contain at least one usage record.
func (a *Analyzer) CalculateSavings(owner string, periodDays int) (SavingsReport, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	since := time.Now().AddDate(0, 0, -periodDays)
	records := a.tracker.Records(owner, "", since)
	if len(records) == 0 {
		return SavingsReport{}, &errs.InsufficientDataError{OwnerID: owner, Days: periodDays}
	}

	type bucket struct {
		requests int
		cost     float64
		samples  int
	}
	byService := make(map[string]*bucket)
	for _, r := range records {
		b, ok := byService[r.Service]
		if !ok {
			b = &bucket{}
			byService[r.Service] = b
		}
		b.requests += r.Requests
		b.cost += r.TotalCost
		b.samples++
	}

	report := SavingsReport{OwnerID: owner, PeriodDays: periodDays}
	var totalBefore, confidence float64
	for service, b := range byService {
		var avgCost float64
		if b.requests > 0 {
			avgCost = b.cost / float64(b.requests)
		}
		before := float64(b.requests) * avgCost * costUplift
		report.Services = append(report.Services, ServiceSavings{
			Service:     service,
			Requests:    b.requests,
			BeforeCost:  round2(before),
			AfterCost:   round2(b.cost),
			Savings:     round2(before - b.cost),
			SampleCount: b.samples,
		})
		totalBefore += before
		report.TotalSavings += before - b.cost
		confidence += math.Min(float64(b.samples)/100, 1)
	}
	sort.Slice(report.Services, func(i, j int) bool {
		return report.Services[i].Service < report.Services[j].Service
	})

	if totalBefore > 0 {
		report.PercentageSavings = round2(report.TotalSavings / totalBefore * 100)
	}
	report.TotalSavings = round2(report.TotalSavings)
	report.ConfidenceScore = confidence / float64(len(byService))
	return report, nil
}

// GenerateOptimizationSuggestions inspects the trailing week of usage and
// points out services leaning too hard on paid tiers or calling often enough
// to benefit from caching.
func (a *Analyzer) GenerateOptimizationSuggestions(owner string) ([]string, error) {
	since := time.Now().AddDate(0, 0, -7)
	records := a.tracker.Records(owner, "", since)

	type usage struct {
		requests     int
		freeRequests int
	}
	byService := make(map[string]*usage)
	for _, r := range records {
		u, ok := byService[r.Service]
		if !ok {
			u = &usage{}
			byService[r.Service] = u
		}
		u.requests += r.Requests
		if r.UsedFreeTier {
			u.freeRequests += r.Requests
		}
	}

	services := make([]string, 0, len(byService))
	for service := range byService {
		services = append(services, service)
	}
	sort.Strings(services)

	var suggestions []string
	for _, service := range services {
		u := byService[service]
		if u.requests == 0 {
			continue
		}
		freeFraction := float64(u.freeRequests) / float64(u.requests)
		if freeFraction < 0.3 {
			suggestions = append(suggestions, fmt.Sprintf(
				"Consider spreading %s usage across more free-tier keys (only %.0f%% of requests used the free tier)",
				service, freeFraction*100))
		}
		if u.requests > 100 {
			suggestions = append(suggestions, fmt.Sprintf(
				"High request volume on %s (%d requests last week); caching responses could cut costs",
				service, u.requests))
		}
	}

	if len(suggestions) == 0 {
		suggestions = append(suggestions, "Your API usage is well optimized")
	}
	return suggestions, nil
}

// GetCostTrends returns one point per day of activity in the window, with
// savings estimated by the flat assumed-savings model.
func (a *Analyzer) GetCostTrends(owner string, days int) []TrendPoint {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)
	records := a.tracker.Records(owner, "", since)

	byDay := make(map[string]float64)
	for _, r := range records {
		day := time.UnixMilli(r.Timestamp).UTC().Format("2006-01-02")
		byDay[day] += r.TotalCost
	}

	points := make([]TrendPoint, 0, len(byDay))
	for day, cost := range byDay {
		points = append(points, TrendPoint{
			Date:    day,
			Cost:    round2(cost),
			Savings: round2(cost/trendSavingsRate - cost),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}
