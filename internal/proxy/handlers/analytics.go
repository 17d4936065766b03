package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pysugar/key-wallet-nexus/internal/costs"
	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/ledger"
)

func daysParam(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("days"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days > 0 {
			return days
		}
	}
	return fallback
}

// GetSavingsHandler returns the modeled savings report for the owner.
func GetSavingsHandler(analyzer *costs.Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		report, err := analyzer.CalculateSavings(owner, daysParam(r, 30))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// GetSuggestionsHandler returns optimization suggestions for the owner.
func GetSuggestionsHandler(analyzer *costs.Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		suggestions, err := analyzer.GenerateOptimizationSuggestions(owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"suggestions": suggestions,
		})
	}
}

// GetTrendsHandler returns per-day cost trend points for the owner.
func GetTrendsHandler(analyzer *costs.Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		points := analyzer.GetCostTrends(owner, daysParam(r, 30))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"trends": points,
			"count":  len(points),
		})
	}
}

// GetUsageHandler returns the owner's raw usage events over the window.
func GetUsageHandler(tracker *costs.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		days := daysParam(r, 7)
		records := tracker.Records(owner, r.URL.Query().Get("service"), time.Now().AddDate(0, 0, -days))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"records": records,
			"count":   len(records),
			"days":    days,
		})
	}
}

// GetOverviewHandler summarizes the owner's wallet: key counts by status and
// tier plus ledger-wide totals.
func GetOverviewHandler(l *ledger.Ledger, tracker *costs.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		views := l.List(owner, ledger.Filters{})
		byStatus := make(map[models.KeyStatus]int)
		byTier := make(map[models.KeyTier]int)
		var quotaUsed float64
		for _, v := range views {
			byStatus[v.Status]++
			byTier[v.Tier]++
			quotaUsed += v.QuotaUsed
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"totalKeys": len(views),
			"byStatus":  byStatus,
			"byTier":    byTier,
			"quotaUsed": quotaUsed,
			"ledger":    tracker.Stats(),
		})
	}
}
