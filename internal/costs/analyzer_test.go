package costs

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/errs"
	"gorm.io/gorm"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(&models.CostRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewTracker(database)
}

// seed writes a record with an explicit timestamp, bypassing Record's clock.
func seed(t *testing.T, tr *Tracker, owner, service string, requests int, cost float64, free bool, at time.Time) {
	t.Helper()
	record := models.CostRecord{
		ID:           uuid.New().String(),
		OwnerID:      owner,
		Service:      service,
		Requests:     requests,
		TotalCost:    cost,
		UsedFreeTier: free,
		Timestamp:    at.UnixMilli(),
	}
	if err := tr.db.Create(&record).Error; err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRecord_UpdatesStats(t *testing.T) {
	tr := newTestTracker(t)

	tr.Record("user-1", "stripe", 1, 0.005, false)
	tr.Record("user-1", "openweather", 1, 0, true)

	stats := tr.Stats()
	if stats.TotalRecords != 2 {
		t.Fatalf("expected 2 records, got %d", stats.TotalRecords)
	}
	if stats.FreeTierHits != 1 {
		t.Fatalf("expected 1 free-tier hit, got %d", stats.FreeTierHits)
	}
	if !approx(stats.TotalCost, 0.005) {
		t.Fatalf("expected total cost 0.005, got %v", stats.TotalCost)
	}
}

func TestNewTracker_WarmsStatsFromDB(t *testing.T) {
	tr := newTestTracker(t)
	seed(t, tr, "user-1", "stripe", 1, 0.5, false, time.Now())
	seed(t, tr, "user-1", "openweather", 1, 0, true, time.Now())

	rebuilt := NewTracker(tr.db)
	stats := rebuilt.Stats()
	if stats.TotalRecords != 2 || stats.FreeTierHits != 1 {
		t.Fatalf("unexpected warmed stats: %+v", stats)
	}
	if !approx(stats.TotalCost, 0.5) {
		t.Fatalf("expected warmed total cost 0.5, got %v", stats.TotalCost)
	}
}

func TestRecords_FiltersByOwnerServiceAndWindow(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Now()
	seed(t, tr, "user-1", "stripe", 1, 0.005, false, now)
	seed(t, tr, "user-1", "openweather", 1, 0, true, now)
	seed(t, tr, "user-2", "stripe", 1, 0.005, false, now)
	seed(t, tr, "user-1", "stripe", 1, 0.005, false, now.AddDate(0, 0, -40))

	got := tr.Records("user-1", "stripe", now.AddDate(0, 0, -30))
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
}

func TestCalculateSavings_UpliftModel(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Now()
	// 10 requests at 0.01 each: after = 0.10, before = 0.15, savings = 0.05.
	for i := 0; i < 5; i++ {
		seed(t, tr, "user-1", "stripe", 2, 0.02, false, now.Add(-time.Duration(i)*time.Hour))
	}

	report, err := NewAnalyzer(tr).CalculateSavings("user-1", 30)
	if err != nil {
		t.Fatalf("savings: %v", err)
	}
	if len(report.Services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(report.Services))
	}
	s := report.Services[0]
	if s.Requests != 10 || !approx(s.AfterCost, 0.1) || !approx(s.BeforeCost, 0.15) {
		t.Fatalf("unexpected service savings: %+v", s)
	}
	if !approx(s.Savings, 0.05) || !approx(report.TotalSavings, 0.05) {
		t.Fatalf("expected savings 0.05, got %v / %v", s.Savings, report.TotalSavings)
	}
	// The 1.5x uplift always yields a third of the modeled before-cost.
	if !approx(report.PercentageSavings, 33.33) {
		t.Fatalf("expected 33.33%% savings, got %v", report.PercentageSavings)
	}
	if !approx(report.ConfidenceScore, 0.05) {
		t.Fatalf("expected confidence 0.05 for 5 samples, got %v", report.ConfidenceScore)
	}
}

func TestCalculateSavings_NeverNegative(t *testing.T) {
	tr := newTestTracker(t)
	seed(t, tr, "user-1", "openweather", 50, 0, true, time.Now())

	report, err := NewAnalyzer(tr).CalculateSavings("user-1", 30)
	if err != nil {
		t.Fatalf("savings: %v", err)
	}
	if report.TotalSavings < 0 {
		t.Fatalf("savings must not be negative, got %v", report.TotalSavings)
	}
}

func TestCalculateSavings_InsufficientData(t *testing.T) {
	tr := newTestTracker(t)

	_, err := NewAnalyzer(tr).CalculateSavings("user-1", 30)
	var insufficient *errs.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if insufficient.Days != 30 {
		t.Fatalf("expected 30-day window in error, got %d", insufficient.Days)
	}
}

func TestSuggestions_LowFreeTierFraction(t *testing.T) {
	tr := newTestTracker(t)
	now := time.Now()
	seed(t, tr, "user-1", "stripe", 8, 0.04, false, now)
	seed(t, tr, "user-1", "stripe", 2, 0, true, now)

	suggestions, err := NewAnalyzer(tr).GenerateOptimizationSuggestions("user-1")
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if len(suggestions) != 1 || !strings.Contains(suggestions[0], "free-tier") {
		t.Fatalf("expected a free-tier spreading suggestion, got %v", suggestions)
	}
}

func TestSuggestions_HighVolume(t *testing.T) {
	tr := newTestTracker(t)
	seed(t, tr, "user-1", "openweather", 150, 0, true, time.Now())

	suggestions, err := NewAnalyzer(tr).GenerateOptimizationSuggestions("user-1")
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if len(suggestions) != 1 || !strings.Contains(suggestions[0], "caching") {
		t.Fatalf("expected a caching suggestion, got %v", suggestions)
	}
}

func TestSuggestions_WellOptimized(t *testing.T) {
	tr := newTestTracker(t)
	seed(t, tr, "user-1", "openweather", 50, 0, true, time.Now())

	suggestions, err := NewAnalyzer(tr).GenerateOptimizationSuggestions("user-1")
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if len(suggestions) != 1 || suggestions[0] != "Your API usage is well optimized" {
		t.Fatalf("expected the well-optimized message, got %v", suggestions)
	}
}

func TestCostTrends_DayBucketsAndFlatModel(t *testing.T) {
	tr := newTestTracker(t)
	day1 := time.Now().UTC().AddDate(0, 0, -5).Truncate(24 * time.Hour).Add(10 * time.Hour)
	day2 := day1.AddDate(0, 0, 1)
	seed(t, tr, "user-1", "stripe", 1, 0.30, false, day1)
	seed(t, tr, "user-1", "stripe", 1, 0.45, false, day1.Add(2*time.Hour))
	seed(t, tr, "user-1", "openai", 1, 0.60, false, day2)

	points := NewAnalyzer(tr).GetCostTrends("user-1", 30)
	if len(points) != 2 {
		t.Fatalf("expected 2 day buckets, got %d", len(points))
	}
	if points[0].Date != day1.Format("2006-01-02") || points[1].Date != day2.Format("2006-01-02") {
		t.Fatalf("unexpected bucket dates: %+v", points)
	}
	if !approx(points[0].Cost, 0.75) {
		t.Fatalf("expected day-1 cost 0.75, got %v", points[0].Cost)
	}
	// Flat model: savings = cost/0.75 - cost = cost/3.
	if !approx(points[0].Savings, 0.25) {
		t.Fatalf("expected day-1 savings 0.25, got %v", points[0].Savings)
	}
}
