// Package costs owns the append-only usage ledger and the analysis built on
// top of it: per-service savings, optimization suggestions and cost trends.
package costs

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"gorm.io/gorm"
)

// Tracker appends usage events to the cost ledger and keeps running totals.
// Records are immutable once written.
type Tracker struct {
	db *gorm.DB

	totalRecords atomic.Int64
	freeTierHits atomic.Int64
	// Cost totals are kept in integer micro-dollars so they can be updated
	// atomically without a lock.
	totalCostMicros atomic.Int64
}

// NewTracker builds a tracker and warms its counters from the database.
func NewTracker(database *gorm.DB) *Tracker {
	t := &Tracker{db: database}
	t.loadStatsFromDB()
	return t
}

// Record appends one usage event to the ledger.
func (t *Tracker) Record(owner, service string, requests int, totalCost float64, usedFreeTier bool) {
	record := models.CostRecord{
		ID:           uuid.New().String(),
		OwnerID:      owner,
		Service:      service,
		Requests:     requests,
		TotalCost:    totalCost,
		UsedFreeTier: usedFreeTier,
		Timestamp:    time.Now().UnixMilli(),
	}

	if err := t.db.Create(&record).Error; err != nil {
		log.Printf("⚠️ Failed to save cost record: %v", err)
		return
	}

	t.totalRecords.Add(1)
	t.totalCostMicros.Add(int64(totalCost * 1e6))
	if usedFreeTier {
		t.freeTierHits.Add(1)
	}
}

// Records returns the owner's usage events newer than since, oldest first.
// An empty service matches all services.
func (t *Tracker) Records(owner, service string, since time.Time) []models.CostRecord {
	var records []models.CostRecord
	query := t.db.Where("owner_id = ? AND timestamp >= ?", owner, since.UnixMilli())
	if service != "" {
		query = query.Where("service = ?", service)
	}
	if err := query.Order("timestamp ASC").Find(&records).Error; err != nil {
		log.Printf("⚠️ Failed to read cost records: %v", err)
		return nil
	}
	return records
}

// Stats returns the ledger-wide running totals.
func (t *Tracker) Stats() models.CostStats {
	return models.CostStats{
		TotalRecords: t.totalRecords.Load(),
		TotalCost:    float64(t.totalCostMicros.Load()) / 1e6,
		FreeTierHits: t.freeTierHits.Load(),
	}
}

func (t *Tracker) loadStatsFromDB() {
	var total, freeHits int64
	var totalCost float64

	t.db.Model(&models.CostRecord{}).Count(&total)
	t.db.Model(&models.CostRecord{}).Where("used_free_tier = ?", true).Count(&freeHits)
	t.db.Model(&models.CostRecord{}).Select("COALESCE(SUM(total_cost), 0)").Scan(&totalCost)

	t.totalRecords.Store(total)
	t.freeTierHits.Store(freeHits)
	t.totalCostMicros.Store(int64(totalCost * 1e6))

	log.Printf("📦 Loaded cost ledger stats: records=%d, freeTierHits=%d", total, freeHits)
}
