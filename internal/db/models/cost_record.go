package models

// CostRecord is one entry in the append-only usage ledger. Rows are immutable
// once written; the analyzer only ever reads them.
type CostRecord struct {
	ID           string  `gorm:"primaryKey" json:"id"`
	OwnerID      string  `gorm:"index" json:"ownerId"`
	Service      string  `gorm:"index" json:"service"`
	Requests     int     `json:"requests"`
	TotalCost    float64 `json:"totalCost"`
	UsedFreeTier bool    `json:"usedFreeTier"`
	Timestamp    int64   `gorm:"index" json:"timestamp"` // unix milliseconds
}

// CostStats holds aggregate counters over the cost ledger.
type CostStats struct {
	TotalRecords int64   `json:"total_records"`
	TotalCost    float64 `json:"total_cost"`
	FreeTierHits int64   `json:"free_tier_hits"`
}
