package models

import (
	"time"

	"gorm.io/gorm"
)

// BricksetSet represents a catalogued LEGO set. Identity and RRP come from
// the Brickset/Keepa import jobs; the research pipeline only mutates the
// derived pricing fields.
type BricksetSet struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	SetNumber        string         `json:"set_number" gorm:"uniqueIndex;not null"`
	Name             string         `json:"name" gorm:"not null"`
	Theme            string         `json:"theme"`
	Pieces           *int           `json:"pieces"`
	RetirementStatus string         `json:"retirement_status"` // available, retiring_soon, retired
	RRP              *float64       `json:"rrp"`               // UK retail price, GBP

	// Derived pricing fields, written by the research pipeline
	RecommendedPrice *float64   `json:"recommended_price"`
	AutoAcceptPrice  *float64   `json:"auto_accept_price"`
	AutoDeclinePrice *float64   `json:"auto_decline_price"`
	MeetsThreshold   bool       `json:"meets_threshold" gorm:"default:false"`
	LastResearchedAt *time.Time `json:"last_researched_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// PriceCache stores sold-price statistics for one (set, source) pair.
// At most one row per pair; upserts replace the previous row.
type PriceCache struct {
	ID              uint     `json:"id" gorm:"primaryKey"`
	SetNumber       string   `json:"set_number" gorm:"uniqueIndex:idx_price_cache_set_source;not null"`
	Source          string   `json:"source" gorm:"uniqueIndex:idx_price_cache_set_source;not null"` // ebay, bricklink
	AvgSoldPrice    float64  `json:"avg_sold_price"`
	MinSoldPrice    float64  `json:"min_sold_price"`
	MaxSoldPrice    float64  `json:"max_sold_price"`
	SoldCount       int      `json:"sold_count"`
	AvgShipping     *float64 `json:"avg_shipping"`      // eBay source only
	SellThroughRate *float64 `json:"sell_through_rate"` // eBay source only, percent
	Currency        string   `json:"currency" gorm:"default:'GBP'"`

	CachedAt  time.Time `json:"cached_at" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResearchJob records one batch research run and its aggregate counters.
type ResearchJob struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	JobType         string     `json:"job_type" gorm:"default:'market_research'"`
	Status          string     `json:"status" gorm:"not null"` // running, completed, failed
	ItemsProcessed  int        `json:"items_processed"`
	ItemsResearched int        `json:"items_researched"`
	ItemsCached     int        `json:"items_cached"`
	ItemsErrored    int        `json:"items_errored"`
	Errors          string     `json:"errors" gorm:"type:text"` // newline-joined per-item messages
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Purchase is an inventory purchase record, shown read-only on the dashboard.
type Purchase struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	SetNumber   string         `json:"set_number" gorm:"index;not null"`
	Seller      string         `json:"seller"`
	CostPrice   float64        `json:"cost_price"`
	Quantity    int            `json:"quantity" gorm:"default:1"`
	Status      string         `json:"status" gorm:"default:'pending'"` // pending, received, listed, sold
	PurchasedAt time.Time      `json:"purchased_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}
