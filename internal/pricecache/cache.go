// Package pricecache is the TTL'd store of sold-price statistics keyed by
// (set number, source). Expiry is a read-time filter; nothing sweeps old
// rows in the background.
package pricecache

import (
	"errors"
	"fmt"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/models"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no row exists or the row has expired.
var ErrNotFound = errors.New("price cache: no valid entry")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Lookup returns the cached statistics for (setNumber, source) if a row
// exists and is younger than ttlMonths. Expired rows count as not found.
func (s *Store) Lookup(setNumber, source string, ttlMonths int) (*models.PriceCache, error) {
	var row models.PriceCache
	err := s.db.Where("set_number = ? AND source = ?", setNumber, source).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("price cache lookup: %w", err)
	}

	if !time.Now().Before(row.CachedAt.AddDate(0, ttlMonths, 0)) {
		return nil, ErrNotFound
	}
	return &row, nil
}

// Upsert writes the result for (setNumber, result.Source), replacing any
// previous row for the pair. Calling it twice leaves exactly one row.
func (s *Store) Upsert(setNumber string, res *sources.ResearchResult) error {
	currency := res.Currency
	if currency == "" {
		currency = "GBP"
	}
	cachedAt := res.FetchedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}

	row := models.PriceCache{
		SetNumber:       setNumber,
		Source:          res.Source,
		AvgSoldPrice:    res.AvgSoldPrice,
		MinSoldPrice:    res.MinSoldPrice,
		MaxSoldPrice:    res.MaxSoldPrice,
		SoldCount:       res.SoldCount,
		AvgShipping:     res.AvgShipping,
		SellThroughRate: res.SellThroughRate,
		Currency:        currency,
		CachedAt:        cachedAt,
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "set_number"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"avg_sold_price", "min_sold_price", "max_sold_price", "sold_count",
			"avg_shipping", "sell_through_rate", "currency", "cached_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("price cache upsert: %w", err)
	}
	return nil
}

// Invalidate removes the cached rows for every source of the given set.
func (s *Store) Invalidate(setNumber string) error {
	if err := s.db.Where("set_number = ?", setNumber).Delete(&models.PriceCache{}).Error; err != nil {
		return fmt.Errorf("price cache invalidate: %w", err)
	}
	return nil
}
