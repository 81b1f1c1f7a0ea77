// Package export renders research results to xlsx for the weekly review
// spreadsheet.
package export

import (
	"fmt"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/models"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const sheetName = "Market Research"

var headers = []string{
	"Set Number", "Name", "Theme", "RRP", "Source",
	"Avg Sold", "Min Sold", "Max Sold", "Sold Count",
	"Avg Shipping", "Sell-Through %", "Meets Threshold",
	"Recommended", "Auto-Accept", "Auto-Decline",
}

// BuildResearchReport produces one row per set, joined with its freshest
// cached statistics (eBay preferred over BrickLink).
func BuildResearchReport(db *gorm.DB) (*excelize.File, error) {
	var sets []models.BricksetSet
	if err := db.Order("set_number").Find(&sets).Error; err != nil {
		return nil, fmt.Errorf("load sets: %w", err)
	}

	var cached []models.PriceCache
	if err := db.Find(&cached).Error; err != nil {
		return nil, fmt.Errorf("load price cache: %w", err)
	}
	bySet := make(map[string]*models.PriceCache, len(cached))
	for i := range cached {
		row := &cached[i]
		existing, ok := bySet[row.SetNumber]
		if !ok || (existing.Source != sources.SourceEbay && row.Source == sources.SourceEbay) {
			bySet[row.SetNumber] = row
		}
	}

	f := excelize.NewFile()
	f.SetSheetName("Sheet1", sheetName)

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, err
		}
	}

	for i, set := range sets {
		rowNum := i + 2
		values := []interface{}{
			set.SetNumber, set.Name, set.Theme, deref(set.RRP), "",
			nil, nil, nil, nil, nil, nil,
			set.MeetsThreshold,
			deref(set.RecommendedPrice), deref(set.AutoAcceptPrice), deref(set.AutoDeclinePrice),
		}
		if stats, ok := bySet[set.SetNumber]; ok {
			values[4] = stats.Source
			values[5] = stats.AvgSoldPrice
			values[6] = stats.MinSoldPrice
			values[7] = stats.MaxSoldPrice
			values[8] = stats.SoldCount
			values[9] = deref(stats.AvgShipping)
			values[10] = deref(stats.SellThroughRate)
		}
		for col, v := range values {
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, rowNum)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

func deref(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
