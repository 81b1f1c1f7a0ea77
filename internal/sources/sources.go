package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Source tags used as the cache key dimension.
const (
	SourceEbay      = "ebay"
	SourceBricklink = "bricklink"
)

// Typed failure categories. Adapters must raise these explicitly instead of
// leaving callers to sniff error text.
var (
	// ErrSessionExpired means the scraper's authenticated session has
	// lapsed; the source is dead for the rest of the batch.
	ErrSessionExpired = errors.New("scraper session expired")

	// ErrToolUnavailable means the browser worker / engine behind the
	// scraper cannot run at all; same batch-scoped consequence.
	ErrToolUnavailable = errors.New("browser engine unavailable")

	// ErrRateLimited is raised by the API source when throttled and is the
	// only error the retry wrapper acts on.
	ErrRateLimited = errors.New("rate limited by upstream")
)

// ResearchResult is the transient output of one live source call. It is
// persisted into the price cache immediately and then discarded.
type ResearchResult struct {
	Source          string
	AvgSoldPrice    float64
	MinSoldPrice    float64
	MaxSoldPrice    float64
	SoldCount       int
	AvgShipping     *float64 // eBay only
	SellThroughRate *float64 // eBay only, percent
	Currency        string
	FetchedAt       time.Time
}

// Scraper is the session-based sold-listings source. A (nil, nil) return
// means the scrape ran fine but found no sold listings; callers fall through
// to the next tier rather than treating it as an error.
type Scraper interface {
	Research(ctx context.Context, name, setNumber string) (*ResearchResult, error)
}

// PriceGuide is the raw BrickLink price guide payload. Prices arrive as
// decimal strings, exactly as the API sends them.
type PriceGuide struct {
	AvgPrice      string
	MinPrice      string
	MaxPrice      string
	UnitQuantity  int
	TotalQuantity int
	CurrencyCode  string
}

// PriceGuideAPI is the rate-limited API source.
type PriceGuideAPI interface {
	GetPriceGuide(ctx context.Context, setNumber, condition, guideType, currency string) (*PriceGuide, error)
}

// ResultFromPriceGuide converts a raw guide into a ResearchResult. Shipping
// and sell-through stay nil; the orchestrator substitutes conservative
// defaults at pricing time.
func ResultFromPriceGuide(g *PriceGuide) (*ResearchResult, error) {
	avg, err := strconv.ParseFloat(g.AvgPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("price guide: bad avg_price %q: %w", g.AvgPrice, err)
	}
	min, err := strconv.ParseFloat(g.MinPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("price guide: bad min_price %q: %w", g.MinPrice, err)
	}
	max, err := strconv.ParseFloat(g.MaxPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("price guide: bad max_price %q: %w", g.MaxPrice, err)
	}

	currency := g.CurrencyCode
	if currency == "" {
		currency = "GBP"
	}

	return &ResearchResult{
		Source:       SourceBricklink,
		AvgSoldPrice: avg,
		MinSoldPrice: min,
		MaxSoldPrice: max,
		SoldCount:    g.UnitQuantity,
		Currency:     currency,
		FetchedAt:    time.Now(),
	}, nil
}
