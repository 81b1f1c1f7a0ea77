// Package ebay implements the sold-listings scraper source. eBay blocks
// plain HTTP clients, so scraping goes through a local Playwright browser
// worker that holds the authenticated session; this adapter talks to that
// worker and aggregates its listing payload into a ResearchResult.
package ebay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources"
	"github.com/go-resty/resty/v2"
)

type Scraper struct {
	client     *resty.Client
	sessionKey string
}

func New(workerURL, sessionKey string) *Scraper {
	client := resty.New()
	client.SetBaseURL(workerURL)
	// Browser renders are slow; give the worker room
	client.SetTimeout(90 * time.Second)

	return &Scraper{client: client, sessionKey: sessionKey}
}

type researchRequest struct {
	Query      string `json:"query"`
	SetNumber  string `json:"set_number"`
	SessionKey string `json:"session_key"`
}

type soldListing struct {
	Price    float64 `json:"price"`
	Shipping float64 `json:"shipping"`
}

type researchResponse struct {
	SoldListings []soldListing `json:"sold_listings"`
	ActiveCount  int           `json:"active_count"`
}

// Research scrapes eBay sold listings for a set. Returns (nil, nil) when the
// scrape succeeded but found no sold listings. Session expiry and a dead
// browser engine surface as the corresponding typed errors.
func (s *Scraper) Research(ctx context.Context, name, setNumber string) (*sources.ResearchResult, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(researchRequest{Query: name, SetNumber: setNumber, SessionKey: s.sessionKey}).
		Post("/research")
	if err != nil {
		// A cancelled or timed-out request is this caller's problem, not
		// evidence the engine is down
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("ebay worker: %w", err)
		}
		// Worker unreachable means no browser engine to drive
		return nil, fmt.Errorf("ebay worker unreachable: %w", sources.ErrToolUnavailable)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		// fall through to parsing
	case http.StatusUnauthorized, 440:
		return nil, fmt.Errorf("ebay: %w", sources.ErrSessionExpired)
	case http.StatusServiceUnavailable:
		return nil, fmt.Errorf("ebay: %w", sources.ErrToolUnavailable)
	default:
		return nil, fmt.Errorf("ebay worker: unexpected status %d", resp.StatusCode())
	}

	var body researchResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("ebay worker: decode response: %w", err)
	}

	if len(body.SoldListings) == 0 {
		return nil, nil
	}

	return aggregate(body), nil
}

func aggregate(body researchResponse) *sources.ResearchResult {
	var priceSum, shippingSum float64
	min := body.SoldListings[0].Price
	max := body.SoldListings[0].Price
	for _, l := range body.SoldListings {
		priceSum += l.Price
		shippingSum += l.Shipping
		if l.Price < min {
			min = l.Price
		}
		if l.Price > max {
			max = l.Price
		}
	}

	sold := len(body.SoldListings)
	avgShipping := shippingSum / float64(sold)
	sellThrough := 100.0
	if total := sold + body.ActiveCount; total > 0 {
		sellThrough = float64(sold) / float64(total) * 100
	}

	return &sources.ResearchResult{
		Source:          sources.SourceEbay,
		AvgSoldPrice:    priceSum / float64(sold),
		MinSoldPrice:    min,
		MaxSoldPrice:    max,
		SoldCount:       sold,
		AvgShipping:     &avgShipping,
		SellThroughRate: &sellThrough,
		Currency:        "GBP",
		FetchedAt:       time.Now(),
	}
}
