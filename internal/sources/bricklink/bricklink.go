// Package bricklink implements the price-guide API source. BrickLink signs
// every request with OAuth 1.0a and throttles aggressively; throttling is
// surfaced as sources.ErrRateLimited so the retry wrapper can act on it.
package bricklink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources"
	"github.com/dghubble/oauth1"
	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.bricklink.com/api/store/v1"

type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
	BaseURL        string // defaults to the BrickLink store API
}

type Client struct {
	client *resty.Client
}

func New(cfg Config) *Client {
	oaConfig := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	oaToken := oauth1.NewToken(cfg.Token, cfg.TokenSecret)
	httpClient := oaConfig.Client(oauth1.NoContext, oaToken)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := resty.NewWithClient(httpClient)
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)

	return &Client{client: client}
}

type priceGuideResponse struct {
	Meta struct {
		Code        int    `json:"code"`
		Message     string `json:"message"`
		Description string `json:"description"`
	} `json:"meta"`
	Data struct {
		CurrencyCode  string `json:"currency_code"`
		MinPrice      string `json:"min_price"`
		MaxPrice      string `json:"max_price"`
		AvgPrice      string `json:"avg_price"`
		UnitQuantity  int    `json:"unit_quantity"`
		TotalQuantity int    `json:"total_quantity"`
	} `json:"data"`
}

// GetPriceGuide fetches the sold-price guide for a set, e.g.
// GetPriceGuide(ctx, "75192-1", "N", "sold", "GBP").
func (c *Client) GetPriceGuide(ctx context.Context, setNumber, condition, guideType, currency string) (*sources.PriceGuide, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"new_or_used":   condition,
			"guide_type":    guideType,
			"currency_code": currency,
		}).
		Get(fmt.Sprintf("/items/SET/%s/price", setNumber))
	if err != nil {
		return nil, fmt.Errorf("bricklink request: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, fmt.Errorf("bricklink: %w", sources.ErrRateLimited)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("bricklink: unexpected status %d", resp.StatusCode())
	}

	var body priceGuideResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("bricklink: decode response: %w", err)
	}

	// BrickLink also reports throttling inside the envelope
	if body.Meta.Code == http.StatusTooManyRequests {
		return nil, fmt.Errorf("bricklink: %w", sources.ErrRateLimited)
	}
	if body.Meta.Code != http.StatusOK {
		return nil, fmt.Errorf("bricklink: api error %d: %s", body.Meta.Code, body.Meta.Message)
	}

	return &sources.PriceGuide{
		AvgPrice:      body.Data.AvgPrice,
		MinPrice:      body.Data.MinPrice,
		MaxPrice:      body.Data.MaxPrice,
		UnitQuantity:  body.Data.UnitQuantity,
		TotalQuantity: body.Data.TotalQuantity,
		CurrencyCode:  body.Data.CurrencyCode,
	}, nil
}
