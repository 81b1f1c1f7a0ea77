package config

import (
	"os"
	"strconv"
)

type Config struct {
	DatabaseURL string
	Port        string
	Environment string

	// BrickLink API credentials (OAuth 1.0a)
	BrickLinkConsumerKey    string
	BrickLinkConsumerSecret string
	BrickLinkToken          string
	BrickLinkTokenSecret    string

	// eBay browser-worker sidecar
	EbayWorkerURL  string
	EbaySessionKey string

	Research ResearchConfig
}

// ResearchConfig holds the tunable parameters of the market research
// pipeline: cache TTL, listing-threshold cut-offs and the price blend.
type ResearchConfig struct {
	CacheTTLMonths int

	MinSoldCount       int
	MinSellThroughRate float64 // percent
	MinNetSoldPrice    float64 // avg sold minus shipping, GBP

	AvgPriceWeight   float64
	MaxPriceWeight   float64
	RRPWeight        float64
	MaxPriceCapRatio float64 // recommended price capped at max sold * ratio

	AutoAcceptRatio  float64
	AutoDeclineRatio float64

	// Conservative substitutes when the BrickLink guide lacks
	// shipping / sell-through evidence
	DefaultShippingCost    float64
	DefaultSellThroughRate float64
}

func Load() *Config {
	defaultDSN := "hadley:hadley@tcp(127.0.0.1:3306)/hadley_bricks?charset=utf8mb4&parseTime=True&loc=Local"

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", defaultDSN),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		BrickLinkConsumerKey:    getEnv("BRICKLINK_CONSUMER_KEY", ""),
		BrickLinkConsumerSecret: getEnv("BRICKLINK_CONSUMER_SECRET", ""),
		BrickLinkToken:          getEnv("BRICKLINK_TOKEN", ""),
		BrickLinkTokenSecret:    getEnv("BRICKLINK_TOKEN_SECRET", ""),

		EbayWorkerURL:  getEnv("EBAY_WORKER_URL", "http://127.0.0.1:8931"),
		EbaySessionKey: getEnv("EBAY_SESSION_KEY", ""),

		Research: ResearchConfig{
			CacheTTLMonths: getEnvInt("RESEARCH_CACHE_TTL_MONTHS", 3),

			MinSoldCount:       getEnvInt("RESEARCH_MIN_SOLD_COUNT", 3),
			MinSellThroughRate: getEnvFloat("RESEARCH_MIN_SELL_THROUGH", 30),
			MinNetSoldPrice:    getEnvFloat("RESEARCH_MIN_NET_SOLD_PRICE", 10),

			AvgPriceWeight:   getEnvFloat("RESEARCH_AVG_PRICE_WEIGHT", 0.55),
			MaxPriceWeight:   getEnvFloat("RESEARCH_MAX_PRICE_WEIGHT", 0.15),
			RRPWeight:        getEnvFloat("RESEARCH_RRP_WEIGHT", 0.30),
			MaxPriceCapRatio: getEnvFloat("RESEARCH_MAX_PRICE_CAP_RATIO", 1.2),

			AutoAcceptRatio:  getEnvFloat("RESEARCH_AUTO_ACCEPT_RATIO", 0.90),
			AutoDeclineRatio: getEnvFloat("RESEARCH_AUTO_DECLINE_RATIO", 0.75),

			DefaultShippingCost:    1.50,
			DefaultSellThroughRate: 50,
		},
	}
}

// HasBrickLinkCredentials reports whether all four OAuth values are set.
// Missing credentials are a fatal setup error for a research run.
func (c *Config) HasBrickLinkCredentials() bool {
	return c.BrickLinkConsumerKey != "" && c.BrickLinkConsumerSecret != "" &&
		c.BrickLinkToken != "" && c.BrickLinkTokenSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
