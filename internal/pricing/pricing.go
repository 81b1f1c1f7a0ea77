// Package pricing holds the pure pricing engine: threshold evaluation,
// recommended price and best-offer thresholds. No I/O, no clock.
package pricing

import "math"

// Params are the tunable cut-offs and blend weights, supplied by config.
type Params struct {
	MinSoldCount       int
	MinSellThroughRate float64
	MinNetSoldPrice    float64

	AvgPriceWeight   float64
	MaxPriceWeight   float64
	RRPWeight        float64
	MaxPriceCapRatio float64

	AutoAcceptRatio  float64
	AutoDeclineRatio float64
}

// OfferThresholds are the auto-accept / auto-decline best-offer prices
// derived from a recommended listing price.
type OfferThresholds struct {
	AutoAccept  float64
	AutoDecline float64
}

// EvaluateThreshold reports whether an item has sufficient market evidence
// to be worth listing: a minimum sold count, a minimum sell-through rate,
// and a minimum net-of-shipping sold price.
func EvaluateThreshold(soldCount int, sellThroughRate, avgSoldPrice, avgShipping float64, p Params) bool {
	if soldCount < p.MinSoldCount {
		return false
	}
	if sellThroughRate < p.MinSellThroughRate {
		return false
	}
	return avgSoldPrice-avgShipping >= p.MinNetSoldPrice
}

// CalculateRecommendedPrice blends observed sold-price statistics with the
// set's RRP. The result is never negative and, when a cap ratio is
// configured, never exceeds maxSoldPrice by more than that ratio.
func CalculateRecommendedPrice(avgSoldPrice, maxSoldPrice, rrp float64, p Params) float64 {
	price := p.AvgPriceWeight*avgSoldPrice + p.MaxPriceWeight*maxSoldPrice + p.RRPWeight*rrp

	if p.MaxPriceCapRatio > 0 && maxSoldPrice > 0 {
		if cap := maxSoldPrice * p.MaxPriceCapRatio; price > cap {
			price = cap
		}
	}
	if price < 0 {
		price = 0
	}
	return round2(price)
}

// CalculateBestOfferThresholds derives offer gates strictly inside
// (0, recommendedPrice) with autoAccept above autoDecline. Misconfigured
// ratios fall back to the stock 90%/75% split.
func CalculateBestOfferThresholds(recommendedPrice float64, p Params) OfferThresholds {
	accept, decline := p.AutoAcceptRatio, p.AutoDeclineRatio
	if accept <= 0 || accept >= 1 || decline <= 0 || decline >= accept {
		accept, decline = 0.90, 0.75
	}

	acceptPrice := round2(recommendedPrice * accept)
	declinePrice := round2(recommendedPrice * decline)
	if !(0 < declinePrice && declinePrice < acceptPrice && acceptPrice < recommendedPrice) {
		// Penny rounding collapses the ordering at very small prices;
		// keep the exact values there
		acceptPrice = recommendedPrice * accept
		declinePrice = recommendedPrice * decline
	}
	return OfferThresholds{
		AutoAccept:  acceptPrice,
		AutoDecline: declinePrice,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
