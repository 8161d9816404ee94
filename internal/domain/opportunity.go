package domain

import "time"

// Opportunity is a detected, time-bounded price discrepancy between two
// venues for one pair. It is created by the scanner, consumed at most once
// by the risk gate, and never mutated afterwards; a rejected or expired
// opportunity is discarded, not recycled.
type Opportunity struct {
	ID          string
	Pair        string
	BuyVenue    string  // venue with the lowest ask
	SellVenue   string  // venue with the highest bid
	BuyPrice    float64 // ask at BuyVenue
	SellPrice   float64 // bid at SellVenue
	ProfitRatio float64 // spread over the midpoint of BuyPrice and SellPrice, before fees and gas
	Confidence  float64 // in [0,1], saturating in available depth
	TradeSize   float64 // borrow size in quote units, capped by quoted depth
	DetectedAt  time.Time
}

// Age returns how long ago the opportunity was detected.
func (o Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.DetectedAt)
}

// Expired reports whether the opportunity is older than the validity window.
func (o Opportunity) Expired(now time.Time, window time.Duration) bool {
	return o.Age(now) > window
}
