package domain

import "time"

// Quote is an immutable snapshot of one venue's top-of-book for a pair.
// A newer quote for the same (venue, pair) supersedes it; quotes are never
// mutated in place.
type Quote struct {
	Venue      string // "uniswap_v2", "sushiswap", ...
	Pair       string // "WETH/USDC"
	Bid        float64
	Ask        float64
	Depth      float64 // quote-currency liquidity available near top of book
	ObservedAt time.Time
}

// Mid returns the mid-price between bid and ask.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Crossed reports whether the quote is internally inconsistent (bid above
// ask). Crossed quotes are dropped by the scanner rather than traded.
func (q Quote) Crossed() bool {
	return q.Bid > q.Ask
}

// Age returns how long ago the quote was observed.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// PairQuotes is the result of one feed poll for a pair: the quotes from
// every reachable venue plus the names of venues that could not be reached.
// A partially unreachable feed is not an error; callers decide whether the
// remaining coverage is enough to scan.
type PairQuotes struct {
	Pair      string
	Quotes    []Quote
	Missing   []string // venues that failed to answer
	FetchedAt time.Time
}

// VenueHealth describes the freshness of a single venue's feed for the
// health endpoint.
type VenueHealth struct {
	Venue      string    `json:"venue"`
	Connected  bool      `json:"connected"`
	LastUpdate time.Time `json:"last_update"`
	Status     string    `json:"status"` // "healthy", "degraded" or "down"
}
