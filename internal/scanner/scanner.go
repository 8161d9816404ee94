// Package scanner turns venue quotes into executable opportunities. The
// Scanner holds the pure cross-venue math; the Detector drives it on a
// per-pair cadence and hands approved opportunities to the engine.
package scanner

import (
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/theatom/atombot/internal/domain"
)

// maxConfidence caps the score so no opportunity ever reads as a certainty.
const maxConfidence = 0.99

// Config holds detection parameters.
type Config struct {
	Pairs []string
	// Interval is the scan cadence per pair.
	Interval time.Duration
	// MinSpreadRatio is the mid-normalized spread below which a venue pair
	// is discarded.
	MinSpreadRatio float64
	// TradeAmount is the intended borrow size; depth relative to it drives
	// confidence.
	TradeAmount float64
}

// Scanner computes the best cross-venue opportunity from a quote set.
type Scanner struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Scanner.
func New(cfg Config, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scanner")),
		now:    time.Now,
	}
}

// Scan evaluates every ordered venue pairing and returns the single best
// opportunity at or above the configured spread minimum, or false when none
// qualifies. Ties on profit ratio fall to confidence, then to the candidate
// whose quotes were observed first.
func (s *Scanner) Scan(pair string, quotes []domain.Quote) (domain.Opportunity, bool) {
	usable := make([]domain.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.Crossed() {
			s.logger.Warn("dropping crossed quote",
				slog.String("venue", q.Venue),
				slog.String("pair", q.Pair),
				slog.Float64("bid", q.Bid),
				slog.Float64("ask", q.Ask),
			)
			continue
		}
		usable = append(usable, q)
	}
	if len(usable) < 2 {
		return domain.Opportunity{}, false
	}

	var (
		best  domain.Opportunity
		found bool
		seen  time.Time
	)

	for i := range usable {
		for j := range usable {
			if i == j {
				continue
			}
			buy, sell := usable[i], usable[j]

			cand, ok := s.candidate(pair, buy, sell)
			if !ok {
				continue
			}

			candSeen := earliest(buy.ObservedAt, sell.ObservedAt)
			if !found || better(cand, candSeen, best, seen) {
				best, seen, found = cand, candSeen, true
			}
		}
	}

	if !found {
		return domain.Opportunity{}, false
	}

	s.logger.Debug("opportunity detected",
		slog.String("pair", pair),
		slog.String("buy_venue", best.BuyVenue),
		slog.String("sell_venue", best.SellVenue),
		slog.Float64("profit_ratio", best.ProfitRatio),
		slog.Float64("confidence", best.Confidence),
	)
	return best, true
}

// candidate prices buying at buy's ask and selling at sell's bid.
func (s *Scanner) candidate(pair string, buy, sell domain.Quote) (domain.Opportunity, bool) {
	if buy.Ask <= 0 || sell.Bid <= 0 {
		return domain.Opportunity{}, false
	}

	spread := sell.Bid - buy.Ask
	if spread <= 0 {
		return domain.Opportunity{}, false
	}

	mid := (buy.Ask + sell.Bid) / 2
	ratio := spread / mid
	if ratio < s.cfg.MinSpreadRatio {
		return domain.Opportunity{}, false
	}

	depth := math.Min(buy.Depth, sell.Depth)
	size := s.cfg.TradeAmount
	if depth > 0 && depth < size {
		size = depth
	}

	return domain.Opportunity{
		ID:          uuid.New().String(),
		Pair:        pair,
		BuyVenue:    buy.Venue,
		SellVenue:   sell.Venue,
		BuyPrice:    buy.Ask,
		SellPrice:   sell.Bid,
		ProfitRatio: ratio,
		Confidence:  s.confidence(ratio, depth),
		TradeSize:   size,
		DetectedAt:  s.now().UTC(),
	}, true
}

// confidence blends edge size with available depth. The depth term
// dominates and saturates once both venues can absorb the full trade
// amount; the edge term saturates at four times the configured minimum.
func (s *Scanner) confidence(ratio, depth float64) float64 {
	edge := 1.0
	if s.cfg.MinSpreadRatio > 0 {
		edge = math.Min(1, ratio/(4*s.cfg.MinSpreadRatio))
	}
	depthScore := 1.0
	if s.cfg.TradeAmount > 0 {
		depthScore = math.Min(1, depth/s.cfg.TradeAmount)
	}
	return math.Min(maxConfidence, 0.3*edge+0.7*depthScore)
}

// better reports whether candidate a beats the current best b.
func better(a domain.Opportunity, aSeen time.Time, b domain.Opportunity, bSeen time.Time) bool {
	if a.ProfitRatio != b.ProfitRatio {
		return a.ProfitRatio > b.ProfitRatio
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return aSeen.Before(bSeen)
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
