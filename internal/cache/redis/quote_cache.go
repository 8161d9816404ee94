package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/theatom/atombot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each venue's
// latest quote for a pair is stored at "quote:{pair}:{venue}" with fields
// "bid", "ask", "depth" and "ts" (Unix nanosecond timestamp). Keys carry a
// TTL equal to the freshness window, so stale venues simply vanish from
// reads instead of needing an explicit sweep.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache whose entries expire after ttl.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(pair, venue string) string {
	return "quote:" + pair + ":" + venue
}

// SetQuote stores the latest quote for the venue/pair and refreshes the TTL.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Pair, q.Venue)
	fields := map[string]interface{}{
		"bid":   strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask":   strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"depth": strconv.FormatFloat(q.Depth, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}

	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Venue, q.Pair, err)
	}
	return nil
}

// GetQuote retrieves one venue's latest quote for a pair. It returns
// domain.ErrNotFound when no fresh quote exists.
func (qc *QuoteCache) GetQuote(ctx context.Context, venue, pair string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(pair, venue)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s/%s: %w", venue, pair, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	return parseQuote(venue, pair, vals)
}

// GetPairQuotes retrieves the latest quotes for a pair across the given
// venues using a pipeline. Venues without a fresh quote are omitted.
func (qc *QuoteCache) GetPairQuotes(ctx context.Context, pair string, venues []string) ([]domain.Quote, error) {
	if len(venues) == 0 {
		return nil, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(venues))
	for i, venue := range venues {
		cmds[i] = pipe.HGetAll(ctx, quoteKey(pair, venue))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get pair quotes %s: %w", pair, err)
	}

	quotes := make([]domain.Quote, 0, len(venues))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(venues[i], pair, vals)
		if err != nil {
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func parseQuote(venue, pair string, vals map[string]string) (domain.Quote, error) {
	bid, err := strconv.ParseFloat(vals["bid"], 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse bid %s/%s: %w", venue, pair, err)
	}
	ask, err := strconv.ParseFloat(vals["ask"], 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ask %s/%s: %w", venue, pair, err)
	}
	depth, err := strconv.ParseFloat(vals["depth"], 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse depth %s/%s: %w", venue, pair, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s/%s: %w", venue, pair, err)
	}

	return domain.Quote{
		Venue:      venue,
		Pair:       pair,
		Bid:        bid,
		Ask:        ask,
		Depth:      depth,
		ObservedAt: time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
