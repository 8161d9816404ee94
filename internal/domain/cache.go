package domain

import (
	"context"
	"time"
)

// QuoteCache holds the latest quote per (venue, pair) with a freshness TTL.
// Streaming venues write into it; the feed adapter reads it instead of
// round-tripping the venue on every scan tick.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, venue, pair string) (Quote, error)
	GetPairQuotes(ctx context.Context, pair string, venues []string) ([]Quote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. Only one process instance may
// run restart reconciliation or an archive sweep at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus is the telemetry transport: a durable capped stream the
// dashboard reads back, plus fire-and-forget pub/sub for live tailing.
// Clearing the stream truncates the visible window only; the ledger is
// untouched.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRecent(ctx context.Context, stream string, count int) ([]StreamMessage, error)
	StreamClear(ctx context.Context, stream string) error
	StreamLen(ctx context.Context, stream string) (int64, error)
}
