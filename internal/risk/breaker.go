package risk

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig holds the circuit breaker policy.
type BreakerConfig struct {
	// Failures is the consecutive-failure count that opens the breaker.
	Failures int
	// Successes is the consecutive-success count that closes it again from
	// half-open.
	Successes int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Window bounds how far apart failures may be and still count as
	// consecutive.
	Window time.Duration
}

// Breaker is a consecutive-failure circuit breaker. Failures while closed
// open it once the threshold is reached; after the cooldown it goes
// half-open, where successes close it and any failure reopens it.
// All methods are safe for concurrent use.
type Breaker struct {
	cfg    BreakerConfig
	logger *slog.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
	openedAt    time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.Failures < 1 {
		cfg.Failures = 1
	}
	if cfg.Successes < 1 {
		cfg.Successes = 1
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "breaker")),
		state:  BreakerClosed,
	}
}

// Allow reports whether new work may pass. An open breaker whose cooldown
// has elapsed moves to half-open and allows the probe through; probed is
// true exactly when this call performed that transition.
func (b *Breaker) Allow(now time.Time) (allowed, probed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if now.Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(BreakerHalfOpen)
			return true, true
		}
		return false, false
	default:
		return true, false
	}
}

// RecordSuccess feeds a successful settlement into the breaker. It returns
// the transition, if one occurred.
func (b *Breaker) RecordSuccess(now time.Time) (from, to BreakerState, changed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.Successes {
			b.transition(BreakerClosed)
		}
	case BreakerOpen:
		// A straggler settling after the breaker opened; ignore.
	}
	return from, b.state, b.state != from
}

// RecordFailure feeds a failed settlement into the breaker. It returns the
// transition, if one occurred.
func (b *Breaker) RecordFailure(now time.Time) (from, to BreakerState, changed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	switch b.state {
	case BreakerClosed:
		if b.cfg.Window > 0 && !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.Window {
			b.failures = 0
		}
		b.failures++
		b.lastFailure = now
		if b.failures >= b.cfg.Failures {
			b.open(now)
		}
	case BreakerHalfOpen:
		b.open(now)
	case BreakerOpen:
		b.lastFailure = now
	}
	return from, b.state, b.state != from
}

// State returns the current state without mutating it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// open must be called with the lock held.
func (b *Breaker) open(now time.Time) {
	b.openedAt = now
	b.transition(BreakerOpen)
}

// transition must be called with the lock held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	switch to {
	case BreakerClosed:
		b.failures = 0
		b.successes = 0
	case BreakerHalfOpen:
		b.successes = 0
	}
	b.logger.Info("breaker state change",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("failures", b.failures),
	)
}
