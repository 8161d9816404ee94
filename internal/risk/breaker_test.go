package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBreaker(failures, successes int, cooldown, window time.Duration) *Breaker {
	return NewBreaker(BreakerConfig{
		Failures:  failures,
		Successes: successes,
		Cooldown:  cooldown,
		Window:    window,
	}, testLogger())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := testBreaker(3, 1, time.Minute, 0)
	now := time.Now()

	_, _, changed := b.RecordFailure(now)
	assert.False(t, changed)
	_, _, changed = b.RecordFailure(now)
	assert.False(t, changed)
	assert.Equal(t, BreakerClosed, b.State())

	from, to, changed := b.RecordFailure(now)
	assert.True(t, changed)
	assert.Equal(t, BreakerClosed, from)
	assert.Equal(t, BreakerOpen, to)
	assert.Equal(t, 3, b.Failures())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := testBreaker(3, 1, time.Minute, 0)
	now := time.Now()

	b.RecordFailure(now)
	b.RecordFailure(now)
	b.RecordSuccess(now)
	assert.Equal(t, 0, b.Failures())

	// Two more failures are not enough on their own.
	b.RecordFailure(now)
	b.RecordFailure(now)
	assert.Equal(t, BreakerClosed, b.State())

	b.RecordFailure(now)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_AllowDuringCooldown(t *testing.T) {
	b := testBreaker(1, 1, time.Minute, 0)
	now := time.Now()

	b.RecordFailure(now)
	assert.Equal(t, BreakerOpen, b.State())

	// Inside the cooldown nothing passes.
	allowed, probed := b.Allow(now.Add(30 * time.Second))
	assert.False(t, allowed)
	assert.False(t, probed)
	assert.Equal(t, BreakerOpen, b.State())

	// Once the cooldown elapses the probe passes and the breaker half-opens.
	allowed, probed = b.Allow(now.Add(time.Minute))
	assert.True(t, allowed)
	assert.True(t, probed)
	assert.Equal(t, BreakerHalfOpen, b.State())

	// The transition happened once; a second call is a plain pass.
	allowed, probed = b.Allow(now.Add(time.Minute))
	assert.True(t, allowed)
	assert.False(t, probed)
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	b := testBreaker(1, 2, time.Minute, 0)
	now := time.Now()

	b.RecordFailure(now)
	b.Allow(now.Add(time.Minute))
	assert.Equal(t, BreakerHalfOpen, b.State())

	_, _, changed := b.RecordSuccess(now.Add(time.Minute))
	assert.False(t, changed)
	assert.Equal(t, BreakerHalfOpen, b.State())

	from, to, changed := b.RecordSuccess(now.Add(2 * time.Minute))
	assert.True(t, changed)
	assert.Equal(t, BreakerHalfOpen, from)
	assert.Equal(t, BreakerClosed, to)
	assert.Equal(t, 0, b.Failures())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := testBreaker(1, 2, time.Minute, 0)
	now := time.Now()

	b.RecordFailure(now)
	b.Allow(now.Add(time.Minute))
	assert.Equal(t, BreakerHalfOpen, b.State())

	from, to, changed := b.RecordFailure(now.Add(time.Minute))
	assert.True(t, changed)
	assert.Equal(t, BreakerHalfOpen, from)
	assert.Equal(t, BreakerOpen, to)

	// The reopen restarts the cooldown from the new failure.
	allowed, _ := b.Allow(now.Add(90 * time.Second))
	assert.False(t, allowed)
	allowed, _ = b.Allow(now.Add(2 * time.Minute))
	assert.True(t, allowed)
}

func TestBreaker_WindowBoundsConsecutiveFailures(t *testing.T) {
	b := testBreaker(2, 1, time.Minute, 10*time.Second)
	now := time.Now()

	b.RecordFailure(now)

	// A failure beyond the window starts a fresh streak.
	b.RecordFailure(now.Add(30 * time.Second))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 1, b.Failures())

	// A second failure inside the window opens.
	b.RecordFailure(now.Add(35 * time.Second))
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_StragglerSuccessWhileOpenIgnored(t *testing.T) {
	b := testBreaker(1, 1, time.Minute, 0)
	now := time.Now()

	b.RecordFailure(now)
	from, to, changed := b.RecordSuccess(now.Add(time.Second))
	assert.False(t, changed)
	assert.Equal(t, BreakerOpen, from)
	assert.Equal(t, BreakerOpen, to)
	allowed, _ := b.Allow(now.Add(time.Second))
	assert.False(t, allowed)
}
