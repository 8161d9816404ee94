package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	t.Run("wildcards", func(t *testing.T) {
		c, err := parseCron("* * * * *")
		require.NoError(t, err)
		assert.True(t, c.matches(time.Date(2025, 6, 1, 12, 34, 0, 0, time.UTC)))
	})

	t.Run("comma lists", func(t *testing.T) {
		c, err := parseCron("0,30 3 1,15 * *")
		require.NoError(t, err)
		assert.True(t, c.matches(time.Date(2025, 6, 15, 3, 30, 0, 0, time.UTC)))
		assert.False(t, c.matches(time.Date(2025, 6, 15, 3, 15, 0, 0, time.UTC)))
		assert.False(t, c.matches(time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)))
	})

	t.Run("ranges", func(t *testing.T) {
		c, err := parseCron("0 9-17 * * 1-5")
		require.NoError(t, err)
		assert.True(t, c.matches(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)), "Monday 09:00")
		assert.True(t, c.matches(time.Date(2025, 6, 6, 17, 0, 0, 0, time.UTC)), "Friday 17:00")
		assert.False(t, c.matches(time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)), "after hours")
		assert.False(t, c.matches(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)), "Sunday")
	})

	t.Run("steps", func(t *testing.T) {
		c, err := parseCron("*/15 * * * *")
		require.NoError(t, err)
		for _, m := range []int{0, 15, 30, 45} {
			assert.True(t, c.matches(time.Date(2025, 6, 1, 12, m, 0, 0, time.UTC)), "minute %d", m)
		}
		assert.False(t, c.matches(time.Date(2025, 6, 1, 12, 20, 0, 0, time.UTC)))
	})

	t.Run("wrong field count", func(t *testing.T) {
		_, err := parseCron("0 3 * *")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must have 5 fields")
	})

	t.Run("garbage field", func(t *testing.T) {
		_, err := parseCron("0 three * * *")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing hour field")
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := parseCron("0 25 * * *")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of range")
	})

	t.Run("bad step", func(t *testing.T) {
		_, err := parseCron("*/0 * * * *")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron step")
	})
}

func TestCronScheduleNext(t *testing.T) {
	after := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC) // Sunday

	nextFor := func(t *testing.T, expr string) time.Time {
		t.Helper()
		c, err := parseCron(expr)
		require.NoError(t, err)
		next, err := c.next(after)
		require.NoError(t, err)
		return next
	}

	t.Run("daily at 03:00", func(t *testing.T) {
		assert.Equal(t, time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), nextFor(t, "0 3 * * *"))
	})

	t.Run("later same hour", func(t *testing.T) {
		assert.Equal(t, time.Date(2025, 6, 1, 12, 45, 0, 0, time.UTC), nextFor(t, "45 12 * * *"))
	})

	t.Run("seconds round up to the next minute", func(t *testing.T) {
		// 12:30:45 must not match the 12:30 slot that already started.
		assert.Equal(t, time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC), nextFor(t, "30 12 * * *"))
	})

	t.Run("monthly on the 1st", func(t *testing.T) {
		assert.Equal(t, time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC), nextFor(t, "0 3 1 * *"))
	})

	t.Run("weekly on Monday", func(t *testing.T) {
		next := nextFor(t, "0 9 * * 1")
		assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), next)
		assert.Equal(t, time.Monday, next.Weekday())
	})

	t.Run("impossible date gives up", func(t *testing.T) {
		c, err := parseCron("0 0 31 2 *")
		require.NoError(t, err)
		_, err = c.next(after)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "matches no time within a year")
	})
}
