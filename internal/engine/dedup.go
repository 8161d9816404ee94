package engine

import (
	"sync"
	"time"
)

// dedup remembers consumed opportunity IDs until a deadline so a duplicate
// delivery never borrows capital twice. Safe for concurrent use.
type dedup struct {
	mu      sync.Mutex
	expires map[string]time.Time // opportunity ID -> forget-after deadline
	ttl     time.Duration
	now     func() time.Time
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{
		expires: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Consume records the ID and reports whether it had already been consumed
// within the TTL window. Re-consuming an expired ID arms a fresh deadline.
func (d *dedup) Consume(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if deadline, ok := d.expires[id]; ok && now.Before(deadline) {
		return true
	}
	d.expires[id] = now.Add(d.ttl)
	return false
}

// Cleanup drops expired entries so the table does not grow without bound.
// The engine's run loop calls it periodically.
func (d *dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, deadline := range d.expires {
		if !now.Before(deadline) {
			delete(d.expires, id)
		}
	}
}
