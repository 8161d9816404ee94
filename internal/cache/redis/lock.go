package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/theatom/atombot/internal/domain"
)

// unlockScript releases a lock only while the stored token still belongs to
// the caller, so a lock that expired and was re-acquired by someone else is
// never deleted from under its new holder.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// unlockTimeout bounds the best-effort release once the caller's own
// context is gone.
const unlockTimeout = 5 * time.Second

// LockManager hands out distributed locks via SET NX with a TTL. A lock
// whose holder dies expires on its own; release is conditional on the
// holder's token.
type LockManager struct {
	rdb *redis.Client
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the named lock for at most ttl and returns its release
// function, which is safe to call more than once. It returns
// domain.ErrLockHeld when another party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	name := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context is often already cancelled at release
			// time; the unlock still has to go out.
			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			_ = unlockScript.Run(ctx, lm.rdb, []string{name}, token).Err()
		})
	}, nil
}
