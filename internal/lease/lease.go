// Package lease provides a coarse cross-process mutex in Redis. The api and
// trigger services each construct their own engine over the shared store;
// holding the lease around every mutation keeps them mutually exclusive the
// same way the engine's mutex does within one process. The TTL bounds how
// long a crashed holder can block the other service.
package lease

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker acquires leases on keys in one Redis instance.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// New constructs a locker. Leases expire after ttl if never released.
func New(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{client: client, ttl: ttl, retry: 20 * time.Millisecond}
}

// Lease is one held lock. Release it when the critical section ends.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire blocks until the key is free or the context is done. Each lease
// carries a unique token so a holder can only release its own acquisition.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.New().String()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			return &Lease{locker: l, key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Release frees the lease if this holder still owns it. A lease that expired
// and was taken by another holder is left untouched.
func (s *Lease) Release(ctx context.Context) {
	if err := releaseScript.Run(ctx, s.locker.client, []string{s.key}, s.token).Err(); err != nil {
		log.Printf("lease: release %s: %v", s.key, err)
	}
}
