// Package lock provides the per-slot serializing lock used in front of the
// ledger's conditional write.  The lock narrows contention to one checkout per
// (tour, date, slot) at a time and turns a long wait into a retryable Busy
// error instead of a pile-up of blocked database transactions.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock could not be taken within the
// configured wait.
var ErrNotAcquired = errors.New("slot lock not acquired")

// Locker serializes work on a key.  Acquire blocks for at most the locker's
// wait bound and returns a release func that must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// SlotKey builds the lock key for a tour, date and slot.
func SlotKey(tourID, date, slotID string) string {
	return fmt.Sprintf("slotlock:%s:%s:%s", tourID, date, slotID)
}

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	rdb          *redis.Client
	ttl          time.Duration
	wait         time.Duration
	pollInterval time.Duration
}

// NewRedisLocker returns a locker whose keys expire after ttl and whose
// Acquire gives up after wait.
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait < 0 {
		wait = 0
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, wait: wait, pollInterval: 25 * time.Millisecond}
}

// Acquire polls SET NX until it succeeds, the wait bound elapses (ErrNotAcquired)
// or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release on a fresh context: the caller's may already be done.
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.rdb, []string{key}, token).Err()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}
		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// NoopLocker is used when Redis is not configured.  The ledger's row lock
// remains the authority on capacity.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }
