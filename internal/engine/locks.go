package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker serializes dispatch per schedule. TryLock returns a release
// function and true on acquisition, or false when another holder has
// the key. Locks are advisory; the notification-log guard remains the
// final arbiter of duplicates.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// DispatchLockTTL bounds how long a Redis dispatch lock survives a
// crashed holder. Comfortably longer than a full dispatch attempt
// (every channel send is individually timeout-bounded) so the lock
// never expires under a live holder.
const DispatchLockTTL = 90 * time.Second

// RedisLocker takes SET NX locks in Redis so multiple engine instances
// sharing one database never dispatch the same schedule concurrently.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: "dispatch"}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	full := l.prefix + ":" + key
	ok, err := l.rdb.SetNX(ctx, full, "1", DispatchLockTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.rdb.Del(rctx, full).Err()
	}
	return release, true, nil
}

// MutexLocker is the in-process fallback used when Redis is not
// available. It is correct for a single engine instance only.
type MutexLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{held: make(map[string]struct{})}
}

func (l *MutexLocker) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	release := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}
	return release, true, nil
}

func scheduleLockKey(scheduleID uint64) string {
	return fmt.Sprintf("schedule:%d", scheduleID)
}

// refillLockKey lives in its own namespace so an inline refill can run
// while the engine still holds the dose lock for the same schedule.
func refillLockKey(scheduleID uint64) string {
	return fmt.Sprintf("refill:%d", scheduleID)
}
