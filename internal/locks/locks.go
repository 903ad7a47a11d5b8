// Package locks serializes work on one key across API and worker replicas.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. Safe to call more than once.
type Unlock func()

type Locker interface {
	// Lock waits up to the locker's wait budget for key.
	Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
	// TryLock makes a single attempt.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb   redis.UniversalClient
	wait  time.Duration
	retry time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, wait time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, wait: wait, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// отпускаем даже если контекст запроса уже отменён
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
		})
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	deadline := time.Now().Add(l.wait)
	for {
		unlock, err := l.TryLock(ctx, key, ttl)
		if !errors.Is(err, ErrNotAcquired) {
			return unlock, err
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// LocalLocker is the single-process variant used by tests and tooling.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{}), wait: wait}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, ErrNotAcquired
	}
	done := make(chan struct{})
	l.held[key] = done

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(done)
		})
	}, nil
}

func (l *LocalLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	for {
		unlock, err := l.TryLock(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}

		l.mu.Lock()
		done, busy := l.held[key]
		l.mu.Unlock()
		if !busy {
			continue
		}

		select {
		case <-done:
		case <-timer.C:
			return nil, ErrNotAcquired
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// OrderKey is the lock guarding every money-moving transition of one order.
func OrderKey(orderID uuid.UUID) string {
	return "lock:order:" + orderID.String()
}

// SweepKey elects a single worker replica for a periodic job.
func SweepKey(job string) string {
	return "lock:sweep:" + job
}
