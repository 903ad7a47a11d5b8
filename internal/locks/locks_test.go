package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker(time.Second)
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if _, err := l.TryLock(ctx, "k", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second TryLock = %v, want ErrNotAcquired", err)
	}
	if _, err := l.TryLock(ctx, "other", time.Minute); err != nil {
		t.Fatalf("TryLock on other key: %v", err)
	}

	unlock()
	unlock() // idempotent
	if _, err := l.TryLock(ctx, "k", time.Minute); err != nil {
		t.Fatalf("TryLock after unlock: %v", err)
	}
}

func TestLocalLockerWaitTimesOut(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	if _, err := l.Lock(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := l.Lock(ctx, "k", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("Lock while held = %v, want ErrNotAcquired", err)
	}
}

func TestLocalLockerSerializes(t *testing.T) {
	l := NewLocalLocker(5 * time.Second)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "order", time.Minute)
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	if got := OrderKey(id); got != "lock:order:33333333-3333-3333-3333-333333333333" {
		t.Errorf("OrderKey = %q", got)
	}
	if got := SweepKey("holds"); got != "lock:sweep:holds" {
		t.Errorf("SweepKey = %q", got)
	}
}
