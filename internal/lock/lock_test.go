package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLocker_AcquireRenewRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	acq, err := l.TryAcquire(ctx, "migrate", "owner1", 50*time.Millisecond)
	if err != nil || !acq {
		t.Fatalf("TryAcquire owner1: acq=%v err=%v", acq, err)
	}

	acq2, err := l.TryAcquire(ctx, "migrate", "owner2", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("TryAcquire owner2: %v", err)
	}
	if acq2 {
		t.Fatalf("expected not acquired while lease active")
	}

	if err := l.Renew(ctx, "migrate", "owner1", 50*time.Millisecond); err != nil {
		t.Fatalf("Renew owner1: %v", err)
	}
	if err := l.Renew(ctx, "migrate", "owner2", 50*time.Millisecond); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	if err := l.Release(ctx, "migrate", "owner2"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := l.Release(ctx, "migrate", "owner1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(ctx, "migrate", "owner1"); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	acq3, err := l.TryAcquire(ctx, "migrate", "owner2", 50*time.Millisecond)
	if err != nil || !acq3 {
		t.Fatalf("expected owner2 to acquire after release: acq=%v err=%v", acq3, err)
	}
}

func TestMemoryLocker_LeaseExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if acq, err := l.TryAcquire(ctx, "migrate", "owner1", time.Second); err != nil || !acq {
		t.Fatalf("TryAcquire owner1: acq=%v err=%v", acq, err)
	}

	now = now.Add(2 * time.Second)

	if err := l.Renew(ctx, "migrate", "owner1", time.Second); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected expired lease to be unrenewable, got %v", err)
	}
	acq, err := l.TryAcquire(ctx, "migrate", "owner2", time.Second)
	if err != nil || !acq {
		t.Fatalf("expected owner2 to take over expired lease: acq=%v err=%v", acq, err)
	}
}

func TestMemoryLocker_ReentrantAndInvalidTTL(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if acq, err := l.TryAcquire(ctx, "migrate", "owner1", time.Second); err != nil || !acq {
			t.Fatalf("re-entrant acquire %d: acq=%v err=%v", i, acq, err)
		}
	}
	if _, err := l.TryAcquire(ctx, "migrate", "owner1", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestMemoryLocker_ConcurrentAcquireOnlyOne(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	owners := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, o := range owners {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			ok, err := l.TryAcquire(ctx, "migrate", owner, time.Minute)
			if err == nil && ok {
				winners.Add(1)
			}
		}(o)
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func TestGuard_SerialisesHolders(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
		runs    atomic.Int32
	)
	for _, owner := range []string{"p1", "p2", "p3"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			err := Guard(ctx, l, nil, "migrate", owner, time.Second, 5*time.Millisecond, func(ctx context.Context) error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(10 * time.Millisecond)
				inside.Add(-1)
				runs.Add(1)
				return nil
			})
			if err != nil {
				t.Errorf("Guard %s: %v", owner, err)
			}
		}(owner)
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatalf("two holders ran concurrently")
	}
	if runs.Load() != 3 {
		t.Fatalf("expected 3 runs, got %d", runs.Load())
	}
}

func TestGuard_ReleasesOnError(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	boom := errors.New("boom")

	err := Guard(ctx, l, nil, "migrate", "owner1", time.Second, 0, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	acq, err := l.TryAcquire(ctx, "migrate", "owner2", time.Second)
	if err != nil || !acq {
		t.Fatalf("expected lease released after error: acq=%v err=%v", acq, err)
	}
}

func TestGuard_GivesUpWhenContextEnds(t *testing.T) {
	l := NewMemoryLocker()
	if acq, err := l.TryAcquire(context.Background(), "migrate", "holder", time.Minute); err != nil || !acq {
		t.Fatalf("TryAcquire holder: acq=%v err=%v", acq, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	called := false
	err := Guard(ctx, l, nil, "migrate", "waiter", time.Minute, 5*time.Millisecond, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run without the lock")
	}
}

type failingRenewLocker struct {
	*MemoryLocker
}

func (f failingRenewLocker) Renew(ctx context.Context, name, owner string, ttl time.Duration) error {
	return ErrNotHeld
}

func TestGuard_CancelsWorkWhenRenewalFails(t *testing.T) {
	l := failingRenewLocker{NewMemoryLocker()}

	err := Guard(context.Background(), l, nil, "migrate", "owner1", 30*time.Millisecond, 0, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected renewal error, got %v", err)
	}
}
