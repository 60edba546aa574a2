// Package lock provides named, owner-scoped leases used to serialise
// administrative work such as schema migrations across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrLocked is returned when a lease is held by another owner.
	ErrLocked = errors.New("lock held by another owner")

	// ErrNotHeld is returned by Renew when the caller does not hold the lease.
	ErrNotHeld = errors.New("lock not held")
)

// Locker hands out expiring leases keyed by name.
type Locker interface {
	// TryAcquire acquires (or re-acquires) the lease for owner. If another
	// owner holds an unexpired lease it returns false, nil. A lease owned by
	// the same owner is re-entrant and its ttl is refreshed.
	TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)

	// Renew extends a lease held by owner. Returns ErrNotHeld otherwise.
	Renew(ctx context.Context, name, owner string, ttl time.Duration) error

	// Release drops a lease held by owner. Releasing a missing lease is not
	// an error; releasing someone else's returns ErrLocked.
	Release(ctx context.Context, name, owner string) error
}

// Guard runs fn while holding the lease name. It polls TryAcquire every
// retry until the lease is obtained or ctx ends, renews the lease every
// ttl/3 while fn runs and releases it afterwards. The context passed to fn
// is cancelled if a renewal fails, and the renewal error is returned.
func Guard(ctx context.Context, l Locker, logger *slog.Logger, name, owner string, ttl, retry time.Duration, fn func(ctx context.Context) error) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}
	if retry <= 0 {
		retry = ttl / 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := acquire(ctx, l, name, owner, ttl, retry); err != nil {
		return err
	}
	logger.DebugContext(ctx, "lock acquired", slog.String("lock", name), slog.String("owner", owner))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var renewErr error
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := l.Renew(runCtx, name, owner, ttl); err != nil {
					logger.WarnContext(runCtx, "lock renewal failed",
						slog.String("lock", name),
						slog.Any("error", err),
					)
					renewErr = fmt.Errorf("renew lock %s: %w", name, err)
					cancel()
					return
				}
			}
		}
	}()

	err := fn(runCtx)
	close(done)
	<-stopped

	// Release even if ctx is already done.
	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), ttl)
	defer releaseCancel()
	if rerr := l.Release(releaseCtx, name, owner); rerr != nil {
		logger.WarnContext(ctx, "lock release failed", slog.String("lock", name), slog.Any("error", rerr))
	}

	if err == nil {
		err = renewErr
	}
	return err
}

func acquire(ctx context.Context, l Locker, name, owner string, ttl, retry time.Duration) error {
	for {
		ok, err := l.TryAcquire(ctx, name, owner, ttl)
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire lock %s: %w", name, ctx.Err())
		case <-time.After(retry):
		}
	}
}
