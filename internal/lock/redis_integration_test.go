//go:build integration

package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/wfstore/internal/testutil"
)

type RedisLockerTestSuite struct {
	suite.Suite
	client *redis.Client
	locker *RedisLocker
}

func TestRedisLockerTestSuite(t *testing.T) {
	s := new(RedisLockerTestSuite)
	s.client = redis.NewClient(&redis.Options{Addr: testutil.StartRedisContainer(t)})
	t.Cleanup(func() {
		_ = s.client.Close()
	})
	suite.Run(t, s)
}

func (r *RedisLockerTestSuite) SetupTest() {
	r.Require().NoError(r.client.FlushDB(context.Background()).Err())
	r.locker = NewRedisLocker(r.client, "")
}

func (r *RedisLockerTestSuite) TestAcquireRenewRelease() {
	ctx := context.Background()

	acq, err := r.locker.TryAcquire(ctx, "migrate", "owner1", time.Second)
	r.NoError(err)
	r.True(acq)

	acq2, err := r.locker.TryAcquire(ctx, "migrate", "owner2", time.Second)
	r.NoError(err)
	r.False(acq2, "expected not acquired while lease active")

	r.NoError(r.locker.Renew(ctx, "migrate", "owner1", time.Second))
	r.ErrorIs(r.locker.Renew(ctx, "migrate", "owner2", time.Second), ErrNotHeld)
	r.ErrorIs(r.locker.Release(ctx, "migrate", "owner2"), ErrLocked)

	r.NoError(r.locker.Release(ctx, "migrate", "owner1"))
	r.NoError(r.locker.Release(ctx, "migrate", "owner1"))

	acq3, err := r.locker.TryAcquire(ctx, "migrate", "owner2", time.Second)
	r.NoError(err)
	r.True(acq3, "expected owner2 to acquire after release")
}

func (r *RedisLockerTestSuite) TestLeaseExpires() {
	ctx := context.Background()

	acq, err := r.locker.TryAcquire(ctx, "migrate", "owner1", 20*time.Millisecond)
	r.Require().NoError(err)
	r.Require().True(acq)

	time.Sleep(50 * time.Millisecond)

	acq2, err := r.locker.TryAcquire(ctx, "migrate", "owner2", time.Second)
	r.NoError(err)
	r.True(acq2, "expected expired lease to be taken over")
}

func (r *RedisLockerTestSuite) TestGuardReleasesKey() {
	ctx := context.Background()

	err := Guard(ctx, r.locker, nil, "migrate", "owner1", time.Second, 0, func(ctx context.Context) error {
		n, err := r.client.Exists(ctx, "wfstore:lock:migrate").Result()
		if err != nil {
			return err
		}
		if n != 1 {
			return errors.New("lease key missing while held")
		}
		return nil
	})
	r.NoError(err)

	n, err := r.client.Exists(ctx, "wfstore:lock:migrate").Result()
	r.NoError(err)
	r.Zero(n)
}
