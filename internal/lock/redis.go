package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker is a Locker shared between processes through Redis. Each
// lease is a single key holding the owner, expiring after its ttl.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// Ensure RedisLocker implements Locker.
var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker storing leases under prefix ("wfstore:lock:"
// when empty).
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "wfstore:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (r *RedisLocker) key(name string) string {
	return r.prefix + name
}

// Each script returns 1 on success and 0 otherwise.
var (
	acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	redis.call('PSETEX', KEYS[1], ARGV[2], ARGV[1])
	return 1
end
if cur == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

	renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

	// Returns -1 when the key is missing so Release can stay idempotent.
	releaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return -1
end
if cur == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)
)

func (r *RedisLocker) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	n, err := acquireScript.Run(ctx, r.client, []string{r.key(name)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisLocker) Renew(ctx context.Context, name, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}
	n, err := renewScript.Run(ctx, r.client, []string{r.key(name)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrNotHeld
	}
	return nil
}

func (r *RedisLocker) Release(ctx context.Context, name, owner string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(name)}, owner).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLocked
	}
	return nil
}
