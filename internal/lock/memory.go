package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker. It is used when no shared lock
// backend is configured.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	owner   string
	expires time.Time
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

func (m *MemoryLocker) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cur, ok := m.leases[name]
	if ok && cur.owner != owner && now.Before(cur.expires) {
		return false, nil
	}
	m.leases[name] = memoryLease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryLocker) Renew(ctx context.Context, name, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cur, ok := m.leases[name]
	if !ok || cur.owner != owner || !now.Before(cur.expires) {
		return ErrNotHeld
	}
	m.leases[name] = memoryLease{owner: owner, expires: now.Add(ttl)}
	return nil
}

func (m *MemoryLocker) Release(ctx context.Context, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.leases[name]
	if !ok || !m.now().Before(cur.expires) {
		delete(m.leases, name)
		return nil
	}
	if cur.owner != owner {
		return ErrLocked
	}
	delete(m.leases, name)
	return nil
}
