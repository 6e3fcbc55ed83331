// Package memory provides in-process implementations of the coordination
// ports for local development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"meshmind-backend/application/ports"
)

// Locker implements ports.DistributedLocker with a process-local table. It
// mirrors the shared locker's semantics, including takeover of expired
// leases, so coordinator tests exercise the same paths.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
}

type memoryLock struct {
	ownerID   string
	expiresAt time.Time
}

// NewLocker creates an empty in-process locker
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*memoryLock)}
}

// Acquire attempts a single acquisition; expired leases count as absent
func (l *Locker) Acquire(ctx context.Context, resource, ownerID string, lease time.Duration) (ports.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if existing, ok := l.locks[resource]; ok && now.Before(existing.expiresAt) {
		return nil, ports.ErrLockHeld
	}

	record := &memoryLock{ownerID: ownerID, expiresAt: now.Add(lease)}
	l.locks[resource] = record
	return &memoryLease{locker: l, resource: resource, record: record}, nil
}

// release removes the lock only if this lease's record still owns it
func (l *Locker) release(resource string, record *memoryLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[resource] == record {
		delete(l.locks, resource)
	}
}

type memoryLease struct {
	locker   *Locker
	resource string
	record   *memoryLock
}

func (m *memoryLease) Release(ctx context.Context) error {
	m.locker.release(m.resource, m.record)
	return nil
}

func (m *memoryLease) IsExpired() bool {
	return time.Now().After(m.record.expiresAt)
}

func (m *memoryLease) Resource() string {
	return m.resource
}
