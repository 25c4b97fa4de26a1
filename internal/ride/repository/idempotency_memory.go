package repository

import (
	"context"
	"sync"
)

// MemoryIdempotencyRepo remembers which ride a booking key produced.
type MemoryIdempotencyRepo struct {
	mu    sync.RWMutex
	rides map[string]string
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewMemoryIdempotencyRepo constructs repository.
func NewMemoryIdempotencyRepo() *MemoryIdempotencyRepo {
	return &MemoryIdempotencyRepo{rides: make(map[string]string), locks: make(map[string]*keyLock)}
}

// Acquire serializes work on key. Callers holding the same key run one at a
// time; release must be called exactly once.
func (m *MemoryIdempotencyRepo) Acquire(ctx context.Context, key string) (release func(), err error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			m.unref(key, l)
		}, nil
	case <-ctx.Done():
		m.unref(key, l)
		return nil, ctx.Err()
	}
}

func (m *MemoryIdempotencyRepo) unref(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// RideForKey returns the ride id recorded for key.
func (m *MemoryIdempotencyRepo) RideForKey(_ context.Context, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.rides[key]
	return id, ok
}

// Remember records the ride id for key. The first recorded ride wins.
func (m *MemoryIdempotencyRepo) Remember(_ context.Context, key, rideID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rides[key]; !exists {
		m.rides[key] = rideID
	}
}
