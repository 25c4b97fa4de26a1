package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ridedispatch/internal/ride/domain"
)

// MemoryHistory is the append-only ride history. Rides are never removed and
// an existing id can only be replaced through UpdateRide.
type MemoryHistory struct {
	mu    sync.RWMutex
	rides map[string]domain.Ride
	order []string
}

// NewMemoryHistory constructs an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{rides: make(map[string]domain.Ride)}
}

// CreateRide appends a ride; an id that is already present is rejected.
func (m *MemoryHistory) CreateRide(_ context.Context, ride domain.Ride) (domain.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rides[ride.ID]; exists {
		return domain.Ride{}, fmt.Errorf("%w: %s", domain.ErrDuplicateRide, ride.ID)
	}
	ride.Version = 1
	m.rides[ride.ID] = ride.Clone()
	m.order = append(m.order, ride.ID)
	return ride, nil
}

// GetRide retrieves a ride.
func (m *MemoryHistory) GetRide(_ context.Context, id string) (domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return domain.Ride{}, fmt.Errorf("%w: %s", domain.ErrRideNotFound, id)
	}
	return ride.Clone(), nil
}

// UpdateRide replaces the stored ride, bumping its version. A stale version is
// rejected so two writers cannot silently overwrite each other.
func (m *MemoryHistory) UpdateRide(_ context.Context, ride domain.Ride) (domain.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rides[ride.ID]
	if !ok {
		return domain.Ride{}, fmt.Errorf("%w: %s", domain.ErrRideNotFound, ride.ID)
	}
	if ride.Version != existing.Version {
		return domain.Ride{}, fmt.Errorf("ride %s: stale version %d (current %d)", ride.ID, ride.Version, existing.Version)
	}
	ride.Version = existing.Version + 1
	m.rides[ride.ID] = ride.Clone()
	return ride, nil
}

// ListRides returns every ride in creation order.
func (m *MemoryHistory) ListRides(_ context.Context) ([]domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Ride, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rides[id].Clone())
	}
	return out, nil
}

// Len reports how many rides have been recorded.
func (m *MemoryHistory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

var _ domain.RideHistory = (*MemoryHistory)(nil)
