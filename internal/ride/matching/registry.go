package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/ridedispatch/internal/ride/domain"
)

// Registry is the in-memory set of known drivers. Drivers are kept in
// registration order so that equally distant candidates resolve to the
// earliest registration.
type Registry struct {
	mu      sync.RWMutex
	drivers []domain.Driver
	index   map[string]int
	mirror  LocationMirror
	logger  *zap.Logger
}

// Option customises a Registry.
type Option func(*Registry)

// WithMirror copies every driver change to m.
func WithMirror(m LocationMirror) Option {
	return func(r *Registry) { r.mirror = m }
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{index: make(map[string]int), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a driver keyed by name.
func (r *Registry) Register(ctx context.Context, driver domain.Driver) error {
	if driver.Name == "" {
		return domain.ErrInvalidDriver
	}
	r.mu.Lock()
	if _, exists := r.index[driver.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrDuplicateDriver, driver.Name)
	}
	r.index[driver.Name] = len(r.drivers)
	r.drivers = append(r.drivers, driver)
	available := r.countAvailableLocked()
	r.mu.Unlock()

	driversRegistered.Inc()
	driversAvailable.Set(float64(available))
	r.sync(ctx, driver)
	return nil
}

// FindAvailableNear returns the available driver closest to point.
func (r *Registry) FindAvailableNear(_ context.Context, point domain.GeoPoint) (domain.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.nearestLocked(point)
	if !ok {
		return domain.Driver{}, domain.ErrNoDriverAvailable
	}
	return r.drivers[i], nil
}

// Reserve selects the nearest available driver and marks it unavailable in a
// single critical section, so concurrent callers never receive the same driver.
func (r *Registry) Reserve(ctx context.Context, point domain.GeoPoint) (domain.Driver, error) {
	start := time.Now()
	r.mu.Lock()
	i, ok := r.nearestLocked(point)
	if !ok {
		r.mu.Unlock()
		matchingDuration.WithLabelValues("no_driver").Observe(time.Since(start).Seconds())
		return domain.Driver{}, domain.ErrNoDriverAvailable
	}
	r.drivers[i].Available = false
	reserved := r.drivers[i]
	available := r.countAvailableLocked()
	r.mu.Unlock()

	matchingDuration.WithLabelValues("matched").Observe(time.Since(start).Seconds())
	driversAvailable.Set(float64(available))
	r.sync(ctx, reserved)
	return reserved, nil
}

// MarkAvailable flags the driver as free for matching.
func (r *Registry) MarkAvailable(ctx context.Context, name string) error {
	return r.setAvailable(ctx, name, true)
}

// MarkUnavailable removes the driver from matching.
func (r *Registry) MarkUnavailable(ctx context.Context, name string) error {
	return r.setAvailable(ctx, name, false)
}

// UpdateLocation moves a registered driver.
func (r *Registry) UpdateLocation(ctx context.Context, name string, point domain.GeoPoint) (domain.Driver, error) {
	r.mu.Lock()
	i, ok := r.index[name]
	if !ok {
		r.mu.Unlock()
		return domain.Driver{}, fmt.Errorf("%w: %s", domain.ErrUnknownDriver, name)
	}
	r.drivers[i].Location = point
	updated := r.drivers[i]
	r.mu.Unlock()

	r.sync(ctx, updated)
	return updated, nil
}

// Get returns the driver registered under name.
func (r *Registry) Get(_ context.Context, name string) (domain.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return domain.Driver{}, fmt.Errorf("%w: %s", domain.ErrUnknownDriver, name)
	}
	return r.drivers[i], nil
}

// List returns every driver in registration order.
func (r *Registry) List(_ context.Context) []domain.Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Driver(nil), r.drivers...)
}

func (r *Registry) setAvailable(ctx context.Context, name string, available bool) error {
	r.mu.Lock()
	i, ok := r.index[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrUnknownDriver, name)
	}
	r.drivers[i].Available = available
	updated := r.drivers[i]
	count := r.countAvailableLocked()
	r.mu.Unlock()

	driversAvailable.Set(float64(count))
	r.sync(ctx, updated)
	return nil
}

// nearestLocked uses a strict comparison so the first registered driver wins ties.
func (r *Registry) nearestLocked(point domain.GeoPoint) (int, bool) {
	best := -1
	bestDist := 0.0
	for i, d := range r.drivers {
		if !d.Available {
			continue
		}
		dist := domain.Distance(point, d.Location)
		if best < 0 || dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	return best, best >= 0
}

func (r *Registry) countAvailableLocked() int {
	n := 0
	for _, d := range r.drivers {
		if d.Available {
			n++
		}
	}
	return n
}

func (r *Registry) sync(ctx context.Context, driver domain.Driver) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Sync(ctx, driver); err != nil {
		r.logger.Warn("driver mirror sync failed", zap.String("driver", driver.Name), zap.Error(err))
	}
}
