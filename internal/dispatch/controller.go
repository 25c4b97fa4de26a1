// Package dispatch wires the registry, history, notification sink and ride
// engine into one object that owns them for the lifetime of a process.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/ridedispatch/internal/ride/domain"
	"github.com/example/ridedispatch/internal/ride/matching"
	"github.com/example/ridedispatch/internal/ride/notify"
	"github.com/example/ridedispatch/internal/ride/pricing"
	"github.com/example/ridedispatch/internal/ride/repository"
	"github.com/example/ridedispatch/internal/ride/service"
)

// Options configures a Controller. Zero values are valid.
type Options struct {
	Logger    *zap.Logger
	Mirror    matching.LocationMirror
	Events    domain.EventPublisher
	Listeners []notify.Listener
	Pricing   *pricing.Catalog
	Clock     domain.Clock
}

// Controller is the entry point for callers: drivers are registered, rides
// booked and completed, and history read through it.
type Controller struct {
	registry *matching.Registry
	history  *repository.MemoryHistory
	sink     *notify.Sink
	engine   *service.Engine
	pricing  *pricing.Catalog
	logger   *zap.Logger
}

// New builds every component and returns the controller owning them.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog := opts.Pricing
	if catalog == nil {
		catalog = pricing.NewCatalog("linear", pricing.Linear(50, 10))
	}

	regOpts := []matching.Option{matching.WithLogger(logger.Named("registry"))}
	if opts.Mirror != nil {
		regOpts = append(regOpts, matching.WithMirror(opts.Mirror))
	}
	registry := matching.NewRegistry(regOpts...)
	history := repository.NewMemoryHistory()
	sink := notify.NewSink(opts.Listeners...)

	engineOpts := []service.Option{
		service.WithLogger(logger.Named("engine")),
		service.WithDefaultFare(catalog.Default()),
	}
	if opts.Events != nil {
		engineOpts = append(engineOpts, service.WithEvents(opts.Events))
	}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, service.WithClock(opts.Clock))
	}

	return &Controller{
		registry: registry,
		history:  history,
		sink:     sink,
		engine:   service.New(registry, history, sink, engineOpts...),
		pricing:  catalog,
		logger:   logger,
	}
}

// RegisterDriver adds an available driver at location.
func (c *Controller) RegisterDriver(ctx context.Context, name string, location domain.GeoPoint) (domain.Driver, error) {
	driver := domain.NewDriver(name, location)
	if err := c.registry.Register(ctx, driver); err != nil {
		return domain.Driver{}, err
	}
	c.logger.Info("driver registered", zap.String("driver", name))
	return driver, nil
}

// BookRide books a ride from the rider's pickup to drop.
func (c *Controller) BookRide(ctx context.Context, rider domain.Rider, drop domain.GeoPoint) (domain.Ride, error) {
	return c.engine.CreateRide(ctx, rider, drop)
}

// CompleteRide completes a ride using the default fare policy.
func (c *Controller) CompleteRide(ctx context.Context, rideID string) (domain.Ride, error) {
	return c.engine.CompleteRide(ctx, rideID, c.pricing.Default())
}

// CompleteRideWith completes a ride using the named fare policy.
func (c *Controller) CompleteRideWith(ctx context.Context, rideID, policy string) (domain.Ride, error) {
	fare, err := c.pricing.Lookup(policy)
	if err != nil {
		return domain.Ride{}, err
	}
	return c.engine.CompleteRide(ctx, rideID, fare)
}

// History returns every ride in creation order.
func (c *Controller) History(ctx context.Context) ([]domain.Ride, error) {
	return c.engine.GetHistory(ctx)
}

// Ride returns a single ride.
func (c *Controller) Ride(ctx context.Context, rideID string) (domain.Ride, error) {
	return c.engine.GetRide(ctx, rideID)
}

// Subscribe adds a notification listener.
func (c *Controller) Subscribe(l notify.Listener) {
	c.sink.Register(l)
}

// Drivers lists registered drivers.
func (c *Controller) Drivers(ctx context.Context) []domain.Driver {
	return c.registry.List(ctx)
}

// FindAvailableNear returns the driver a booking at point would be assigned,
// without reserving it.
func (c *Controller) FindAvailableNear(ctx context.Context, point domain.GeoPoint) (domain.Driver, error) {
	return c.registry.FindAvailableNear(ctx, point)
}

// MoveDriver updates a driver's location.
func (c *Controller) MoveDriver(ctx context.Context, name string, location domain.GeoPoint) (domain.Driver, error) {
	return c.registry.UpdateLocation(ctx, name, location)
}
