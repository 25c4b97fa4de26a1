package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ridedispatch/internal/ride/domain"
)

// Engine owns ride state. It is the only component that writes rides or flips
// driver availability, and it serializes bookings and completions.
type Engine struct {
	mu sync.Mutex

	drivers  domain.DriverRegistry
	history  domain.RideHistory
	notifier domain.Notifier
	events   domain.EventPublisher
	clock    domain.Clock
	fare     domain.FarePolicy
	newID    func() string
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option customises an Engine.
type Option func(*Engine)

// WithEvents publishes lifecycle events to p.
func WithEvents(p domain.EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithClock overrides the time source.
func WithClock(c domain.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithDefaultFare sets the policy used when CompleteRide receives nil.
func WithDefaultFare(p domain.FarePolicy) Option {
	return func(e *Engine) { e.fare = p }
}

// WithIDGenerator overrides ride id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an Engine with the required collaborators.
func New(drivers domain.DriverRegistry, history domain.RideHistory, notifier domain.Notifier, opts ...Option) *Engine {
	e := &Engine{
		drivers:  drivers,
		history:  history,
		notifier: notifier,
		clock:    domain.SystemClock{},
		newID:    func() string { return uuid.New().String() },
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("ride.engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateRide matches the nearest available driver to the rider's pickup and
// records an ASSIGNED ride. When no driver is available nothing is recorded.
func (e *Engine) CreateRide(ctx context.Context, rider domain.Rider, drop domain.GeoPoint) (domain.Ride, error) {
	ctx, span := e.tracer.Start(ctx, "ride.create", trace.WithAttributes(attribute.String("rider", rider.Name)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	requestedAt := e.clock.Now()
	driver, err := e.drivers.Reserve(ctx, rider.Pickup)
	if err != nil {
		ridesBooked.WithLabelValues(bookingResult(err)).Inc()
		span.SetStatus(codes.Error, err.Error())
		return domain.Ride{}, fmt.Errorf("book ride for %s: %w", rider.Name, err)
	}

	ride := domain.Ride{
		ID:          e.newID(),
		Rider:       rider,
		Driver:      driver,
		Pickup:      rider.Pickup,
		Drop:        drop,
		Status:      domain.StatusAssigned,
		RequestedAt: requestedAt,
		AssignedAt:  e.clock.Now(),
	}

	created, err := e.history.CreateRide(ctx, ride)
	if err != nil {
		if relErr := e.drivers.MarkAvailable(ctx, driver.Name); relErr != nil {
			e.logger.Error("release driver after failed booking", zap.String("driver", driver.Name), zap.Error(relErr))
		}
		ridesBooked.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return domain.Ride{}, fmt.Errorf("store ride: %w", err)
	}
	span.SetAttributes(attribute.String("ride_id", created.ID), attribute.String("driver", driver.Name))

	message := fmt.Sprintf("ride %s assigned, pick up %s at %s", created.ID, rider.Name, rider.Pickup)
	if err := e.notify(ctx, driver, message); err != nil {
		e.logger.Warn("driver notification failed", zap.String("ride_id", created.ID), zap.Error(err))
	}
	e.publish(ctx, domain.RideEvent{
		RideID:    created.ID,
		Type:      domain.EventRideAssigned,
		Payload:   map[string]any{"driver": driver.Name, "rider": rider.Name},
		CreatedAt: created.AssignedAt,
	})

	ridesBooked.WithLabelValues("assigned").Inc()
	e.logger.Info("ride assigned", zap.String("ride_id", created.ID), zap.String("driver", driver.Name), zap.String("rider", rider.Name))
	return created, nil
}

// CompleteRide prices and closes an ASSIGNED ride, freeing its driver.
// A nil policy falls back to the engine default. Completing a ride twice fails
// with ErrInvalidState and leaves the stored fare untouched.
func (e *Engine) CompleteRide(ctx context.Context, rideID string, policy domain.FarePolicy) (domain.Ride, error) {
	ctx, span := e.tracer.Start(ctx, "ride.complete", trace.WithAttributes(attribute.String("ride_id", rideID)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	ride, err := e.history.GetRide(ctx, rideID)
	if err != nil {
		ridesCompleted.WithLabelValues("not_found").Inc()
		span.SetStatus(codes.Error, err.Error())
		return domain.Ride{}, err
	}
	if !ride.Status.CanTransitionTo(domain.StatusCompleted) {
		ridesCompleted.WithLabelValues("invalid_state").Inc()
		span.SetStatus(codes.Error, "invalid state")
		return domain.Ride{}, fmt.Errorf("%w: ride %s is %s", domain.ErrInvalidState, rideID, ride.Status)
	}

	if policy == nil {
		policy = e.fare
	}
	if policy == nil {
		return domain.Ride{}, fmt.Errorf("%w: no fare policy configured", domain.ErrInvalidFare)
	}
	distance := domain.Distance(ride.Pickup, ride.Drop)
	fare := policy(distance)
	if math.IsNaN(fare) || math.IsInf(fare, 0) || fare < 0 {
		ridesCompleted.WithLabelValues("invalid_fare").Inc()
		return domain.Ride{}, fmt.Errorf("%w: %v", domain.ErrInvalidFare, fare)
	}

	if err := e.drivers.MarkAvailable(ctx, ride.Driver.Name); err != nil {
		ridesCompleted.WithLabelValues("error").Inc()
		return domain.Ride{}, fmt.Errorf("release driver: %w", err)
	}

	completedAt := e.clock.Now()
	ride.Status = domain.StatusCompleted
	ride.Driver.Available = true
	ride.Fare = &fare
	ride.Distance = &distance
	ride.CompletedAt = &completedAt

	updated, err := e.history.UpdateRide(ctx, ride)
	if err != nil {
		if undoErr := e.drivers.MarkUnavailable(ctx, ride.Driver.Name); undoErr != nil {
			e.logger.Error("restore driver after failed completion", zap.String("driver", ride.Driver.Name), zap.Error(undoErr))
		}
		ridesCompleted.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return domain.Ride{}, fmt.Errorf("store ride: %w", err)
	}

	e.publish(ctx, domain.RideEvent{
		RideID:    updated.ID,
		Type:      domain.EventRideCompleted,
		Payload:   map[string]any{"fare": fare, "distance_km": distance, "driver": ride.Driver.Name},
		CreatedAt: completedAt,
	})

	ridesCompleted.WithLabelValues("completed").Inc()
	fareAmount.Observe(fare)
	e.logger.Info("ride completed", zap.String("ride_id", updated.ID), zap.Float64("fare", fare), zap.Float64("distance_km", distance))
	return updated, nil
}

// GetRide retrieves a ride by identifier.
func (e *Engine) GetRide(ctx context.Context, rideID string) (domain.Ride, error) {
	return e.history.GetRide(ctx, rideID)
}

// GetHistory returns a snapshot of every ride in creation order.
func (e *Engine) GetHistory(ctx context.Context) ([]domain.Ride, error) {
	return e.history.ListRides(ctx)
}

func (e *Engine) notify(ctx context.Context, driver domain.Driver, message string) error {
	if e.notifier == nil {
		return nil
	}
	return e.notifier.NotifyAll(ctx, driver, message)
}

func (e *Engine) publish(ctx context.Context, event domain.RideEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Warn("publish ride event failed", zap.String("ride_id", event.RideID), zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func bookingResult(err error) string {
	if errors.Is(err, domain.ErrNoDriverAvailable) {
		return "no_driver"
	}
	return "error"
}
