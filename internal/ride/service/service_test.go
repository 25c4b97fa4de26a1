package service_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ridedispatch/internal/ride/domain"
	"github.com/example/ridedispatch/internal/ride/matching"
	"github.com/example/ridedispatch/internal/ride/notify"
	"github.com/example/ridedispatch/internal/ride/pricing"
	"github.com/example/ridedispatch/internal/ride/repository"
	"github.com/example/ridedispatch/internal/ride/service"
	"github.com/example/ridedispatch/pkg/events"
)

var (
	arjunLoc = domain.GeoPoint{Lat: 12.9611, Lng: 77.6387}
	kiranLoc = domain.GeoPoint{Lat: 12.9611, Lng: 77.6388}
	ravi     = domain.Rider{Name: "Ravi", Pickup: domain.GeoPoint{Lat: 12.9716, Lng: 77.5946}}
	drop     = domain.GeoPoint{Lat: 12.9250, Lng: 77.5938}
)

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type notification struct {
	driver  string
	message string
}

type fixture struct {
	registry *matching.Registry
	sent     *[]notification
	events   *events.Recorder
	engine   *service.Engine
}

func newFixture(t *testing.T, history domain.RideHistory, drivers ...domain.Driver) fixture {
	t.Helper()
	ctx := context.Background()
	registry := matching.NewRegistry()
	for _, d := range drivers {
		require.NoError(t, registry.Register(ctx, d))
	}
	if history == nil {
		history = repository.NewMemoryHistory()
	}
	var sent []notification
	sink := notify.NewSink(notify.ListenerFunc(func(_ context.Context, d domain.Driver, msg string) error {
		sent = append(sent, notification{driver: d.Name, message: msg})
		return nil
	}))
	recorder := &events.Recorder{}
	engine := service.New(registry, history, sink,
		service.WithEvents(recorder),
		service.WithClock(stubClock{t: time.Unix(0, 0).UTC()}),
		service.WithDefaultFare(pricing.Linear(50, 10)),
	)
	return fixture{registry: registry, sent: &sent, events: recorder, engine: engine}
}

func historyLen(t *testing.T, e *service.Engine) int {
	t.Helper()
	rides, err := e.GetHistory(context.Background())
	require.NoError(t, err)
	return len(rides)
}

func TestBookingAssignsOnlyCandidate(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc))

	ride, err := f.engine.CreateRide(context.Background(), ravi, drop)
	require.NoError(t, err)
	require.NotEmpty(t, ride.ID)
	require.Equal(t, "Arjun", ride.Driver.Name)
	require.Equal(t, domain.StatusAssigned, ride.Status)
	require.Nil(t, ride.Fare)
	require.Equal(t, ravi.Pickup, ride.Pickup)
	require.Equal(t, drop, ride.Drop)

	arjun, err := f.registry.Get(context.Background(), "Arjun")
	require.NoError(t, err)
	require.False(t, arjun.Available)

	require.Len(t, *f.sent, 1)
	require.Equal(t, "Arjun", (*f.sent)[0].driver)
	require.Contains(t, (*f.sent)[0].message, "Ravi")
	require.Contains(t, (*f.sent)[0].message, ride.ID)

	require.Len(t, f.events.Events(), 1)
	require.Equal(t, domain.EventRideAssigned, f.events.Events()[0].Type)
	require.Equal(t, 1, historyLen(t, f.engine))
}

func TestSecondBookingFailsWhileDriverAssigned(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc))
	ctx := context.Background()

	_, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)

	_, err = f.engine.CreateRide(ctx, domain.Rider{Name: "Meera", Pickup: ravi.Pickup}, drop)
	require.ErrorIs(t, err, domain.ErrNoDriverAvailable)
	require.Equal(t, 1, historyLen(t, f.engine))
	require.Len(t, *f.sent, 1)
}

func TestTieBreakLeavesSecondDriverAvailable(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc), domain.NewDriver("Kiran", kiranLoc))
	ctx := context.Background()

	ride, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)
	require.Equal(t, "Arjun", ride.Driver.Name)

	kiran, err := f.registry.Get(ctx, "Kiran")
	require.NoError(t, err)
	require.True(t, kiran.Available)
}

func TestIdenticalLocationsPickFirstRegistered(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc), domain.NewDriver("Kiran", arjunLoc))

	ride, err := f.engine.CreateRide(context.Background(), ravi, drop)
	require.NoError(t, err)
	require.Equal(t, "Arjun", ride.Driver.Name)
}

func TestCompletionChargesLinearFareAndFreesDriver(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc))
	ctx := context.Background()
	ride, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)

	var seen float64
	policy := func(distance float64) float64 {
		seen = distance
		return pricing.Linear(50, 10)(distance)
	}
	completed, err := f.engine.CompleteRide(ctx, ride.ID, policy)
	require.NoError(t, err)

	require.Equal(t, domain.StatusCompleted, completed.Status)
	require.Equal(t, domain.Distance(ravi.Pickup, drop), seen)
	require.InDelta(t, 5.2, seen, 0.05)
	require.NotNil(t, completed.Fare)
	require.InDelta(t, 50+10*seen, *completed.Fare, 1e-9)
	require.NotNil(t, completed.CompletedAt)

	arjun, err := f.registry.Get(ctx, "Arjun")
	require.NoError(t, err)
	require.True(t, arjun.Available)

	stored, err := f.engine.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	require.Equal(t, *completed.Fare, *stored.Fare)
	require.Equal(t, domain.StatusCompleted, stored.Status)
	require.True(t, stored.Driver.Available)
	require.Equal(t, arjun, stored.Driver)
	require.False(t, ride.Driver.Available)

	require.Len(t, f.events.Events(), 2)
	require.Equal(t, domain.EventRideCompleted, f.events.Events()[1].Type)
}

func TestFareForFivePointTwoUnits(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc))
	ctx := context.Background()
	ride, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)

	fixedDistance := func(float64) float64 { return pricing.Linear(50, 10)(5.2) }
	completed, err := f.engine.CompleteRide(ctx, ride.ID, fixedDistance)
	require.NoError(t, err)
	require.InDelta(t, 102.0, *completed.Fare, 1e-9)
}

func TestSecondCompletionFails(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc))
	ctx := context.Background()
	ride, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)
	first, err := f.engine.CompleteRide(ctx, ride.ID, nil)
	require.NoError(t, err)

	_, err = f.engine.CompleteRide(ctx, ride.ID, pricing.Flat(999))
	require.ErrorIs(t, err, domain.ErrInvalidState)

	stored, err := f.engine.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	require.Equal(t, *first.Fare, *stored.Fare)
}

func TestCompleteUnknownRide(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.CompleteRide(context.Background(), "missing", nil)
	require.ErrorIs(t, err, domain.ErrRideNotFound)
}

func TestBookingWithNoDriversLeavesHistoryUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.CreateRide(context.Background(), ravi, drop)
	require.ErrorIs(t, err, domain.ErrNoDriverAvailable)
	require.Zero(t, historyLen(t, f.engine))
	require.Empty(t, *f.sent)
	require.Empty(t, f.events.Events())
}

func TestDriverIsRematchableOnlyAfterCompletion(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc))
	ctx := context.Background()
	first, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)

	_, err = f.engine.CreateRide(ctx, ravi, drop)
	require.ErrorIs(t, err, domain.ErrNoDriverAvailable)

	_, err = f.engine.CompleteRide(ctx, first.ID, nil)
	require.NoError(t, err)

	second, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)
	require.Equal(t, "Arjun", second.Driver.Name)
	require.NotEqual(t, first.ID, second.ID)
}

func TestGetHistoryIsStableWithoutWrites(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc), domain.NewDriver("Kiran", kiranLoc))
	ctx := context.Background()
	ride, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)
	_, err = f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)
	_, err = f.engine.CompleteRide(ctx, ride.ID, nil)
	require.NoError(t, err)

	a, err := f.engine.GetHistory(ctx)
	require.NoError(t, err)
	b, err := f.engine.GetHistory(ctx)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 2)
	require.Equal(t, ride.ID, a[0].ID)
}

func TestInvalidFareLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, nil, domain.NewDriver("Arjun", arjunLoc))
	ctx := context.Background()
	ride, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)

	for _, bad := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err = f.engine.CompleteRide(ctx, ride.ID, pricing.Flat(bad))
		require.ErrorIs(t, err, domain.ErrInvalidFare)
	}

	stored, err := f.engine.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAssigned, stored.Status)
	require.Nil(t, stored.Fare)
	arjun, err := f.registry.Get(ctx, "Arjun")
	require.NoError(t, err)
	require.False(t, arjun.Available)
}

func TestListenerFailureDoesNotFailBooking(t *testing.T) {
	ctx := context.Background()
	registry := matching.NewRegistry()
	require.NoError(t, registry.Register(ctx, domain.NewDriver("Arjun", arjunLoc)))

	var reached bool
	sink := notify.NewSink(
		notify.ListenerFunc(func(context.Context, domain.Driver, string) error { return errors.New("pager offline") }),
		notify.ListenerFunc(func(context.Context, domain.Driver, string) error { reached = true; return nil }),
	)
	engine := service.New(registry, repository.NewMemoryHistory(), sink)

	ride, err := engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAssigned, ride.Status)
	require.True(t, reached)
}

type failingHistory struct {
	*repository.MemoryHistory
	failCreate bool
	failUpdate bool
}

func (f *failingHistory) CreateRide(ctx context.Context, ride domain.Ride) (domain.Ride, error) {
	if f.failCreate {
		return domain.Ride{}, errors.New("history unavailable")
	}
	return f.MemoryHistory.CreateRide(ctx, ride)
}

func (f *failingHistory) UpdateRide(ctx context.Context, ride domain.Ride) (domain.Ride, error) {
	if f.failUpdate {
		return domain.Ride{}, errors.New("history unavailable")
	}
	return f.MemoryHistory.UpdateRide(ctx, ride)
}

func TestFailedStoreReleasesDriver(t *testing.T) {
	history := &failingHistory{MemoryHistory: repository.NewMemoryHistory(), failCreate: true}
	f := newFixture(t, history, domain.NewDriver("Arjun", arjunLoc))
	ctx := context.Background()

	_, err := f.engine.CreateRide(ctx, ravi, drop)
	require.Error(t, err)
	require.Empty(t, *f.sent)
	require.Zero(t, history.Len())

	arjun, err := f.registry.Get(ctx, "Arjun")
	require.NoError(t, err)
	require.True(t, arjun.Available)
}

func TestFailedCompletionKeepsDriverAssigned(t *testing.T) {
	history := &failingHistory{MemoryHistory: repository.NewMemoryHistory()}
	f := newFixture(t, history, domain.NewDriver("Arjun", arjunLoc))
	ctx := context.Background()
	ride, err := f.engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)

	history.failUpdate = true
	_, err = f.engine.CompleteRide(ctx, ride.ID, nil)
	require.Error(t, err)

	arjun, err := f.registry.Get(ctx, "Arjun")
	require.NoError(t, err)
	require.False(t, arjun.Available)
	stored, err := f.engine.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAssigned, stored.Status)
}

func TestMissingFarePolicy(t *testing.T) {
	ctx := context.Background()
	registry := matching.NewRegistry()
	require.NoError(t, registry.Register(ctx, domain.NewDriver("Arjun", arjunLoc)))
	engine := service.New(registry, repository.NewMemoryHistory(), nil,
		service.WithIDGenerator(func() string { return "ride-1" }))

	ride, err := engine.CreateRide(ctx, ravi, drop)
	require.NoError(t, err)
	require.Equal(t, "ride-1", ride.ID)

	_, err = engine.CompleteRide(ctx, "ride-1", nil)
	require.ErrorIs(t, err, domain.ErrInvalidFare)
}
