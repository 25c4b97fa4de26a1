package service

import (
	"context"
	"time"

	"github.com/example/ridedispatch/internal/ride/domain"
)

// DriverSource finds the driver a booking at point would be matched with.
type DriverSource interface {
	FindAvailableNear(ctx context.Context, point domain.GeoPoint) (domain.Driver, error)
}

// Speeds are average travel speeds in km/h.
type Speeds struct {
	ToPickup float64
	Trip     float64
}

// DefaultSpeeds are urban averages.
var DefaultSpeeds = Speeds{ToPickup: 30, Trip: 35}

// Service estimates travel times from straight-line distance and average speeds.
type Service struct {
	drivers DriverSource
	speeds  Speeds
}

// New creates an ETA service. Non-positive speeds fall back to DefaultSpeeds.
func New(drivers DriverSource, speeds Speeds) *Service {
	if speeds.ToPickup <= 0 {
		speeds.ToPickup = DefaultSpeeds.ToPickup
	}
	if speeds.Trip <= 0 {
		speeds.Trip = DefaultSpeeds.Trip
	}
	return &Service{drivers: drivers, speeds: speeds}
}

// EstimatePickup returns how long the driver booking would pick needs to
// reach pickup. ok is false when nobody is available.
func (s *Service) EstimatePickup(ctx context.Context, pickup domain.GeoPoint) (eta time.Duration, driver string, ok bool) {
	d, err := s.drivers.FindAvailableNear(ctx, pickup)
	if err != nil {
		return 0, "", false
	}
	return travelTime(domain.Distance(d.Location, pickup), s.speeds.ToPickup), d.Name, true
}

// EstimateTrip approximates the time from pickup to drop.
func (s *Service) EstimateTrip(_ context.Context, pickup, drop domain.GeoPoint) time.Duration {
	return travelTime(domain.Distance(pickup, drop), s.speeds.Trip)
}

func travelTime(km, kph float64) time.Duration {
	return time.Duration(km / kph * float64(time.Hour)).Round(time.Second)
}
