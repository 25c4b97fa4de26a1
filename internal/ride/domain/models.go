package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type RideStatus string

const (
	StatusRequested RideStatus = "REQUESTED"
	StatusAssigned  RideStatus = "ASSIGNED"
	StatusCompleted RideStatus = "COMPLETED"
)

var (
	ErrDuplicateDriver   = errors.New("driver already registered")
	ErrUnknownDriver     = errors.New("unknown driver")
	ErrInvalidDriver     = errors.New("driver name is required")
	ErrNoDriverAvailable = errors.New("no driver available")
	ErrRideNotFound      = errors.New("ride not found")
	ErrDuplicateRide     = errors.New("ride already exists")
	ErrInvalidState      = errors.New("invalid ride state transition")
	ErrInvalidFare       = errors.New("fare policy returned an invalid amount")
)

var allowedTransitions = map[RideStatus][]RideStatus{
	StatusRequested: {StatusAssigned},
	StatusAssigned:  {StatusCompleted},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Statuses only advance, so a status never transitions to itself.
func (s RideStatus) CanTransitionTo(next RideStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", p.Lat, p.Lng)
}

type Rider struct {
	Name   string   `json:"name"`
	Pickup GeoPoint `json:"pickup"`
}

type Driver struct {
	Name      string   `json:"name"`
	Location  GeoPoint `json:"location"`
	Available bool     `json:"available"`
}

// NewDriver returns a driver ready for registration.
func NewDriver(name string, location GeoPoint) Driver {
	return Driver{Name: name, Location: location, Available: true}
}

type Ride struct {
	ID          string     `json:"id"`
	Rider       Rider      `json:"rider"`
	Driver      Driver     `json:"driver"`
	Pickup      GeoPoint   `json:"pickup"`
	Drop        GeoPoint   `json:"drop"`
	Status      RideStatus `json:"status"`
	Fare        *float64   `json:"fare,omitempty"`
	Distance    *float64   `json:"distance_km,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	AssignedAt  time.Time  `json:"assigned_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Version     int64      `json:"version"`
}

// Clone returns a copy that shares no pointers with r.
func (r Ride) Clone() Ride {
	out := r
	if r.Fare != nil {
		fare := *r.Fare
		out.Fare = &fare
	}
	if r.Distance != nil {
		dist := *r.Distance
		out.Distance = &dist
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

func (r Ride) String() string {
	fare := "-"
	if r.Fare != nil {
		fare = fmt.Sprintf("%.2f", *r.Fare)
	}
	return fmt.Sprintf("Ride{id=%s, rider=%s, driver=%s, pickup=%s, drop=%s, status=%s, fare=%s}",
		r.ID, r.Rider.Name, r.Driver.Name, r.Pickup, r.Drop, r.Status, fare)
}

// FarePolicy maps a completed trip's distance to the amount charged.
type FarePolicy func(distance float64) float64

type RideEventType string

const (
	EventRideAssigned  RideEventType = "RideAssigned"
	EventRideCompleted RideEventType = "RideCompleted"
)

type RideEvent struct {
	RideID    string         `json:"ride_id"`
	Type      RideEventType  `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type DriverRegistry interface {
	Reserve(ctx context.Context, near GeoPoint) (Driver, error)
	MarkAvailable(ctx context.Context, name string) error
	MarkUnavailable(ctx context.Context, name string) error
}

type RideHistory interface {
	CreateRide(ctx context.Context, ride Ride) (Ride, error)
	GetRide(ctx context.Context, id string) (Ride, error)
	UpdateRide(ctx context.Context, ride Ride) (Ride, error)
	ListRides(ctx context.Context) ([]Ride, error)
}

type Notifier interface {
	NotifyAll(ctx context.Context, driver Driver, message string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event RideEvent) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
