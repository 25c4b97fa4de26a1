// Command ridedemo books and completes one ride against an in-process
// dispatcher and prints the resulting history.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/example/ridedispatch/internal/dispatch"
	"github.com/example/ridedispatch/internal/ride/domain"
	"github.com/example/ridedispatch/internal/ride/notify"
	"github.com/example/ridedispatch/internal/ride/pricing"
	"github.com/example/ridedispatch/pkg/observability"
)

func main() {
	logger := observability.SetupLogger("ridedemo", "warn")
	defer logger.Sync() //nolint:errcheck

	if err := run(context.Background(), logger); err != nil {
		logger.Error("demo failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	c := dispatch.New(dispatch.Options{
		Logger:    logger,
		Pricing:   pricing.NewCatalog("simple", pricing.Linear(50, 10)),
		Listeners: []notify.Listener{notify.NewConsoleListener(os.Stdout)},
	})

	drivers := []struct {
		name string
		at   domain.GeoPoint
	}{
		{"Arjun", domain.GeoPoint{Lat: 12.9611, Lng: 77.6387}},
		{"Kiran", domain.GeoPoint{Lat: 12.9611, Lng: 77.6388}},
	}
	for _, d := range drivers {
		if _, err := c.RegisterDriver(ctx, d.name, d.at); err != nil {
			return err
		}
	}

	rider := domain.Rider{Name: "Ravi", Pickup: domain.GeoPoint{Lat: 12.9716, Lng: 77.5946}}
	ride, err := c.BookRide(ctx, rider, domain.GeoPoint{Lat: 12.9250, Lng: 77.5938})
	if err != nil {
		return err
	}
	if _, err := c.CompleteRide(ctx, ride.ID); err != nil {
		return err
	}

	history, err := c.History(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Ride history:")
	for _, r := range history {
		fmt.Println(r)
	}
	return nil
}
