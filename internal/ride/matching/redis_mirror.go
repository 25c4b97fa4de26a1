package matching

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/ridedispatch/internal/ride/domain"
)

const (
	defaultGeoKey       = "drivers:available"
	defaultDriverPrefix = "driver:"
)

// RedisMirror keeps a GEO set of available drivers and a hash per driver.
// Unavailable drivers are removed from the GEO set, so GEOSEARCH against the
// key only ever yields matchable drivers.
type RedisMirror struct {
	client redis.Cmdable
	geoKey string
	prefix string
}

// NewRedisMirror constructs the mirror. An empty key selects the default.
func NewRedisMirror(client redis.Cmdable, geoKey string) *RedisMirror {
	if geoKey == "" {
		geoKey = defaultGeoKey
	}
	return &RedisMirror{client: client, geoKey: geoKey, prefix: defaultDriverPrefix}
}

// Sync writes the driver state with a single pipeline.
func (m *RedisMirror) Sync(ctx context.Context, driver domain.Driver) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, m.prefix+driver.Name, map[string]any{
			"lat":       strconv.FormatFloat(driver.Location.Lat, 'f', -1, 64),
			"lng":       strconv.FormatFloat(driver.Location.Lng, 'f', -1, 64),
			"available": strconv.FormatBool(driver.Available),
		})
		if driver.Available {
			pipe.GeoAdd(ctx, m.geoKey, &redis.GeoLocation{
				Name:      driver.Name,
				Longitude: driver.Location.Lng,
				Latitude:  driver.Location.Lat,
			})
		} else {
			pipe.ZRem(ctx, m.geoKey, driver.Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis mirror %s: %w", driver.Name, err)
	}
	return nil
}
