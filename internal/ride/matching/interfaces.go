package matching

import (
	"context"

	"github.com/example/ridedispatch/internal/ride/domain"
)

// LocationMirror receives a copy of every driver change made in the registry.
// The registry remains the source of truth; a mirror exists so that other
// processes (dashboards, dispatch consoles) can query driver positions.
type LocationMirror interface {
	Sync(ctx context.Context, driver domain.Driver) error
}

var _ domain.DriverRegistry = (*Registry)(nil)
