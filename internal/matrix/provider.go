// Package matrix assembles complete travel-time matrices from a coordinate-
// limited external provider, excluding unroutable orders along the way.
package matrix

import (
	"context"
	"fmt"

	"depotroute/internal/model"
)

// MaxCoordinates is the provider's hard limit per matrix call.
const MaxCoordinates = 25

// Provider returns pairwise travel times in seconds for up to MaxCoordinates
// points. Implementations hold no per-request state and are safe for
// concurrent use; result[i][j] is the travel time from coords[i] to
// coords[j], square, zero-diagonal, finite and non-negative.
type Provider interface {
	Durations(ctx context.Context, coords []model.GeoPoint, profile string) ([][]float64, error)
}

// NoRoutableOrdersError is the terminal failure when every order has been
// excluded as unroutable from the depot.
type NoRoutableOrdersError struct {
	Excluded []model.OrderNode
}

func (e *NoRoutableOrdersError) Error() string {
	return fmt.Sprintf("matrix: no routable orders (%d excluded)", len(e.Excluded))
}
