package matrix

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"depotroute/internal/model"
)

const (
	// chunkSize is orders per provider call; the depot rides along in every
	// chunk, keeping each call at chunkSize+1 <= MaxCoordinates coordinates.
	chunkSize = 24
	// maxAttempts bounds the assemble/exclude/retry loop.
	maxAttempts = 2
)

// Assembler builds the full travel-time matrix for one depot and its orders,
// probing and excluding unroutable orders when the provider fails. All
// provider calls are strictly sequential.
type Assembler struct {
	provider Provider
	log      *zap.Logger
}

func NewAssembler(p Provider, log *zap.Logger) *Assembler {
	return &Assembler{provider: p, log: log}
}

// Result is a finished matrix over the surviving orders. Matrix is square
// with side len(Kept)+1; row and column 0 are the depot.
type Result struct {
	Matrix   [][]float64
	Kept     []model.OrderNode
	Excluded []model.OrderNode
	Attempts int
	Chunked  bool
}

// Assemble returns the travel-time matrix for depot + orders. On provider
// failure it probes each order with a depot round-trip call, drops the ones
// that fail, and retries once with the survivors. An empty survivor set is a
// terminal NoRoutableOrdersError.
func (a *Assembler) Assemble(ctx context.Context, depot model.GeoPoint, orders []model.OrderNode, profile string) (*Result, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("matrix: no orders to assemble")
	}

	valid := orders
	var excluded []model.OrderNode
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		m, chunked, err := a.build(ctx, depot, valid, profile)
		if err == nil {
			return &Result{
				Matrix:   m,
				Kept:     valid,
				Excluded: excluded,
				Attempts: attempt,
				Chunked:  chunked,
			}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == maxAttempts || len(valid) <= 1 {
			break
		}

		a.log.Warn("matrix build failed, probing for unroutable orders",
			zap.Int("attempt", attempt),
			zap.Int("orders", len(valid)),
			zap.Error(err))

		keep, drop, perr := a.probe(ctx, depot, valid, profile)
		if perr != nil {
			return nil, perr
		}
		excluded = append(excluded, drop...)
		if len(keep) == 0 {
			return nil, &NoRoutableOrdersError{Excluded: excluded}
		}
		if len(drop) == 0 {
			// Probing cleared every order; the failure is not per-order, so
			// retrying the same set cannot help.
			break
		}
		a.log.Info("excluded unroutable orders",
			zap.Int("excluded", len(drop)),
			zap.Int("remaining", len(keep)))
		valid = keep
	}
	return nil, fmt.Errorf("matrix: assembly failed after exclusions (%d excluded): %w", len(excluded), lastErr)
}

// build fetches the (n+1)x(n+1) matrix in one call when it fits, otherwise
// chunk by chunk with the depot in every chunk.
func (a *Assembler) build(ctx context.Context, depot model.GeoPoint, orders []model.OrderNode, profile string) ([][]float64, bool, error) {
	n := len(orders)
	coords := make([]model.GeoPoint, 0, n+1)
	coords = append(coords, depot)
	for _, o := range orders {
		coords = append(coords, o.Location)
	}

	if len(coords) <= MaxCoordinates {
		m, err := a.provider.Durations(ctx, coords, profile)
		return m, false, err
	}

	full := make([][]float64, n+1)
	for i := range full {
		full[i] = make([]float64, n+1)
	}

	numChunks := (n + chunkSize - 1) / chunkSize
	for c := 0; c < numChunks; c++ {
		start := c * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		chunkCoords := append([]model.GeoPoint{depot}, coords[start+1:end+1]...)
		cm, err := a.provider.Durations(ctx, chunkCoords, profile)
		if err != nil {
			return nil, true, fmt.Errorf("chunk %d/%d: %w", c+1, numChunks, err)
		}
		// Depot row/column plus the intra-chunk block are exact.
		for i := start; i < end; i++ {
			full[0][i+1] = cm[0][i-start+1]
			full[i+1][0] = cm[i-start+1][0]
			for j := start; j < end; j++ {
				full[i+1][j+1] = cm[i-start+1][j-start+1]
			}
		}
	}

	// Cross-chunk entries approximate travel via the depot. This
	// overestimates true times but preserves relative ordering well enough
	// for the solver.
	for c1 := 0; c1 < numChunks; c1++ {
		for c2 := c1 + 1; c2 < numChunks; c2++ {
			s1, e1 := c1*chunkSize+1, min(c1*chunkSize+chunkSize, n)+1
			s2, e2 := c2*chunkSize+1, min(c2*chunkSize+chunkSize, n)+1
			for i := s1; i < e1; i++ {
				for j := s2; j < e2; j++ {
					full[i][j] = full[i][0] + full[0][j]
					full[j][i] = full[j][0] + full[0][i]
				}
			}
		}
	}
	return full, true, nil
}

// probe checks each order with a depot<->order pair call, splitting the set
// into routable and unroutable orders.
func (a *Assembler) probe(ctx context.Context, depot model.GeoPoint, orders []model.OrderNode, profile string) (keep, drop []model.OrderNode, err error) {
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		_, perr := a.provider.Durations(ctx, []model.GeoPoint{depot, o.Location}, profile)
		if perr != nil {
			a.log.Warn("order failed depot probe", zap.String("orderId", o.ID), zap.Error(perr))
			drop = append(drop, o)
			continue
		}
		keep = append(keep, o)
	}
	return keep, drop, nil
}
