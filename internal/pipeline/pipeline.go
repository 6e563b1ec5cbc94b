// Package pipeline orchestrates one optimization run: cluster, assemble the
// travel-time matrix, plan the fleet, solve, and shape the result.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"depotroute/internal/cluster"
	"depotroute/internal/matrix"
	"depotroute/internal/model"
	"depotroute/internal/opt"
)

// ClusterSink persists cluster labels after a successful clustered run.
type ClusterSink interface {
	UpdateClusterAssignments(ctx context.Context, assignments map[string]int) error
}

// Pipeline runs optimization requests. All state is request-scoped; one
// Pipeline serves concurrent runs.
type Pipeline struct {
	asm  *matrix.Assembler
	sink ClusterSink
	log  *zap.Logger
}

// New builds a pipeline. sink may be nil when cluster labels should not be
// persisted.
func New(provider matrix.Provider, sink ClusterSink, log *zap.Logger) *Pipeline {
	return &Pipeline{
		asm:  matrix.NewAssembler(provider, log),
		sink: sink,
		log:  log,
	}
}

// Request is one optimization run's input.
type Request struct {
	Depot          model.Depot
	Orders         []model.Order
	UseClustering  bool
	MinClusterSize int
	NumVehicles    int
	Profile        string
	TimeLimit      time.Duration
}

var ErrInvalidDepot = errors.New("pipeline: depot has no valid coordinates")

// Run executes the full pipeline. Solve failures come back as result data;
// errors are reserved for invalid input and cancellation.
func (pl *Pipeline) Run(ctx context.Context, req Request) (*model.OptimizeResult, error) {
	runID := uuid.NewString()
	log := pl.log.With(zap.String("runId", runID), zap.String("depotId", req.Depot.ID))

	if !req.Depot.Location.Valid() {
		return nil, ErrInvalidDepot
	}
	if len(req.Orders) == 0 {
		return emptyRunResult(runID, true, statusNoOrders, nil, nil), nil
	}

	valid, invalid := splitValidOrders(req.Orders)
	if len(valid) == 0 {
		return emptyRunResult(runID, false, statusNoValidOrders, orderIDs(req.Orders),
			map[string]any{"error": "no orders with valid coordinates"}), nil
	}

	// Clustering is optional: a failure degrades to an unclustered solve.
	var assign *cluster.Assignment
	usedClustering := false
	if req.UseClustering {
		assign = pl.tryCluster(valid, req.MinClusterSize, log)
		usedClustering = assign != nil
	}

	mres, err := pl.asm.Assemble(ctx, req.Depot.Location, nodes(valid), req.Profile)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var nre *matrix.NoRoutableOrdersError
		if errors.As(err, &nre) {
			log.Warn("all orders unroutable from depot", zap.Int("excluded", len(nre.Excluded)))
			return emptyRunResult(runID, false, statusNoValidOrders, orderIDs(req.Orders),
				map[string]any{"error": "all selected orders are unroutable from this depot"}), nil
		}
		log.Error("matrix assembly failed", zap.Error(err))
		return emptyRunResult(runID, false, string(opt.StatusFailed), orderIDs(req.Orders),
			map[string]any{"error": err.Error()}), nil
	}

	kept := keptOrders(valid, mres.Kept)
	excluded := append(mres.Excluded, nodes(invalid)...)

	// Exclusions shift the point set under the labels; cluster again over
	// the survivors.
	if usedClustering && len(kept) < len(valid) {
		assign = pl.tryCluster(kept, req.MinClusterSize, log)
		usedClustering = assign != nil
	}

	vehicles, err := planVehicles(assign, req.NumVehicles, len(kept), req.Depot.AvailableDrivers)
	if err != nil {
		return nil, err
	}

	var labels []int
	if assign != nil {
		labels = assign.Labels
	}
	sr, err := opt.Solve(opt.Problem{
		Matrix:        mres.Matrix,
		NumVehicles:   vehicles,
		ClusterLabels: labels,
		TimeLimit:     req.TimeLimit,
	})
	if err != nil {
		return nil, err
	}
	log.Info("solve finished",
		zap.String("status", string(sr.Status)),
		zap.String("construction", sr.Construction),
		zap.Int("routes", len(sr.Routes)),
		zap.Int("unassigned", len(sr.Unassigned)),
		zap.Int("vehicles", vehicles))

	result := buildResult(runID, kept, sr, assign, excluded, usedClustering)

	if usedClustering && result.Success && pl.sink != nil {
		if err := pl.writeBackClusters(ctx, kept, assign); err != nil {
			log.Warn("cluster write-back failed", zap.Error(err))
		}
	}
	return result, nil
}

// tryCluster returns nil when clustering fails; callers degrade.
func (pl *Pipeline) tryCluster(orders []model.Order, minClusterSize int, log *zap.Logger) *cluster.Assignment {
	params := cluster.DefaultParams()
	if minClusterSize > 0 {
		params.MinClusterSize = minClusterSize
	}
	assign, err := cluster.Cluster(points(orders), params)
	if err != nil {
		log.Warn("clustering failed, continuing without clusters", zap.Error(err))
		return nil
	}
	log.Info("clustered orders",
		zap.Int("clusters", assign.NumClusters),
		zap.Int("outliers", assign.OutlierCount))
	return assign
}

func (pl *Pipeline) writeBackClusters(ctx context.Context, orders []model.Order, assign *cluster.Assignment) error {
	assignments := make(map[string]int, len(orders))
	for i, o := range orders {
		assignments[o.ID] = assign.Labels[i]
	}
	return pl.sink.UpdateClusterAssignments(ctx, assignments)
}

func splitValidOrders(orders []model.Order) (valid, invalid []model.Order) {
	for _, o := range orders {
		if o.Location.Valid() && (o.Location.Lat != 0 || o.Location.Lng != 0) {
			valid = append(valid, o)
		} else {
			invalid = append(invalid, o)
		}
	}
	return valid, invalid
}

// keptOrders restores full order records for the nodes the matrix stage kept,
// in matrix node order.
func keptOrders(orders []model.Order, kept []model.OrderNode) []model.Order {
	byID := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	out := make([]model.Order, 0, len(kept))
	for _, n := range kept {
		out = append(out, byID[n.ID])
	}
	return out
}

func nodes(orders []model.Order) []model.OrderNode {
	out := make([]model.OrderNode, len(orders))
	for i, o := range orders {
		out[i] = o.Node()
	}
	return out
}

func points(orders []model.Order) []model.GeoPoint {
	out := make([]model.GeoPoint, len(orders))
	for i, o := range orders {
		out[i] = o.Location
	}
	return out
}

func orderIDs(orders []model.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}
