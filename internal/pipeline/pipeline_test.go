package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"depotroute/internal/cluster"
	"depotroute/internal/model"
)

// geoProvider derives travel seconds from great-circle distance at 40 km/h,
// optionally failing any call that includes a poisoned coordinate.
type geoProvider struct {
	bad     *model.GeoPoint
	failAll bool
	calls   int
}

func (g *geoProvider) Durations(_ context.Context, coords []model.GeoPoint, _ string) ([][]float64, error) {
	g.calls++
	if g.failAll {
		return nil, errors.New("no route found")
	}
	if g.bad != nil {
		for _, c := range coords {
			if c == *g.bad {
				return nil, errors.New("no route found")
			}
		}
	}
	m := make([][]float64, len(coords))
	for i := range coords {
		m[i] = make([]float64, len(coords))
		for j := range coords {
			m[i][j] = cluster.HaversineKM(coords[i], coords[j]) * 90 // 40 km/h
		}
	}
	return m, nil
}

type fakeSink struct {
	assignments map[string]int
}

func (f *fakeSink) UpdateClusterAssignments(_ context.Context, a map[string]int) error {
	f.assignments = a
	return nil
}

func groupOrders(prefix string, lat, lng float64, n int) []model.Order {
	orders := make([]model.Order, 0, n)
	for i := 0; i < n; i++ {
		orders = append(orders, model.Order{
			ID:      fmt.Sprintf("%s-%02d", prefix, i),
			Status:  "pending",
			Location: model.GeoPoint{
				Lat: lat + float64(i%4)*0.0003,
				Lng: lng + float64(i/4)*0.0003,
			},
		})
	}
	return orders
}

var testDepot = model.Depot{
	ID:               "depot-1",
	Name:             "North Hub",
	Location:         model.GeoPoint{Lat: 40.05, Lng: -105.05},
	AvailableDrivers: 5,
}

func newTestPipeline(p *geoProvider, sink ClusterSink) *Pipeline {
	return New(p, sink, zap.NewNop())
}

func TestRunClusteredHappyPath(t *testing.T) {
	orders := append(groupOrders("a", 40.00, -105.00, 8), groupOrders("b", 40.10, -105.10, 8)...)
	sink := &fakeSink{}
	pl := newTestPipeline(&geoProvider{}, sink)

	res, err := pl.Run(context.Background(), Request{
		Depot:         testDepot,
		Orders:        orders,
		UseClustering: true,
		TimeLimit:     300 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "SUCCESS", res.SolverStatus)
	assert.True(t, res.UsedClustering)
	require.NotNil(t, res.NumClusters)
	assert.Equal(t, 2, *res.NumClusters)
	assert.Equal(t, 16, res.TotalOrders)
	assert.Empty(t, res.UnassignedOrders)
	assert.NotEmpty(t, res.RunID)

	centroids, ok := res.Metadata["centroids"].(map[int]model.GeoPoint)
	require.True(t, ok, "centroids missing from metadata: %+v", res.Metadata)
	assert.Len(t, centroids, 2)

	seen := map[string]bool{}
	for _, r := range res.Routes {
		require.NotNil(t, r.ClusterID)
		for i, stop := range r.Stops {
			assert.Equal(t, i+1, stop.Sequence)
			seen[stop.OrderID] = true
		}
		assert.Equal(t, len(r.Stops), r.NumStops)
		assert.Greater(t, r.EstimatedDurationMinutes, 0.0)
	}
	assert.Len(t, seen, 16)

	// Labels were written back for every routed order.
	require.Len(t, sink.assignments, 16)
	distinct := map[int]bool{}
	for _, l := range sink.assignments {
		distinct[l] = true
	}
	assert.Len(t, distinct, 2)
}

func TestRunUnclusteredSingleVehicle(t *testing.T) {
	orders := groupOrders("a", 40.00, -105.00, 5)
	pl := newTestPipeline(&geoProvider{}, nil)

	res, err := pl.Run(context.Background(), Request{
		Depot:     testDepot,
		Orders:    orders,
		TimeLimit: 300 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "SUCCESS", res.SolverStatus)
	assert.False(t, res.UsedClustering)
	assert.Nil(t, res.NumClusters)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, 5, res.Routes[0].NumStops)
	assert.Equal(t, 5, res.TotalOrders)
	assert.Empty(t, res.UnassignedOrders)
}

func TestRunNoOrders(t *testing.T) {
	pl := newTestPipeline(&geoProvider{}, nil)
	res, err := pl.Run(context.Background(), Request{Depot: testDepot})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "NO_ORDERS", res.SolverStatus)
	assert.Zero(t, res.TotalRoutes)
}

func TestRunNoValidOrders(t *testing.T) {
	pl := newTestPipeline(&geoProvider{}, nil)
	res, err := pl.Run(context.Background(), Request{
		Depot: testDepot,
		Orders: []model.Order{
			{ID: "x1", Location: model.GeoPoint{Lat: 0, Lng: 0}},
			{ID: "x2", Location: model.GeoPoint{Lat: 200, Lng: 0}},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "NO_VALID_ORDERS", res.SolverStatus)
	assert.ElementsMatch(t, []string{"x1", "x2"}, res.UnassignedOrders)
}

func TestRunExcludesUnroutableOrder(t *testing.T) {
	orders := groupOrders("a", 40.00, -105.00, 6)
	bad := orders[2].Location
	pl := newTestPipeline(&geoProvider{bad: &bad}, nil)

	res, err := pl.Run(context.Background(), Request{
		Depot:         testDepot,
		Orders:        orders,
		UseClustering: true,
		TimeLimit:     300 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Contains(t, res.UnassignedOrders, orders[2].ID)
	assert.Equal(t, 1, res.Metadata["excludedOrders"])
	assert.Equal(t, []string{orders[2].ID}, res.Metadata["excludedOrderIds"])
	assert.Equal(t, 5, res.TotalOrders)
	routed := 0
	for _, r := range res.Routes {
		for _, stop := range r.Stops {
			assert.NotEqual(t, orders[2].ID, stop.OrderID)
			routed++
		}
	}
	assert.Equal(t, 5, routed)
}

func TestRunAllOrdersUnroutable(t *testing.T) {
	orders := groupOrders("a", 40.00, -105.00, 2)
	pl := newTestPipeline(&geoProvider{failAll: true}, nil)

	res, err := pl.Run(context.Background(), Request{Depot: testDepot, Orders: orders})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "NO_VALID_ORDERS", res.SolverStatus)
}

func TestRunInvalidDepot(t *testing.T) {
	pl := newTestPipeline(&geoProvider{}, nil)
	_, err := pl.Run(context.Background(), Request{
		Depot:  model.Depot{Location: model.GeoPoint{Lat: 120, Lng: 0}},
		Orders: groupOrders("a", 40, -105, 2),
	})
	require.ErrorIs(t, err, ErrInvalidDepot)
}

func TestPlanVehicles(t *testing.T) {
	clustered := &cluster.Assignment{
		NumClusters: 2,
		Sizes:       map[int]int{0: 20, 1: 10},
	}
	tests := []struct {
		name      string
		assign    *cluster.Assignment
		requested int
		orders    int
		drivers   int
		want      int
	}{
		{"cluster driver need", clustered, 0, 30, 10, 3},
		{"capped by drivers", clustered, 0, 30, 2, 2},
		{"caller request", nil, 4, 30, 10, 4},
		{"flat fallback", nil, 0, 120, 10, 2},
		{"flat minimum one", nil, 0, 10, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := planVehicles(tt.assign, tt.requested, tt.orders, tt.drivers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDominantClusterTieBreaksLow(t *testing.T) {
	id, ok := dominantCluster(map[int]int{2: 3, 1: 3, 5: 1})
	require.True(t, ok)
	assert.Equal(t, 1, id)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.23, round2(1.2345))
	assert.Equal(t, 0.0, round2(0))
	assert.False(t, math.Signbit(round2(0)))
}
