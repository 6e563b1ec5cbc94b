package opt

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineMatrix places the depot and orders on a line; travel time between two
// nodes is the gap between their positions in seconds.
func lineMatrix(positions ...float64) [][]float64 {
	all := append([]float64{0}, positions...)
	m := make([][]float64, len(all))
	for i := range all {
		m[i] = make([]float64, len(all))
		for j := range all {
			m[i][j] = math.Abs(all[i] - all[j])
		}
	}
	return m
}

func solveQuick(t *testing.T, p Problem) *Result {
	t.Helper()
	p.TimeLimit = 200 * time.Millisecond
	p.Seed = 1
	res, err := Solve(p)
	require.NoError(t, err)
	return res
}

func TestSolveRejectsContractViolations(t *testing.T) {
	m := lineMatrix(10, 20)

	_, err := Solve(Problem{Matrix: m, NumVehicles: 0})
	assert.ErrorIs(t, err, ErrNoVehicles)

	_, err = Solve(Problem{Matrix: [][]float64{{0, 1}}, NumVehicles: 1})
	assert.ErrorIs(t, err, ErrMalformedMatrix)

	bad := lineMatrix(10, 20)
	bad[1][2] = math.NaN()
	_, err = Solve(Problem{Matrix: bad, NumVehicles: 1})
	assert.ErrorIs(t, err, ErrMalformedMatrix)

	_, err = Solve(Problem{Matrix: m, NumVehicles: 1, ClusterLabels: []int{0}})
	assert.Error(t, err)
}

func TestSolveSingleVehicleVisitsEverything(t *testing.T) {
	res := solveQuick(t, Problem{Matrix: lineMatrix(10, 20, 30), NumVehicles: 1})

	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Routes, 1)
	assert.Empty(t, res.Unassigned)
	assert.ElementsMatch(t, []int{1, 2, 3}, res.Routes[0].Stops)

	// The line has one optimal tour shape: out and back, 60s of travel.
	assert.InDelta(t, 60*metersPerSecond, res.Routes[0].DistanceMeters, 1.0)
	assert.InDelta(t, 60+3*ServiceTimeSec, res.Routes[0].DurationSec, 1.0)

	// The successor chain walks the route and closes at the depot.
	stops := res.Routes[0].Stops
	for i := 0; i < len(stops)-1; i++ {
		assert.Equal(t, stops[i+1], res.Next[stops[i]])
	}
	assert.Equal(t, 0, res.Next[stops[len(stops)-1]])
}

func TestSolveKeepsClustersTogether(t *testing.T) {
	res := solveQuick(t, Problem{
		Matrix:        lineMatrix(10, 20, 30, 40),
		NumVehicles:   2,
		ClusterLabels: []int{0, 0, 1, 1},
	})

	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Routes, 2)
	labels := []int{0, 0, 1, 1}
	for _, r := range res.Routes {
		first := labels[r.Stops[0]-1]
		for _, stop := range r.Stops {
			assert.Equal(t, first, labels[stop-1], "route %d mixes clusters", r.Vehicle)
		}
	}
}

func TestSolveDistanceCapLeavesOrderUnassigned(t *testing.T) {
	// The far order's depot round trip alone exceeds the distance cap.
	res := solveQuick(t, Problem{Matrix: lineMatrix(10, 20, 7000), NumVehicles: 2})

	assert.Equal(t, StatusPartialSuccess, res.Status)
	assert.Equal(t, []int{3}, res.Unassigned)
	assert.Equal(t, 3, res.Next[3])
	for _, r := range res.Routes {
		assert.NotContains(t, r.Stops, 3)
		assert.LessOrEqual(t, r.DistanceMeters, MaxRouteDistanceMeters)
	}
}

func TestSolveAllOrdersInfeasibleFails(t *testing.T) {
	res := solveQuick(t, Problem{Matrix: lineMatrix(7000, 8000), NumVehicles: 1})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Routes)
	assert.Equal(t, []int{1, 2}, res.Unassigned)
	assert.Equal(t, 1, res.Next[1])
	assert.Equal(t, 2, res.Next[2])
}

func TestSolveAssignsEveryOrderAcrossVehicles(t *testing.T) {
	res := solveQuick(t, Problem{
		Matrix:      lineMatrix(10, 20, 30, 40, 50, 60),
		NumVehicles: 2,
	})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.LessOrEqual(t, len(res.Routes), 2)
	seen := map[int]bool{}
	for _, r := range res.Routes {
		assert.NotEmpty(t, r.Stops)
		for _, stop := range r.Stops {
			assert.False(t, seen[stop], "stop %d appears twice", stop)
			seen[stop] = true
		}
	}
	assert.Len(t, seen, 6)
}
