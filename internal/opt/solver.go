// Package opt solves the multi-vehicle routing problem over a travel-time
// matrix: construction heuristics seed a solution, guided local search
// improves it under a wall-clock budget.
package opt

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	// ClusterPenaltySec is added to arcs crossing cluster boundaries,
	// roughly an 11km detour at average speed.
	ClusterPenaltySec = 1000.0
	// MaxRouteDistanceMeters caps each vehicle's cumulative distance.
	MaxRouteDistanceMeters = 150000.0
	// SpanCostCoefficient biases the search toward balanced route lengths.
	SpanCostCoefficient = 100.0
	// ServiceTimeSec is the fixed per-stop handling time.
	ServiceTimeSec = 300.0
	// AvgSpeedKPH converts travel seconds to distance meters and back.
	AvgSpeedKPH = 40.0

	metersPerSecond = AvgSpeedKPH / 3.6

	// unassignedPenalty dominates any travel cost so the search always
	// prefers placing an order over dropping it.
	unassignedPenalty = 1e7

	// glsLambda scales arc penalties in the augmented objective.
	glsLambda = 0.2
)

// Status classifies a solve outcome. A failed solve is still data, not an
// error; errors are reserved for contract violations.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusPartialSuccess Status = "PARTIAL_SUCCESS"
	StatusFailed         Status = "FAILED"
	StatusNotSolved      Status = "NOT_SOLVED"
	StatusUnknown        Status = "UNKNOWN"
)

// Problem is a depot-rooted VRP over a square travel-time matrix. Row and
// column 0 are the depot; entries are seconds. ClusterLabels, when present,
// holds one label per order (index i labels matrix node i+1); -1 means
// unclustered.
type Problem struct {
	Matrix        [][]float64
	NumVehicles   int
	ClusterLabels []int
	TimeLimit     time.Duration
	SolutionLimit int
	Seed          int64
}

// Route is one vehicle's solved tour, depot implicit at both ends.
type Route struct {
	Vehicle        int
	Stops          []int // matrix node indices, 1-based
	DistanceMeters float64
	DurationSec    float64
}

// Result carries the best solution found plus solve diagnostics.
type Result struct {
	Status       Status
	Routes       []Route
	Unassigned   []int // matrix node indices never placed on a route
	Next         []int // successor per node; next[i] == i marks unassigned
	Cost         float64
	Construction string
	Iterations   int
	Accepted     int
}

var (
	ErrNoVehicles      = errors.New("opt: vehicle count must be positive")
	ErrMalformedMatrix = errors.New("opt: malformed travel-time matrix")
)

// Solve validates the problem and runs construction plus guided local
// search. It returns an error only for contract violations; an infeasible
// instance yields Status FAILED with empty routes.
func Solve(p Problem) (*Result, error) {
	if p.NumVehicles <= 0 {
		return nil, ErrNoVehicles
	}
	if err := checkMatrix(p.Matrix); err != nil {
		return nil, err
	}
	n := len(p.Matrix) - 1
	if p.ClusterLabels != nil && len(p.ClusterLabels) != n {
		return nil, fmt.Errorf("opt: %d cluster labels for %d orders", len(p.ClusterLabels), n)
	}
	if p.TimeLimit <= 0 {
		p.TimeLimit = 30 * time.Second
	}
	if p.SolutionLimit <= 0 {
		p.SolutionLimit = 100
	}
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := newSolver(p, seed)
	deadline := time.Now().Add(p.TimeLimit)

	routes, construction := s.construct()
	if countAssigned(routes) == 0 {
		// Nothing fits under the distance cap: a failed solve, not an error.
		return &Result{
			Status:       StatusFailed,
			Routes:       []Route{},
			Unassigned:   allNodes(n),
			Next:         identityNext(n),
			Construction: construction,
		}, nil
	}

	best, iters, accepted := s.improve(routes, deadline)

	res := s.finalize(best)
	res.Construction = construction
	res.Iterations = iters
	res.Accepted = accepted
	return res, nil
}

func checkMatrix(m [][]float64) error {
	if len(m) < 2 {
		return fmt.Errorf("%w: need depot plus at least one order", ErrMalformedMatrix)
	}
	for i, row := range m {
		if len(row) != len(m) {
			return fmt.Errorf("%w: row %d has %d entries, expected %d", ErrMalformedMatrix, i, len(row), len(m))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("%w: invalid entry %v at (%d,%d)", ErrMalformedMatrix, v, i, j)
			}
		}
	}
	return nil
}

// solver holds per-solve state: derived arc costs, distances, and the
// guided-local-search penalty counters.
type solver struct {
	p         Problem
	n         int // order count, nodes 1..n
	arcCost   [][]float64
	meters    [][]float64
	penalties [][]int
	rng       *rand.Rand
}

func newSolver(p Problem, seed int64) *solver {
	size := len(p.Matrix)
	s := &solver{
		p:         p,
		n:         size - 1,
		arcCost:   make([][]float64, size),
		meters:    make([][]float64, size),
		penalties: make([][]int, size),
		rng:       rand.New(rand.NewSource(seed)),
	}
	for i := 0; i < size; i++ {
		s.arcCost[i] = make([]float64, size)
		s.meters[i] = make([]float64, size)
		s.penalties[i] = make([]int, size)
		for j := 0; j < size; j++ {
			c := p.Matrix[i][j]
			s.meters[i][j] = c * metersPerSecond
			if i != j && s.crossesClusters(i, j) {
				c += ClusterPenaltySec
			}
			s.arcCost[i][j] = c
		}
	}
	return s
}

// crossesClusters reports whether both nodes are orders carrying different
// non-negative cluster labels.
func (s *solver) crossesClusters(i, j int) bool {
	if s.p.ClusterLabels == nil || i == 0 || j == 0 {
		return false
	}
	a, b := s.p.ClusterLabels[i-1], s.p.ClusterLabels[j-1]
	return a >= 0 && b >= 0 && a != b
}

// routeMeters is the depot-to-depot distance of a tour.
func (s *solver) routeMeters(route []int) float64 {
	if len(route) == 0 {
		return 0
	}
	d := s.meters[0][route[0]]
	for i := 1; i < len(route); i++ {
		d += s.meters[route[i-1]][route[i]]
	}
	return d + s.meters[route[len(route)-1]][0]
}

func (s *solver) routeFeasible(route []int) bool {
	return s.routeMeters(route) <= MaxRouteDistanceMeters
}

// routeCost sums arc costs depot-to-depot, optionally adding GLS penalties.
func (s *solver) routeCost(route []int, augmented bool) float64 {
	if len(route) == 0 {
		return 0
	}
	c := s.arc(0, route[0], augmented)
	for i := 1; i < len(route); i++ {
		c += s.arc(route[i-1], route[i], augmented)
	}
	return c + s.arc(route[len(route)-1], 0, augmented)
}

func (s *solver) arc(i, j int, augmented bool) float64 {
	c := s.arcCost[i][j]
	if augmented {
		c += glsLambda * float64(s.penalties[i][j])
	}
	return c
}

// solutionCost is total route cost plus the span term and a heavy penalty
// per unassigned order.
func (s *solver) solutionCost(routes [][]int, augmented bool) float64 {
	total, longest := 0.0, 0.0
	for _, r := range routes {
		c := s.routeCost(r, augmented)
		total += c
		if c > longest {
			longest = c
		}
	}
	unassigned := s.n - countAssigned(routes)
	return total + SpanCostCoefficient*longest + unassignedPenalty*float64(unassigned)
}

func (s *solver) finalize(routes [][]int) *Result {
	next := identityNext(s.n)
	assigned := make([]bool, s.n+1)
	out := make([]Route, 0, len(routes))
	totalCost := 0.0
	for vi, r := range routes {
		if len(r) == 0 {
			continue
		}
		prev := 0
		for _, node := range r {
			if prev != 0 {
				next[prev] = node
			}
			assigned[node] = true
			prev = node
		}
		next[prev] = 0
		dist := s.routeMeters(r)
		out = append(out, Route{
			Vehicle:        vi,
			Stops:          append([]int(nil), r...),
			DistanceMeters: dist,
			DurationSec:    dist/metersPerSecond + float64(len(r))*ServiceTimeSec,
		})
		totalCost += s.routeCost(r, false)
	}
	var unassigned []int
	for node := 1; node <= s.n; node++ {
		if !assigned[node] {
			unassigned = append(unassigned, node)
		}
	}

	status := StatusSuccess
	switch {
	case len(out) == 0:
		status = StatusFailed
	case len(unassigned) > 0:
		status = StatusPartialSuccess
	}
	return &Result{
		Status:     status,
		Routes:     out,
		Unassigned: unassigned,
		Next:       next,
		Cost:       totalCost,
	}
}

func countAssigned(routes [][]int) int {
	n := 0
	for _, r := range routes {
		n += len(r)
	}
	return n
}

func allNodes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// identityNext is the successor array with every node its own successor;
// placement on a route overwrites the entry.
func identityNext(n int) []int {
	next := make([]int, n+1)
	for i := range next {
		next[i] = i
	}
	return next
}

func cloneRoutes(routes [][]int) [][]int {
	out := make([][]int, len(routes))
	for i, r := range routes {
		out[i] = append([]int(nil), r...)
	}
	return out
}
