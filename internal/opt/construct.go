package opt

import (
	"math"
	"sort"
)

// construct runs every construction heuristic and keeps the cheapest
// feasible seed.
func (s *solver) construct() ([][]int, string) {
	candidates := []struct {
		name   string
		routes [][]int
	}{
		{"savings", s.constructSavings()},
		{"nearest-addition", s.constructNearestAddition()},
		{"cheapest-insertion", s.constructCheapestInsertion()},
	}
	best := candidates[0].routes
	name := candidates[0].name
	bestCost := s.solutionCost(best, false)
	for _, c := range candidates[1:] {
		if cost := s.solutionCost(c.routes, false); cost < bestCost {
			best, name, bestCost = c.routes, c.name, cost
		}
	}
	return best, name
}

// constructSavings is Clarke-Wright: every order starts alone, then route
// pairs merge tail-to-head in order of decreasing savings while the distance
// cap holds, and the route count is squeezed down to the vehicle budget.
func (s *solver) constructSavings() [][]int {
	var routes [][]int
	for node := 1; node <= s.n; node++ {
		if s.routeFeasible([]int{node}) {
			routes = append(routes, []int{node})
		}
	}
	if len(routes) == 0 {
		return make([][]int, s.p.NumVehicles)
	}

	type saving struct {
		i, j  int
		value float64
	}
	var savings []saving
	for i := 1; i <= s.n; i++ {
		for j := 1; j <= s.n; j++ {
			if i == j {
				continue
			}
			v := s.arcCost[i][0] + s.arcCost[0][j] - s.arcCost[i][j]
			if v > 0 {
				savings = append(savings, saving{i: i, j: j, value: v})
			}
		}
	}
	sort.Slice(savings, func(a, b int) bool { return savings[a].value > savings[b].value })

	routeOf := map[int]int{}
	for ri, r := range routes {
		routeOf[r[0]] = ri
	}
	for _, sv := range savings {
		ra, ok1 := routeOf[sv.i]
		rb, ok2 := routeOf[sv.j]
		if !ok1 || !ok2 || ra == rb {
			continue
		}
		a, b := routes[ra], routes[rb]
		if a[len(a)-1] != sv.i || b[0] != sv.j {
			continue
		}
		merged := append(append([]int(nil), a...), b...)
		if !s.routeFeasible(merged) {
			continue
		}
		routes[ra] = merged
		routes[rb] = nil
		for _, node := range b {
			routeOf[node] = ra
		}
	}
	routes = dropEmpty(routes)

	// Squeeze down to the vehicle budget with the cheapest feasible merges.
	for len(routes) > s.p.NumVehicles {
		bestA, bestB := -1, -1
		bestDelta := math.MaxFloat64
		for a := range routes {
			for b := range routes {
				if a == b {
					continue
				}
				merged := append(append([]int(nil), routes[a]...), routes[b]...)
				if !s.routeFeasible(merged) {
					continue
				}
				delta := s.routeCost(merged, false) - s.routeCost(routes[a], false) - s.routeCost(routes[b], false)
				if delta < bestDelta {
					bestDelta = delta
					bestA, bestB = a, b
				}
			}
		}
		if bestA < 0 {
			break
		}
		routes[bestA] = append(routes[bestA], routes[bestB]...)
		routes = append(routes[:bestB], routes[bestB+1:]...)
	}

	// Overflow routes lose their slot; reinsert their orders where possible.
	if len(routes) > s.p.NumVehicles {
		sort.Slice(routes, func(a, b int) bool { return len(routes[a]) > len(routes[b]) })
		overflow := routes[s.p.NumVehicles:]
		routes = routes[:s.p.NumVehicles]
		for _, r := range overflow {
			for _, node := range r {
				s.insertCheapest(routes, node)
			}
		}
	}
	for len(routes) < s.p.NumVehicles {
		routes = append(routes, nil)
	}
	return routes
}

// constructNearestAddition grows each route by appending the closest
// feasible unused order, round-robin across vehicles.
func (s *solver) constructNearestAddition() [][]int {
	routes := make([][]int, s.p.NumVehicles)
	used := make([]bool, s.n+1)
	remaining := s.n
	for remaining > 0 {
		progress := false
		for vi := range routes {
			end := 0
			if len(routes[vi]) > 0 {
				end = routes[vi][len(routes[vi])-1]
			}
			best, bestCost := -1, math.MaxFloat64
			for node := 1; node <= s.n; node++ {
				if used[node] {
					continue
				}
				if !s.routeFeasible(append(append([]int(nil), routes[vi]...), node)) {
					continue
				}
				if c := s.arcCost[end][node]; c < bestCost {
					bestCost = c
					best = node
				}
			}
			if best < 0 {
				continue
			}
			routes[vi] = append(routes[vi], best)
			used[best] = true
			remaining--
			progress = true
			if remaining == 0 {
				break
			}
		}
		if !progress {
			break
		}
	}
	return routes
}

// constructCheapestInsertion repeatedly inserts the globally cheapest
// feasible (order, route, position) triple.
func (s *solver) constructCheapestInsertion() [][]int {
	routes := make([][]int, s.p.NumVehicles)
	used := make([]bool, s.n+1)
	remaining := s.n
	for remaining > 0 {
		bestNode, bestRoute, bestPos := -1, -1, -1
		bestDelta := math.MaxFloat64
		for node := 1; node <= s.n; node++ {
			if used[node] {
				continue
			}
			for vi := range routes {
				for pos := 0; pos <= len(routes[vi]); pos++ {
					if !s.insertionFeasible(routes[vi], node, pos) {
						continue
					}
					if d := s.insertionDelta(routes[vi], node, pos, false); d < bestDelta {
						bestDelta = d
						bestNode, bestRoute, bestPos = node, vi, pos
					}
				}
			}
		}
		if bestNode < 0 {
			break
		}
		routes[bestRoute] = insertAt(routes[bestRoute], bestPos, bestNode)
		used[bestNode] = true
		remaining--
	}
	return routes
}

// insertCheapest places node at the cheapest feasible position, if any.
func (s *solver) insertCheapest(routes [][]int, node int) bool {
	bestRoute, bestPos := -1, -1
	bestDelta := math.MaxFloat64
	for vi := range routes {
		for pos := 0; pos <= len(routes[vi]); pos++ {
			if !s.insertionFeasible(routes[vi], node, pos) {
				continue
			}
			if d := s.insertionDelta(routes[vi], node, pos, false); d < bestDelta {
				bestDelta = d
				bestRoute, bestPos = vi, pos
			}
		}
	}
	if bestRoute < 0 {
		return false
	}
	routes[bestRoute] = insertAt(routes[bestRoute], bestPos, node)
	return true
}

// insertionDelta is the arc-cost change of inserting node at pos.
func (s *solver) insertionDelta(route []int, node, pos int, augmented bool) float64 {
	prev, next := 0, 0
	if pos > 0 {
		prev = route[pos-1]
	}
	if pos < len(route) {
		next = route[pos]
	}
	return s.arc(prev, node, augmented) + s.arc(node, next, augmented) - s.arc(prev, next, augmented)
}

func (s *solver) insertionFeasible(route []int, node, pos int) bool {
	prev, next := 0, 0
	if pos > 0 {
		prev = route[pos-1]
	}
	if pos < len(route) {
		next = route[pos]
	}
	added := s.meters[prev][node] + s.meters[node][next] - s.meters[prev][next]
	return s.routeMeters(route)+added <= MaxRouteDistanceMeters
}

func insertAt(route []int, pos, node int) []int {
	route = append(route, 0)
	copy(route[pos+1:], route[pos:])
	route[pos] = node
	return route
}

func dropEmpty(routes [][]int) [][]int {
	out := routes[:0]
	for _, r := range routes {
		if len(r) > 0 {
			out = append(out, r)
		}
	}
	return out
}
