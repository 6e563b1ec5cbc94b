package opt

import (
	"time"
)

// improve runs guided local search: descend to a local optimum of the
// penalty-augmented objective, then penalize the most expensive arcs of the
// incumbent to push the search elsewhere. Bounded by the deadline and by a
// cap on accepted improving solutions.
func (s *solver) improve(routes [][]int, deadline time.Time) ([][]int, int, int) {
	best := cloneRoutes(routes)
	bestCost := s.solutionCost(best, false)
	curr := cloneRoutes(routes)
	iterations, accepted := 0, 0

	for time.Now().Before(deadline) && accepted < s.p.SolutionLimit {
		iterations++
		s.reinsertUnassigned(curr)
		moved := s.localSearchPass(curr, deadline)
		if c := s.solutionCost(curr, false); c+1e-6 < bestCost {
			best = cloneRoutes(curr)
			bestCost = c
			accepted++
			continue
		}
		if !moved {
			s.penalizeArcs(curr)
		}
	}
	return best, iterations, accepted
}

// localSearchPass runs each operator once over the solution, first
// improvement on the augmented objective. Reports whether any move applied.
func (s *solver) localSearchPass(routes [][]int, deadline time.Time) bool {
	moved := false
	if s.relocatePass(routes, deadline) {
		moved = true
	}
	if s.twoOptPass(routes, deadline) {
		moved = true
	}
	if s.crossExchangePass(routes, deadline) {
		moved = true
	}
	if s.twoOptStarPass(routes, deadline) {
		moved = true
	}
	return moved
}

// relocatePass moves single nodes to their cheapest feasible position,
// within or across routes.
func (s *solver) relocatePass(routes [][]int, deadline time.Time) bool {
	moved := false
	for a := range routes {
		for i := 0; i < len(routes[a]); i++ {
			if time.Now().After(deadline) {
				return moved
			}
			node := routes[a][i]
			removed := removeAt(routes[a], i)
			removeDelta := s.insertionDelta(removed, node, i, true)

			bestRoute, bestPos := -1, -1
			bestDelta := removeDelta
			for b := range routes {
				target := routes[b]
				if b == a {
					target = removed
				}
				for pos := 0; pos <= len(target); pos++ {
					if b == a && pos == i {
						continue
					}
					if !s.insertionFeasible(target, node, pos) {
						continue
					}
					if d := s.insertionDelta(target, node, pos, true); d+1e-6 < bestDelta {
						bestDelta = d
						bestRoute, bestPos = b, pos
					}
				}
			}
			if bestRoute < 0 {
				continue
			}
			routes[a] = removed
			if bestRoute == a {
				routes[a] = insertAt(routes[a], bestPos, node)
			} else {
				routes[bestRoute] = insertAt(routes[bestRoute], bestPos, node)
				i--
			}
			moved = true
		}
	}
	return moved
}

// twoOptPass reverses intra-route segments while that lowers the augmented
// route cost and the tour stays under the distance cap.
func (s *solver) twoOptPass(routes [][]int, deadline time.Time) bool {
	moved := false
	for vi := range routes {
		r := routes[vi]
		n := len(r)
		improved := true
		for improved {
			improved = false
			if time.Now().After(deadline) {
				break
			}
			for i := 0; i < n-1; i++ {
				for k := i + 1; k < n; k++ {
					cand := append([]int(nil), r...)
					for a, b := i, k; a < b; a, b = a+1, b-1 {
						cand[a], cand[b] = cand[b], cand[a]
					}
					if !s.routeFeasible(cand) {
						continue
					}
					if s.routeCost(cand, true)+1e-6 < s.routeCost(r, true) {
						r = cand
						improved = true
						moved = true
					}
				}
			}
		}
		routes[vi] = r
	}
	return moved
}

// crossExchangePass swaps single nodes between route pairs.
func (s *solver) crossExchangePass(routes [][]int, deadline time.Time) bool {
	moved := false
	for a := 0; a < len(routes); a++ {
		for b := a + 1; b < len(routes); b++ {
			if time.Now().After(deadline) {
				return moved
			}
			for i := 0; i < len(routes[a]); i++ {
				for j := 0; j < len(routes[b]); j++ {
					ca := append([]int(nil), routes[a]...)
					cb := append([]int(nil), routes[b]...)
					ca[i], cb[j] = cb[j], ca[i]
					if !s.routeFeasible(ca) || !s.routeFeasible(cb) {
						continue
					}
					before := s.routeCost(routes[a], true) + s.routeCost(routes[b], true)
					after := s.routeCost(ca, true) + s.routeCost(cb, true)
					if after+1e-6 < before {
						routes[a], routes[b] = ca, cb
						moved = true
					}
				}
			}
		}
	}
	return moved
}

// twoOptStarPass exchanges short segments (length 1..2) between route pairs.
func (s *solver) twoOptStarPass(routes [][]int, deadline time.Time) bool {
	moved := false
	for a := 0; a < len(routes); a++ {
		for b := a + 1; b < len(routes); b++ {
			if time.Now().After(deadline) {
				return moved
			}
			for i := 0; i < len(routes[a]); i++ {
				for j := 0; j < len(routes[b]); j++ {
					for la := 1; la <= 2 && i+la <= len(routes[a]); la++ {
						for lb := 1; lb <= 2 && j+lb <= len(routes[b]); lb++ {
							ca := swapSegments(routes[a], routes[b], i, la, j, lb)
							cb := swapSegments(routes[b], routes[a], j, lb, i, la)
							if !s.routeFeasible(ca) || !s.routeFeasible(cb) {
								continue
							}
							before := s.routeCost(routes[a], true) + s.routeCost(routes[b], true)
							after := s.routeCost(ca, true) + s.routeCost(cb, true)
							if after+1e-6 < before {
								routes[a], routes[b] = ca, cb
								moved = true
							}
						}
					}
				}
			}
		}
	}
	return moved
}

// swapSegments returns dst with dst[i:i+ld] replaced by src[j:j+ls].
func swapSegments(dst, src []int, i, ld, j, ls int) []int {
	out := make([]int, 0, len(dst)-ld+ls)
	out = append(out, dst[:i]...)
	out = append(out, src[j:j+ls]...)
	out = append(out, dst[i+ld:]...)
	return out
}

// reinsertUnassigned retries cheapest insertion for orders left off routes.
func (s *solver) reinsertUnassigned(routes [][]int) {
	assigned := make([]bool, s.n+1)
	for _, r := range routes {
		for _, node := range r {
			assigned[node] = true
		}
	}
	for node := 1; node <= s.n; node++ {
		if !assigned[node] {
			s.insertCheapest(routes, node)
		}
	}
}

// penalizeArcs bumps the penalty of the incumbent's highest-utility arcs,
// utility being cost divided by one plus the current penalty.
func (s *solver) penalizeArcs(routes [][]int) {
	type arcRef struct{ i, j int }
	var best []arcRef
	bestUtil := 0.0
	visit := func(i, j int) {
		u := s.arcCost[i][j] / float64(1+s.penalties[i][j])
		switch {
		case u > bestUtil+1e-9:
			bestUtil = u
			best = best[:0]
			best = append(best, arcRef{i, j})
		case u > bestUtil-1e-9:
			best = append(best, arcRef{i, j})
		}
	}
	for _, r := range routes {
		if len(r) == 0 {
			continue
		}
		visit(0, r[0])
		for i := 1; i < len(r); i++ {
			visit(r[i-1], r[i])
		}
		visit(r[len(r)-1], 0)
	}
	for _, a := range best {
		s.penalties[a.i][a.j]++
	}
}

func removeAt(route []int, i int) []int {
	out := make([]int, 0, len(route)-1)
	out = append(out, route[:i]...)
	return append(out, route[i+1:]...)
}
