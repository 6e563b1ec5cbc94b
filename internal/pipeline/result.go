package pipeline

import (
	"depotroute/internal/cluster"
	"depotroute/internal/model"
	"depotroute/internal/opt"
)

// Solver statuses that exist only at the pipeline level.
const (
	statusNoOrders      = "NO_ORDERS"
	statusNoValidOrders = "NO_VALID_ORDERS"
)

// buildResult converts solver output back to the external shape: node
// indices to order ids, meters to km, seconds to minutes.
func buildResult(runID string, orders []model.Order, sr *opt.Result, assign *cluster.Assignment, excluded []model.OrderNode, usedClustering bool) *model.OptimizeResult {
	res := &model.OptimizeResult{
		RunID:   runID,
		Success: sr.Status == opt.StatusSuccess || sr.Status == opt.StatusPartialSuccess,
		Routes:  []model.OptimizedRoute{},
		// TotalOrders counts assigned orders; unassignedOrders carries the rest.
		TotalOrders:    len(orders) - len(sr.Unassigned),
		SolverStatus:   string(sr.Status),
		UsedClustering: usedClustering,
		Metadata:       map[string]any{},
	}

	for _, r := range sr.Routes {
		route := model.OptimizedRoute{
			VehicleID:                r.Vehicle,
			NumStops:                 len(r.Stops),
			TotalDistanceKM:          round2(r.DistanceMeters / 1000),
			EstimatedDurationMinutes: round2(r.DurationSec / 60),
		}
		clusterVotes := map[int]int{}
		for seq, node := range r.Stops {
			o := orders[node-1]
			route.Stops = append(route.Stops, model.RouteStop{
				OrderID:      o.ID,
				OrderNumber:  o.OrderNumber,
				CustomerName: o.CustomerName,
				Address:      o.Address,
				Location:     o.Location,
				Sequence:     seq + 1,
			})
			if assign != nil {
				clusterVotes[assign.Labels[node-1]]++
			}
		}
		if id, ok := dominantCluster(clusterVotes); ok {
			route.ClusterID = &id
		}
		res.Routes = append(res.Routes, route)
		res.TotalDistanceKM += route.TotalDistanceKM
		res.TotalDurationMinutes += route.EstimatedDurationMinutes
	}
	res.TotalRoutes = len(res.Routes)
	res.TotalDistanceKM = round2(res.TotalDistanceKM)
	res.TotalDurationMinutes = round2(res.TotalDurationMinutes)

	res.UnassignedOrders = []string{}
	for _, node := range sr.Unassigned {
		res.UnassignedOrders = append(res.UnassignedOrders, orders[node-1].ID)
	}
	for _, o := range excluded {
		res.UnassignedOrders = append(res.UnassignedOrders, o.ID)
	}

	if assign != nil {
		n := assign.NumClusters
		out := assign.OutlierCount
		res.NumClusters = &n
		res.OutlierCount = &out
		res.Metadata["clusterSizes"] = assign.Sizes
		res.Metadata["centroids"] = assign.Centroids
		res.Metadata["driverAllocation"] = driverAllocation(assign)
	}
	if len(excluded) > 0 {
		ids := make([]string, len(excluded))
		for i, o := range excluded {
			ids[i] = o.ID
		}
		res.Metadata["excludedOrders"] = len(excluded)
		res.Metadata["excludedOrderIds"] = ids
	}
	res.Metadata["construction"] = sr.Construction
	return res
}

// dominantCluster picks the label with the most stops; ties go to the
// lowest cluster id so repeated runs agree.
func dominantCluster(votes map[int]int) (int, bool) {
	best, bestVotes, found := 0, 0, false
	for id, v := range votes {
		if v > bestVotes || (v == bestVotes && found && id < best) {
			best, bestVotes, found = id, v, true
		}
	}
	return best, found
}

// emptyRunResult shapes a run that produced no routes; nothing was assigned,
// so TotalOrders is zero.
func emptyRunResult(runID string, success bool, status string, unassigned []string, meta map[string]any) *model.OptimizeResult {
	if unassigned == nil {
		unassigned = []string{}
	}
	return &model.OptimizeResult{
		RunID:            runID,
		Success:          success,
		Routes:           []model.OptimizedRoute{},
		UnassignedOrders: unassigned,
		SolverStatus:     status,
		Metadata:         meta,
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
