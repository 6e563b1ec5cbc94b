package pipeline

import (
	"fmt"

	"depotroute/internal/cluster"
)

const (
	// DriverCapacity is deliveries one driver handles on a clustered run.
	DriverCapacity = 15
	// FlatOrdersPerVehicle sizes the fleet when clustering is off and the
	// caller gave no count.
	FlatOrdersPerVehicle = 50
)

// planVehicles resolves the vehicle count. First applicable rule wins:
// cluster driver need, cluster count, caller request, flat fallback. The
// result never exceeds the depot's available drivers.
func planVehicles(assign *cluster.Assignment, requested, orders, availableDrivers int) (int, error) {
	var count int
	switch {
	case assign != nil && len(assign.Sizes) > 0:
		for _, size := range assign.Sizes {
			count += (size + DriverCapacity - 1) / DriverCapacity
		}
	case assign != nil:
		count = assign.NumClusters
	case requested > 0:
		count = requested
	default:
		count = orders / FlatOrdersPerVehicle
		if count < 1 {
			count = 1
		}
	}
	if availableDrivers > 0 && count > availableDrivers {
		count = availableDrivers
	}
	if count <= 0 {
		return 0, fmt.Errorf("pipeline: resolved vehicle count %d is not positive", count)
	}
	return count, nil
}

// driverAllocation is the per-cluster driver need, for result metadata.
func driverAllocation(assign *cluster.Assignment) map[int]int {
	if assign == nil {
		return nil
	}
	out := make(map[int]int, len(assign.Sizes))
	for id, size := range assign.Sizes {
		out[id] = (size + DriverCapacity - 1) / DriverCapacity
	}
	return out
}
