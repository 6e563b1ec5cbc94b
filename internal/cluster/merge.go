package cluster

import (
	"math"
	"sort"

	"depotroute/internal/model"
)

// reassignOutliers gives every noise point the label of the nearest cluster
// centroid and returns how many points were reassigned. Distance here is
// planar over raw coordinates; at merge scale the difference from
// great-circle distance does not change the winner.
func reassignOutliers(points []model.GeoPoint, labels []int) int {
	centroids, _ := clusterStats(points, labels)
	if len(centroids) == 0 {
		return 0
	}
	ids := sortedIDs(centroids)
	n := 0
	for i, l := range labels {
		if l >= 0 {
			continue
		}
		best := ids[0]
		bestD := math.Inf(1)
		for _, id := range ids {
			c := centroids[id]
			dLat := points[i].Lat - c.Lat
			dLng := points[i].Lng - c.Lng
			if d := dLat*dLat + dLng*dLng; d < bestD {
				bestD = d
				best = id
			}
		}
		labels[i] = best
		n++
	}
	return n
}

// mergeSmallClusters repeatedly merges the closest pair of clusters that are
// both below maxSize and whose centroids lie within maxDistKM, relabeling the
// smaller into the larger, until no such pair remains. Running it again on
// its own output is a no-op.
func mergeSmallClusters(points []model.GeoPoint, labels []int, maxSize int, maxDistKM float64) {
	for {
		centroids, sizes := clusterStats(points, labels)
		if len(centroids) < 2 {
			break
		}
		ids := sortedIDs(centroids)

		bestA, bestB := -1, -1
		bestD := math.Inf(1)
		for x := 0; x < len(ids); x++ {
			for y := x + 1; y < len(ids); y++ {
				a, b := ids[x], ids[y]
				if sizes[a] >= maxSize || sizes[b] >= maxSize {
					continue
				}
				d := HaversineKM(centroids[a], centroids[b])
				if d <= maxDistKM && d < bestD {
					bestD = d
					bestA, bestB = a, b
				}
			}
		}
		if bestA < 0 {
			break
		}

		// Smaller cluster loses its id; ties keep the lower id.
		from, to := bestB, bestA
		if sizes[bestA] < sizes[bestB] {
			from, to = bestA, bestB
		}
		for i, l := range labels {
			if l == from {
				labels[i] = to
			}
		}
	}
	compactLabels(labels)
}

func sortedIDs(centroids map[int]model.GeoPoint) []int {
	ids := make([]int, 0, len(centroids))
	for id := range centroids {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
