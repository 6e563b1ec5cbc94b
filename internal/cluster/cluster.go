// Package cluster groups delivery points by spatial density before routing.
//
// The clusterer runs DBSCAN over great-circle distances, reassigns density
// outliers to their nearest cluster, and merges undersized neighboring
// clusters so that downstream vehicle planning sees usable group sizes.
// Callers must treat clustering as optional: on error they degrade to an
// unclustered solve.
package cluster

import (
	"errors"
	"math"

	"depotroute/internal/model"
)

// Params control density clustering and the small-cluster merge pass.
type Params struct {
	// MinClusterSize is the caller hint; the effective value adapts to the
	// point count, targeting clusters of roughly 20-30 points.
	MinClusterSize int
	// EpsKM is the DBSCAN neighborhood radius in kilometers.
	EpsKM float64
	// MaxClusterSizeForMerge marks clusters small enough to be merged away.
	MaxClusterSizeForMerge int
	// MaxMergeDistanceKM is the centroid distance ceiling for merging.
	MaxMergeDistanceKM float64
}

// DefaultParams returns the production tuning.
func DefaultParams() Params {
	return Params{
		MinClusterSize:         5,
		EpsKM:                  0.8,
		MaxClusterSizeForMerge: 5,
		MaxMergeDistanceKM:     1.0,
	}
}

// Assignment covers every input point: after resolution all labels are >= 0.
type Assignment struct {
	Labels []int
	// OriginalLabels keeps the raw density labels, -1 marking outliers that
	// were later reassigned. Exposed for diagnostics only.
	OriginalLabels []int
	Centroids      map[int]model.GeoPoint
	Sizes          map[int]int
	NumClusters    int
	OutlierCount   int
}

// ErrNoPoints is returned when clustering is invoked with an empty input.
var ErrNoPoints = errors.New("cluster: no points")

const (
	labelUnvisited = -2
	labelNoise     = -1
)

// EffectiveMinClusterSize adapts the caller hint to the point count.
func EffectiveMinClusterSize(hint, n int) int {
	adaptive := n / 30
	if adaptive < 3 {
		adaptive = 3
	}
	eff := hint
	if adaptive < eff {
		eff = adaptive
	}
	if eff < 2 {
		eff = 2
	}
	return eff
}

// Cluster assigns every point a cluster id >= 0.
func Cluster(points []model.GeoPoint, p Params) (*Assignment, error) {
	n := len(points)
	if n == 0 {
		return nil, ErrNoPoints
	}
	if p.EpsKM <= 0 || p.MaxMergeDistanceKM < 0 {
		return nil, errors.New("cluster: invalid params")
	}

	// Too few points for density analysis: one cluster holds everything.
	if n < p.MinClusterSize {
		return singleCluster(points, 0), nil
	}

	minPts := EffectiveMinClusterSize(p.MinClusterSize, n)
	labels := dbscan(points, p.EpsKM, minPts)

	original := make([]int, n)
	copy(original, labels)

	numClusters := compactLabels(labels)
	if numClusters == 0 {
		// Everything was noise; fall back to a single cluster.
		a := singleCluster(points, n)
		a.OriginalLabels = original
		return a, nil
	}

	outliers := reassignOutliers(points, labels)

	if numClusters > 1 {
		mergeSmallClusters(points, labels, p.MaxClusterSizeForMerge, p.MaxMergeDistanceKM)
	}

	centroids, sizes := clusterStats(points, labels)
	return &Assignment{
		Labels:         labels,
		OriginalLabels: original,
		Centroids:      centroids,
		Sizes:          sizes,
		NumClusters:    len(centroids),
		OutlierCount:   outliers,
	}, nil
}

func singleCluster(points []model.GeoPoint, outliers int) *Assignment {
	labels := make([]int, len(points))
	centroids, sizes := clusterStats(points, labels)
	return &Assignment{
		Labels:         labels,
		OriginalLabels: labels,
		Centroids:      centroids,
		Sizes:          sizes,
		NumClusters:    1,
		OutlierCount:   outliers,
	}
}

// dbscan labels points with cluster ids starting at 0; noise points get -1.
func dbscan(points []model.GeoPoint, epsKM float64, minPts int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = labelUnvisited
	}
	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}
		neighbors := regionQuery(points, i, epsKM)
		if len(neighbors) < minPts {
			labels[i] = labelNoise
			continue
		}
		c := next
		next++
		labels[i] = c
		// Expand the cluster over density-reachable points.
		for qi := 0; qi < len(neighbors); qi++ {
			j := neighbors[qi]
			if labels[j] == labelNoise {
				labels[j] = c
			}
			if labels[j] != labelUnvisited {
				continue
			}
			labels[j] = c
			more := regionQuery(points, j, epsKM)
			if len(more) >= minPts {
				neighbors = append(neighbors, more...)
			}
		}
	}
	for i := range labels {
		if labels[i] == labelUnvisited {
			labels[i] = labelNoise
		}
	}
	return labels
}

// regionQuery returns all indices within epsKM of points[i], i included.
func regionQuery(points []model.GeoPoint, i int, epsKM float64) []int {
	var out []int
	for j := range points {
		if HaversineKM(points[i], points[j]) <= epsKM {
			out = append(out, j)
		}
	}
	return out
}

// compactLabels renumbers cluster ids to 0..k-1 in ascending order, leaving
// -1 untouched, and returns k.
func compactLabels(labels []int) int {
	seen := map[int]struct{}{}
	maxID := -1
	for _, l := range labels {
		if l >= 0 {
			seen[l] = struct{}{}
			if l > maxID {
				maxID = l
			}
		}
	}
	remap := make(map[int]int, len(seen))
	next := 0
	for id := 0; id <= maxID; id++ {
		if _, ok := seen[id]; ok {
			remap[id] = next
			next++
		}
	}
	for i, l := range labels {
		if l >= 0 {
			labels[i] = remap[l]
		}
	}
	return next
}

// clusterStats computes centroid and size per cluster id present in labels.
func clusterStats(points []model.GeoPoint, labels []int) (map[int]model.GeoPoint, map[int]int) {
	sumLat := map[int]float64{}
	sumLng := map[int]float64{}
	sizes := map[int]int{}
	for i, l := range labels {
		if l < 0 {
			continue
		}
		sumLat[l] += points[i].Lat
		sumLng[l] += points[i].Lng
		sizes[l]++
	}
	centroids := make(map[int]model.GeoPoint, len(sizes))
	for id, sz := range sizes {
		centroids[id] = model.GeoPoint{Lat: sumLat[id] / float64(sz), Lng: sumLng[id] / float64(sz)}
	}
	return centroids, sizes
}

// HaversineKM is the great-circle distance between two points in kilometers.
func HaversineKM(a, b model.GeoPoint) float64 {
	const earthRadiusKM = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
