package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depotroute/internal/model"
)

// blob generates n points packed within ~150m of a center point.
func blob(lat, lng float64, n int) []model.GeoPoint {
	pts := make([]model.GeoPoint, 0, n)
	for i := 0; i < n; i++ {
		pts = append(pts, model.GeoPoint{
			Lat: lat + float64(i%5)*0.0003,
			Lng: lng + float64(i/5)*0.0003,
		})
	}
	return pts
}

func TestEffectiveMinClusterSize(t *testing.T) {
	tests := []struct {
		hint, n, want int
	}{
		{5, 10, 3},   // adaptive floor of 3 undercuts the hint
		{5, 300, 5},  // hint wins when n/30 exceeds it
		{20, 300, 10},
		{5, 60, 3},
		{1, 300, 2}, // never below 2
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EffectiveMinClusterSize(tt.hint, tt.n), "hint=%d n=%d", tt.hint, tt.n)
	}
}

func TestClusterEmptyInput(t *testing.T) {
	_, err := Cluster(nil, DefaultParams())
	require.ErrorIs(t, err, ErrNoPoints)
}

func TestClusterTinyInputSingleCluster(t *testing.T) {
	pts := blob(40.0, -105.0, 3)
	a, err := Cluster(pts, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 1, a.NumClusters)
	assert.Equal(t, 0, a.OutlierCount)
	for _, l := range a.Labels {
		assert.Equal(t, 0, l)
	}
}

func TestClusterTwoDenseGroups(t *testing.T) {
	pts := append(blob(40.00, -105.00, 15), blob(40.10, -105.10, 15)...)
	a, err := Cluster(pts, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 2, a.NumClusters)
	assert.Len(t, a.Labels, 30)

	// Group membership must follow geography.
	first := a.Labels[0]
	for i := 0; i < 15; i++ {
		assert.Equal(t, first, a.Labels[i])
	}
	second := a.Labels[15]
	assert.NotEqual(t, first, second)
	for i := 15; i < 30; i++ {
		assert.Equal(t, second, a.Labels[i])
	}
	assert.Equal(t, 15, a.Sizes[first])
	assert.Equal(t, 15, a.Sizes[second])
}

func TestClusterOutlierReassignedToNearest(t *testing.T) {
	pts := append(blob(40.00, -105.00, 12), blob(40.10, -105.10, 12)...)
	// One lone point well outside both neighborhoods but closer to group one.
	pts = append(pts, model.GeoPoint{Lat: 40.02, Lng: -105.02})

	a, err := Cluster(pts, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 1, a.OutlierCount)
	assert.Equal(t, -1, a.OriginalLabels[24])
	assert.Equal(t, a.Labels[0], a.Labels[24])
	for _, l := range a.Labels {
		assert.GreaterOrEqual(t, l, 0)
	}
}

func TestClusterAllNoiseFallsBackToSingleCluster(t *testing.T) {
	// Points spread kilometers apart: nothing reaches density.
	pts := []model.GeoPoint{
		{Lat: 40.00, Lng: -105.00},
		{Lat: 40.05, Lng: -105.05},
		{Lat: 40.10, Lng: -105.10},
		{Lat: 40.15, Lng: -105.15},
		{Lat: 40.20, Lng: -105.20},
	}
	a, err := Cluster(pts, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 1, a.NumClusters)
	assert.Equal(t, len(pts), a.OutlierCount)
	for _, l := range a.Labels {
		assert.Equal(t, 0, l)
	}
}

func TestMergeSmallClustersIdempotent(t *testing.T) {
	// Two small clusters ~400m apart plus one large cluster far away.
	pts := append(blob(40.000, -105.000, 3), blob(40.004, -105.000, 3)...)
	pts = append(pts, blob(41.0, -106.0, 10)...)
	labels := []int{0, 0, 0, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2}

	mergeSmallClusters(pts, labels, 5, 1.0)
	merged := append([]int(nil), labels...)

	// The two small clusters collapse into one; the large one survives.
	assert.Equal(t, merged[0], merged[3])
	assert.NotEqual(t, merged[0], merged[6])
	_, sizes := clusterStats(pts, merged)
	assert.Len(t, sizes, 2)

	mergeSmallClusters(pts, labels, 5, 1.0)
	assert.Equal(t, merged, labels)
}

func TestMergeRespectsDistanceCeiling(t *testing.T) {
	// Two small clusters ~5.5km apart must not merge.
	pts := append(blob(40.00, -105.00, 3), blob(40.05, -105.00, 3)...)
	labels := []int{0, 0, 0, 1, 1, 1}
	mergeSmallClusters(pts, labels, 5, 1.0)
	assert.NotEqual(t, labels[0], labels[3])
}

func TestHaversineKM(t *testing.T) {
	// One degree of latitude is ~111km.
	d := HaversineKM(model.GeoPoint{Lat: 40, Lng: -105}, model.GeoPoint{Lat: 41, Lng: -105})
	assert.InDelta(t, 111.2, d, 0.5)
	assert.Zero(t, HaversineKM(model.GeoPoint{Lat: 40, Lng: -105}, model.GeoPoint{Lat: 40, Lng: -105}))
}
