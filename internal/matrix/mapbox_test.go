package matrix

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"depotroute/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *MapboxClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewMapboxClient(MapboxConfig{
		AccessToken:       "pk.test",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

var testCoords = []model.GeoPoint{
	{Lat: 40.0, Lng: -105.0},
	{Lat: 40.1, Lng: -105.1},
}

func TestMapboxDurationsOK(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"code":"Ok","durations":[[0,120],[130,0]]}`))
	})

	m, err := c.Durations(context.Background(), testCoords, "driving")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 120}, {130, 0}}, m)
	assert.True(t, strings.HasPrefix(gotPath, "/driving/"))
	assert.Contains(t, gotPath, "-105,40;")
	assert.Contains(t, gotQuery, "annotations=duration")
	assert.Contains(t, gotQuery, "fallback_speed=40")
}

func TestMapboxDurationsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"InvalidInput","message":"bad coords"}`))
	})
	_, err := c.Durations(context.Background(), testCoords, "driving")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidInput")
}

func TestMapboxDurationsRejectsBadMatrices(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrong shape", `{"code":"Ok","durations":[[0,120]]}`},
		{"short row", `{"code":"Ok","durations":[[0],[130,0]]}`},
		{"null entry", `{"code":"Ok","durations":[[0,null],[130,0]]}`},
		{"all zero", `{"code":"Ok","durations":[[0,0],[0,0]]}`},
		{"negative", `{"code":"Ok","durations":[[0,-5],[130,0]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.Durations(context.Background(), testCoords, "driving")
			require.Error(t, err)
		})
	}
}

func TestMapboxDurationsRetriesTransientFailures(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"code":"Ok","durations":[[0,120],[130,0]]}`))
	})

	m, err := c.Durations(context.Background(), testCoords, "driving")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 120.0, m[0][1])
}

func TestMapboxDurationsNoRetryOnClientError(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Durations(context.Background(), testCoords, "driving")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestMapboxDurationsInputValidation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := c.Durations(context.Background(), testCoords[:1], "driving")
	assert.Error(t, err)

	many := make([]model.GeoPoint, MaxCoordinates+1)
	for i := range many {
		many[i] = model.GeoPoint{Lat: 40, Lng: -105}
	}
	_, err = c.Durations(context.Background(), many, "driving")
	assert.Error(t, err)

	_, err = c.Durations(context.Background(), []model.GeoPoint{{Lat: 91, Lng: 0}, {Lat: 0, Lng: 0}}, "driving")
	assert.Error(t, err)
}

func TestNewMapboxClientRequiresToken(t *testing.T) {
	_, err := NewMapboxClient(MapboxConfig{}, zap.NewNop())
	require.Error(t, err)
}
