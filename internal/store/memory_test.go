package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depotroute/internal/model"
)

func seedDepot(t *testing.T, m *Memory) model.Depot {
	t.Helper()
	d, err := m.CreateDepot(context.Background(), model.Depot{
		Name:             "North Hub",
		Location:         model.GeoPoint{Lat: 40.05, Lng: -105.05},
		AvailableDrivers: 5,
	})
	require.NoError(t, err)
	return d
}

func TestMemoryDepots(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	d := seedDepot(t, m)
	assert.NotEmpty(t, d.ID)

	got, err := m.GetDepot(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d, got)

	_, err = m.GetDepot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := m.ListDepots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryOrdersAndClusters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := seedDepot(t, m)

	created, err := m.CreateOrders(ctx, d.ID, []model.Order{
		{ID: "o1", Location: model.GeoPoint{Lat: 40, Lng: -105}},
		{ID: "o2", Location: model.GeoPoint{Lat: 40.01, Lng: -105}, Status: "delivered"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	pending, err := m.ListOrders(ctx, d.ID, "pending", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "o1", pending[0].ID)

	require.NoError(t, m.UpdateClusterAssignments(ctx, map[string]int{"o1": 3}))
	orders, err := m.GetOrders(ctx, []string{"o1"})
	require.NoError(t, err)
	require.NotNil(t, orders[0].ClusterID)
	assert.Equal(t, 3, *orders[0].ClusterID)

	_, err = m.GetOrders(ctx, []string{"o1", "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRuns(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveRun(ctx, "d1", model.OptimizeResult{RunID: "r1", Success: true}))
	require.NoError(t, m.SaveRun(ctx, "d1", model.OptimizeResult{RunID: "r2", Success: false}))

	rec, err := m.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, rec.Result.Success)

	runs, err := m.ListRuns(ctx, "d1", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = m.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySubscriptionsAndWebhookQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sub, err := m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL:    "https://example.com/hook",
		Events: []string{"optimization.completed"},
		Secret: "s3cr3t",
	})
	require.NoError(t, err)

	matched, err := m.GetSubscriptionsForEvent(ctx, "optimization.completed")
	require.NoError(t, err)
	assert.Len(t, matched, 1)
	matched, err = m.GetSubscriptionsForEvent(ctx, "other.event")
	require.NoError(t, err)
	assert.Empty(t, matched)

	id, err := m.EnqueueWebhook(ctx, sub.ID, "optimization.completed", sub.URL, sub.Secret, []byte(`{}`))
	require.NoError(t, err)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)

	// Claimed deliveries are not handed out twice.
	due2, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due2)

	// A retriable failure goes back to pending at the given time.
	next := time.Now().Add(-time.Second)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &next, "timeout", 0, 120))
	due3, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due3, 1)
	assert.Equal(t, 1, due3[0].Attempts)

	require.NoError(t, m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 80))
	due4, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due4)

	require.NoError(t, m.DeleteSubscription(ctx, sub.ID))
	assert.ErrorIs(t, m.DeleteSubscription(ctx, sub.ID), ErrNotFound)
}
