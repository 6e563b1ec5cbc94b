// Package store is the persistence layer: depots, orders, run summaries,
// webhook subscriptions and the delivery queue.
package store

import (
	"context"
	"errors"
	"time"

	"depotroute/internal/model"
)

// Store is the persistence interface used by the API server and pipeline.
type Store interface {
	// Depots
	CreateDepot(ctx context.Context, d model.Depot) (model.Depot, error)
	GetDepot(ctx context.Context, id string) (model.Depot, error)
	ListDepots(ctx context.Context) ([]model.Depot, error)

	// Orders
	CreateOrders(ctx context.Context, depotID string, orders []model.Order) (created int, err error)
	GetOrders(ctx context.Context, ids []string) ([]model.Order, error)
	ListOrders(ctx context.Context, depotID, status string, limit int) ([]model.Order, error)
	UpdateClusterAssignments(ctx context.Context, assignments map[string]int) error

	// Optimization runs
	SaveRun(ctx context.Context, depotID string, result model.OptimizeResult) error
	GetRun(ctx context.Context, id string) (model.RunRecord, error)
	ListRuns(ctx context.Context, depotID string, limit int) ([]model.RunRecord, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook delivery queue
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

// WebhookDelivery is one queued webhook dispatch.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}
