package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"depotroute/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set. It backs
// development and the API tests.
type Memory struct {
	mu          sync.Mutex
	depots      map[string]model.Depot
	depotOrder  []string
	orders      map[string]model.Order
	ordersDepot map[string][]string
	runs        map[string]model.RunRecord
	runsDepot   map[string][]string
	subs        []model.Subscription
	deliveries  map[string]*memDelivery
	deliveryIDs []string
}

func NewMemory() *Memory {
	return &Memory{
		depots:      map[string]model.Depot{},
		orders:      map[string]model.Order{},
		ordersDepot: map[string][]string{},
		runs:        map[string]model.RunRecord{},
		runsDepot:   map[string][]string{},
		deliveries:  map[string]*memDelivery{},
	}
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
}

func (m *Memory) CreateDepot(_ context.Context, d model.Depot) (model.Depot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, exists := m.depots[d.ID]; !exists {
		m.depotOrder = append(m.depotOrder, d.ID)
	}
	m.depots[d.ID] = d
	return d, nil
}

func (m *Memory) GetDepot(_ context.Context, id string) (model.Depot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.depots[id]
	if !ok {
		return model.Depot{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) ListDepots(_ context.Context) ([]model.Depot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Depot, 0, len(m.depotOrder))
	for _, id := range m.depotOrder {
		out = append(out, m.depots[id])
	}
	return out, nil
}

func (m *Memory) CreateOrders(_ context.Context, depotID string, orders []model.Order) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, o := range orders {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		o.DepotID = depotID
		if o.Status == "" {
			o.Status = "pending"
		}
		if _, exists := m.orders[o.ID]; !exists {
			m.ordersDepot[depotID] = append(m.ordersDepot[depotID], o.ID)
			created++
		}
		m.orders[o.ID] = o
	}
	return created, nil
}

func (m *Memory) GetOrders(_ context.Context, ids []string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		o, ok := m.orders[id]
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *Memory) ListOrders(_ context.Context, depotID, status string, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 500
	}
	out := []model.Order{}
	for _, id := range m.ordersDepot[depotID] {
		o := m.orders[id]
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) UpdateClusterAssignments(_ context.Context, assignments map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, label := range assignments {
		o, ok := m.orders[id]
		if !ok {
			continue
		}
		l := label
		o.ClusterID = &l
		m.orders[id] = o
	}
	return nil
}

func (m *Memory) SaveRun(_ context.Context, depotID string, result model.OptimizeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := model.RunRecord{
		ID:        result.RunID,
		DepotID:   depotID,
		CreatedAt: time.Now().UTC(),
		Result:    result,
	}
	m.runs[rec.ID] = rec
	m.runsDepot[depotID] = append(m.runsDepot[depotID], rec.ID)
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return model.RunRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListRuns(_ context.Context, depotID string, limit int) ([]model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var ids []string
	if depotID == "" {
		for id := range m.runs {
			ids = append(ids, id)
		}
	} else {
		ids = m.runsDepot[depotID]
	}
	out := make([]model.RunRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.runs[id])
	}
	// Newest first.
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateSubscription(_ context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{
		ID:     uuid.NewString(),
		URL:    req.URL,
		Events: req.Events,
		Secret: req.Secret,
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(_ context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(_ context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription(nil), m.subs...), nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.ID == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) EnqueueWebhook(_ context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:             id,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			URL:            url,
			Secret:         secret,
			Payload:        payload,
			Status:         "pending",
		},
		NextAttemptAt: time.Now(),
	}
	m.deliveryIDs = append(m.deliveryIDs, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(_ context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		d.Status = "in_flight"
		out = append(out, d.WebhookDelivery)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(_ context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	switch {
	case success:
		d.Status = "delivered"
	case nextAttemptAt != nil:
		d.Status = "pending"
		d.NextAttemptAt = *nextAttemptAt
	default:
		d.Status = "failed"
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
