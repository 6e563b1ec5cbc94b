package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"depotroute/internal/model"
)

// Postgres implements Store on PostgreSQL via the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS depots (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			available_drivers INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			depot_id UUID NOT NULL REFERENCES depots(id),
			order_number TEXT,
			customer_name TEXT,
			address TEXT,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			cluster_id INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_depot_status ON orders(depot_id, status)`,
		`CREATE TABLE IF NOT EXISTS optimization_runs (
			id UUID PRIMARY KEY,
			depot_id UUID,
			result JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_depot ON optimization_runs(depot_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id UUID PRIMARY KEY,
			url TEXT NOT NULL,
			events JSONB NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id UUID PRIMARY KEY,
			subscription_id UUID NOT NULL,
			event_type TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			payload BYTEA NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_error TEXT,
			response_code INT,
			latency_ms INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON webhook_deliveries(status, next_attempt_at)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CreateDepot(ctx context.Context, d model.Depot) (model.Depot, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO depots (id, name, lat, lng, available_drivers) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET name=$2, lat=$3, lng=$4, available_drivers=$5`,
		d.ID, d.Name, d.Location.Lat, d.Location.Lng, d.AvailableDrivers)
	return d, err
}

func (p *Postgres) GetDepot(ctx context.Context, id string) (model.Depot, error) {
	var d model.Depot
	err := p.db.QueryRowContext(ctx,
		`SELECT id::text, name, lat, lng, available_drivers FROM depots WHERE id=$1`, id).
		Scan(&d.ID, &d.Name, &d.Location.Lat, &d.Location.Lng, &d.AvailableDrivers)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Depot{}, ErrNotFound
	}
	return d, err
}

func (p *Postgres) ListDepots(ctx context.Context) ([]model.Depot, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id::text, name, lat, lng, available_drivers FROM depots ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Depot{}
	for rows.Next() {
		var d model.Depot
		if err := rows.Scan(&d.ID, &d.Name, &d.Location.Lat, &d.Location.Lng, &d.AvailableDrivers); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateOrders(ctx context.Context, depotID string, orders []model.Order) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	created := 0
	for _, o := range orders {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		status := o.Status
		if status == "" {
			status = "pending"
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO orders (id, depot_id, order_number, customer_name, address, lat, lng, status)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (id) DO NOTHING`,
			o.ID, depotID, o.OrderNumber, o.CustomerName, o.Address, o.Location.Lat, o.Location.Lng, status)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, tx.Commit()
}

const orderColumns = `id::text, depot_id::text, COALESCE(order_number,''), COALESCE(customer_name,''),
	COALESCE(address,''), lat, lng, status, cluster_id`

func scanOrder(scan func(dest ...any) error) (model.Order, error) {
	var o model.Order
	var clusterID sql.NullInt64
	err := scan(&o.ID, &o.DepotID, &o.OrderNumber, &o.CustomerName, &o.Address,
		&o.Location.Lat, &o.Location.Lng, &o.Status, &clusterID)
	if clusterID.Valid {
		v := int(clusterID.Int64)
		o.ClusterID = &v
	}
	return o, err
}

func (p *Postgres) GetOrders(ctx context.Context, ids []string) ([]model.Order, error) {
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
		o, err := scanOrder(row.Scan)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (p *Postgres) ListOrders(ctx context.Context, depotID, status string, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + orderColumns + ` FROM orders WHERE depot_id=$1`
	args := []any{depotID}
	if status != "" {
		q += ` AND status=$2`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY created_at LIMIT %d`, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateClusterAssignments(ctx context.Context, assignments map[string]int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for id, label := range assignments {
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET cluster_id=$2 WHERE id=$1`, id, label); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) SaveRun(ctx context.Context, depotID string, result model.OptimizeResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	var depot any
	if depotID != "" {
		depot = depotID
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO optimization_runs (id, depot_id, result) VALUES ($1,$2,$3)`,
		result.RunID, depot, payload)
	return err
}

func (p *Postgres) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	var rec model.RunRecord
	var depotID sql.NullString
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT id::text, depot_id::text, result, created_at FROM optimization_runs WHERE id=$1`, id).
		Scan(&rec.ID, &depotID, &payload, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunRecord{}, ErrNotFound
	}
	if err != nil {
		return model.RunRecord{}, err
	}
	rec.DepotID = depotID.String
	if err := json.Unmarshal(payload, &rec.Result); err != nil {
		return model.RunRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) ListRuns(ctx context.Context, depotID string, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id::text, depot_id::text, result, created_at FROM optimization_runs`
	args := []any{}
	if depotID != "" {
		q += ` WHERE depot_id=$1`
		args = append(args, depotID)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RunRecord{}
	for rows.Next() {
		var rec model.RunRecord
		var depot sql.NullString
		var payload []byte
		if err := rows.Scan(&rec.ID, &depot, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.DepotID = depot.String
		if err := json.Unmarshal(payload, &rec.Result); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{
		ID:     uuid.NewString(),
		URL:    req.URL,
		Events: req.Events,
		Secret: req.Secret,
	}
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return model.Subscription{}, err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
		sub.ID, sub.URL, events, sub.Secret)
	return sub, err
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id::text, url, events, secret FROM subscriptions
		 WHERE events @> to_jsonb($1::text) OR events @> to_jsonb('*'::text)`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id::text, url, events, secret FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		id, subscriptionID, eventType, url, secret, payload)
	return id, err
}

// FetchDueWebhookDeliveries claims due deliveries with SKIP LOCKED so
// multiple workers never double-send.
func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`UPDATE webhook_deliveries SET status='in_flight'
		 WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status='pending' AND next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT %d FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id::text, subscription_id::text, event_type, url, secret, payload, status, attempts`, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	status := "failed"
	switch {
	case success:
		status = "delivered"
	case nextAttemptAt != nil:
		status = "pending"
	}
	var next any
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status=$2, attempts=attempts+1, next_attempt_at=COALESCE($3, next_attempt_at),
		     last_error=NULLIF($4,''), response_code=$5, latency_ms=$6
		 WHERE id=$1`,
		id, status, next, lastError, responseCode, latencyMs)
	return err
}
