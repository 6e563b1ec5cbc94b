package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"depotroute/internal/metrics"
	"depotroute/internal/store"
)

// Worker drains the delivery queue: POST the payload, sign it when the
// subscription has a secret, reschedule failures with exponential backoff.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Log         *zap.Logger
	Stop        chan struct{}
	MaxAttempts int
}

func NewWorker(s store.Store, log *zap.Logger) *Worker {
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Log:         log,
		Stop:        make(chan struct{}),
		MaxAttempts: 10,
	}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil || len(items) == 0 {
		return
	}
	for _, it := range items {
		success := false
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", it.EventType)
		if it.Secret != "" {
			req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
		}
		start := time.Now()
		resp, err := w.HTTP.Do(req)
		latency := int(time.Since(start).Milliseconds())
		code := 0
		if err == nil && resp != nil {
			code = resp.StatusCode
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			success = code >= 200 && code < 300
		}
		lastErr := ""
		if !success && err != nil {
			lastErr = err.Error()
		}

		status := "delivered"
		var next *time.Time
		switch {
		case success:
		case it.Attempts+1 >= w.MaxAttempts:
			status = "failed"
			w.Log.Warn("webhook delivery gave up",
				zap.String("deliveryId", it.ID),
				zap.String("eventType", it.EventType),
				zap.Int("attempts", it.Attempts+1))
		default:
			status = "retrying"
			at := time.Now().Add(nextBackoff(it.Attempts))
			next = &at
		}
		_ = w.Store.MarkWebhookDelivery(ctx, it.ID, success, next, lastErr, code, latency)
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
		metrics.WebhookLatency.WithLabelValues(it.EventType, strconv.Itoa(code)).Observe(float64(latency))
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
