package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"depotroute/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
}

type markRec struct {
	ID      string
	Success bool
	Retry   bool
	Code    int
	LastErr string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Retry: nextAttemptAt != nil, Code: responseCode, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func newTestWorker(rs *recordStore, client *http.Client, maxAttempts int) *Worker {
	return &Worker{Store: rs, HTTP: client, Log: zap.NewNop(), Stop: make(chan struct{}), MaxAttempts: maxAttempts}
}

func TestWorkerProcessOnceSignsAndDelivers(t *testing.T) {
	var gotSig, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	body := []byte(`{"id":"evt1"}`)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "sub1", EventOptimizationCompleted, srv.URL, "secret", body)
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	newTestWorker(rs, srv.Client(), 3).processOnce()

	if gotType != EventOptimizationCompleted {
		t.Fatalf("wrong event type header: %q", gotType)
	}
	if gotSig != SignHMAC("secret", body) {
		t.Fatalf("bad signature: %q", gotSig)
	}
	if len(rs.marks) != 1 || !rs.marks[0].Success {
		t.Fatalf("expected success mark, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnceReschedulesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), "sub1", EventOptimizationCompleted, srv.URL, "", []byte(`{}`))

	newTestWorker(rs, srv.Client(), 3).processOnce()

	if len(rs.marks) != 1 || rs.marks[0].Success || !rs.marks[0].Retry {
		t.Fatalf("expected retry mark, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnceGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), "sub1", EventOptimizationCompleted, srv.URL, "", []byte(`{}`))

	newTestWorker(rs, srv.Client(), 1).processOnce()

	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Retry {
		t.Fatalf("expected terminal failure mark, got: %+v", rs.marks)
	}
}

func TestSignAndVerifyHMAC(t *testing.T) {
	body := []byte(`{"k":"v"}`)
	sig := SignHMAC("secret", body)
	if !VerifyHMAC("secret", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifyHMAC("other", body, sig) {
		t.Fatal("signature verified with wrong secret")
	}
	if VerifyHMAC("secret", []byte(`{}`), sig) {
		t.Fatal("signature verified for different body")
	}
}

func TestNextBackoffGrowsAndCaps(t *testing.T) {
	if nextBackoff(0) != time.Second {
		t.Fatalf("attempt 0: %v", nextBackoff(0))
	}
	if nextBackoff(3) != 8*time.Second {
		t.Fatalf("attempt 3: %v", nextBackoff(3))
	}
	if nextBackoff(20) != time.Hour {
		t.Fatalf("attempt 20: %v", nextBackoff(20))
	}
}
