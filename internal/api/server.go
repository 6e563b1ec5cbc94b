// Package api is the HTTP surface: optimization runs, depot and order
// management, run history, live run events, and webhook subscriptions.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"depotroute/internal/auth"
	"depotroute/internal/buildinfo"
	"depotroute/internal/matrix"
	"depotroute/internal/metrics"
	"depotroute/internal/pipeline"
	"depotroute/internal/store"
	"depotroute/internal/webhooks"
)

// Server holds the API's dependencies. All fields must be set except
// Provider, which may be nil when no travel-time provider is configured
// (the status endpoint then reports it as such).
type Server struct {
	Store    store.Store
	Pipe     *pipeline.Pipeline
	Auth     *auth.Verifier
	Broker   EventBroker
	Pub      *webhooks.Publisher
	Provider matrix.Provider
	Log      *zap.Logger

	Profile        string
	SolveTimeLimit time.Duration
}

// Routes builds the full handler tree with metrics and access logging.
func (s *Server) Routes() http.Handler {
	metrics.RegisterDefault()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/depots", s.DepotsHandler)
	mux.HandleFunc("/v1/depots/", s.DepotHandler)
	mux.HandleFunc("/v1/orders", s.OrdersHandler)
	mux.HandleFunc("/v1/runs", s.RunsIndexHandler)
	mux.HandleFunc("/v1/runs/", s.RunHandler)
	mux.HandleFunc("/v1/runs/events/ws", s.RunEventsWSHandler)
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionHandler)
	mux.HandleFunc("/v1/services/status", s.ServicesStatusHandler)

	return s.instrument(mux)
}

// statusWriter records the response status and keeps Flush working for the
// SSE stream. Hijack passes through for the websocket upgrade.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hijackable writers must pass through untouched or the websocket
		// upgrade fails.
		if _, ok := w.(http.Hijacker); ok && r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		path := routePattern(r.URL.Path)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(elapsed.Seconds())
		s.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
	})
}

// routePattern collapses resource ids so metric label cardinality stays
// bounded.
func routePattern(path string) string {
	switch {
	case len(path) > len("/v1/depots/") && path[:len("/v1/depots/")] == "/v1/depots/":
		return "/v1/depots/{id}"
	case len(path) > len("/v1/runs/") && path[:len("/v1/runs/")] == "/v1/runs/":
		return "/v1/runs/{id}"
	case len(path) > len("/v1/subscriptions/") && path[:len("/v1/subscriptions/")] == "/v1/subscriptions/":
		return "/v1/subscriptions/{id}"
	}
	return path
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
