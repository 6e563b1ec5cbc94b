package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"depotroute/internal/metrics"
	"depotroute/internal/model"
	"depotroute/internal/pipeline"
	"depotroute/internal/webhooks"
)

// OptimizeHandler handles POST /v1/optimize: resolve the depot and order
// set, run the pipeline, persist the run, and fan out events.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireOptimizer(w, r) {
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", err.Error(), r.URL.Path)
		return
	}

	depot, err := s.resolveDepot(r.Context(), req)
	if err != nil {
		writeStoreError(w, r, "Depot lookup failed", err)
		return
	}
	orders, err := s.resolveOrders(r.Context(), depot.ID, req)
	if err != nil {
		writeStoreError(w, r, "Order lookup failed", err)
		return
	}

	timeLimit := s.SolveTimeLimit
	if req.TimeLimitSec > 0 {
		timeLimit = time.Duration(req.TimeLimitSec) * time.Second
	}
	profile := s.Profile
	if req.Profile != "" {
		profile = req.Profile
	}

	s.Broker.Publish(TopicRuns, Event{Type: "run.started", Data: map[string]any{
		"depotId": depot.ID,
		"orders":  len(orders),
		"ts":      time.Now().UTC().Format(time.RFC3339),
	}})

	start := time.Now()
	result, err := s.Pipe.Run(r.Context(), pipeline.Request{
		Depot:          depot,
		Orders:         orders,
		UseClustering:  req.UseClustering,
		MinClusterSize: req.MinClusterSize,
		NumVehicles:    req.NumVehicles,
		Profile:        profile,
		TimeLimit:      timeLimit,
	})
	elapsed := time.Since(start)
	if err != nil {
		s.Broker.Publish(TopicRuns, Event{Type: "run.failed", Data: map[string]any{
			"depotId": depot.ID,
			"error":   err.Error(),
		}})
		if errors.Is(err, pipeline.ErrInvalidDepot) {
			writeProblem(w, http.StatusUnprocessableEntity, "Invalid Depot", err.Error(), r.URL.Path)
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeProblem(w, http.StatusServiceUnavailable, "Optimization Interrupted", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Optimization Failed", err.Error(), r.URL.Path)
		return
	}

	metrics.OptimizationRuns.WithLabelValues(result.SolverStatus).Inc()
	metrics.OptimizationDuration.Observe(elapsed.Seconds())
	if n, ok := result.Metadata["excludedOrders"].(int); ok && n > 0 {
		metrics.ExcludedOrders.Add(float64(n))
	}

	if err := s.Store.SaveRun(r.Context(), depot.ID, *result); err != nil {
		s.Log.Warn("run save failed", zap.String("runId", result.RunID), zap.Error(err))
	}

	evtType, hookType := "run.completed", webhooks.EventOptimizationCompleted
	if !result.Success {
		evtType, hookType = "run.failed", webhooks.EventOptimizationFailed
	}
	evt := Event{Type: evtType, Data: map[string]any{
		"runId":        result.RunID,
		"depotId":      depot.ID,
		"solverStatus": result.SolverStatus,
		"totalRoutes":  result.TotalRoutes,
		"totalOrders":  result.TotalOrders,
		"ts":           time.Now().UTC().Format(time.RFC3339),
	}}
	s.Broker.Publish(TopicRuns, evt)
	s.Broker.Publish(result.RunID, evt)
	s.Pub.Emit(r.Context(), hookType, result)

	writeJSON(w, http.StatusOK, result)
}

// resolveDepot prefers an inline depot over a stored one.
func (s *Server) resolveDepot(ctx context.Context, req model.OptimizeRequest) (model.Depot, error) {
	if req.Depot != nil {
		d := *req.Depot
		if d.ID == "" {
			d.ID = "adhoc"
		}
		return d, nil
	}
	return s.Store.GetDepot(ctx, req.DepotID)
}

// resolveOrders: inline coordinates win, then explicit ids, then every
// pending order at the depot.
func (s *Server) resolveOrders(ctx context.Context, depotID string, req model.OptimizeRequest) ([]model.Order, error) {
	if len(req.Orders) > 0 {
		out := make([]model.Order, len(req.Orders))
		for i, n := range req.Orders {
			out[i] = model.Order{ID: n.ID, DepotID: depotID, Location: n.Location, Status: "pending"}
		}
		return out, nil
	}
	if len(req.OrderIDs) > 0 {
		return s.Store.GetOrders(ctx, req.OrderIDs)
	}
	return s.Store.ListOrders(ctx, depotID, "pending", 0)
}

// DepotsHandler handles /v1/depots: POST creates, GET lists.
func (s *Server) DepotsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.requireOptimizer(w, r) {
			return
		}
		var d model.Depot
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateDepot(d); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid Depot", err.Error(), r.URL.Path)
			return
		}
		created, err := s.Store.CreateDepot(r.Context(), d)
		if err != nil {
			writeStoreError(w, r, "Create depot failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		depots, err := s.Store.ListDepots(r.Context())
		if err != nil {
			writeStoreError(w, r, "List depots failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": depots})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// DepotHandler handles /v1/depots/{id} and /v1/depots/{id}/runs.
func (s *Server) DepotHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/depots/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "depot id required", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if len(parts) > 1 && parts[1] == "runs" {
		runs, err := s.Store.ListRuns(r.Context(), id, queryLimit(r, 50))
		if err != nil {
			writeStoreError(w, r, "List runs failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": runs})
		return
	}
	depot, err := s.Store.GetDepot(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "Get depot failed", err)
		return
	}
	writeJSON(w, http.StatusOK, depot)
}

// OrdersHandler handles /v1/orders: POST bulk-creates under a depot, GET
// lists with optional status filter.
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.requireOptimizer(w, r) {
			return
		}
		var req struct {
			DepotID string        `json:"depotId"`
			Orders  []model.Order `json:"orders"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.DepotID == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid Request", "depotId is required", r.URL.Path)
			return
		}
		if err := validateOrders(req.Orders); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid Orders", err.Error(), r.URL.Path)
			return
		}
		if _, err := s.Store.GetDepot(r.Context(), req.DepotID); err != nil {
			writeStoreError(w, r, "Depot lookup failed", err)
			return
		}
		created, err := s.Store.CreateOrders(r.Context(), req.DepotID, req.Orders)
		if err != nil {
			writeStoreError(w, r, "Create orders failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"created": created})
	case http.MethodGet:
		depotID := r.URL.Query().Get("depotId")
		if depotID == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid Request", "depotId query parameter is required", r.URL.Path)
			return
		}
		orders, err := s.Store.ListOrders(r.Context(), depotID, r.URL.Query().Get("status"), queryLimit(r, 0))
		if err != nil {
			writeStoreError(w, r, "List orders failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": orders})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RunsIndexHandler handles GET /v1/runs?depotId=&limit=.
func (s *Server) RunsIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runs, err := s.Store.ListRuns(r.Context(), r.URL.Query().Get("depotId"), queryLimit(r, 50))
	if err != nil {
		writeStoreError(w, r, "List runs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}

// RunHandler handles /v1/runs/{id} and /v1/runs/{id}/events/stream.
func (s *Server) RunHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "run id required", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		s.streamRunEvents(w, r, id)
		return
	}
	rec, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "Get run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// streamRunEvents serves a per-run SSE stream with a 15s heartbeat.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, runID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming Unsupported", "response writer does not support flushing", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.Broker.Subscribe(runID)
	defer s.Broker.Unsubscribe(runID, ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			b, _ := json.Marshal(evt)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"runId\":%q,\"ts\":%q}\n\n", runID, time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// SubscriptionsHandler handles /v1/subscriptions: POST creates, GET lists.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.requireOptimizer(w, r) {
			return
		}
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateSubscription(req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid Subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeStoreError(w, r, "Create subscription failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		subs, err := s.Store.ListSubscriptions(r.Context())
		if err != nil {
			writeStoreError(w, r, "List subscriptions failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": subs})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "subscription id required", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireOptimizer(w, r) {
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		writeStoreError(w, r, "Delete subscription failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServicesStatusHandler reports dependency health: the store, the broker,
// and the travel-time provider (probed with a tiny two-point request).
func (s *Server) ServicesStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := map[string]string{"store": "ok", "broker": "ok", "provider": "ok"}
	healthy := true

	if err := s.Store.Ping(r.Context()); err != nil {
		status["store"] = err.Error()
		healthy = false
	}
	if p, ok := s.Broker.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			status["broker"] = err.Error()
			healthy = false
		}
	}
	if s.Provider == nil {
		status["provider"] = "unconfigured"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		probe := []model.GeoPoint{{Lat: 40.015, Lng: -105.27}, {Lat: 40.0, Lng: -105.25}}
		if _, err := s.Provider.Durations(ctx, probe, s.Profile); err != nil {
			status["provider"] = err.Error()
			healthy = false
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"healthy": healthy, "services": status})
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
