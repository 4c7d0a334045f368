// Package api serves the dashboard query endpoints. Reads come from the
// published aggregation snapshot and the event store; nothing here blocks
// on the ingestion path, so many clients can poll cheaply.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"socwatch/internal/aggregate"
	"socwatch/internal/apierr"
	"socwatch/internal/ingest"
	"socwatch/internal/pipeline"
	"socwatch/internal/queue"
	"socwatch/internal/schema"
	"socwatch/internal/store"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100

	version = "1.0.0"
)

// API provides the dashboard query endpoints.
type API struct {
	store    *store.Store
	agg      *aggregate.Aggregator
	pipeline *pipeline.Pipeline
	queue    *queue.RingBuffer
	ingest   *ingest.Handler

	startTime time.Time
	logger    *slog.Logger
}

// New creates the query API.
func New(st *store.Store, agg *aggregate.Aggregator, p *pipeline.Pipeline, q *queue.RingBuffer, ih *ingest.Handler, logger *slog.Logger) *API {
	return &API{
		store:     st,
		agg:       agg,
		pipeline:  p,
		queue:     q,
		ingest:    ih,
		startTime: time.Now(),
		logger:    logger.With("component", "api"),
	}
}

// RegisterRoutes registers all query endpoints on the mux.
func (api *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dashboard/stats", api.handleStats)
	mux.HandleFunc("GET /api/events/recent", api.handleRecent)
	mux.HandleFunc("GET /api/timeline", api.handleTimeline)
	mux.HandleFunc("GET /api/health", api.handleHealth)
	mux.HandleFunc("POST /api/incidents/{id}/resolve", api.handleResolve)
}

// handleStats handles GET /api/dashboard/stats.
func (api *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.agg.Snapshot())
}

// recentResponse is the GET /api/events/recent body.
type recentResponse struct {
	Events []*schema.SecurityEvent `json:"events"`
	Total  int                     `json:"total"`
}

// handleRecent handles GET /api/events/recent. Events return newest
// first; limit defaults to 10 and is capped at 100.
func (api *API) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, apierr.InvalidArgument("limit must be a positive integer"))
			return
		}
		limit = n
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, apierr.InvalidArgument("offset must be a non-negative integer"))
			return
		}
		offset = n
	}

	var severity schema.Severity
	if raw := r.URL.Query().Get("severity"); raw != "" {
		severity = schema.Severity(raw)
		if !severity.IsValid() {
			writeError(w, apierr.InvalidArgument("severity must be one of Critical, High, Medium, Low, Info"))
			return
		}
	}

	events, err := api.store.RecentFiltered(limit, offset, severity)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*schema.SecurityEvent{}
	}

	writeJSON(w, http.StatusOK, recentResponse{Events: events, Total: len(events)})
}

// timelineResponse is the GET /api/timeline body.
type timelineResponse struct {
	Timeline []aggregate.TimelineBucket `json:"timeline"`
}

// handleTimeline handles GET /api/timeline.
func (api *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	snap := api.agg.Snapshot()
	writeJSON(w, http.StatusOK, timelineResponse{Timeline: snap.Timeline})
}

// handleHealth handles GET /api/health.
func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	qm := api.queue.Metrics()
	sm := api.store.Metrics()

	status := "healthy"
	if qm.Depth > int(float64(qm.Capacity)*0.9) {
		status = "degraded"
	}

	resp := map[string]any{
		"status":          status,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"version":         version,
		"queue_depth":     qm.Depth,
		"queue_capacity":  qm.Capacity,
		"events_retained": sm.Retained,
		"events_ingested": sm.Appended,
		"uptime_seconds":  int(time.Since(api.startTime).Seconds()),
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleResolve handles POST /api/incidents/{id}/resolve.
func (api *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apierr.InvalidArgument("incident id must be a UUID"))
		return
	}

	if err := api.pipeline.Resolve(id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": "resolved"})
}

// errorBody is the JSON shape of query API error responses.
type errorBody struct {
	ErrorKind apierr.Kind `json:"error_kind"`
	Field     string      `json:"field,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Retryable bool        `json:"retryable"`
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError maps a categorized error onto its status code and body.
func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	body := errorBody{
		ErrorKind: kind,
		Detail:    "internal error",
		Retryable: apierr.IsRetryable(err),
	}

	var e *apierr.Error
	if errors.As(err, &e) {
		body.Field = e.Field
		body.Detail = e.Detail
	} else {
		switch {
		case errors.Is(err, apierr.ErrNotFound):
			body.Detail = "no open incident with that id"
		case errors.Is(err, apierr.ErrTimeout):
			body.Detail = "the pipeline did not answer in time"
		}
	}

	writeJSON(w, apierr.HTTPStatus(kind), body)
}
