package internal_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"socwatch/internal/aggregate"
	"socwatch/internal/api"
	"socwatch/internal/dedup"
	"socwatch/internal/ingest"
	"socwatch/internal/pipeline"
	"socwatch/internal/queue"
	"socwatch/internal/schema"
	"socwatch/internal/score"
	"socwatch/internal/store"
)

// harness wires up the full service around an in-memory store, the same
// way main does, minus the network listeners and optional archives.
type harness struct {
	queue    *queue.RingBuffer
	store    *store.Store
	agg      *aggregate.Aggregator
	pipeline *pipeline.Pipeline
	mux      *http.ServeMux
}

func newHarness(t *testing.T, maxEvents int) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	q := queue.NewRingBuffer(1000)
	aggCfg := aggregate.DefaultConfig()
	aggCfg.Strict = true
	agg := aggregate.New(aggCfg, score.DefaultWeights())

	st := store.New(store.Config{
		MaxEvents:   maxEvents,
		MaxAge:      24 * time.Hour,
		RecentLimit: 100,
	}, agg.OnEvict)

	pipe := pipeline.New(pipeline.DefaultConfig(), q, st, agg, logger)
	pipe.Start()
	t.Cleanup(pipe.Stop)

	validator := schema.NewValidator()
	deduper := dedup.NewMemory(time.Minute)
	t.Cleanup(func() { deduper.Close() })

	ih := ingest.NewHandler(validator, q, deduper)
	queryAPI := api.New(st, agg, pipe, q, ih, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", ih.HandleEvent)
	mux.HandleFunc("GET /metrics", queryAPI.HandleMetrics)
	queryAPI.RegisterRoutes(mux)

	return &harness{queue: q, store: st, agg: agg, pipeline: pipe, mux: mux}
}

func (h *harness) post(t *testing.T, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func (h *harness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

// waitForConsumed blocks until the pipeline has appended n events.
func (h *harness) waitForConsumed(t *testing.T, n uint64) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.pipeline.Consumed() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pipeline consumed %d events, want %d", h.pipeline.Consumed(), n)
}

func validEvent(severity string) map[string]any {
	return map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"severity":    severity,
		"attack_type": "SQL Injection",
		"source_ip":   "203.0.113.7",
		"country":     "Unknown",
		"blocked":     true,
	}
}

func TestIngestToDashboard(t *testing.T) {
	h := newHarness(t, 1000)

	for i := 0; i < 5; i++ {
		rec := h.post(t, validEvent("Medium"))
		if rec.Code != http.StatusCreated {
			t.Fatalf("ingest: expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("parse ingest response: %v", err)
		}
		if resp["id"] == "" {
			t.Error("expected server-assigned event id")
		}
	}

	h.waitForConsumed(t, 5)

	rec := h.get(t, "/api/dashboard/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}

	var stats struct {
		TotalEvents          int            `json:"total_events"`
		ThreatScore          int            `json:"threat_score"`
		ThreatLabel          string         `json:"threat_label"`
		SeverityDistribution map[string]int `json:"severity_distribution"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("parse stats: %v", err)
	}

	if stats.TotalEvents != 5 {
		t.Errorf("expected total_events 5, got %d", stats.TotalEvents)
	}
	if stats.SeverityDistribution["Medium"] != 5 {
		t.Errorf("expected 5 Medium events, got %d", stats.SeverityDistribution["Medium"])
	}
	if stats.ThreatLabel == "" {
		t.Error("expected a threat label")
	}
	if stats.ThreatScore < 0 || stats.ThreatScore > 100 {
		t.Errorf("threat score %d outside [0,100]", stats.ThreatScore)
	}
}

func TestRecentEventsOrderAndFilter(t *testing.T) {
	h := newHarness(t, 1000)

	severities := []string{"Low", "High", "Medium", "High", "Critical"}
	for _, sev := range severities {
		if rec := h.post(t, validEvent(sev)); rec.Code != http.StatusCreated {
			t.Fatalf("ingest %s: got %d", sev, rec.Code)
		}
	}
	h.waitForConsumed(t, uint64(len(severities)))

	t.Run("newest first", func(t *testing.T) {
		rec := h.get(t, "/api/events/recent?limit=3")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Events []schema.SecurityEvent `json:"events"`
			Total  int                    `json:"total"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("parse response: %v", err)
		}

		if resp.Total != 3 {
			t.Errorf("expected 3 events, got %d", resp.Total)
		}
		for i := 1; i < len(resp.Events); i++ {
			if resp.Events[i].Timestamp.After(resp.Events[i-1].Timestamp) {
				t.Error("events not in newest-first order")
			}
		}
	})

	t.Run("severity filter", func(t *testing.T) {
		rec := h.get(t, "/api/events/recent?limit=100&severity=High")
		var resp struct {
			Events []schema.SecurityEvent `json:"events"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("parse response: %v", err)
		}

		if len(resp.Events) != 2 {
			t.Errorf("expected 2 High events, got %d", len(resp.Events))
		}
		for _, e := range resp.Events {
			if e.Severity != schema.SeverityHigh {
				t.Errorf("filter leaked severity %s", e.Severity)
			}
		}
	})

	t.Run("invalid severity rejected", func(t *testing.T) {
		rec := h.get(t, "/api/events/recent?severity=Extreme")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestEvictionKeepsCountersConsistent(t *testing.T) {
	h := newHarness(t, 10)

	// Overfill the window by 5; the oldest 5 must be evicted and every
	// counter must follow.
	for i := 0; i < 15; i++ {
		if rec := h.post(t, validEvent("Medium")); rec.Code != http.StatusCreated {
			t.Fatalf("ingest %d: got %d", i, rec.Code)
		}
	}
	h.waitForConsumed(t, 15)

	rec := h.get(t, "/api/dashboard/stats")
	var stats struct {
		TotalEvents          int            `json:"total_events"`
		SeverityDistribution map[string]int `json:"severity_distribution"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("parse stats: %v", err)
	}

	if stats.TotalEvents != 10 {
		t.Errorf("expected windowed total 10, got %d", stats.TotalEvents)
	}
	if stats.SeverityDistribution["Medium"] != 10 {
		t.Errorf("expected 10 Medium after eviction, got %d", stats.SeverityDistribution["Medium"])
	}

	m := h.store.Metrics()
	if m.Appended != 15 {
		t.Errorf("expected lifetime appended 15, got %d", m.Appended)
	}
	if m.Evicted != 5 {
		t.Errorf("expected 5 evictions, got %d", m.Evicted)
	}
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	h := newHarness(t, 100)

	raw, _ := json.Marshal(validEvent("Low"))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "collector-42-0001")
		rec := httptest.NewRecorder()
		h.mux.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusCreated {
		t.Fatalf("first submission: expected 201, got %d", rec.Code)
	}

	rec := send()
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay: expected 409, got %d", rec.Code)
	}

	var body struct {
		ErrorKind string `json:"error_kind"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if body.ErrorKind != "DuplicateEvent" {
		t.Errorf("expected DuplicateEvent, got %q", body.ErrorKind)
	}
}

func TestQueueFullReturnsOverloaded(t *testing.T) {
	// Tiny queue with no consumer: the third event must be refused.
	q := queue.NewRingBuffer(2)
	ih := ingest.NewHandler(schema.NewValidator(), q, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", ih.HandleEvent)

	raw, _ := json.Marshal(validEvent("Info"))
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(raw))
		last = httptest.NewRecorder()
		mux.ServeHTTP(last, req)
	}

	if last.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	var body struct {
		ErrorKind string `json:"error_kind"`
		Retryable bool   `json:"retryable"`
	}
	if err := json.Unmarshal(last.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if body.ErrorKind != "Overloaded" {
		t.Errorf("expected Overloaded, got %q", body.ErrorKind)
	}
	if !body.Retryable {
		t.Error("overloaded must be marked retryable")
	}
}

func TestIncidentResolveLifecycle(t *testing.T) {
	h := newHarness(t, 100)

	rec := h.post(t, validEvent("Critical"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest: got %d", rec.Code)
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("parse ingest response: %v", err)
	}
	h.waitForConsumed(t, 1)

	if snap := h.agg.Snapshot(); snap.ActiveIncidents != 1 {
		t.Fatalf("expected 1 active incident, got %d", snap.ActiveIncidents)
	}

	resolve := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/incidents/"+id+"/resolve", nil)
		rr := httptest.NewRecorder()
		h.mux.ServeHTTP(rr, req)
		return rr
	}

	if rr := resolve(created["id"]); rr.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if snap := h.agg.Snapshot(); snap.ActiveIncidents != 0 {
		t.Errorf("expected 0 active incidents after resolve, got %d", snap.ActiveIncidents)
	}

	// Second resolve of the same id finds nothing open.
	if rr := resolve(created["id"]); rr.Code != http.StatusNotFound {
		t.Errorf("double resolve: expected 404, got %d", rr.Code)
	}

	if rr := resolve("not-a-uuid"); rr.Code != http.StatusBadRequest {
		t.Errorf("malformed id: expected 400, got %d", rr.Code)
	}
}

func TestTimelineAndHealthShapes(t *testing.T) {
	h := newHarness(t, 100)

	if rec := h.post(t, validEvent("High")); rec.Code != http.StatusCreated {
		t.Fatalf("ingest: got %d", rec.Code)
	}
	h.waitForConsumed(t, 1)

	t.Run("timeline", func(t *testing.T) {
		rec := h.get(t, "/api/timeline")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Timeline []struct {
				Time   string `json:"time"`
				Events int    `json:"events"`
				High   int    `json:"high"`
			} `json:"timeline"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("parse timeline: %v", err)
		}

		if len(resp.Timeline) != 24 {
			t.Fatalf("expected 24 buckets, got %d", len(resp.Timeline))
		}

		total, high := 0, 0
		for _, b := range resp.Timeline {
			total += b.Events
			high += b.High
		}
		if total != 1 || high != 1 {
			t.Errorf("expected the event in exactly one bucket, got events=%d high=%d", total, high)
		}
	})

	t.Run("health", func(t *testing.T) {
		rec := h.get(t, "/api/health")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("parse health: %v", err)
		}
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %v", resp["status"])
		}
		if _, ok := resp["queue_depth"]; !ok {
			t.Error("expected queue_depth in health body")
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec := h.get(t, "/metrics")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !bytes.Contains(rec.Body.Bytes(), []byte("socwatch_events_ingested_total 1")) {
			t.Errorf("missing lifetime counter in metrics output:\n%s", rec.Body.String())
		}
	})
}

// testWriter routes handler log output through the test log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimSpace(p)))
	return len(p), nil
}
