package api

import (
	"fmt"
	"net/http"
	"time"
)

// HandleMetrics handles GET /metrics in Prometheus text format.
func (api *API) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	qm := api.queue.Metrics()
	sm := api.store.Metrics()
	is := api.ingest.Stats()
	snap := api.agg.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP socwatch_events_ingested_total Lifetime count of events appended to the store\n")
	fmt.Fprintf(w, "# TYPE socwatch_events_ingested_total counter\n")
	fmt.Fprintf(w, "socwatch_events_ingested_total %d\n\n", sm.Appended)

	fmt.Fprintf(w, "# HELP socwatch_events_evicted_total Lifetime count of events evicted from the retention window\n")
	fmt.Fprintf(w, "# TYPE socwatch_events_evicted_total counter\n")
	fmt.Fprintf(w, "socwatch_events_evicted_total %d\n\n", sm.Evicted)

	fmt.Fprintf(w, "# HELP socwatch_events_retained Current number of retained events\n")
	fmt.Fprintf(w, "# TYPE socwatch_events_retained gauge\n")
	fmt.Fprintf(w, "socwatch_events_retained %d\n\n", sm.Retained)

	fmt.Fprintf(w, "# HELP socwatch_http_accepted_total Events accepted over HTTP\n")
	fmt.Fprintf(w, "# TYPE socwatch_http_accepted_total counter\n")
	fmt.Fprintf(w, "socwatch_http_accepted_total %d\n\n", is.Accepted)

	fmt.Fprintf(w, "# HELP socwatch_http_rejected_total Events rejected as invalid over HTTP\n")
	fmt.Fprintf(w, "# TYPE socwatch_http_rejected_total counter\n")
	fmt.Fprintf(w, "socwatch_http_rejected_total %d\n\n", is.Rejected)

	fmt.Fprintf(w, "# HELP socwatch_http_duplicates_total Events rejected as idempotency-key replays\n")
	fmt.Fprintf(w, "# TYPE socwatch_http_duplicates_total counter\n")
	fmt.Fprintf(w, "socwatch_http_duplicates_total %d\n\n", is.Duplicates)

	fmt.Fprintf(w, "# HELP socwatch_http_overloaded_total Events refused because the queue was full\n")
	fmt.Fprintf(w, "# TYPE socwatch_http_overloaded_total counter\n")
	fmt.Fprintf(w, "socwatch_http_overloaded_total %d\n\n", is.Dropped)

	fmt.Fprintf(w, "# HELP socwatch_queue_depth Current ingest queue depth\n")
	fmt.Fprintf(w, "# TYPE socwatch_queue_depth gauge\n")
	fmt.Fprintf(w, "socwatch_queue_depth %d\n\n", qm.Depth)

	fmt.Fprintf(w, "# HELP socwatch_queue_capacity Ingest queue capacity\n")
	fmt.Fprintf(w, "# TYPE socwatch_queue_capacity gauge\n")
	fmt.Fprintf(w, "socwatch_queue_capacity %d\n\n", qm.Capacity)

	fmt.Fprintf(w, "# HELP socwatch_queue_dropped_total Events dropped because the queue was full\n")
	fmt.Fprintf(w, "# TYPE socwatch_queue_dropped_total counter\n")
	fmt.Fprintf(w, "socwatch_queue_dropped_total %d\n\n", qm.Dropped)

	fmt.Fprintf(w, "# HELP socwatch_threat_score Current composite threat score\n")
	fmt.Fprintf(w, "# TYPE socwatch_threat_score gauge\n")
	fmt.Fprintf(w, "socwatch_threat_score %d\n\n", snap.ThreatScore)

	fmt.Fprintf(w, "# HELP socwatch_active_incidents Currently open incidents\n")
	fmt.Fprintf(w, "# TYPE socwatch_active_incidents gauge\n")
	fmt.Fprintf(w, "socwatch_active_incidents %d\n\n", snap.ActiveIncidents)

	fmt.Fprintf(w, "# HELP socwatch_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE socwatch_uptime_seconds gauge\n")
	fmt.Fprintf(w, "socwatch_uptime_seconds %d\n", int(time.Since(api.startTime).Seconds()))
}
