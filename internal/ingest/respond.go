package ingest

import (
	"encoding/json"
	"errors"
	"net/http"

	"socwatch/internal/apierr"
)

// errorBody is the JSON shape of every ingest error response.
type errorBody struct {
	ErrorKind apierr.Kind `json:"error_kind"`
	Field     string      `json:"field,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Retryable bool        `json:"retryable"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
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
	}

	writeJSON(w, apierr.HTTPStatus(kind), body)
}

// IngestStats reports intake counters for the metrics endpoint.
type IngestStats struct {
	Accepted   uint64
	Rejected   uint64
	Duplicates uint64
	Dropped    uint64
}

// Stats returns the handler's lifetime intake counters.
func (h *Handler) Stats() IngestStats {
	return IngestStats{
		Accepted:   h.eventsTotal.Load(),
		Rejected:   h.rejectedTotal.Load(),
		Duplicates: h.duplicateTotal.Load(),
		Dropped:    h.droppedTotal.Load(),
	}
}
