// Package ingest handles event intake over HTTP, TCP and Kafka. Every
// source funnels through the same validate-then-enqueue path; the queue is
// the only hand-off point to the storage pipeline.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"socwatch/internal/apierr"
	"socwatch/internal/dedup"
	"socwatch/internal/queue"
	"socwatch/internal/schema"
)

// Handler handles HTTP event ingestion.
type Handler struct {
	validator  *schema.Validator
	queue      *queue.RingBuffer
	deduper    dedup.Deduper
	maxPayload int
	startTime  time.Time

	eventsTotal    atomic.Uint64
	rejectedTotal  atomic.Uint64
	duplicateTotal atomic.Uint64
	droppedTotal   atomic.Uint64
}

// NewHandler creates a new ingest Handler.
func NewHandler(validator *schema.Validator, q *queue.RingBuffer, deduper dedup.Deduper) *Handler {
	return &Handler{
		validator:  validator,
		queue:      q,
		deduper:    deduper,
		maxPayload: 1 << 20, // 1MB default
		startTime:  time.Now(),
	}
}

// WithMaxPayload sets the maximum payload size.
func (h *Handler) WithMaxPayload(size int) *Handler {
	h.maxPayload = size
	return h
}

// EventInput is the wire format for a submitted event. The id and
// received_at fields are server-assigned and ignored on input.
type EventInput struct {
	Timestamp     time.Time       `json:"timestamp"`
	Severity      schema.Severity `json:"severity"`
	AttackType    string          `json:"attack_type"`
	SourceIP      string          `json:"source_ip"`
	Description   string          `json:"description,omitempty"`
	DestinationIP string          `json:"destination_ip,omitempty"`
	Country       string          `json:"country,omitempty"`
	AffectedAsset string          `json:"affected_asset,omitempty"`
	Port          int             `json:"port,omitempty"`
	Protocol      string          `json:"protocol,omitempty"`
	Blocked       bool            `json:"blocked,omitempty"`
}

// HandleEvent handles POST /events.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))

	var input EventInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.rejectedTotal.Add(1)
		writeError(w, decodeError(err))
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.deduper != nil {
		// Dedup failures fail open: a lost duplicate check must not
		// block ingestion.
		if seen, err := h.deduper.Seen(r.Context(), key); err == nil && seen {
			h.duplicateTotal.Add(1)
			writeError(w, apierr.New(apierr.KindDuplicateEvent,
				fmt.Sprintf("idempotency key %q already used", key)))
			return
		}
	}

	event := convertInput(input)
	if err := h.validator.Validate(event); err != nil {
		h.rejectedTotal.Add(1)
		writeError(w, err)
		return
	}

	if err := h.queue.Push(event); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			h.droppedTotal.Add(1)
			w.Header().Set("Retry-After", "1")
			writeError(w, apierr.New(apierr.KindOverloaded, "ingest queue is full, retry with backoff"))
			return
		}
		writeError(w, apierr.New(apierr.KindInternal, "event could not be accepted"))
		return
	}

	// The key is burned only once the event is admitted: a 400 or 503
	// response leaves it free for the documented retry.
	if key != "" && h.deduper != nil {
		h.deduper.Record(r.Context(), key)
	}

	h.eventsTotal.Add(1)
	writeJSON(w, http.StatusCreated, map[string]string{"id": event.ID.String()})
}

// convertInput builds the canonical event, assigning the server-side id
// and arrival time.
func convertInput(input EventInput) *schema.SecurityEvent {
	return &schema.SecurityEvent{
		ID:            uuid.New(),
		Timestamp:     input.Timestamp,
		Severity:      input.Severity,
		AttackType:    input.AttackType,
		SourceIP:      input.SourceIP,
		Description:   input.Description,
		DestinationIP: input.DestinationIP,
		Country:       input.Country,
		AffectedAsset: input.AffectedAsset,
		Port:          input.Port,
		Protocol:      input.Protocol,
		Blocked:       input.Blocked,
		ReceivedAt:    time.Now().UTC(),
	}
}

// decodeError maps a JSON decode failure onto the error taxonomy. A
// malformed timestamp string is the one decode failure callers can act
// on, so it keeps its own kind.
func decodeError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return apierr.Newf(apierr.KindInvalidArgument, "payload exceeds %d bytes", maxBytes.Limit)
	}
	var parseErr *time.ParseError
	if errors.As(err, &parseErr) {
		return apierr.InvalidTimestamp("timestamp is not valid RFC 3339")
	}
	return apierr.New(apierr.KindInvalidArgument, "request body is not valid JSON")
}
