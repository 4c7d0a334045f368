package aggregate

import (
	"time"

	"github.com/google/uuid"

	"socwatch/internal/schema"
)

// incident tracks the Open lifecycle of a sufficiently severe event.
// An incident leaves the tracker when it resolves (explicitly or by TTL)
// or when its event is evicted from the store; Resolved is terminal.
type incident struct {
	id         uuid.UUID
	attackType string
	sourceIP   string
	lastSeen   time.Time
}

// corrKey groups incidents corroborated by the same attack type and source.
func corrKey(attackType, sourceIP string) string {
	return attackType + "\x00" + sourceIP
}

// incidentTracker holds all Open incidents, indexed by id and by
// corroboration key. Not safe for concurrent use; owned by the Aggregator.
type incidentTracker struct {
	open  map[uuid.UUID]*incident
	byKey map[string]map[uuid.UUID]*incident
	ttl   time.Duration
}

func newIncidentTracker(ttl time.Duration) *incidentTracker {
	return &incidentTracker{
		open:  make(map[uuid.UUID]*incident),
		byKey: make(map[string]map[uuid.UUID]*incident),
		ttl:   ttl,
	}
}

// observe records an event. Events of severity Critical or High open an
// incident; any event refreshes open incidents sharing its type and source.
func (t *incidentTracker) observe(e *schema.SecurityEvent, now time.Time) {
	// Corroboration: matching traffic keeps related incidents alive.
	key := corrKey(e.AttackType, e.SourceIP)
	for _, inc := range t.byKey[key] {
		inc.lastSeen = now
	}

	if !e.Severity.AtLeast(schema.SeverityHigh) {
		return
	}

	inc := &incident{
		id:         e.ID,
		attackType: e.AttackType,
		sourceIP:   e.SourceIP,
		lastSeen:   now,
	}
	t.open[e.ID] = inc

	set, ok := t.byKey[key]
	if !ok {
		set = make(map[uuid.UUID]*incident)
		t.byKey[key] = set
	}
	set[e.ID] = inc
}

// resolve closes the incident. Returns true if it was open; a second
// resolve of the same id is a no-op.
func (t *incidentTracker) resolve(id uuid.UUID) bool {
	inc, ok := t.open[id]
	if !ok {
		return false
	}
	t.remove(inc)
	return true
}

// drop removes the incident for an evicted event, if still open.
func (t *incidentTracker) drop(id uuid.UUID) bool {
	inc, ok := t.open[id]
	if !ok {
		return false
	}
	t.remove(inc)
	return true
}

// sweep auto-resolves incidents idle past the TTL. Returns the ids closed.
func (t *incidentTracker) sweep(now time.Time) []uuid.UUID {
	if t.ttl <= 0 {
		return nil
	}

	cutoff := now.Add(-t.ttl)
	var expired []uuid.UUID
	for id, inc := range t.open {
		if inc.lastSeen.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		t.remove(t.open[id])
	}
	return expired
}

func (t *incidentTracker) remove(inc *incident) {
	delete(t.open, inc.id)

	key := corrKey(inc.attackType, inc.sourceIP)
	if set, ok := t.byKey[key]; ok {
		delete(set, inc.id)
		if len(set) == 0 {
			delete(t.byKey, key)
		}
	}
}

// active returns the number of open incidents.
func (t *incidentTracker) active() int {
	return len(t.open)
}
