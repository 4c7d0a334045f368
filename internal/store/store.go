// Package store provides the bounded, timestamp-ordered in-memory event log.
package store

import (
	"sort"
	"sync"
	"time"

	"socwatch/internal/apierr"
	"socwatch/internal/schema"
)

// EvictFunc is invoked for every event removed by retention, so the
// aggregator can roll back the counters the event contributed to.
// Eviction must notify; events never silently vanish from the counts.
type EvictFunc func(*schema.SecurityEvent)

// Config holds retention and paging bounds for the store.
type Config struct {
	MaxEvents   int           // capacity bound, oldest evicted first
	MaxAge      time.Duration // age bound, 0 disables
	RecentLimit int           // hard cap on Recent page size
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		MaxEvents:   10000,
		MaxAge:      24 * time.Hour,
		RecentLimit: 100,
	}
}

// Store is an append-only bounded log of security events, ordered by
// timestamp with the append sequence as tie-break. Writes are serialized
// by the store mutex; readers always observe fully applied appends.
type Store struct {
	mu      sync.RWMutex
	events  []*schema.SecurityEvent
	seq     uint64
	cfg     Config
	onEvict EvictFunc

	totalAppended uint64
	totalEvicted  uint64

	now func() time.Time
}

// New creates a Store with the given configuration. onEvict may be nil.
func New(cfg Config, onEvict EvictFunc) *Store {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultConfig().RecentLimit
	}
	return &Store{
		events:  make([]*schema.SecurityEvent, 0, cfg.MaxEvents),
		cfg:     cfg,
		onEvict: onEvict,
		now:     time.Now,
	}
}

// Append inserts the event at its timestamp-ordered position, assigns the
// next sequence number, and applies retention. Returns the assigned sequence.
func (s *Store) Append(event *schema.SecurityEvent) (uint64, error) {
	if event == nil {
		return 0, apierr.New(apierr.KindInternal, "nil event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.Seq = s.seq

	// Common case: the new event is the newest; O(1) append.
	n := len(s.events)
	if n == 0 || !schema.Before(event, s.events[n-1]) {
		s.events = append(s.events, event)
	} else {
		// Late arrival: binary search for the ordered position.
		i := sort.Search(n, func(i int) bool {
			return schema.Before(event, s.events[i])
		})
		s.events = append(s.events, nil)
		copy(s.events[i+1:], s.events[i:])
		s.events[i] = event
	}

	s.totalAppended++
	s.evictLocked(s.now())

	return event.Seq, nil
}

// Recent returns up to limit events, most recent first, skipping offset
// events from the newest end. limit is capped at the configured maximum.
func (s *Store) Recent(limit, offset int) ([]*schema.SecurityEvent, error) {
	return s.RecentFiltered(limit, offset, "")
}

// RecentFiltered is Recent restricted to a single severity when severity
// is non-empty.
func (s *Store) RecentFiltered(limit, offset int, severity schema.Severity) ([]*schema.SecurityEvent, error) {
	if limit <= 0 {
		return nil, apierr.InvalidArgument("limit must be positive")
	}
	if offset < 0 {
		return nil, apierr.InvalidArgument("offset must not be negative")
	}
	if limit > s.cfg.RecentLimit {
		limit = s.cfg.RecentLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*schema.SecurityEvent, 0, limit)
	skipped := 0
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.events[i]
		if severity != "" && e.Severity != severity {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
	}

	return out, nil
}

// EvictExpired removes events older than the age bound, invoking the
// eviction callback for each. Returns the number evicted. Intended to be
// called periodically by the pipeline owner.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.totalEvicted
	s.evictLocked(s.now())
	return int(s.totalEvicted - before)
}

// evictLocked applies both retention bounds. Caller must hold the lock.
func (s *Store) evictLocked(now time.Time) {
	// Capacity bound
	for len(s.events) > s.cfg.MaxEvents {
		s.evictOldestLocked()
	}

	// Age bound
	if s.cfg.MaxAge > 0 {
		cutoff := now.Add(-s.cfg.MaxAge)
		for len(s.events) > 0 && s.events[0].Timestamp.Before(cutoff) {
			s.evictOldestLocked()
		}
	}
}

func (s *Store) evictOldestLocked() {
	evicted := s.events[0]
	s.events[0] = nil
	s.events = s.events[1:]
	s.totalEvicted++

	if s.onEvict != nil {
		s.onEvict(evicted)
	}
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Metrics returns store counters.
func (s *Store) Metrics() StoreMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreMetrics{
		Retained: len(s.events),
		Appended: s.totalAppended,
		Evicted:  s.totalEvicted,
		Capacity: s.cfg.MaxEvents,
	}
}

// StoreMetrics holds store statistics.
type StoreMetrics struct {
	Retained int    `json:"retained"`
	Appended uint64 `json:"appended"`
	Evicted  uint64 `json:"evicted"`
	Capacity int    `json:"capacity"`
}
