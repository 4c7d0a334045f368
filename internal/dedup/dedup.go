// Package dedup suppresses duplicate event submissions keyed by client
// idempotency keys.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Deduper records idempotency keys and reports replays within the TTL.
// Checking and recording are separate so a key is only burned once its
// event has actually been accepted; a rejected or overloaded submission
// may retry with the same key.
type Deduper interface {
	// Seen reports whether the key was recorded inside the dedup window.
	Seen(ctx context.Context, key string) (bool, error)
	// Record marks the key as used for the length of the dedup window.
	Record(ctx context.Context, key string) error
	Close() error
}

// Memory is a process-local Deduper backed by a TTL map. A background
// goroutine prunes expired keys.
type Memory struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	stopCh  chan struct{}
	stopped sync.Once
}

// NewMemory creates a Memory deduper with the given dedup window.
func NewMemory(ttl time.Duration) *Memory {
	m := &Memory{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Seen implements Deduper. It never returns an error.
func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.seen[key]
	return ok && now.Sub(at) < m.ttl, nil
}

// Record implements Deduper. It never returns an error.
func (m *Memory) Record(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key] = time.Now()
	return nil
}

// Close stops the cleanup goroutine.
func (m *Memory) Close() error {
	m.stopped.Do(func() { close(m.stopCh) })
	return nil
}

func (m *Memory) cleanupLoop() {
	interval := m.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Memory) cleanup() {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, at := range m.seen {
		if at.Before(cutoff) {
			delete(m.seen, key)
		}
	}
}
