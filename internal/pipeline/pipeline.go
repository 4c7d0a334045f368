// Package pipeline runs the single consumer that moves validated events
// from the ingest queue into the store and the aggregation counters. All
// writes to both happen on one goroutine, so readers only ever observe
// snapshots taken between complete append units.
package pipeline

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"socwatch/internal/aggregate"
	"socwatch/internal/apierr"
	"socwatch/internal/queue"
	"socwatch/internal/schema"
	"socwatch/internal/store"
)

const popTimeout = 100 * time.Millisecond

// Sink receives events after they are durably appended. Implementations
// must not block; slow destinations buffer internally.
type Sink interface {
	Write(event *schema.SecurityEvent)
}

// Config holds pipeline tuning parameters.
type Config struct {
	// EvictInterval is how often expired events are swept from the store.
	EvictInterval time.Duration
	// SweepInterval is how often idle incidents are auto-resolved.
	SweepInterval time.Duration
	// ResolveTimeout bounds how long a resolve request may wait for the
	// writer before failing with a timeout.
	ResolveTimeout time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		EvictInterval:  30 * time.Second,
		SweepInterval:  30 * time.Second,
		ResolveTimeout: 2 * time.Second,
	}
}

type resolveRequest struct {
	id    uuid.UUID
	reply chan bool
}

// Pipeline drains the ingest queue into the store and aggregator.
type Pipeline struct {
	cfg    Config
	queue  *queue.RingBuffer
	store  *store.Store
	agg    *aggregate.Aggregator
	sinks  []Sink
	logger *slog.Logger

	resolveCh chan resolveRequest
	stopCh    chan struct{}
	doneCh    chan struct{}

	consumed atomic.Uint64
	resolved atomic.Uint64
}

// New creates a Pipeline. Sinks receive every appended event in order.
func New(cfg Config, q *queue.RingBuffer, st *store.Store, agg *aggregate.Aggregator, logger *slog.Logger, sinks ...Sink) *Pipeline {
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = DefaultConfig().EvictInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultConfig().ResolveTimeout
	}
	return &Pipeline{
		cfg:       cfg,
		queue:     q,
		store:     st,
		agg:       agg,
		sinks:     sinks,
		logger:    logger.With("component", "pipeline"),
		resolveCh: make(chan resolveRequest),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (p *Pipeline) Start() {
	go p.run()
	p.logger.Info("pipeline started",
		"evict_interval", p.cfg.EvictInterval,
		"sweep_interval", p.cfg.SweepInterval)
}

// Stop drains events already admitted to the queue, then stops the
// consumer. Events accepted before Stop are never dropped.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	<-p.doneCh
	p.logger.Info("pipeline stopped", "events_consumed", p.consumed.Load())
}

// Resolve marks the incident for the event id as resolved. It hands the
// request to the writer goroutine so incident state is never mutated
// concurrently with appends. Returns apierr.ErrNotFound when no incident
// is open for the id and apierr.ErrTimeout when the writer is too far
// behind to answer in time.
func (p *Pipeline) Resolve(id uuid.UUID) error {
	req := resolveRequest{id: id, reply: make(chan bool, 1)}

	timer := time.NewTimer(p.cfg.ResolveTimeout)
	defer timer.Stop()

	select {
	case p.resolveCh <- req:
	case <-p.doneCh:
		return apierr.ErrTimeout
	case <-timer.C:
		return apierr.ErrTimeout
	}

	select {
	case ok := <-req.reply:
		if !ok {
			return apierr.ErrNotFound
		}
		p.resolved.Add(1)
		return nil
	case <-timer.C:
		return apierr.ErrTimeout
	}
}

// Consumed reports how many events the pipeline has appended since start.
func (p *Pipeline) Consumed() uint64 {
	return p.consumed.Load()
}

func (p *Pipeline) run() {
	defer close(p.doneCh)

	evictTick := time.NewTicker(p.cfg.EvictInterval)
	defer evictTick.Stop()
	sweepTick := time.NewTicker(p.cfg.SweepInterval)
	defer sweepTick.Stop()

	for {
		select {
		case <-p.stopCh:
			p.drain()
			return

		case req := <-p.resolveCh:
			ok := p.agg.Resolve(req.id)
			if ok {
				p.agg.Publish()
			}
			req.reply <- ok

		case <-evictTick.C:
			if n := p.store.EvictExpired(); n > 0 {
				p.agg.Publish()
				p.logger.Debug("expired events evicted", "count", n)
			}

		case <-sweepTick.C:
			if n := p.agg.Sweep(); n > 0 {
				p.agg.Publish()
				p.logger.Debug("idle incidents auto-resolved", "count", n)
			}

		default:
			event, err := p.queue.PopWithTimeout(popTimeout)
			if err != nil {
				if err == queue.ErrQueueClosed {
					p.drain()
					return
				}
				continue
			}
			p.consume(event)
		}
	}
}

// consume appends one event and republishes the snapshot. The aggregator
// must see the append before the store applies retention: a late arrival
// already past the retention cutoff is evicted inside Append itself, and
// that eviction callback has to reverse a roll-up that already happened.
// Eviction callbacks run synchronously on this goroutine, so append and
// any eviction it triggers stay one unit.
func (p *Pipeline) consume(event *schema.SecurityEvent) {
	p.agg.OnAppend(event)
	if _, err := p.store.Append(event); err != nil {
		p.agg.OnEvict(event)
		p.logger.Error("append failed", "event_id", event.ID, "error", err)
		return
	}
	p.agg.Publish()
	p.consumed.Add(1)

	for _, s := range p.sinks {
		s.Write(event)
	}
}

func (p *Pipeline) drain() {
	for {
		event, err := p.queue.PopWithTimeout(popTimeout)
		if err != nil {
			return
		}
		p.consume(event)
	}
}
