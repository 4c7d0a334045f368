// Package archive provides optional long-term destinations for events:
// a ClickHouse table for analytical queries over the full history, and an
// S3 bucket for cold storage of events evicted from the in-memory window.
// Both accept events without blocking the storage pipeline.
package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"socwatch/internal/config"
	"socwatch/internal/schema"
)

const eventsTableDDL = `
CREATE TABLE IF NOT EXISTS security_events (
	id             UUID,
	timestamp      DateTime64(3),
	received_at    DateTime64(3),
	severity       LowCardinality(String),
	attack_type    LowCardinality(String),
	source_ip      String,
	destination_ip String,
	country        LowCardinality(String),
	affected_asset String,
	port           UInt16,
	protocol       LowCardinality(String),
	blocked        UInt8,
	description    String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (timestamp, severity)
`

// ClickHouseWriter batches events into a ClickHouse table. Write never
// blocks: events queue in an internal channel and a worker goroutine
// flushes them in batches. When the channel is full, events are dropped
// and counted; the archive is best-effort by design.
type ClickHouseWriter struct {
	conn   driver.Conn
	cfg    config.ClickHouseConfig
	logger *slog.Logger

	in     chan *schema.SecurityEvent
	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	batches atomic.Uint64
}

// NewClickHouseWriter connects, creates the events table if needed and
// starts the flush worker.
func NewClickHouseWriter(ctx context.Context, cfg config.ClickHouseConfig, logger *slog.Logger) (*ClickHouseWriter, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	if err := conn.Exec(ctx, eventsTableDDL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ensure table: %w", err)
	}

	w := &ClickHouseWriter{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("component", "clickhouse-archive"),
		in:     make(chan *schema.SecurityEvent, cfg.BatchSize*4),
		done:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("clickhouse archive started",
		"hosts", cfg.Hosts,
		"database", cfg.Database,
		"batch_size", cfg.BatchSize,
	)

	return w, nil
}

// Write queues an event for archival. Never blocks.
func (w *ClickHouseWriter) Write(event *schema.SecurityEvent) {
	select {
	case w.in <- event:
	default:
		w.dropped.Add(1)
	}
}

func (w *ClickHouseWriter) flushLoop() {
	defer w.wg.Done()

	batch := make([]*schema.SecurityEvent, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.insertWithRetry(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-w.in:
			batch = append(batch, event)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case event := <-w.in:
					batch = append(batch, event)
					if len(batch) >= w.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *ClickHouseWriter) insertWithRetry(events []*schema.SecurityEvent) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.cfg.RetryDelay * time.Duration(attempt))
		}

		if err := w.insertBatch(events); err != nil {
			lastErr = err
			w.logger.Warn("batch insert failed, retrying",
				"attempt", attempt+1,
				"max_retries", w.cfg.MaxRetries,
				"error", err,
			)
			continue
		}

		w.written.Add(uint64(len(events)))
		w.batches.Add(1)
		return
	}

	w.failed.Add(uint64(len(events)))
	w.logger.Error("batch insert abandoned",
		"count", len(events),
		"error", lastErr,
	)
}

func (w *ClickHouseWriter) insertBatch(events []*schema.SecurityEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO security_events (
			id, timestamp, received_at, severity, attack_type,
			source_ip, destination_ip, country, affected_asset,
			port, protocol, blocked, description
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, event := range events {
		blocked := uint8(0)
		if event.Blocked {
			blocked = 1
		}

		err := batch.Append(
			event.ID,
			event.Timestamp,
			event.ReceivedAt,
			string(event.Severity),
			event.AttackType,
			event.SourceIP,
			event.DestinationIP,
			event.Country,
			event.AffectedAsset,
			uint16(event.Port),
			event.Protocol,
			blocked,
			event.Description,
		)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	w.logger.Debug("batch inserted", "count", len(events))
	return nil
}

// Close flushes pending events and closes the connection.
func (w *ClickHouseWriter) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	close(w.done)
	w.wg.Wait()

	w.logger.Info("clickhouse archive stopped",
		"written", w.written.Load(),
		"dropped", w.dropped.Load(),
		"failed", w.failed.Load(),
	)

	return w.conn.Close()
}

// ClickHouseMetrics reports archive counters.
type ClickHouseMetrics struct {
	Written uint64
	Dropped uint64
	Failed  uint64
	Batches uint64
}

// Metrics returns the current archive counters.
func (w *ClickHouseWriter) Metrics() ClickHouseMetrics {
	return ClickHouseMetrics{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		Batches: w.batches.Load(),
	}
}
