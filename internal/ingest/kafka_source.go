package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"socwatch/internal/config"
	"socwatch/internal/queue"
	"socwatch/internal/schema"
)

// KafkaSourceMetrics holds counters for the Kafka ingest source.
type KafkaSourceMetrics struct {
	Consumed uint64
	Queued   uint64
	Errors   uint64
}

// KafkaSource consumes JSON-encoded events from a Kafka topic and feeds
// them into the ingest queue. Bad messages are counted, logged and
// committed anyway; a poisoned record must not wedge the partition.
type KafkaSource struct {
	reader    *kafka.Reader
	validator *schema.Validator
	queue     *queue.RingBuffer
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	consumed atomic.Uint64
	queued   atomic.Uint64
	errors   atomic.Uint64
}

// NewKafkaSource creates a Kafka ingest source from configuration.
func NewKafkaSource(cfg config.KafkaConfig, validator *schema.Validator, q *queue.RingBuffer, logger *slog.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}

	logger = logger.With("component", "kafka-source")

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.ConsumerGroup,
		Topic:          cfg.Topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "source", "kafka-reader")
		}),
	})

	logger.Info("kafka source initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"group", cfg.ConsumerGroup,
	)

	return &KafkaSource{
		reader:    reader,
		validator: validator,
		queue:     q,
		logger:    logger,
	}, nil
}

// Start begins consuming in a goroutine.
func (s *KafkaSource) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consumeLoop(ctx)
	}()
}

func (s *KafkaSource) consumeLoop(ctx context.Context) {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.errors.Add(1)
			s.logger.Error("failed to fetch message", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		s.consumed.Add(1)
		s.processMessage(msg)

		if err := s.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("failed to commit offset", "error", err, "offset", msg.Offset)
		}
	}
}

func (s *KafkaSource) processMessage(msg kafka.Message) {
	var input EventInput
	if err := json.Unmarshal(msg.Value, &input); err != nil {
		s.errors.Add(1)
		s.logger.Warn("undecodable kafka message",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return
	}

	event := convertInput(input)

	if err := s.validator.Validate(event); err != nil {
		s.errors.Add(1)
		s.logger.Warn("invalid kafka event",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return
	}

	if err := s.queue.Push(event); err != nil {
		s.errors.Add(1)
		return
	}
	s.queued.Add(1)
}

// Stop cancels the consume loop and closes the reader.
func (s *KafkaSource) Stop() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Info("kafka source stopped",
		"consumed", s.consumed.Load(),
		"queued", s.queued.Load(),
		"errors", s.errors.Load(),
	)

	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("kafka: close reader: %w", err)
	}
	return nil
}

// Metrics returns the current source counters.
func (s *KafkaSource) Metrics() KafkaSourceMetrics {
	return KafkaSourceMetrics{
		Consumed: s.consumed.Load(),
		Queued:   s.queued.Load(),
		Errors:   s.errors.Load(),
	}
}
