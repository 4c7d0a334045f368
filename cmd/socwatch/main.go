// Package main is the entry point for the socwatch service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socwatch/internal/aggregate"
	"socwatch/internal/api"
	"socwatch/internal/archive"
	"socwatch/internal/config"
	"socwatch/internal/dedup"
	"socwatch/internal/ingest"
	"socwatch/internal/middleware"
	"socwatch/internal/pipeline"
	"socwatch/internal/queue"
	"socwatch/internal/schema"
	"socwatch/internal/score"
	"socwatch/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"queue_size", cfg.Queue.Size,
		"store_max_events", cfg.Store.MaxEvents,
		"auth_enabled", cfg.Auth.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
	)

	logger := slog.Default()
	ctx := context.Background()

	validator := schema.NewValidatorWithConfig(schema.ValidatorConfig{
		MaxAge:    cfg.Validation.MaxEventAge,
		MaxFuture: cfg.Validation.MaxFuture,
	})

	eventQueue := queue.NewRingBuffer(cfg.Queue.Size)

	// Idempotency dedup: Redis when configured, in-process otherwise.
	var deduper dedup.Deduper
	if cfg.Dedup.Redis.Enabled {
		deduper, err = dedup.NewRedis(ctx, cfg.Dedup.Redis, cfg.Dedup.TTL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("redis dedup enabled", "addr", cfg.Dedup.Redis.Addr)
	} else {
		deduper = dedup.NewMemory(cfg.Dedup.TTL)
	}

	agg := aggregate.New(aggregate.Config{
		TopAttacks:   cfg.Aggregate.TopAttacks,
		TopCountries: cfg.Aggregate.TopCountries,
		IncidentTTL:  cfg.Aggregate.IncidentTTL,
		RateWindow:   cfg.Aggregate.RateWindow,
		Strict:       cfg.Aggregate.Strict,
	}, score.Weights{
		Incident:     cfg.Score.IncidentWeight,
		Critical:     cfg.Score.CriticalWeight,
		Unblocked:    cfg.Score.UnblockedWeight,
		Rate:         cfg.Score.RateWeight,
		IncidentKnee: cfg.Score.IncidentKnee,
		CriticalKnee: cfg.Score.CriticalKnee,
		RateKnee:     cfg.Score.RateKnee,
	})

	// Optional cold archive of evicted events.
	var s3Archiver *archive.S3Archiver
	if cfg.Archive.S3.Enabled {
		s3Archiver, err = archive.NewS3Archiver(ctx, cfg.Archive.S3, logger)
		if err != nil {
			slog.Error("failed to start s3 archive", "error", err)
			os.Exit(1)
		}
	}

	eventStore := store.New(store.Config{
		MaxEvents:   cfg.Store.MaxEvents,
		MaxAge:      cfg.Store.MaxAge,
		RecentLimit: cfg.Store.RecentLimit,
	}, func(event *schema.SecurityEvent) {
		agg.OnEvict(event)
		if s3Archiver != nil {
			s3Archiver.Write(event)
		}
	})

	// Optional analytical archive of every appended event.
	var sinks []pipeline.Sink
	var chWriter *archive.ClickHouseWriter
	if cfg.Archive.ClickHouse.Enabled {
		chWriter, err = archive.NewClickHouseWriter(ctx, cfg.Archive.ClickHouse, logger)
		if err != nil {
			slog.Error("failed to start clickhouse archive", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, chWriter)
	}

	pipe := pipeline.New(pipeline.Config{
		EvictInterval:  cfg.Pipeline.EvictInterval,
		SweepInterval:  cfg.Pipeline.SweepInterval,
		ResolveTimeout: cfg.Pipeline.ResolveTimeout,
	}, eventQueue, eventStore, agg, logger, sinks...)
	pipe.Start()

	ingestHandler := ingest.NewHandler(validator, eventQueue, deduper).
		WithMaxPayload(cfg.Ingest.MaxPayloadSize)

	queryAPI := api.New(eventStore, agg, pipe, eventQueue, ingestHandler, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", ingestHandler.HandleEvent)
	mux.HandleFunc("GET /metrics", queryAPI.HandleMetrics)
	queryAPI.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      middleware.Chain(mux, cfg, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Optional collector transports.
	var tcpServer *ingest.TCPServer
	if cfg.Ingest.TCP.Enabled {
		tcpServer = ingest.NewTCPServer(ingest.TCPServerConfig{
			Address:        cfg.Ingest.TCP.Address,
			TLSEnabled:     cfg.Ingest.TCP.TLSEnabled,
			TLSCertFile:    cfg.Ingest.TCP.TLSCertFile,
			TLSKeyFile:     cfg.Ingest.TCP.TLSKeyFile,
			MaxConnections: cfg.Ingest.TCP.MaxConnections,
			IdleTimeout:    cfg.Ingest.TCP.IdleTimeout,
			MaxLineLength:  cfg.Ingest.TCP.MaxLineLength,
		}, validator, eventQueue)
		if err := tcpServer.Start(ctx); err != nil {
			slog.Error("failed to start tcp listener", "error", err)
			os.Exit(1)
		}
	}

	var kafkaSource *ingest.KafkaSource
	if cfg.Kafka.Enabled {
		kafkaSource, err = ingest.NewKafkaSource(cfg.Kafka, validator, eventQueue, logger)
		if err != nil {
			slog.Error("failed to start kafka source", "error", err)
			os.Exit(1)
		}
		kafkaSource.Start()
	}

	go func() {
		slog.Info("starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop sources first so nothing new enters the queue, then drain it.
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if tcpServer != nil {
		tcpServer.Stop()
	}
	if kafkaSource != nil {
		if err := kafkaSource.Stop(); err != nil {
			slog.Error("kafka source stop error", "error", err)
		}
	}

	pipe.Stop()
	eventQueue.Close()

	if chWriter != nil {
		if err := chWriter.Close(); err != nil {
			slog.Error("clickhouse archive close error", "error", err)
		}
	}
	if s3Archiver != nil {
		if err := s3Archiver.Close(); err != nil {
			slog.Error("s3 archive close error", "error", err)
		}
	}
	if err := deduper.Close(); err != nil {
		slog.Error("deduper close error", "error", err)
	}

	storeMetrics := eventStore.Metrics()
	queueMetrics := eventQueue.Metrics()
	slog.Info("shutdown complete",
		"events_ingested", storeMetrics.Appended,
		"events_evicted", storeMetrics.Evicted,
		"events_retained", storeMetrics.Retained,
		"queue_dropped", queueMetrics.Dropped,
	)
}

// setupLogging configures the default slog logger from config.
func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
