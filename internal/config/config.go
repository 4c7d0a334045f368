// Package config handles configuration loading for socwatch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Queue      QueueConfig      `yaml:"queue"`
	Validation ValidationConfig `yaml:"validation"`
	Store      StoreConfig      `yaml:"store"`
	Aggregate  AggregateConfig  `yaml:"aggregate"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Score      ScoreConfig      `yaml:"score"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Auth       AuthConfig       `yaml:"auth"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	MaxPayloadSize int       `yaml:"max_payload_size"`
	TCP            TCPConfig `yaml:"tcp"`
}

// TCPConfig holds settings for the newline-delimited JSON TCP listener.
type TCPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	TLSEnabled     bool          `yaml:"tls_enabled"`
	TLSCertFile    string        `yaml:"tls_cert_file"`
	TLSKeyFile     string        `yaml:"tls_key_file"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLineLength  int           `yaml:"max_line_length"`
}

// QueueConfig holds ingest queue settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// ValidationConfig holds event validation settings.
type ValidationConfig struct {
	MaxEventAge time.Duration `yaml:"max_event_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// StoreConfig holds retention settings for the in-memory event store.
type StoreConfig struct {
	MaxEvents   int           `yaml:"max_events"`
	MaxAge      time.Duration `yaml:"max_age"`
	RecentLimit int           `yaml:"recent_limit"` // cap on events/recent page size
}

// AggregateConfig holds rolling aggregation settings.
type AggregateConfig struct {
	TopAttacks   int           `yaml:"top_attacks"`
	TopCountries int           `yaml:"top_countries"`
	IncidentTTL  time.Duration `yaml:"incident_ttl"`
	RateWindow   time.Duration `yaml:"rate_window"`
	// Strict makes counter inconsistencies panic instead of publishing a
	// corrupted snapshot. Meant for staging environments.
	Strict bool `yaml:"strict"`
}

// PipelineConfig holds consumer tuning for the storage pipeline.
type PipelineConfig struct {
	EvictInterval  time.Duration `yaml:"evict_interval"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
}

// ScoreConfig holds the threat score weighting parameters.
// Weights should sum to 100; each knee is the count at which that signal
// saturates to half strength.
type ScoreConfig struct {
	IncidentWeight  float64 `yaml:"incident_weight"`
	CriticalWeight  float64 `yaml:"critical_weight"`
	UnblockedWeight float64 `yaml:"unblocked_weight"`
	RateWeight      float64 `yaml:"rate_weight"`
	IncidentKnee    float64 `yaml:"incident_knee"`
	CriticalKnee    float64 `yaml:"critical_knee"`
	RateKnee        float64 `yaml:"rate_knee"`
}

// DedupConfig holds idempotency token settings.
type DedupConfig struct {
	TTL   time.Duration `yaml:"ttl"`
	Redis RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for token dedup.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// KafkaConfig holds the optional Kafka ingest source settings.
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	MinBytes      int           `yaml:"min_bytes"`
	MaxBytes      int           `yaml:"max_bytes"`
	MaxWait       time.Duration `yaml:"max_wait"`
}

// ArchiveConfig holds long-term archive settings.
type ArchiveConfig struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	S3         S3Config         `yaml:"s3"`
}

// ClickHouseConfig holds ClickHouse connection settings for the event archive.
type ClickHouseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// S3Config holds the S3 cold-archive settings for evicted events.
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	StorageClass    string `yaml:"storage_class"`
	BatchSize       int    `yaml:"batch_size"`
}

// AuthConfig holds collector authentication settings.
type AuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
}

// CORSConfig holds CORS settings for the dashboard frontend.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Ingest: IngestConfig{
			MaxPayloadSize: 1 * 1024 * 1024, // 1MB, single event bodies
			TCP: TCPConfig{
				Enabled:        false,
				Address:        ":5515",
				MaxConnections: 1000,
				IdleTimeout:    5 * time.Minute,
				MaxLineLength:  65535,
			},
		},
		Queue: QueueConfig{
			Size: 100000,
		},
		Validation: ValidationConfig{
			MaxEventAge: 7 * 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
		},
		Store: StoreConfig{
			MaxEvents:   10000,
			MaxAge:      24 * time.Hour,
			RecentLimit: 100,
		},
		Aggregate: AggregateConfig{
			TopAttacks:   8,
			TopCountries: 5,
			IncidentTTL:  time.Hour,
			RateWindow:   time.Minute,
		},
		Pipeline: PipelineConfig{
			EvictInterval:  30 * time.Second,
			SweepInterval:  30 * time.Second,
			ResolveTimeout: 2 * time.Second,
		},
		Score: ScoreConfig{
			IncidentWeight:  40,
			CriticalWeight:  35,
			UnblockedWeight: 15,
			RateWeight:      10,
			IncidentKnee:    4,
			CriticalKnee:    8,
			RateKnee:        2, // events per second
		},
		Dedup: DedupConfig{
			TTL: 10 * time.Minute,
			Redis: RedisConfig{
				Enabled:      false,
				Addr:         "localhost:6379",
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			Topic:         "socwatch.events",
			ConsumerGroup: "socwatch",
			MinBytes:      1,
			MaxBytes:      10 * 1024 * 1024,
			MaxWait:       500 * time.Millisecond,
		},
		Archive: ArchiveConfig{
			ClickHouse: ClickHouseConfig{
				Enabled:         false,
				Hosts:           []string{"localhost:9000"},
				Database:        "socwatch",
				Username:        "default",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				DialTimeout:     10 * time.Second,
				BatchSize:       1000,
				FlushInterval:   5 * time.Second,
				MaxRetries:      3,
				RetryDelay:      time.Second,
			},
			S3: S3Config{
				Enabled:      false,
				Region:       "us-east-1",
				Bucket:       "socwatch-archive",
				Prefix:       "evicted/",
				StorageClass: "INTELLIGENT_TIERING",
				BatchSize:    5000,
			},
		},
		Auth: AuthConfig{
			Enabled:      false,
			APIKeyHeader: "X-API-Key",
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "Idempotency-Key"},
			MaxAge:         86400,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 1000,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/api/health", "/metrics"},
			TrustProxy:    false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SOCWATCH_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SOCWATCH_HTTP_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			c.Server.HTTPPort = v
		}
	}

	if level := os.Getenv("SOCWATCH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if apiKey := os.Getenv("SOCWATCH_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	if v := os.Getenv("SOCWATCH_STORE_MAX_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.MaxEvents = n
		}
	}

	if v := os.Getenv("SOCWATCH_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitAndTrim(v, ",")
		c.Kafka.Enabled = true
	}

	if v := os.Getenv("SOCWATCH_REDIS_ADDR"); v != "" {
		c.Dedup.Redis.Addr = v
		c.Dedup.Redis.Enabled = true
	}

	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.Archive.ClickHouse.Hosts = []string{v}
		c.Archive.ClickHouse.Enabled = true
	}

	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.Archive.ClickHouse.Password = v
	}

	if origins := os.Getenv("SOCWATCH_CORS_ORIGINS"); origins != "" {
		c.CORS.AllowedOrigins = splitAndTrim(origins, ",")
	}

	if v := os.Getenv("SOCWATCH_RATELIMIT_ENABLED"); v == "false" {
		c.RateLimit.Enabled = false
	}
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}

	if c.Store.MaxEvents <= 0 {
		return fmt.Errorf("store max_events must be positive")
	}

	if c.Store.RecentLimit <= 0 {
		return fmt.Errorf("store recent_limit must be positive")
	}

	if c.Aggregate.TopAttacks <= 0 {
		return fmt.Errorf("aggregate top_attacks must be positive")
	}

	if c.Aggregate.IncidentTTL <= 0 {
		return fmt.Errorf("aggregate incident_ttl must be positive")
	}

	if c.Pipeline.EvictInterval <= 0 {
		return fmt.Errorf("pipeline evict_interval must be positive")
	}

	if c.Pipeline.SweepInterval <= 0 {
		return fmt.Errorf("pipeline sweep_interval must be positive")
	}

	if c.Pipeline.ResolveTimeout <= 0 {
		return fmt.Errorf("pipeline resolve_timeout must be positive")
	}

	total := c.Score.IncidentWeight + c.Score.CriticalWeight +
		c.Score.UnblockedWeight + c.Score.RateWeight
	if total <= 0 {
		return fmt.Errorf("score weights must sum to a positive value")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}

	if c.Archive.S3.Enabled && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("s3 archive enabled but no bucket configured")
	}

	return nil
}
