package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected HTTPPort 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Queue.Size != 100000 {
		t.Errorf("expected Queue.Size 100000, got %d", cfg.Queue.Size)
	}
	if cfg.Store.MaxEvents != 10000 {
		t.Errorf("expected Store.MaxEvents 10000, got %d", cfg.Store.MaxEvents)
	}

	// Pipeline tuning has its own section; each knob is independent.
	if cfg.Pipeline.EvictInterval != 30*time.Second {
		t.Errorf("expected EvictInterval 30s, got %v", cfg.Pipeline.EvictInterval)
	}
	if cfg.Pipeline.SweepInterval != 30*time.Second {
		t.Errorf("expected SweepInterval 30s, got %v", cfg.Pipeline.SweepInterval)
	}
	if cfg.Pipeline.ResolveTimeout != 2*time.Second {
		t.Errorf("expected ResolveTimeout 2s, got %v", cfg.Pipeline.ResolveTimeout)
	}

	if cfg.Aggregate.Strict {
		t.Error("expected Aggregate.Strict to be false by default")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled to be true")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig should be valid, got error: %v", err)
	}
}

func TestValidate_PipelineFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero evict_interval", func(c *Config) { c.Pipeline.EvictInterval = 0 }},
		{"negative sweep_interval", func(c *Config) { c.Pipeline.SweepInterval = -time.Second }},
		{"zero resolve_timeout", func(c *Config) { c.Pipeline.ResolveTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestYAMLOverrides(t *testing.T) {
	raw := `
server:
  http_port: 9090
aggregate:
  top_attacks: 12
  strict: true
`
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(raw), cfg); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http_port = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Aggregate.TopAttacks != 12 {
		t.Errorf("top_attacks = %d, want 12", cfg.Aggregate.TopAttacks)
	}
	if !cfg.Aggregate.Strict {
		t.Error("aggregate strict flag not applied")
	}
	// Untouched sections keep their defaults.
	if cfg.Pipeline.EvictInterval != 30*time.Second {
		t.Errorf("evict_interval = %v, want default 30s", cfg.Pipeline.EvictInterval)
	}
}
