package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Database.Type != "sqlite" {
		t.Errorf("expected sqlite, got %q", cfg.Database.Type)
	}
	if cfg.Pipeline.RemoteTimeout != 30*time.Second {
		t.Errorf("expected 30s remote timeout, got %v", cfg.Pipeline.RemoteTimeout)
	}
	if cfg.Pipeline.MaxPersistAttempts != 3 {
		t.Errorf("expected 3 persist attempts, got %d", cfg.Pipeline.MaxPersistAttempts)
	}
	if cfg.MessageBus.Enabled {
		t.Error("message bus should be disabled by default")
	}
	if cfg.Telemetry.Enabled {
		t.Error("telemetry should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDefaultConfig_RetryQueue(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RetryQueue.Key != "guardian:learning:retry_queue" {
		t.Errorf("got retry queue key %q", cfg.RetryQueue.Key)
	}
	if cfg.RetryQueue.RedisURL != "" {
		t.Error("redis sink should be off by default")
	}
}

func TestLoadConfigFromFile_YAML(t *testing.T) {
	content := `
database:
  type: postgres
  dsn: postgres://guardian@db/guardian?sslmode=disable
pipeline:
  remote_timeout: 5s
  workers: 8
message_bus:
  enabled: true
  url: nats://bus:4222
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Type != "postgres" {
		t.Errorf("got database type %q", cfg.Database.Type)
	}
	if cfg.Pipeline.RemoteTimeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Pipeline.RemoteTimeout)
	}
	if cfg.Pipeline.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.MaxPersistAttempts != 3 {
		t.Errorf("unset field should keep default, got %d", cfg.Pipeline.MaxPersistAttempts)
	}
	if !cfg.MessageBus.Enabled || cfg.MessageBus.URL != "nats://bus:4222" {
		t.Errorf("got message bus %+v", cfg.MessageBus)
	}
}

func TestLoadConfigFromFile_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_GUARDIAN_API_KEY", "sk-test")

	content := `
reasoning:
  api_key: ${TEST_GUARDIAN_API_KEY}
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Reasoning.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %q", cfg.Reasoning.APIKey)
	}
}

func TestLoadConfigFromFile_NotFound(t *testing.T) {
	_, err := LoadConfigFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfigFromFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("{{{{invalid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfigFromFile(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown database", func(c *Config) { c.Database.Type = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Type = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"zero timeout", func(c *Config) { c.Pipeline.RemoteTimeout = 0 }},
		{"zero attempts", func(c *Config) { c.Pipeline.MaxPersistAttempts = 0 }},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"zero queue", func(c *Config) { c.Pipeline.QueueSize = 0 }},
		{"zero job timeout", func(c *Config) { c.Pipeline.JobTimeout = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
