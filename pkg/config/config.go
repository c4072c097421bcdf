package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the main configuration for the guardian learning service.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	RetryQueue RetryQueueConfig `yaml:"retry_queue"`
	MessageBus MessageBusConfig `yaml:"message_bus"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig configures skillbook and interaction storage
type DatabaseConfig struct {
	Type string `yaml:"type"` // "postgres", "sqlite"
	DSN  string `yaml:"dsn"`  // For Postgres
	Path string `yaml:"path"` // For SQLite
}

// PipelineConfig controls the learning pipeline
type PipelineConfig struct {
	RemoteTimeout      time.Duration `yaml:"remote_timeout"`
	MaxPersistAttempts int           `yaml:"max_persist_attempts"`
	Workers            int           `yaml:"workers"`
	QueueSize          int           `yaml:"queue_size"`
	JobTimeout         time.Duration `yaml:"job_timeout"` // bounds one background learning run
}

// ReasoningConfig points the reflector and curator at an OpenAI-compatible endpoint
type ReasoningConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RetryQueueConfig configures the durable retry-queue sink
type RetryQueueConfig struct {
	RedisURL       string        `yaml:"redis_url"` // empty keeps entries in logs only
	Key            string        `yaml:"key"`
	BufferSize     int           `yaml:"buffer_size"`
	ReplayInterval time.Duration `yaml:"replay_interval"` // 0 disables periodic replay
}

// MessageBusConfig configures NATS JetStream delivery of learning jobs
type MessageBusConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	StreamName     string        `yaml:"stream_name"`
	ConsumerPrefix string        `yaml:"consumer_prefix"`
	Timeout        time.Duration `yaml:"timeout"`
}

// TelemetryConfig configures OpenTelemetry trace export
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// MetricsConfig configures the Prometheus scrape endpoint
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// LoadConfigFromFile loads configuration from a YAML file at the specified path.
// Unset fields keep their defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${REASONING_API_KEY}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./guardian.db",
		},
		Pipeline: PipelineConfig{
			RemoteTimeout:      30 * time.Second,
			MaxPersistAttempts: 3,
			Workers:            4,
			QueueSize:          256,
			JobTimeout:         3 * time.Minute,
		},
		Reasoning: ReasoningConfig{
			Endpoint:    "http://localhost:11434/v1",
			Model:       "llama3.1",
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		RetryQueue: RetryQueueConfig{
			Key:            "guardian:learning:retry_queue",
			BufferSize:     1024,
			ReplayInterval: 5 * time.Minute,
		},
		MessageBus: MessageBusConfig{
			Enabled:    false,
			URL:        "nats://localhost:4222",
			StreamName: "GUARDIAN",
			Timeout:    10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "guardian-learner",
			OTLPEndpoint: "otel-collector:4317",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9102",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the values the pipeline depends on.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for postgres", ErrInvalid)
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path is required for sqlite", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown database type %q", ErrInvalid, c.Database.Type)
	}
	if c.Pipeline.RemoteTimeout <= 0 {
		return fmt.Errorf("%w: pipeline.remote_timeout must be positive", ErrInvalid)
	}
	if c.Pipeline.MaxPersistAttempts <= 0 {
		return fmt.Errorf("%w: pipeline.max_persist_attempts must be positive", ErrInvalid)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("%w: pipeline.workers must be positive", ErrInvalid)
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("%w: pipeline.queue_size must be positive", ErrInvalid)
	}
	if c.Pipeline.JobTimeout <= 0 {
		return fmt.Errorf("%w: pipeline.job_timeout must be positive", ErrInvalid)
	}
	return nil
}
