// Package config assembles service configuration from defaults, an optional
// TOML file and environment overrides, in that order.
package config

import (
	"fmt"
	"time"

	dErrors "stockwatch/pkg/domain-errors"
)

// Config holds the complete service configuration.
type Config struct {
	Server   Server   `toml:"server"`
	Logging  Logging  `toml:"logging"`
	Storage  Storage  `toml:"storage"`
	Redis    Redis    `toml:"redis"`
	Kafka    Kafka    `toml:"kafka"`
	Changes  Changes  `toml:"changes"`
	Events   Events   `toml:"events"`
	Rules    Rules    `toml:"rules"`
	Monitor  Monitor  `toml:"monitor"`
	Analysis Analysis `toml:"analysis"`
	Archive  Archive  `toml:"archive"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `toml:"addr"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | text
}

// Storage selects the inventory reader and alert store backend.
//
// The memory driver is for tests and demos: the in-process inventory has no
// write path from outside the process, so a server started with the defaults
// watches empty organizations. Point postgres or sqlite at the inventory the
// CRUD service writes for real deployments.
type Storage struct {
	Driver       string `toml:"driver"` // memory | postgres | sqlite
	PostgresDSN  string `toml:"postgres_dsn"`
	SQLitePath   string `toml:"sqlite_path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	Migrate      bool   `toml:"migrate"`
}

// Redis configures the redis change feed. Empty URL disables Redis.
type Redis struct {
	URL          string        `toml:"url"`
	Channel      string        `toml:"channel"`
	PoolSize     int           `toml:"pool_size"`
	MinIdleConns int           `toml:"min_idle_conns"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type Kafka struct {
	Brokers      []string `toml:"brokers"`
	ClientID     string   `toml:"client_id"`
	ChangesTopic string   `toml:"changes_topic"`
	AlertsTopic  string   `toml:"alerts_topic"`
	Partitions   int32    `toml:"partitions"`
}

// Changes selects how inventory change signals reach monitoring sessions.
type Changes struct {
	Driver               string        `toml:"driver"` // memory | postgres | redis | kafka
	RetryInitialInterval time.Duration `toml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `toml:"retry_max_interval"`
}

// Events configures where alert lifecycle events go.
type Events struct {
	Sink        string `toml:"sink"` // log | kafka
	AsyncBuffer int    `toml:"async_buffer"`
}

type Rules struct {
	LowStockThreshold int `toml:"low_stock_threshold"`
	ExpiryWindowDays  int `toml:"expiry_window_days"`
}

type Monitor struct {
	PassTimeout time.Duration `toml:"pass_timeout"`
	// Organizations are monitored server-side from boot until shutdown.
	Organizations []string `toml:"organizations"`
}

// Analysis configures the summarization provider (OpenAI-compatible, Groq by default).
type Analysis struct {
	APIKey          string        `toml:"api_key"`
	BaseURL         string        `toml:"base_url"`
	Model           string        `toml:"model"`
	Timeout         time.Duration `toml:"timeout"`
	MaxTimeout      time.Duration `toml:"max_timeout"`
	BreakerFailures int           `toml:"breaker_failures"`
	BreakerCooldown time.Duration `toml:"breaker_cooldown"`
}

// Archive configures the optional S3 report archive.
type Archive struct {
	Enabled         bool   `toml:"enabled"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: Logging{Level: "info", Format: "json"},
		Storage: Storage{
			Driver:       "memory",
			SQLitePath:   "stockwatch.db",
			MaxOpenConns: 10,
			Migrate:      true,
		},
		Redis: Redis{
			Channel:      "stockwatch:inventory_changes",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			ClientID:     "stockwatch",
			ChangesTopic: "stockwatch.inventory.changes",
			AlertsTopic:  "stockwatch.alerts",
			Partitions:   3,
		},
		Changes: Changes{
			Driver:               "memory",
			RetryInitialInterval: 200 * time.Millisecond,
			RetryMaxInterval:     10 * time.Second,
		},
		Events: Events{Sink: "log", AsyncBuffer: 256},
		Rules:  Rules{LowStockThreshold: 5, ExpiryWindowDays: 7},
		Monitor: Monitor{
			PassTimeout: 30 * time.Second,
		},
		Analysis: Analysis{
			BaseURL:         "https://api.groq.com/openai/v1",
			Model:           "llama3-8b-8192",
			Timeout:         20 * time.Second,
			MaxTimeout:      2 * time.Minute,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Archive: Archive{Prefix: "reports", Region: "us-east-1"},
	}
}

// Validate rejects configurations the service cannot boot with.
func (c *Config) Validate() error {
	if c.Rules.LowStockThreshold < 0 || c.Rules.ExpiryWindowDays < 0 {
		return dErrors.New(dErrors.CodeConfiguration, "rule thresholds must not be negative")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return dErrors.New(dErrors.CodeConfiguration, "storage.postgres_dsn required for postgres driver")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return dErrors.New(dErrors.CodeConfiguration, "storage.sqlite_path required for sqlite driver")
		}
	default:
		return dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Changes.Driver {
	case "memory":
		if c.Storage.Driver != "memory" {
			return dErrors.New(dErrors.CodeConfiguration, "memory change feed only works with memory storage")
		}
	case "postgres":
		if c.Storage.Driver != "postgres" {
			return dErrors.New(dErrors.CodeConfiguration, "postgres change feed requires postgres storage")
		}
	case "redis":
		if c.Redis.URL == "" {
			return dErrors.New(dErrors.CodeConfiguration, "redis.url required for redis change feed")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return dErrors.New(dErrors.CodeConfiguration, "kafka.brokers required for kafka change feed")
		}
	default:
		return dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("unknown change feed driver %q", c.Changes.Driver))
	}
	switch c.Events.Sink {
	case "log":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return dErrors.New(dErrors.CodeConfiguration, "kafka.brokers required for kafka event sink")
		}
	default:
		return dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("unknown event sink %q", c.Events.Sink))
	}
	if c.Monitor.PassTimeout <= 0 {
		return dErrors.New(dErrors.CodeConfiguration, "monitor.pass_timeout must be positive")
	}
	if c.Analysis.Timeout <= 0 || c.Analysis.MaxTimeout < c.Analysis.Timeout {
		return dErrors.New(dErrors.CodeConfiguration, "analysis.timeout must be positive and not exceed analysis.max_timeout")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return dErrors.New(dErrors.CodeConfiguration, "archive.bucket required when archive is enabled")
	}
	return nil
}
