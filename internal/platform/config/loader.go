package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// PathEnv names the variable pointing at an optional TOML file.
const PathEnv = "STOCKWATCH_CONFIG"

// LoadError represents an error that occurred while loading configuration.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading config from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load builds the configuration: defaults, then the file named by
// STOCKWATCH_CONFIG (if set), then environment overrides. The result is validated.
func Load() (*Config, error) {
	return load(os.Getenv(PathEnv), os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, &LoadError{Path: "environment", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parsing TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys: %v", undecoded)
	}
	return nil
}

// applyEnv overlays the deployment-facing environment variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str("STOCKWATCH_ADDR", &cfg.Server.Addr)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("DATABASE_URL", &cfg.Storage.PostgresDSN)
	str("SQLITE_PATH", &cfg.Storage.SQLitePath)
	flag("DATABASE_MIGRATE", &cfg.Storage.Migrate)

	str("REDIS_URL", &cfg.Redis.URL)
	list("KAFKA_BROKERS", &cfg.Kafka.Brokers)

	str("CHANGES_DRIVER", &cfg.Changes.Driver)
	str("EVENTS_SINK", &cfg.Events.Sink)

	num("LOW_STOCK_THRESHOLD", &cfg.Rules.LowStockThreshold)
	num("EXPIRY_WINDOW_DAYS", &cfg.Rules.ExpiryWindowDays)

	dur("MONITOR_PASS_TIMEOUT", &cfg.Monitor.PassTimeout)
	list("MONITOR_ORGANIZATIONS", &cfg.Monitor.Organizations)

	str("GROQ_API_KEY", &cfg.Analysis.APIKey)
	str("GROQ_BASE_URL", &cfg.Analysis.BaseURL)
	str("GROQ_MODEL", &cfg.Analysis.Model)
	dur("ANALYSIS_TIMEOUT", &cfg.Analysis.Timeout)

	flag("ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	str("ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	str("ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	str("AWS_REGION", &cfg.Archive.Region)

	if len(errs) > 0 {
		return fmt.Errorf("invalid values: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
