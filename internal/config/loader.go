package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "greenlight.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "GREENLIGHT_PORT")
	setString(&cfg.Server.CORSOrigin, "GREENLIGHT_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "GREENLIGHT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "GREENLIGHT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "GREENLIGHT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "GREENLIGHT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "GREENLIGHT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "GREENLIGHT_NATS_STREAM")
	setString(&cfg.Logging.Level, "GREENLIGHT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "GREENLIGHT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "GREENLIGHT_LOG_ASYNC")
	setString(&cfg.Otel.Endpoint, "GREENLIGHT_OTEL_ENDPOINT")
	setInt(&cfg.Bus.MaxAttempts, "GREENLIGHT_BUS_MAX_ATTEMPTS")
	setDuration(&cfg.Bus.BackoffBase, "GREENLIGHT_BUS_BACKOFF_BASE")
	setDuration(&cfg.Bus.BackoffCap, "GREENLIGHT_BUS_BACKOFF_CAP")
	setDuration(&cfg.Bus.AckWait, "GREENLIGHT_BUS_ACK_WAIT")
	setDuration(&cfg.Bus.DedupeWindow, "GREENLIGHT_BUS_DEDUPE_WINDOW")
	setString(&cfg.Dispatcher.Group, "GREENLIGHT_DISPATCHER_GROUP")
	setDuration(&cfg.Approval.SweepInterval, "GREENLIGHT_SWEEP_INTERVAL")
	setInt(&cfg.Approval.SweepBatch, "GREENLIGHT_SWEEP_BATCH")
	setDuration(&cfg.Relay.Interval, "GREENLIGHT_RELAY_INTERVAL")
	setInt(&cfg.Relay.BatchSize, "GREENLIGHT_RELAY_BATCH")
	setInt64(&cfg.Cache.PolicyMaxBytes, "GREENLIGHT_CACHE_POLICY_BYTES")
	setDuration(&cfg.Cache.PolicyTTL, "GREENLIGHT_CACHE_POLICY_TTL")
	setString(&cfg.Operator.KeyHash, "GREENLIGHT_OPERATOR_KEY_HASH")
	setString(&cfg.Slack.WebhookURL, "GREENLIGHT_SLACK_WEBHOOK_URL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.NATS.Stream == "" {
		return errors.New("nats.stream is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Bus.MaxAttempts < 1 {
		return errors.New("bus.max_attempts must be >= 1")
	}
	if cfg.Bus.BackoffBase <= 0 || cfg.Bus.BackoffCap < cfg.Bus.BackoffBase {
		return errors.New("bus backoff requires 0 < backoff_base <= backoff_cap")
	}
	if cfg.Approval.SweepBatch < 1 {
		return errors.New("approval.sweep_batch must be >= 1")
	}
	if cfg.Relay.BatchSize < 1 {
		return errors.New("relay.batch_size must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
