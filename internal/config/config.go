// Package config loads synccore's runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Conflict   ConflictConfig   `yaml:"conflict"`
	StatusAPI  StatusAPIConfig  `yaml:"status_api"`
	Log        LogConfig        `yaml:"log"`
}

// StoreConfig contains persistent store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RateLimitConfig contains token-bucket rate limiter settings.
type RateLimitConfig struct {
	TokensPerInterval int      `yaml:"tokens_per_interval"`
	Interval          Duration `yaml:"interval"`
	MaxBurst          int      `yaml:"max_burst"`
	Adaptive          bool     `yaml:"adaptive"`
	MinRate           float64  `yaml:"min_rate"`
	MaxRate           float64  `yaml:"max_rate"`
}

// ExecutorConfig contains parallel executor settings.
type ExecutorConfig struct {
	Concurrency int      `yaml:"concurrency"`
	TaskTimeout Duration `yaml:"task_timeout"`
	MaxRetries  int      `yaml:"max_retries"`
	RetryDelay  Duration `yaml:"retry_delay"`
	Backoff     float64  `yaml:"backoff"`
	HighWater   int      `yaml:"high_water_mark"`
	LowWater    int      `yaml:"low_water_mark"`
}

// CheckpointConfig contains checkpoint manager settings.
type CheckpointConfig struct {
	Interval       int           `yaml:"interval"` // completions between checkpoint writes
	MaxAge         Duration      `yaml:"max_age"`
	MaxCheckpoints int           `yaml:"max_checkpoints"`
	Archive        ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig contains optional S3-compatible checkpoint archival settings.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
}

// ConflictConfig contains default and per-field conflict-resolution policy
// settings.
type ConflictConfig struct {
	DefaultStrategy string                       `yaml:"default_strategy"`
	FieldPolicies   map[string]FieldPolicyConfig `yaml:"field_policies"`
}

// FieldPolicyConfig configures how a single metadata field resolves when it
// conflicts, overriding ConflictConfig.DefaultStrategy for that field.
type FieldPolicyConfig struct {
	Strategy    string `yaml:"strategy"`
	AutoResolve bool   `yaml:"auto_resolve"`
	// MergeBy selects a merge function finer-grained than the resolver's
	// default union/shallow-merge when Strategy is "merge". "id" merges a
	// slice of objects by their "id" field, preferring whichever side has
	// the newer "updated_at".
	MergeBy string `yaml:"merge_by"`
}

// StatusAPIConfig contains the optional read-only status HTTP surface settings.
type StatusAPIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("SYNCCORE_CONFIG_PATH", "config/synccore.yaml")

	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "data/synccore.db",
		},
		RateLimit: RateLimitConfig{
			TokensPerInterval: 10,
			Interval:          Duration(time.Second),
			MaxBurst:          20,
			Adaptive:          false,
			MinRate:           1,
			MaxRate:           100,
		},
		Executor: ExecutorConfig{
			Concurrency: 8,
			TaskTimeout: Duration(30 * time.Second),
			MaxRetries:  3,
			RetryDelay:  Duration(time.Second),
			Backoff:     2.0,
			HighWater:   10000,
			LowWater:    2000,
		},
		Checkpoint: CheckpointConfig{
			Interval:       50,
			MaxAge:         Duration(7 * 24 * time.Hour),
			MaxCheckpoints: 10,
		},
		Conflict: ConflictConfig{
			DefaultStrategy: "ask-user",
			FieldPolicies: map[string]FieldPolicyConfig{
				"tags":       {Strategy: "merge", AutoResolve: true},
				"highlights": {Strategy: "merge", AutoResolve: true, MergeBy: "id"},
				"rating":     {Strategy: "ask-user"},
				"progress":   {Strategy: "last-write-wins", AutoResolve: true},
				"title":      {Strategy: "prefer-remote", AutoResolve: true},
			},
		},
		StatusAPI: StatusAPIConfig{
			Enabled: false,
			Port:    8090,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYNCCORE_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}

	if v := os.Getenv("SYNCCORE_RATE_TOKENS_PER_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.TokensPerInterval = n
		}
	}
	if v := os.Getenv("SYNCCORE_RATE_MAX_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxBurst = n
		}
	}
	if v := os.Getenv("SYNCCORE_RATE_ADAPTIVE"); v != "" {
		cfg.RateLimit.Adaptive = v == "true" || v == "1"
	}

	if v := os.Getenv("SYNCCORE_EXECUTOR_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.Concurrency = n
		}
	}
	if v := os.Getenv("SYNCCORE_EXECUTOR_TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Executor.TaskTimeout = Duration(d)
		}
	}
	if v := os.Getenv("SYNCCORE_EXECUTOR_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.MaxRetries = n
		}
	}

	if v := os.Getenv("SYNCCORE_CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checkpoint.Interval = n
		}
	}
	if v := os.Getenv("SYNCCORE_CHECKPOINT_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Checkpoint.MaxAge = Duration(d)
		}
	}

	// Archive (S3-compatible checkpoint storage)
	if v := os.Getenv("SYNCCORE_ARCHIVE_BUCKET"); v != "" {
		cfg.Checkpoint.Archive.Bucket = v
	}
	if v := os.Getenv("SYNCCORE_ARCHIVE_REGION"); v != "" {
		cfg.Checkpoint.Archive.Region = v
	}
	if v := os.Getenv("SYNCCORE_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Checkpoint.Archive.Endpoint = v
	}
	if v := os.Getenv("SYNCCORE_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Checkpoint.Archive.AccessKey = v
	}
	if v := os.Getenv("SYNCCORE_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Checkpoint.Archive.SecretKey = v
	}

	if v := os.Getenv("SYNCCORE_CONFLICT_DEFAULT_STRATEGY"); v != "" {
		cfg.Conflict.DefaultStrategy = v
	}

	if v := os.Getenv("SYNCCORE_STATUS_API_ENABLED"); v != "" {
		cfg.StatusAPI.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SYNCCORE_STATUS_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StatusAPI.Port = n
		}
	}

	if v := os.Getenv("SYNCCORE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SYNCCORE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that configuration values are internally consistent.
func (c *Config) validate() error {
	if c.Executor.Concurrency <= 0 {
		return errors.New("executor.concurrency must be positive")
	}
	if c.RateLimit.TokensPerInterval <= 0 {
		return errors.New("rate_limit.tokens_per_interval must be positive")
	}
	if c.Checkpoint.Interval <= 0 {
		return errors.New("checkpoint.interval must be positive")
	}
	if c.Checkpoint.Archive.Bucket != "" && c.Checkpoint.Archive.AccessKey == "" {
		return errors.New("checkpoint.archive.bucket set but SYNCCORE_ARCHIVE_ACCESS_KEY missing")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
