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
	Database  DatabaseConfig  `yaml:"database"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Sync      SyncConfig      `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig contains local database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig contains remote API settings.
type GatewayConfig struct {
	BaseURL        string   `yaml:"base_url"`
	Token          string   `yaml:"-"` // env-only, never in YAML
	RequestTimeout Duration `yaml:"request_timeout"`
}

// SyncConfig contains sync engine settings.
type SyncConfig struct {
	MaxRetries    int      `yaml:"max_retries"`
	BaseBackoff   Duration `yaml:"base_backoff"`
	MaxBackoff    Duration `yaml:"max_backoff"`
	FlushInterval Duration `yaml:"flush_interval"`
	PingInterval  Duration `yaml:"ping_interval"`
}

// RetentionConfig contains retention sweep settings.
type RetentionConfig struct {
	Window        Duration `yaml:"window"`
	SweepInterval Duration `yaml:"sweep_interval"`
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
	cfg := Defaults()

	configPath := getEnv("FITFLOW_CONFIG_PATH", "config/fitflow.yaml")

	// Missing file is not an error; defaults still apply
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "data/fitflow.db",
		},
		Gateway: GatewayConfig{
			RequestTimeout: Duration(15 * time.Second),
		},
		Sync: SyncConfig{
			MaxRetries:    5,
			BaseBackoff:   Duration(2 * time.Second),
			MaxBackoff:    Duration(5 * time.Minute),
			FlushInterval: Duration(1 * time.Minute),
			PingInterval:  Duration(30 * time.Second),
		},
		Retention: RetentionConfig{
			Window:        Duration(7 * 24 * time.Hour),
			SweepInterval: Duration(24 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
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
	if v := os.Getenv("FITFLOW_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FITFLOW_API_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("FITFLOW_API_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv("FITFLOW_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gateway.RequestTimeout = Duration(d)
		}
	}

	if v := os.Getenv("FITFLOW_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxRetries = n
		}
	}
	if v := os.Getenv("FITFLOW_BASE_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.BaseBackoff = Duration(d)
		}
	}
	if v := os.Getenv("FITFLOW_MAX_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.MaxBackoff = Duration(d)
		}
	}
	if v := os.Getenv("FITFLOW_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.FlushInterval = Duration(d)
		}
	}
	if v := os.Getenv("FITFLOW_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.PingInterval = Duration(d)
		}
	}

	if v := os.Getenv("FITFLOW_RETENTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.Window = Duration(d)
		}
	}
	if v := os.Getenv("FITFLOW_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.SweepInterval = Duration(d)
		}
	}

	if v := os.Getenv("FITFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FITFLOW_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	if time.Duration(c.Sync.BaseBackoff) <= 0 {
		return errors.New("base_backoff must be positive")
	}
	if time.Duration(c.Sync.MaxBackoff) < time.Duration(c.Sync.BaseBackoff) {
		return errors.New("max_backoff must be >= base_backoff")
	}
	if time.Duration(c.Retention.Window) <= 0 {
		return errors.New("retention window must be positive")
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
