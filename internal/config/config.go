package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the full gateway configuration. Values come from an optional
// YAML file overridden by environment variables; the environment alone is
// enough to run.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Admin    AdminConfig    `yaml:"admin"`
}

// ListenConfig configures the client-facing HTTP listener.
type ListenConfig struct {
	Address           string        `yaml:"address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the backing Postgres store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// DSN returns a pgx-compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// UpstreamConfig configures the execution-service client.
type UpstreamConfig struct {
	// BaseURL is the execution service root, e.g. http://localhost:3001.
	BaseURL string `yaml:"base_url"`
	// InternalSecret signs the x-invoke-data identity JWT. Empty means dev
	// mode: the header is omitted entirely.
	InternalSecret string        `yaml:"internal_secret"`
	ProxyTimeout   time.Duration `yaml:"proxy_timeout"`
	// MiddlewareTimeout bounds middleware auth calls.
	MiddlewareTimeout time.Duration `yaml:"middleware_timeout"`
}

// CacheConfig configures the route cache refresh behavior.
type CacheConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	DebounceWindow  time.Duration `yaml:"debounce_window"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AdminConfig configures the optional debug/metrics listener.
type AdminConfig struct {
	// Address for /metrics and /healthz; empty disables the admin listener.
	Address string `yaml:"address"`
}

// Default returns a Config with the documented defaults applied.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Address:           ":3002",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
			User: "postgres",
			Name: "postgres",
		},
		Upstream: UpstreamConfig{
			BaseURL:           "http://localhost:3001",
			ProxyTimeout:      30 * time.Second,
			MiddlewareTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			RefreshInterval: 30 * time.Second,
			DebounceWindow:  100 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Listen.Address, "GATEWAY_LISTEN_ADDR")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Upstream.BaseURL, "EXECUTION_SERVICE_URL")
	setString(&c.Upstream.InternalSecret, "INTERNAL_GATEWAY_SECRET")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Admin.Address, "GATEWAY_ADMIN_ADDR")

	if err := setInt(&c.Database.Port, "DB_PORT"); err != nil {
		return err
	}
	if err := setDuration(&c.Cache.RefreshInterval, "GATEWAY_REFRESH_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.Cache.DebounceWindow, "GATEWAY_DEBOUNCE_WINDOW"); err != nil {
		return err
	}
	if err := setDuration(&c.Upstream.ProxyTimeout, "GATEWAY_PROXY_TIMEOUT"); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address must not be empty")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url %q is not an absolute URL", c.Upstream.BaseURL)
	}
	if c.Database.Host == "" || c.Database.Name == "" {
		return fmt.Errorf("database.host and database.name are required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port %d out of range", c.Database.Port)
	}
	if c.Cache.RefreshInterval <= 0 {
		return fmt.Errorf("cache.refresh_interval must be positive")
	}
	if c.Cache.DebounceWindow <= 0 {
		return fmt.Errorf("cache.debounce_window must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	// Accept bare milliseconds for compatibility with numeric env values.
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Millisecond
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
