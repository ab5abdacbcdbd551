package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.BaseURL != "http://localhost:3001" {
		t.Errorf("unexpected upstream base URL %q", cfg.Upstream.BaseURL)
	}
	if cfg.Cache.RefreshInterval != 30*time.Second {
		t.Errorf("unexpected refresh interval %v", cfg.Cache.RefreshInterval)
	}
	if cfg.Cache.DebounceWindow != 100*time.Millisecond {
		t.Errorf("unexpected debounce window %v", cfg.Cache.DebounceWindow)
	}
	if cfg.Upstream.InternalSecret != "" {
		t.Error("expected dev mode (empty secret) by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXECUTION_SERVICE_URL", "http://exec.internal:9000")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("GATEWAY_REFRESH_INTERVAL", "10s")
	t.Setenv("GATEWAY_DEBOUNCE_WINDOW", "250")
	t.Setenv("INTERNAL_GATEWAY_SECRET", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.BaseURL != "http://exec.internal:9000" {
		t.Errorf("env override not applied: %q", cfg.Upstream.BaseURL)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 5433 {
		t.Errorf("database env overrides not applied: %+v", cfg.Database)
	}
	if cfg.Cache.RefreshInterval != 10*time.Second {
		t.Errorf("refresh interval override not applied: %v", cfg.Cache.RefreshInterval)
	}
	// Bare numbers are treated as milliseconds.
	if cfg.Cache.DebounceWindow != 250*time.Millisecond {
		t.Errorf("debounce override not applied: %v", cfg.Cache.DebounceWindow)
	}
	if cfg.Upstream.InternalSecret != "s3cret" {
		t.Error("secret override not applied")
	}
}

func TestFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	data := []byte("upstream:\n  base_url: http://from-file:3001\nlogging:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EXECUTION_SERVICE_URL", "http://from-env:3001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.BaseURL != "http://from-env:3001" {
		t.Errorf("environment must override file, got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("file value not applied, got %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.Listen.Address = "" }},
		{"relative upstream URL", func(c *Config) { c.Upstream.BaseURL = "/invoke" }},
		{"zero refresh interval", func(c *Config) { c.Cache.RefreshInterval = 0 }},
		{"bad db port", func(c *Config) { c.Database.Port = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
