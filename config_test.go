package identitykit

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LinkBase != "http://localhost:9099" {
		t.Errorf("LinkBase = %q", cfg.LinkBase)
	}
	if cfg.KeyPrefix != "identitykit" {
		t.Errorf("KeyPrefix = %q", cfg.KeyPrefix)
	}
	if cfg.BlockingFunctionTimeout != 60*time.Second {
		t.Errorf("BlockingFunctionTimeout = %v", cfg.BlockingFunctionTimeout)
	}
	if cfg.Events.BufferSize != 64 || !cfg.Events.DropIfFull {
		t.Errorf("Events = %+v", cfg.Events)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty link base",
			mutate:  func(c *Config) { c.LinkBase = "" },
			wantErr: "LinkBase must not be empty",
		},
		{
			name:    "relative link base",
			mutate:  func(c *Config) { c.LinkBase = "/auth" },
			wantErr: "not an absolute URL",
		},
		{
			name:    "negative blocking timeout",
			mutate:  func(c *Config) { c.BlockingFunctionTimeout = -time.Second },
			wantErr: "must not be negative",
		},
		{
			name: "events enabled without buffer",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.BufferSize = 0
			},
			wantErr: "BufferSize must be positive",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate should fail")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("IDENTITYKIT_LINK_BASE", "https://auth.internal:8443")
	t.Setenv("IDENTITYKIT_KEY_PREFIX", "staging")
	t.Setenv("IDENTITYKIT_BLOCKING_TIMEOUT", "2s")
	t.Setenv("IDENTITYKIT_EVENTS_ENABLED", "true")
	t.Setenv("IDENTITYKIT_EVENTS_BUFFER", "128")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.LinkBase != "https://auth.internal:8443" {
		t.Errorf("LinkBase = %q", cfg.LinkBase)
	}
	if cfg.KeyPrefix != "staging" {
		t.Errorf("KeyPrefix = %q", cfg.KeyPrefix)
	}
	if cfg.BlockingFunctionTimeout != 2*time.Second {
		t.Errorf("BlockingFunctionTimeout = %v", cfg.BlockingFunctionTimeout)
	}
	if !cfg.Events.Enabled || cfg.Events.BufferSize != 128 {
		t.Errorf("Events = %+v", cfg.Events)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("env config invalid: %v", err)
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("env defaults = %+v, want %+v", cfg, DefaultConfig())
	}
}
