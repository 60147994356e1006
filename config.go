package identitykit

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// MetricsConfig selects which counters the engine records.
type MetricsConfig struct {
	Enabled       bool `env:"IDENTITYKIT_METRICS_ENABLED"`
	SignInLatency bool `env:"IDENTITYKIT_METRICS_SIGNIN_LATENCY"`
}

// EventsConfig controls the user lifecycle event dispatcher.
type EventsConfig struct {
	Enabled    bool `env:"IDENTITYKIT_EVENTS_ENABLED"`
	BufferSize int  `env:"IDENTITYKIT_EVENTS_BUFFER" envDefault:"64"`
	DropIfFull bool `env:"IDENTITYKIT_EVENTS_DROP_IF_FULL" envDefault:"true"`
}

// Config holds the process-level knobs of the engine. The zero value is not
// usable; start from DefaultConfig or ConfigFromEnv.
type Config struct {
	// LinkBase is the base URL minted into out-of-band action links.
	LinkBase string `env:"IDENTITYKIT_LINK_BASE" envDefault:"http://localhost:9099"`

	// RedisAddr points the ephemeral code stores at an external redis
	// server. Empty starts an embedded in-process instance instead.
	RedisAddr string `env:"IDENTITYKIT_REDIS_ADDR"`

	// KeyPrefix namespaces every redis key written by the code stores.
	KeyPrefix string `env:"IDENTITYKIT_KEY_PREFIX" envDefault:"identitykit"`

	// BlockingFunctionTimeout bounds each blocking function call.
	BlockingFunctionTimeout time.Duration `env:"IDENTITYKIT_BLOCKING_TIMEOUT" envDefault:"60s"`

	Metrics MetricsConfig
	Events  EventsConfig
}

// DefaultConfig returns the configuration used when nothing is customized.
func DefaultConfig() Config {
	return Config{
		LinkBase:                "http://localhost:9099",
		KeyPrefix:               "identitykit",
		BlockingFunctionTimeout: 60 * time.Second,
		Events: EventsConfig{
			BufferSize: 64,
			DropIfFull: true,
		},
	}
}

// ConfigFromEnv loads the configuration from IDENTITYKIT_* environment
// variables, falling back to the defaults for unset ones.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("identitykit: parse environment: %w", err)
	}
	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.LinkBase == "" {
		return errors.New("identitykit: LinkBase must not be empty")
	}
	u, err := url.Parse(c.LinkBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("identitykit: LinkBase %q is not an absolute URL", c.LinkBase)
	}
	if c.BlockingFunctionTimeout < 0 {
		return errors.New("identitykit: BlockingFunctionTimeout must not be negative")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("identitykit: Events.BufferSize must be positive when events are enabled")
	}
	return nil
}
