// Package remotefeed negotiates a working transport for a network camera.
//
// A Negotiator walks a fixed ladder of transport modes
// (direct-stream, mjpeg-endpoint, snapshot-polling, device-handoff). Each
// mode is retried up to MaxRetries times with exponential backoff before the
// next one is tried. When every mode is spent the negotiator is exhausted and
// stays that way until Reload, Load or a CORS bypass toggle.
package remotefeed

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultMaxRetries    = 3
	DefaultLoadTimeout   = 8 * time.Second
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultMaxRetryDelay = 4 * time.Second
	DefaultPollInterval  = time.Second
	DefaultRelay         = "https://corsproxy.io/"
)

// Config holds negotiator configuration.
type Config struct {
	// MaxRetries is the per-mode attempt cap.
	// Default: 3
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// LoadTimeout bounds a single probe.
	// Default: 8s
	LoadTimeout time.Duration `json:"load_timeout" yaml:"load_timeout"`

	// RetryDelay is the initial backoff between attempts of the same mode.
	// It doubles per attempt up to MaxRetryDelay.
	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay"`
	MaxRetryDelay time.Duration `json:"max_retry_delay" yaml:"max_retry_delay"`

	// PollInterval is the snapshot refresh period.
	// Default: 1s
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// Relay is the CORS relay prefix used when bypass is enabled.
	Relay string `json:"relay" yaml:"relay"`

	// CorsBypass routes every request through Relay.
	CorsBypass bool `json:"cors_bypass" yaml:"cors_bypass"`

	// Handoff enables the last rung: hand control to the device camera.
	Handoff bool `json:"handoff" yaml:"handoff"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    DefaultMaxRetries,
		LoadTimeout:   DefaultLoadTimeout,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
		PollInterval:  DefaultPollInterval,
		Relay:         DefaultRelay,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.LoadTimeout <= 0 {
		return fmt.Errorf("load_timeout must be positive, got %v", c.LoadTimeout)
	}
	if c.RetryDelay < 0 || c.MaxRetryDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.MaxRetryDelay < c.RetryDelay {
		return fmt.Errorf("max_retry_delay (%v) is below retry_delay (%v)", c.MaxRetryDelay, c.RetryDelay)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.CorsBypass && c.Relay == "" {
		return fmt.Errorf("cors bypass requires a relay")
	}
	return nil
}

// Backoff returns the delay before attempt n+1 of a mode, n >= 1:
// RetryDelay * 2^(n-1), capped at MaxRetryDelay.
func (c *Config) Backoff(n int) time.Duration {
	if n < 1 || c.RetryDelay <= 0 {
		return 0
	}
	if n > 30 {
		return c.MaxRetryDelay
	}
	d := c.RetryDelay * time.Duration(1<<uint(n-1))
	if d > c.MaxRetryDelay {
		d = c.MaxRetryDelay
	}
	return d
}
