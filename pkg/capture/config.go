// Package capture owns the lifecycle of a live local-camera acquisition.
//
// A Session holds at most one live camera.Stream. Starting a new capture
// always stops and releases the previous one first, and every exit path
// (explicit stop, error, timeout, teardown) releases the hardware.
package capture

import (
	"fmt"
	"time"
)

// Default timing values.
const (
	DefaultReadyTimeout = 10 * time.Second
)

// Config holds session configuration.
type Config struct {
	// ReadyTimeout bounds how long the sink may take to report the first frame.
	// Default: 10s
	ReadyTimeout time.Duration `json:"ready_timeout" yaml:"ready_timeout"`

	// Width, Height and FPS are forwarded as capture constraints.
	// Zero leaves the choice to the backend.
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	FPS    int `json:"fps" yaml:"fps"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout: DefaultReadyTimeout,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be positive, got %v", c.ReadyTimeout)
	}
	if c.Width < 0 || c.Height < 0 || c.FPS < 0 {
		return fmt.Errorf("width, height and fps must not be negative")
	}
	return nil
}
