// Package console assembles the robot console: camera feed, command
// forwarding, reminders and the web UI, with one lifecycle.
package console

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/capture"
	"github.com/teslashibe/go-medibot/pkg/reminder"
	"github.com/teslashibe/go-medibot/pkg/remotefeed"
	"github.com/teslashibe/go-medibot/pkg/web"
)

// DefaultTeleopRate is how often joystick and head changes are sent.
const DefaultTeleopRate = 50 * time.Millisecond

// Config holds all configuration for the console.
// Flag parsing is done in cmd/medibot; this struct is data only.
type Config struct {
	// SettingsPath is the persisted settings file.
	SettingsPath string
	// RemindersPath is the reminder store; empty keeps reminders in memory.
	RemindersPath string

	// RelayAddr serves /stream.mjpg when non-empty.
	RelayAddr string

	// AutoStart starts the saved feed source on Run.
	AutoStart bool

	TeleopRate time.Duration

	Web      web.Config
	Camera   camera.Config
	Capture  capture.Config
	Remote   remotefeed.Config
	Reminder reminder.Config
}

// DefaultConfig returns the default console configuration.
func DefaultConfig() Config {
	return Config{
		AutoStart:  true,
		TeleopRate: DefaultTeleopRate,
		Web:        web.DefaultConfig(),
		Camera:     camera.DefaultConfig(),
		Capture:    capture.DefaultConfig(),
		Remote:     remotefeed.DefaultConfig(),
		Reminder:   reminder.DefaultConfig(),
	}
}

// Validate checks every sub-configuration.
func (c *Config) Validate() error {
	if c.SettingsPath == "" {
		return fmt.Errorf("settings path is required")
	}
	if c.TeleopRate <= 0 {
		return fmt.Errorf("teleop rate must be positive")
	}
	if err := c.Web.Validate(); err != nil {
		return fmt.Errorf("web: %w", err)
	}
	if errs := c.Camera.Validate(); len(errs) > 0 {
		return fmt.Errorf("camera: %v", errs)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.Reminder.Validate(); err != nil {
		return fmt.Errorf("reminder: %w", err)
	}
	return nil
}
