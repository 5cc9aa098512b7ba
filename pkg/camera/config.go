// Package camera enumerates and classifies local capture devices and wraps
// the platform media API behind MediaBackend.
//
// Backends:
//   - pion  - real hardware through github.com/pion/mediadevices
//   - mock  - CI/testing without hardware
//
// Classification of front/back cameras is label based with a positional
// fallback; it is a best-effort guess on unlabeled hardware.
package camera

import "fmt"

// BackendKind selects the media backend implementation.
type BackendKind string

const (
	// BackendAuto selects the best available backend.
	BackendAuto BackendKind = "auto"
	// BackendPion uses pion/mediadevices for capture.
	BackendPion BackendKind = "pion"
	// BackendMock uses an in-memory implementation for testing.
	BackendMock BackendKind = "mock"
)

// Config holds capture configuration.
// It can be modified at runtime through Manager.
type Config struct {
	// Backend is the media backend to use. Default: "auto".
	Backend BackendKind `json:"backend" yaml:"backend"`

	// === Resolution ===
	Width     int `json:"width" yaml:"width"`         // Frame width in pixels
	Height    int `json:"height" yaml:"height"`       // Frame height in pixels
	Framerate int `json:"framerate" yaml:"framerate"` // Target FPS
	Quality   int `json:"quality" yaml:"quality"`     // JPEG quality 1-100 for preview frames

	// PreviewFPS caps how many frames per second are relayed to the UI.
	PreviewFPS int `json:"preview_fps" yaml:"preview_fps"`
}

// Capture limits accepted by Validate.
const (
	MaxWidth      = 3840
	MaxHeight     = 2160
	MaxFramerate  = 60
	MaxPreviewFPS = 30
)

// DefaultConfig returns the recommended configuration: 640x480 keeps the
// preview light enough for a phone on Wi-Fi.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendAuto,
		Width:      640,
		Height:     480,
		Framerate:  30,
		Quality:    75,
		PreviewFPS: 10,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	switch c.Backend {
	case "", BackendAuto, BackendPion, BackendMock:
	default:
		errors = append(errors, fmt.Sprintf("backend must be auto, pion, or mock (got %q)", c.Backend))
	}

	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 60")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.PreviewFPS < 1 || c.PreviewFPS > MaxPreviewFPS {
		errors = append(errors, "preview_fps must be between 1 and 30")
	}

	return errors
}
