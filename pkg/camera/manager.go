package camera

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Manager errors.
var (
	ErrUnknownPreset = errors.New("unknown preset")
	ErrInvalidConfig = errors.New("invalid capture config")
)

// Update is a partial capture change. Nil fields keep their current value;
// Preset, when set, is applied before the individual fields.
type Update struct {
	Preset     string `json:"preset,omitempty"`
	Width      *int   `json:"width,omitempty"`
	Height     *int   `json:"height,omitempty"`
	Framerate  *int   `json:"framerate,omitempty"`
	Quality    *int   `json:"quality,omitempty"`
	PreviewFPS *int   `json:"preview_fps,omitempty"`
}

// Manager holds the live capture configuration. Changes are validated,
// stored and then pushed to OnConfigChange so a running camera can be
// reopened at the new size.
type Manager struct {
	mu     sync.RWMutex
	config Config
	preset string

	// applyMu keeps OnConfigChange calls in the order they were stored.
	applyMu sync.Mutex

	// OnConfigChange is called after a change is stored. Its error is
	// returned to the caller but the change is kept.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager starting from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current capture configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Preset returns the name of the last applied preset, cleared by any
// manual change to a field.
func (m *Manager) Preset() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preset
}

// SetConfig replaces the configuration.
func (m *Manager) SetConfig(cfg Config) error {
	return m.store(cfg, "")
}

// Apply merges u into the current configuration and stores the result.
func (m *Manager) Apply(u Update) (Config, error) {
	cfg := m.GetConfig()
	preset := ""

	if u.Preset != "" {
		p, ok := LookupPreset(u.Preset)
		if !ok {
			return cfg, fmt.Errorf("%w: %q (have %s)", ErrUnknownPreset, u.Preset, strings.Join(PresetNames(), ", "))
		}
		backend := cfg.Backend
		cfg = p.Config
		cfg.Backend = backend
		preset = p.Name
	}

	manual := false
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
			manual = true
		}
	}
	set(&cfg.Width, u.Width)
	set(&cfg.Height, u.Height)
	set(&cfg.Framerate, u.Framerate)
	set(&cfg.Quality, u.Quality)
	set(&cfg.PreviewFPS, u.PreviewFPS)
	if manual {
		preset = ""
	}

	return cfg, m.store(cfg, preset)
}

func (m *Manager) store(cfg Config, preset string) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	m.config = cfg
	m.preset = preset
	callback := m.OnConfigChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("apply capture config: %w", err)
		}
	}
	return nil
}
