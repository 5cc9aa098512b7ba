// Package config loads and saves the console's persisted settings.
//
// Settings live in a JSON file (YAML when the path ends in .yaml or .yml).
// Missing fields keep their defaults and MEDIBOT_* environment variables
// override the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvMotorURL   = "MEDIBOT_MOTOR_URL"
	EnvServoURL   = "MEDIBOT_SERVO_URL"
	EnvCameraURL  = "MEDIBOT_CAMERA_URL"
	EnvCorsRelay  = "MEDIBOT_CORS_RELAY"
	EnvCorsBypass = "MEDIBOT_CORS_BYPASS"
	EnvSettings   = "MEDIBOT_SETTINGS"
)

// DefaultCorsRelay is the public relay used when bypass is enabled.
const DefaultCorsRelay = "https://corsproxy.io/"

// Settings is the persisted console configuration.
type Settings struct {
	MotorControlURL string `json:"motor_control_url" yaml:"motor_control_url"`
	ServoControlURL string `json:"servo_control_url" yaml:"servo_control_url"`
	CameraURL       string `json:"camera_url" yaml:"camera_url"`
	CorsRelay       string `json:"cors_relay" yaml:"cors_relay"`
	CorsBypass      bool   `json:"cors_bypass" yaml:"cors_bypass"`
	// Source is the feed selected at startup: "device" or "remote".
	Source string `json:"source" yaml:"source"`
	// Handoff lets an exhausted remote feed fall back to the device camera.
	Handoff bool `json:"handoff" yaml:"handoff"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		MotorControlURL: "http://192.168.4.1/motor",
		ServoControlURL: "http://192.168.4.1/servo",
		CorsRelay:       DefaultCorsRelay,
		Source:          "device",
	}
}

// Validate checks the URLs that are set.
func (s Settings) Validate() error {
	for name, v := range map[string]string{
		"motor_control_url": s.MotorControlURL,
		"servo_control_url": s.ServoControlURL,
		"cors_relay":        s.CorsRelay,
	} {
		if v == "" {
			continue
		}
		u, err := url.Parse(v)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%s: %q is not an http(s) URL", name, v)
		}
	}
	switch s.Source {
	case "", "device", "remote":
	default:
		return fmt.Errorf("source: %q must be device or remote", s.Source)
	}
	return nil
}

// DefaultPath returns ~/.config/medibot/settings.json, or the
// MEDIBOT_SETTINGS override.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvSettings); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "medibot", "settings.json"), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return s, fmt.Errorf("failed to read settings: %w", err)
	case isYAML(path):
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	s.applyEnv()
	if s.CorsRelay == "" {
		s.CorsRelay = DefaultCorsRelay
	}
	return s, s.Validate()
}

func (s *Settings) applyEnv() {
	if v := os.Getenv(EnvMotorURL); v != "" {
		s.MotorControlURL = v
	}
	if v := os.Getenv(EnvServoURL); v != "" {
		s.ServoControlURL = v
	}
	if v := os.Getenv(EnvCameraURL); v != "" {
		s.CameraURL = v
	}
	if v := os.Getenv(EnvCorsRelay); v != "" {
		s.CorsRelay = v
	}
	if v := os.Getenv(EnvCorsBypass); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.CorsBypass = b
		}
	}
}

// Save writes s to path atomically, creating the directory.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// File is a settings file shared by the running process.
type File struct {
	path string

	mu       sync.RWMutex
	settings Settings
}

// Open loads path into a File.
func Open(path string) (*File, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &File{path: path, settings: s}, nil
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Get returns the current settings.
func (f *File) Get() Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings
}

// Update applies fn to a copy, validates and persists it.
func (f *File) Update(fn func(*Settings)) (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.settings
	fn(&next)
	if err := Save(f.path, next); err != nil {
		return f.settings, err
	}
	f.settings = next
	return next, nil
}
