// Medibot console - camera feed, drawer control and medicine reminders
// for the dispensing robot, served as a web UI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/teslashibe/go-medibot/internal/config"
	"github.com/teslashibe/go-medibot/internal/log"
	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/console"
)

func main() {
	cfg, level := parseFlags()
	logger := log.Init(level)

	app, err := console.New(cfg, logger)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(2)
	}

	if err := app.Init(nil); err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
}

// parseFlags parses command line flags and returns configuration.
func parseFlags() (console.Config, string) {
	cfg := console.DefaultConfig()

	settingsPath, err := config.DefaultPath()
	if err != nil {
		settingsPath = "settings.json"
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	level := pflag.String("log-level", "info", "Log level: debug, info, warn, error")
	pflag.StringVar(&cfg.SettingsPath, "settings", settingsPath, "Settings file (.json or .yaml)")
	pflag.StringVar(&cfg.RemindersPath, "reminders", "", "Reminder store (default: next to the settings file)")
	pflag.StringVar(&cfg.Web.Addr, "addr", cfg.Web.Addr, "HTTP listen address")
	pflag.StringVar(&cfg.Web.StaticDir, "static", cfg.Web.StaticDir, "Directory served at / (empty disables)")
	pflag.StringVar(&cfg.RelayAddr, "relay-addr", "", "Serve the active feed as MJPEG on this address")
	backend := pflag.String("backend", string(cfg.Camera.Backend), "Camera backend: auto, pion, mock")
	pflag.IntVar(&cfg.Camera.Width, "width", cfg.Camera.Width, "Capture width")
	pflag.IntVar(&cfg.Camera.Height, "height", cfg.Camera.Height, "Capture height")
	pflag.IntVar(&cfg.Camera.PreviewFPS, "preview-fps", cfg.Camera.PreviewFPS, "Preview frames per second")
	noAutoStart := pflag.Bool("no-autostart", false, "Do not open the camera on startup")
	pflag.DurationVar(&cfg.Reminder.CheckInterval, "reminder-interval", cfg.Reminder.CheckInterval, "How often reminders are checked")
	pflag.DurationVar(&cfg.TeleopRate, "teleop-rate", cfg.TeleopRate, "Joystick send interval")
	pflag.Parse()

	cfg.Camera.Backend = camera.BackendKind(*backend)
	cfg.AutoStart = !*noAutoStart
	if cfg.RemindersPath == "" {
		cfg.RemindersPath = filepath.Join(filepath.Dir(cfg.SettingsPath), "reminders.json")
	}
	if cfg.Reminder.Grace < cfg.Reminder.CheckInterval {
		cfg.Reminder.Grace = cfg.Reminder.CheckInterval + time.Minute
	}
	return cfg, *level
}
