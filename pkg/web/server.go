// Package web serves the console: a JSON API over fiber, websocket
// channels for status events and preview frames, and the static UI.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-medibot/internal/config"
	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/feed"
	"github.com/teslashibe/go-medibot/pkg/hub"
	"github.com/teslashibe/go-medibot/pkg/reminder"
	"github.com/teslashibe/go-medibot/pkg/robot"
)

// Default server settings.
const (
	DefaultAddr             = ":8080"
	DefaultOperationTimeout = 20 * time.Second
)

// Config holds server settings.
type Config struct {
	Addr string
	// StaticDir is served at / when non-empty.
	StaticDir string
	// OperationTimeout bounds a feed operation started by a request.
	OperationTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:             DefaultAddr,
		StaticDir:        "./web",
		OperationTimeout: DefaultOperationTimeout,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	return nil
}

// Deps are the components the API drives. Nil components disable their
// routes' behavior with 503.
type Deps struct {
	Feed      *feed.Orchestrator
	Device    *feed.DeviceSource
	Remote    *feed.RemoteSource
	Camera    *camera.Manager
	Robot     *robot.HTTPController
	Teleop    *robot.Teleop
	Reminders *reminder.Scheduler
	Settings  *config.File

	// Events carries JSON events; Frames carries JPEG preview frames.
	Events *hub.Hub
	Frames *hub.Hub
}

// Server is the console web server.
type Server struct {
	app    *fiber.App
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// NewServer builds the fiber app and registers every route.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Medibot Console",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)

	fd := api.Group("/feed")
	fd.Get("/status", s.handleFeedStatus)
	fd.Post("/source", s.handleSelectSource)
	fd.Post("/switch", s.handleSwitchCamera)
	fd.Post("/reload", s.handleReload)
	fd.Post("/stop", s.handleStopFeed)
	fd.Put("/url", s.handleSetCameraURL)
	fd.Put("/cors", s.handleSetCors)
	fd.Get("/remote", s.handleRemoteStatus)

	cam := api.Group("/camera")
	cam.Get("/devices", s.handleDevices)
	cam.Post("/position", s.handleSelectPosition)
	cam.Get("/config", s.handleGetCameraConfig)
	cam.Put("/config", s.handleSetCameraConfig)
	cam.Get("/presets", s.handlePresets)

	rb := api.Group("/robot")
	rb.Post("/drive", s.handleDrive)
	rb.Post("/joystick", s.handleJoystick)
	rb.Post("/head", s.handleHead)
	rb.Post("/servo", s.handleServo)
	rb.Post("/drawer/:n/:op", s.handleDrawer)
	rb.Get("/last", s.handleLastCommand)

	rm := api.Group("/reminders")
	rm.Get("/", s.handleListReminders)
	rm.Get("/upcoming", s.handleUpcomingReminders)
	rm.Post("/", s.handleCreateReminder)
	rm.Put("/:id", s.handleUpdateReminder)
	rm.Delete("/:id", s.handleDeleteReminder)

	api.Get("/settings", s.handleGetSettings)
	api.Put("/settings", s.handleSetSettings)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))
	app.Get("/ws/control", websocket.New(s.handleControlWS))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run serves until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("console listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

// opContext bounds a feed operation started by c.
func (s *Server) opContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.cfg.OperationTimeout)
}
