package web

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-medibot/internal/config"
	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/feed"
	"github.com/teslashibe/go-medibot/pkg/hub"
)

// FeedStatus is the body of GET /api/feed/status.
type FeedStatus struct {
	feed.Status
	Running []feed.Kind `json:"running"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	body := fiber.Map{"ok": true}
	if s.deps.Events != nil {
		body["clients"] = s.deps.Events.ClientCount()
	}
	return c.JSON(body)
}

func (s *Server) feedStatus() FeedStatus {
	return FeedStatus{Status: s.deps.Feed.Status(), Running: s.deps.Feed.Running()}
}

func (s *Server) handleFeedStatus(c *fiber.Ctx) error {
	if s.deps.Feed == nil {
		return errUnavailable
	}
	return c.JSON(s.feedStatus())
}

// CameraConfigResponse is the body of GET and PUT /api/camera/config.
type CameraConfigResponse struct {
	camera.Config
	Preset string `json:"preset,omitempty"`
}

// SourceRequest selects the feed source.
type SourceRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleSelectSource(c *fiber.Ctx) error {
	if s.deps.Feed == nil {
		return errUnavailable
	}
	var req SourceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body")
	}
	kind, ok := feed.ParseKind(req.Source)
	if !ok {
		return badRequest("source must be device or remote")
	}

	ctx, cancel := s.opContext(c)
	defer cancel()
	if err := s.deps.Feed.SelectSource(ctx, kind); err != nil {
		return err
	}
	s.persist(func(st *config.Settings) { st.Source = string(kind) })
	return c.JSON(s.feedStatus())
}

func (s *Server) handleSwitchCamera(c *fiber.Ctx) error {
	if s.deps.Feed == nil {
		return errUnavailable
	}
	ctx, cancel := s.opContext(c)
	defer cancel()
	if err := s.deps.Feed.SwitchCamera(ctx); err != nil {
		return err
	}
	return c.JSON(s.feedStatus())
}

func (s *Server) handleReload(c *fiber.Ctx) error {
	if s.deps.Feed == nil {
		return errUnavailable
	}
	ctx, cancel := s.opContext(c)
	defer cancel()
	if err := s.deps.Feed.Reload(ctx); err != nil {
		return err
	}
	return c.JSON(s.feedStatus())
}

func (s *Server) handleStopFeed(c *fiber.Ctx) error {
	if s.deps.Feed == nil {
		return errUnavailable
	}
	if err := s.deps.Feed.Stop(); err != nil {
		return err
	}
	return c.JSON(s.feedStatus())
}

// URLRequest sets the remote camera address.
type URLRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleSetCameraURL(c *fiber.Ctx) error {
	if s.deps.Feed == nil {
		return errUnavailable
	}
	var req URLRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body")
	}
	url := strings.TrimSpace(req.URL)

	s.persist(func(st *config.Settings) { st.CameraURL = url })

	ctx, cancel := s.opContext(c)
	defer cancel()
	if err := s.deps.Feed.SetCameraURL(ctx, url); err != nil {
		return err
	}
	return c.JSON(s.feedStatus())
}

// CorsRequest toggles the CORS relay.
type CorsRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetCors(c *fiber.Ctx) error {
	if s.deps.Feed == nil {
		return errUnavailable
	}
	var req CorsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body")
	}
	if err := s.deps.Feed.SetCorsBypass(req.Enabled); err != nil {
		return err
	}
	s.persist(func(st *config.Settings) { st.CorsBypass = req.Enabled })

	if s.deps.Events != nil {
		msg := "CORS relay disabled"
		if req.Enabled {
			msg = "CORS relay enabled, retrying remote camera"
		}
		s.deps.Events.Toast(hub.Toast{Level: hub.ToastInfo, Title: "Remote camera", Message: msg})
	}
	return c.JSON(s.feedStatus())
}

func (s *Server) handleRemoteStatus(c *fiber.Ctx) error {
	if s.deps.Remote == nil {
		return errUnavailable
	}
	return c.JSON(s.deps.Remote.Negotiator().Status())
}

func (s *Server) handleDevices(c *fiber.Ctx) error {
	if s.deps.Feed == nil {
		return errUnavailable
	}
	ctx, cancel := s.opContext(c)
	defer cancel()
	cls, err := s.deps.Feed.Devices(ctx)
	if err != nil {
		return err
	}
	return c.JSON(cls)
}

// PositionRequest opens the device camera at a position.
type PositionRequest struct {
	Position camera.Position `json:"position"`
}

func (s *Server) handleSelectPosition(c *fiber.Ctx) error {
	if s.deps.Feed == nil {
		return errUnavailable
	}
	var req PositionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body")
	}
	switch req.Position {
	case camera.PositionFront, camera.PositionBack, camera.PositionOther:
	default:
		return badRequest("position must be front, back or other")
	}

	ctx, cancel := s.opContext(c)
	defer cancel()
	if err := s.deps.Feed.SelectPosition(ctx, req.Position); err != nil {
		return err
	}
	return c.JSON(s.feedStatus())
}

func (s *Server) handleGetCameraConfig(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return errUnavailable
	}
	return c.JSON(CameraConfigResponse{
		Config: s.deps.Camera.GetConfig(),
		Preset: s.deps.Camera.Preset(),
	})
}

func (s *Server) handleSetCameraConfig(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return errUnavailable
	}
	var u camera.Update
	if err := c.BodyParser(&u); err != nil {
		return badRequest("invalid body")
	}
	cfg, err := s.deps.Camera.Apply(u)
	if err != nil {
		return err
	}
	return c.JSON(CameraConfigResponse{Config: cfg, Preset: s.deps.Camera.Preset()})
}

func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(camera.Presets())
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	if s.deps.Settings == nil {
		return errUnavailable
	}
	return c.JSON(s.deps.Settings.Get())
}

// handleSetSettings saves settings and applies the command URLs, the relay
// and the handoff rung. A new relay is used from the next remote start or
// reload. Camera URL, CORS and source go through the feed routes.
func (s *Server) handleSetSettings(c *fiber.Ctx) error {
	if s.deps.Settings == nil {
		return errUnavailable
	}
	var req config.Settings
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body")
	}
	next, err := s.deps.Settings.Update(func(st *config.Settings) {
		st.MotorControlURL = req.MotorControlURL
		st.ServoControlURL = req.ServoControlURL
		if req.CorsRelay != "" {
			st.CorsRelay = req.CorsRelay
		}
		st.Handoff = req.Handoff
	})
	if err != nil {
		return badRequest(err.Error())
	}
	if s.deps.Robot != nil {
		s.deps.Robot.SetURLs(next.MotorControlURL, next.ServoControlURL)
	}
	if s.deps.Remote != nil {
		s.deps.Remote.SetRelay(next.CorsRelay)
		s.deps.Remote.SetHandoff(next.Handoff)
	}
	return c.JSON(next)
}

// persist records a settings change. Failure is logged; the live change
// already happened.
func (s *Server) persist(fn func(*config.Settings)) {
	if s.deps.Settings == nil {
		return
	}
	if _, err := s.deps.Settings.Update(fn); err != nil {
		s.logger.Warn("settings not saved", "error", err)
	}
}
