package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-medibot/internal/config"
	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/capture"
	"github.com/teslashibe/go-medibot/pkg/feed"
	"github.com/teslashibe/go-medibot/pkg/feederr"
	"github.com/teslashibe/go-medibot/pkg/hub"
	"github.com/teslashibe/go-medibot/pkg/reminder"
	"github.com/teslashibe/go-medibot/pkg/remotefeed"
	"github.com/teslashibe/go-medibot/pkg/robot"
	"github.com/teslashibe/go-medibot/pkg/web"
)

// App owns every console component and their lifecycle.
type App struct {
	cfg    Config
	logger *slog.Logger

	settings *config.File

	// Camera feed
	backend camera.MediaBackend
	camMgr  *camera.Manager
	sink    *capture.FrameSink
	session *capture.Session
	device  *feed.DeviceSource
	remote  *feed.RemoteSource
	feed    *feed.Orchestrator

	// Robot control
	robotCtrl *robot.HTTPController
	teleop    *robot.Teleop

	reminders *reminder.Scheduler

	// UI transport
	events    *hub.Hub
	frames    *hub.Hub
	relay     *web.FrameRelay
	webServer *web.Server

	wg sync.WaitGroup
}

// New creates an uninitialized console.
func New(cfg Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Init builds and wires every component. Call after New and before Run.
// A nil backend is created from the camera configuration.
func (a *App) Init(backend camera.MediaBackend) error {
	settings, err := config.Open(a.cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	a.settings = settings
	st := settings.Get()

	a.events = hub.New("events", a.logger)
	a.frames = hub.New("frames", a.logger)
	if a.cfg.RelayAddr != "" {
		a.relay = web.NewFrameRelay(a.cfg.RelayAddr, a.logger)
	}

	if err := a.initFeed(backend, st); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if err := a.initReminders(); err != nil {
		return fmt.Errorf("reminders: %w", err)
	}

	a.robotCtrl = robot.NewHTTPController(st.MotorControlURL, st.ServoControlURL, a.logger)
	a.teleop = robot.NewTeleop(a.robotCtrl, a.cfg.TeleopRate, a.logger)

	a.webServer, err = web.NewServer(a.cfg.Web, web.Deps{
		Feed:      a.feed,
		Device:    a.device,
		Remote:    a.remote,
		Camera:    a.camMgr,
		Robot:     a.robotCtrl,
		Teleop:    a.teleop,
		Reminders: a.reminders,
		Settings:  a.settings,
		Events:    a.events,
		Frames:    a.frames,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

func (a *App) initFeed(backend camera.MediaBackend, st config.Settings) error {
	if backend == nil {
		var err error
		backend, err = camera.NewBackend(a.cfg.Camera, a.logger)
		if err != nil {
			return err
		}
	}
	a.backend = backend
	a.camMgr = camera.NewManager(a.cfg.Camera)

	cc := a.cfg.Camera
	a.sink = capture.NewFrameSink(a.publishFrame, cc.Quality, cc.PreviewFPS, a.logger)

	capCfg := a.cfg.Capture
	capCfg.Width, capCfg.Height, capCfg.FPS = cc.Width, cc.Height, cc.Framerate
	a.session = capture.NewSession(backend, a.sink, capCfg, a.logger)
	a.device = feed.NewDeviceSource(a.session)

	remCfg := a.cfg.Remote
	remCfg.Relay = st.CorsRelay
	remCfg.CorsBypass = st.CorsBypass
	remCfg.Handoff = st.Handoff
	neg := remotefeed.NewNegotiator(nil, remCfg, a.logger)
	neg.OnFrame(a.publishFrame)
	a.remote = feed.NewRemoteSource(neg, st.CameraURL)

	first, second := feed.Source(a.device), feed.Source(a.remote)
	if st.Source == string(feed.KindRemote) {
		first, second = second, first
	}
	orch, err := feed.New(a.logger, first, second)
	if err != nil {
		return err
	}
	orch.OnStatus(func(s feed.Status) { a.events.Publish(hub.EventFeedStatus, s) })
	orch.OnError(a.reportFeedError)
	a.feed = orch

	a.camMgr.OnConfigChange = a.applyCameraConfig
	return nil
}

func (a *App) initReminders() error {
	store, err := reminder.NewJSONStore(a.cfg.RemindersPath)
	if err != nil {
		return err
	}
	sched, err := reminder.NewScheduler(store, reminder.DefaultNotifier(a.events), a.cfg.Reminder, a.logger)
	if err != nil {
		return err
	}
	sched.OnFire(func(r reminder.Reminder) { a.events.Publish(hub.EventReminder, r) })
	a.reminders = sched
	return nil
}

// Run starts the background loops and serves the UI until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.webServer == nil {
		return errors.New("console: Init not called")
	}

	a.goRun(func() { a.events.Run(ctx) })
	a.goRun(func() { a.frames.Run(ctx) })
	a.goRun(a.teleop.Run)
	a.goRun(func() { a.reminders.Run(ctx) })
	if a.relay != nil {
		a.goRun(func() {
			if err := a.relay.Run(ctx); err != nil {
				a.logger.Warn("mjpeg relay stopped", "error", err)
			}
		})
	}

	if a.cfg.AutoStart {
		a.goRun(func() {
			sctx, cancel := context.WithTimeout(ctx, a.cfg.Web.OperationTimeout)
			defer cancel()
			if err := a.feed.Start(sctx); err != nil {
				a.logger.Warn("feed autostart failed", "source", a.feed.Current(), "error", err)
			}
		})
	}

	a.logger.Info("console running", "addr", a.cfg.Web.Addr, "backend", a.backend.Name(), "source", a.feed.Current())
	return a.webServer.Run(ctx)
}

// Shutdown releases the camera and stops the background loops.
func (a *App) Shutdown() {
	if a.teleop != nil {
		a.teleop.Stop()
	}
	if a.feed != nil {
		if err := a.feed.Close(); err != nil {
			a.logger.Warn("feed close failed", "error", err)
		}
	}
	a.wg.Wait()
	a.logger.Info("console stopped")
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// publishFrame relays a JPEG from whichever source is active.
func (a *App) publishFrame(jpeg []byte) {
	a.frames.BroadcastBinary(jpeg)
	if a.relay != nil {
		a.relay.Publish(jpeg)
	}
}

// reportFeedError surfaces a terminal feed failure to the operator.
func (a *App) reportFeedError(fe *feederr.Error) {
	a.events.Publish(hub.EventFeedError, fe)
	a.events.Toast(hub.Toast{
		Level:   hub.ToastError,
		Title:   "Camera error",
		Message: feederr.Message(fe.Code),
		Hints:   fe.Hints(),
	})
}

// applyCameraConfig pushes new capture settings into the pipeline and
// restarts the device camera if it is running.
func (a *App) applyCameraConfig(cc camera.Config) error {
	a.session.SetSize(cc.Width, cc.Height, cc.Framerate)
	a.sink.SetRate(cc.Quality, cc.PreviewFPS)

	if a.feed.Current() != feed.KindDevice || !a.device.Status().Running {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Web.OperationTimeout)
	defer cancel()
	return a.feed.Reload(ctx)
}
