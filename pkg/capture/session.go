package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/feederr"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting-permission"
	StateStarting             State = "starting"
	StateActive               State = "active"
	StateStopping             State = "stopping"
	StateError                State = "error"
)

// ErrSuperseded is returned by a Start that was overtaken by Stop or a newer Start.
var ErrSuperseded = errors.New("capture: start superseded")

// Status is a snapshot of a Session.
type Status struct {
	State    State           `json:"state"`
	Active   bool            `json:"active"`
	Position camera.Position `json:"position"`
	DeviceID string          `json:"device_id,omitempty"`
	Facing   camera.Facing   `json:"facing,omitempty"`
	StreamID string          `json:"stream_id,omitempty"`
	Relaxed  bool            `json:"relaxed"`
	Since    time.Time       `json:"since"`
	Error    string          `json:"error,omitempty"`
	Code     feederr.Code    `json:"code,omitempty"`
	Err      error           `json:"-"`
}

// Session is the device camera state machine:
//
//	idle → requesting-permission → starting → active → stopping → idle
//
// with error reachable from requesting-permission and starting.
// Start, Stop and the switch operations are serialized; Stop additionally
// cancels an in-flight Start so teardown never waits on a hung camera.
type Session struct {
	backend camera.MediaBackend
	enum    *camera.Enumerator
	sink    Sink
	cfg     Config
	logger  *slog.Logger

	// opMu serializes lifecycle operations.
	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	stream     camera.Stream
	constraint camera.Constraints
	position   camera.Position
	relaxed    bool
	since      time.Time
	lastErr    error
	gen        uint64
	cancel     context.CancelFunc
	cls        *camera.Classification

	onStatus func(Status)
}

// NewSession creates an idle session. sink may be nil when frames are not needed.
func NewSession(backend camera.MediaBackend, sink Sink, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if sink == nil {
		sink = NewFrameSink(nil, 0, 0, logger)
	}
	return &Session{
		backend:  backend,
		enum:     camera.NewEnumerator(backend, logger),
		sink:     sink,
		cfg:      cfg,
		logger:   logger.With("component", "capture.session"),
		state:    StateIdle,
		position: camera.PositionFront,
		since:    time.Now(),
	}
}

// OnStatus registers a callback invoked after every state transition.
func (s *Session) OnStatus(fn func(Status)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// Status returns the current status snapshot.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	st := Status{
		State:    s.state,
		Active:   s.state == StateActive,
		Position: s.position,
		DeviceID: s.constraint.DeviceID,
		Facing:   s.constraint.Facing,
		Relaxed:  s.relaxed,
		Since:    s.since,
	}
	if s.stream != nil {
		st.StreamID = s.stream.ID()
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
		st.Code = feederr.CodeOf(s.lastErr)
		st.Err = s.lastErr
	}
	return st
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Position returns the currently selected camera position.
func (s *Session) Position() camera.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// Devices enumerates and classifies the available cameras.
// The classification is cached for position lookups.
//
// Labels are only exposed once camera access was granted, so from idle or
// error Devices opens and releases a throwaway capture. It never does so
// while a stream is held or another operation is acquiring the camera.
func (s *Session) Devices(ctx context.Context) (camera.Classification, error) {
	if !s.opMu.TryLock() {
		// A lifecycle operation owns the camera.
		return s.enumerateLocked(ctx, false)
	}
	defer s.opMu.Unlock()
	return s.enumerateLocked(ctx, true)
}

// ListDevices is Devices without the access request. It never opens a capture.
func (s *Session) ListDevices(ctx context.Context) (camera.Classification, error) {
	return s.enumerateLocked(ctx, false)
}

// enumerateLocked lists and classifies the cameras. Callers that pass
// requestAccess hold opMu.
func (s *Session) enumerateLocked(ctx context.Context, requestAccess bool) (camera.Classification, error) {
	s.mu.RLock()
	released := s.stream == nil && (s.state == StateIdle || s.state == StateError)
	s.mu.RUnlock()

	var (
		list []camera.Device
		err  error
	)
	if requestAccess && released {
		list, err = s.enum.RequestAccessAndList(ctx)
	} else {
		list, err = s.enum.List(ctx)
	}
	if err != nil {
		return camera.Classification{}, err
	}

	cls := camera.Classify(list)
	s.mu.Lock()
	s.cls = &cls
	s.mu.Unlock()
	return cls, nil
}

// Start acquires a camera for c and attaches it to the sink.
//
// An active capture is stopped and released first. A failing device or
// facing constraint is retried once with the generic "any camera"
// constraint. The sink must report readiness within ReadyTimeout.
func (s *Session) Start(ctx context.Context, c camera.Constraints) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(ctx, c, s.positionFor(c))
}

// StartPosition starts the camera facing p.
func (s *Session) StartPosition(ctx context.Context, p camera.Position) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	c := camera.Constraints{Facing: p.Facing()}
	s.mu.RLock()
	cls := s.cls
	s.mu.RUnlock()
	if cls != nil {
		if d := cls.ForPosition(p); d != nil {
			c = camera.Constraints{DeviceID: d.ID}
		}
	}
	return s.startLocked(ctx, c, p)
}

// SwitchDevice restarts the capture on an explicit device.
func (s *Session) SwitchDevice(ctx context.Context, deviceID string) error {
	return s.Start(ctx, camera.Constraints{DeviceID: deviceID})
}

// SwitchFacing toggles between the front and back camera.
//
// It fails with NoOppositeCameraAvailable, leaving the current capture
// untouched, when classification found no camera facing the other way.
func (s *Session) SwitchFacing(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cls, err := s.enumerateLocked(ctx, true)
	if err != nil {
		return err
	}

	st := s.Status()
	target := st.Position.Opposite()
	dev := cls.ForPosition(target)
	if dev == nil || (st.DeviceID != "" && dev.ID == st.DeviceID) {
		s.logger.Info("no opposite camera", "wanted", target)
		return feederr.New(feederr.CodeNoOppositeCameraAvailable, feederr.SourceDevice, "switch", nil)
	}
	return s.startLocked(ctx, camera.Constraints{DeviceID: dev.ID}, target)
}

// Stop releases the capture. It is idempotent and safe from any state,
// including while a Start is still acquiring the camera.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.releaseLocked("stop")
	return nil
}

// Close is Stop for component teardown.
func (s *Session) Close() error {
	return s.Stop()
}

func (s *Session) positionFor(c camera.Constraints) camera.Position {
	switch c.Facing {
	case camera.FacingUser:
		return camera.PositionFront
	case camera.FacingEnvironment:
		return camera.PositionBack
	}
	if c.DeviceID == "" {
		return s.Position()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cls != nil {
		for _, d := range s.cls.Devices() {
			if d.ID == c.DeviceID {
				return d.Position
			}
		}
	}
	return camera.PositionOther
}

// startLocked runs one acquisition. Callers hold opMu.
func (s *Session) startLocked(ctx context.Context, c camera.Constraints, pos camera.Position) error {
	s.releaseLocked("replace")

	if !s.backend.SecureContext() {
		err := feederr.New(feederr.CodeNotSecureContext, feederr.SourceDevice, "start", nil)
		s.fail(s.currentGen(), err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.constraint = c
	s.position = pos
	s.relaxed = false
	s.lastErr = nil
	s.mu.Unlock()

	s.transition(gen, StateRequestingPermission)

	stream, used, err := s.acquire(runCtx, c)
	if err != nil {
		if runCtx.Err() != nil {
			return s.abort(gen, ctx)
		}
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.discard(stream)
		return ErrSuperseded
	}
	s.stream = stream
	s.constraint = used
	s.relaxed = used != c
	s.mu.Unlock()

	s.transition(gen, StateStarting)

	readyCtx, cancelReady := context.WithTimeout(runCtx, s.cfg.ReadyTimeout)
	err = s.sink.Attach(readyCtx, stream)
	timedOut := errors.Is(readyCtx.Err(), context.DeadlineExceeded)
	cancelReady()

	if err != nil {
		s.sink.Detach()
		s.discard(stream)
		s.mu.Lock()
		if s.stream == stream {
			s.stream = nil
		}
		current := s.gen == gen
		s.mu.Unlock()

		if !current {
			return ErrSuperseded
		}
		if !timedOut && runCtx.Err() != nil {
			return s.abort(gen, ctx)
		}
		var ferr *feederr.Error
		if timedOut {
			ferr = feederr.New(feederr.CodeTimeout, feederr.SourceDevice, "start", err)
		} else {
			ferr = feederr.New(feederr.CodePlaybackFailed, feederr.SourceDevice, "start", err)
		}
		s.fail(gen, ferr)
		return ferr
	}

	if !s.transition(gen, StateActive) {
		s.sink.Detach()
		s.discard(stream)
		return ErrSuperseded
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cancel = nil
	}
	s.mu.Unlock()

	s.logger.Info("camera active",
		"position", pos,
		"device_id", used.DeviceID,
		"facing", used.Facing,
		"relaxed", used != c,
	)
	return nil
}

// acquire calls GetUserMedia, retrying once with relaxed constraints.
func (s *Session) acquire(ctx context.Context, c camera.Constraints) (camera.Stream, camera.Constraints, error) {
	req := s.withSize(c)
	stream, err := s.backend.GetUserMedia(ctx, req)
	if err == nil {
		return stream, c, nil
	}
	if ctx.Err() != nil {
		return nil, c, ctx.Err()
	}

	code := camera.ClassifyError(err)
	if camera.Retryable(code) && !c.IsZero() {
		s.logger.Warn("constraint failed, retrying with any camera",
			"device_id", c.DeviceID,
			"facing", c.Facing,
			"error", err,
		)
		relaxed := c.Relaxed()
		stream, err = s.backend.GetUserMedia(ctx, s.withSize(relaxed))
		if err == nil {
			return stream, relaxed, nil
		}
		if ctx.Err() != nil {
			return nil, c, ctx.Err()
		}
		code = camera.ClassifyError(err)
	}

	return nil, c, feederr.New(code, feederr.SourceDevice, "start", err)
}

// SetSize changes the capture size used by the next start.
func (s *Session) SetSize(width, height, fps int) {
	s.mu.Lock()
	s.cfg.Width, s.cfg.Height, s.cfg.FPS = width, height, fps
	s.mu.Unlock()
}

func (s *Session) withSize(c camera.Constraints) camera.Constraints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c.Width == 0 {
		c.Width = s.cfg.Width
	}
	if c.Height == 0 {
		c.Height = s.cfg.Height
	}
	if c.FPS == 0 {
		c.FPS = s.cfg.FPS
	}
	return c
}

// releaseLocked stops the current stream, if any. Callers hold opMu.
func (s *Session) releaseLocked(reason string) {
	s.mu.Lock()
	stream := s.stream
	if stream == nil {
		changed := s.state != StateIdle
		s.state = StateIdle
		s.lastErr = nil
		if changed {
			s.since = time.Now()
		}
		st, cb := s.statusLocked(), s.onStatus
		s.mu.Unlock()
		if changed && cb != nil {
			cb(st)
		}
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.sink.Detach()
	s.discard(stream)

	s.mu.Lock()
	s.stream = nil
	s.state = StateIdle
	s.lastErr = nil
	s.since = time.Now()
	st, cb := s.statusLocked(), s.onStatus
	s.mu.Unlock()

	s.logger.Debug("camera released", "reason", reason, "stream_id", stream.ID())
	if cb != nil {
		cb(st)
	}
}

// discard stops every track of stream, logging rather than returning failures.
func (s *Session) discard(stream camera.Stream) {
	for _, t := range stream.Tracks() {
		if err := t.Stop(); err != nil {
			s.logger.Warn("track stop failed", "track_id", t.ID(), "error", err)
		}
	}
}

// abort handles a cancelled start: a superseded run leaves state to whoever
// superseded it, a run cancelled by its caller goes back to idle.
func (s *Session) abort(gen uint64, ctx context.Context) error {
	if !s.transition(gen, StateIdle) {
		return ErrSuperseded
	}
	s.mu.Lock()
	if s.gen == gen {
		s.cancel = nil
	}
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrSuperseded
}

func (s *Session) currentGen() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// transition moves to state if gen is still current.
func (s *Session) transition(gen uint64, state State) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.since = time.Now()
	st, cb := s.statusLocked(), s.onStatus
	s.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	return true
}

func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.lastErr = err
	s.since = time.Now()
	s.cancel = nil
	st, cb := s.statusLocked(), s.onStatus
	s.mu.Unlock()

	s.logger.Warn("camera start failed", "code", feederr.CodeOf(err), "error", err)
	if cb != nil {
		cb(st)
	}
}
