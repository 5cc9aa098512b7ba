package remotefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-medibot/pkg/camurl"
	"github.com/teslashibe/go-medibot/pkg/feederr"
)

// State is the negotiator lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateProbing    State = "probing"
	StateDisplaying State = "displaying"
	StateExhausted  State = "exhausted"
	StateHandoff    State = "handoff"
)

// maxAttempts is how many settled attempts Status keeps.
const maxAttempts = 20

// ErrNoTarget is returned by Reload before any camera address was loaded.
var ErrNoTarget = errors.New("remotefeed: no camera address loaded")

// Outcome is the result of one transport attempt.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Attempt records one try of a transport mode. It starts pending when the
// mode is tried and settles to success (the mode displayed) or failed.
// A successful attempt whose feed later breaks keeps its outcome and
// records the break in Error.
type Attempt struct {
	Mode    Mode      `json:"mode"`
	URL     string    `json:"url"`
	Retry   int       `json:"retry"`
	Started time.Time `json:"started"`
	Settled time.Time `json:"settled,omitzero"`
	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	Network bool      `json:"network,omitempty"`
}

// Status is a snapshot of the negotiator.
type Status struct {
	State State `json:"state"`
	Mode  Mode  `json:"mode,omitempty"`

	// URL is the camera endpoint in use; Request is what is actually fetched
	// (differs when the CORS relay is on).
	URL     string `json:"url,omitempty"`
	Request string `json:"request,omitempty"`
	Base    string `json:"base,omitempty"`

	Retries    map[Mode]int `json:"retries"`
	MaxRetries int          `json:"max_retries"`
	CorsBypass bool         `json:"cors_bypass"`
	Error      string       `json:"error,omitempty"`
	Code       feederr.Code `json:"code,omitempty"`
	Current    *Attempt     `json:"current,omitempty"`
	Attempts   []Attempt    `json:"attempts,omitempty"`
	Since      time.Time    `json:"since"`
	Err        error        `json:"-"`
}

// Negotiator is the remote feed state machine:
//
//	idle → probing(mode) → displaying(mode) → probing(next) → ... → exhausted
//
// Each Load, Reload or bypass toggle starts a new run with zeroed counters.
// Runs are tagged with a generation; a result from an older run is dropped.
type Negotiator struct {
	transport Transport
	poller    *Poller
	cfg       Config
	logger    *slog.Logger

	// opMu serializes Load, Reload, ToggleCorsBypass and Stop.
	opMu sync.Mutex

	mu          sync.Mutex
	state       State
	target      Target
	mode        Mode
	url         string
	retries     map[Mode]int
	networkOnly bool
	lastErr     error
	current     *Attempt
	attempts    []Attempt
	since       time.Time
	gen         uint64
	cancel      context.CancelFunc
	done        chan struct{}
	settled     chan struct{}
	isSettled   bool

	onStatus    func(Status)
	onFrame     func([]byte)
	onExhausted func(*feederr.Error)
	onHandoff   func()
}

// NewNegotiator creates an idle negotiator. A nil transport uses HTTP.
func NewNegotiator(transport Transport, cfg Config, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	if transport == nil {
		transport = NewHTTPProber(nil, logger)
	}
	def := DefaultConfig()
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if cfg.Relay == "" {
		cfg.Relay = def.Relay
	}

	return &Negotiator{
		transport: transport,
		poller:    NewPoller(transport, cfg.PollInterval, cfg.LoadTimeout, logger),
		cfg:       cfg,
		logger:    logger.With("component", "remotefeed"),
		state:     StateIdle,
		retries:   newRetries(),
		since:     time.Now(),
	}
}

func newRetries() map[Mode]int {
	m := make(map[Mode]int, len(Ladder))
	for _, mode := range Ladder {
		m[mode] = 0
	}
	return m
}

// OnStatus registers a callback invoked on every state or counter change.
func (n *Negotiator) OnStatus(fn func(Status)) {
	n.mu.Lock()
	n.onStatus = fn
	n.mu.Unlock()
}

// OnFrame registers the receiver of relayed JPEG frames.
func (n *Negotiator) OnFrame(fn func([]byte)) {
	n.mu.Lock()
	n.onFrame = fn
	n.mu.Unlock()
}

// OnExhausted registers the terminal failure callback.
func (n *Negotiator) OnExhausted(fn func(*feederr.Error)) {
	n.mu.Lock()
	n.onExhausted = fn
	n.mu.Unlock()
}

// OnHandoff registers the callback for the device-handoff rung.
// The rung is only taken when handoff is enabled and fn is not nil.
func (n *Negotiator) OnHandoff(fn func()) {
	n.mu.Lock()
	n.onHandoff = fn
	n.mu.Unlock()
}

// Load normalizes raw, resets every counter and starts from the first mode.
// It returns once the run is started; use Await for the outcome.
func (n *Negotiator) Load(raw string) error {
	n.opMu.Lock()
	defer n.opMu.Unlock()

	n.mu.Lock()
	target := NewTarget(raw, n.cfg.CorsBypass, n.cfg.Relay)
	n.mu.Unlock()
	if target.Base == "" {
		return feederr.New(feederr.CodeRemoteConnectionFailed, feederr.SourceRemote, "load",
			fmt.Errorf("invalid camera address %q", raw))
	}

	n.mu.Lock()
	n.target = target
	n.mu.Unlock()

	n.restartLocked("load")
	return nil
}

// Reload restarts the ladder for the current address. This is the only way
// out of the exhausted state besides Load and ToggleCorsBypass.
func (n *Negotiator) Reload() error {
	n.opMu.Lock()
	defer n.opMu.Unlock()

	n.mu.Lock()
	loaded := n.target.Base != ""
	n.mu.Unlock()
	if !loaded {
		return ErrNoTarget
	}

	n.restartLocked("reload")
	return nil
}

// ToggleCorsBypass routes requests through the relay (or stops doing so).
// A running or exhausted negotiator restarts from the first mode with every
// counter at zero, because bypass changes which modes are reachable. A
// stopped one only remembers the setting.
func (n *Negotiator) ToggleCorsBypass(enabled bool) {
	n.opMu.Lock()
	defer n.opMu.Unlock()

	n.mu.Lock()
	n.cfg.CorsBypass = enabled
	n.target.Bypass = enabled
	n.target.Relay = n.cfg.Relay
	running := n.target.Base != "" && n.state != StateIdle
	n.mu.Unlock()

	n.logger.Info("cors bypass toggled", "enabled", enabled, "relay", n.cfg.Relay)
	if running {
		n.restartLocked("cors toggle")
	}
}

// SetRelay changes the CORS relay prefix. An empty relay restores the
// default. It applies from the next Load, Reload or bypass toggle.
func (n *Negotiator) SetRelay(relay string) {
	if relay == "" {
		relay = DefaultRelay
	}
	n.mu.Lock()
	changed := n.cfg.Relay != relay
	n.cfg.Relay = relay
	n.mu.Unlock()
	if changed {
		n.logger.Info("cors relay changed", "relay", relay)
	}
}

// Relay returns the CORS relay prefix.
func (n *Negotiator) Relay() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.Relay
}

// SetHandoff enables or disables the device-handoff rung. A run already
// in progress sees the change when it reaches the rung.
func (n *Negotiator) SetHandoff(enabled bool) {
	n.mu.Lock()
	n.cfg.Handoff = enabled
	n.mu.Unlock()
}

// Handoff reports whether the device-handoff rung is enabled.
func (n *Negotiator) Handoff() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.Handoff
}

// CorsBypass reports whether the relay is in use.
func (n *Negotiator) CorsBypass() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.CorsBypass
}

// Stop cancels the current run and waits for it to exit. It is idempotent.
// The loaded address is kept so Reload can resume.
func (n *Negotiator) Stop() error {
	n.opMu.Lock()
	defer n.opMu.Unlock()

	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel = nil
	n.gen++
	changed := n.state != StateIdle
	n.state = StateIdle
	n.mode = ""
	n.url = ""
	n.lastErr = nil
	n.current = nil
	if changed {
		n.since = time.Now()
	}
	n.settleLocked()
	st, cb := n.statusLocked(), n.onStatus
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if changed {
		n.logger.Debug("remote feed stopped")
		if cb != nil {
			cb(st)
		}
	}
	return nil
}

// Close is Stop for component teardown.
func (n *Negotiator) Close() error {
	return n.Stop()
}

// Await blocks until the current run is displaying, exhausted, handed off
// or stopped, or until ctx ends. It returns the terminal error when exhausted.
func (n *Negotiator) Await(ctx context.Context) (Status, error) {
	n.mu.Lock()
	ch := n.settled
	n.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return n.Status(), ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	st := n.statusLocked()
	if n.state == StateExhausted {
		return st, n.lastErr
	}
	return st, nil
}

// Status returns the current snapshot.
func (n *Negotiator) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusLocked()
}

// Retries returns a copy of the per-mode failure counters.
func (n *Negotiator) Retries() map[Mode]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[Mode]int, len(n.retries))
	for k, v := range n.retries {
		out[k] = v
	}
	return out
}

// Target returns the loaded target.
func (n *Negotiator) Target() Target {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

func (n *Negotiator) statusLocked() Status {
	st := Status{
		State:      n.state,
		Mode:       n.mode,
		URL:        n.url,
		Base:       n.target.Base,
		Retries:    make(map[Mode]int, len(n.retries)),
		MaxRetries: n.cfg.MaxRetries,
		CorsBypass: n.cfg.CorsBypass,
		Since:      n.since,
	}
	if n.url != "" {
		st.Request = n.target.Request(n.url)
	}
	for k, v := range n.retries {
		st.Retries[k] = v
	}
	if n.current != nil {
		a := *n.current
		st.Current = &a
	}
	if len(n.attempts) > 0 {
		st.Attempts = append([]Attempt(nil), n.attempts...)
	}
	if n.state == StateExhausted && n.lastErr != nil {
		st.Error = n.lastErr.Error()
		st.Code = feederr.CodeOf(n.lastErr)
		st.Err = n.lastErr
	}
	return st
}

// restartLocked cancels the current run and starts a fresh one. Callers hold opMu.
func (n *Negotiator) restartLocked(reason string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	n.mu.Lock()
	prevCancel, prevDone := n.cancel, n.done
	n.settleLocked()
	n.gen++
	gen := n.gen
	n.cancel = cancel
	n.done = done
	n.settled = make(chan struct{})
	n.isSettled = false
	n.retries = newRetries()
	n.networkOnly = true
	n.lastErr = nil
	n.current = nil
	n.attempts = nil
	n.target.Relay = n.cfg.Relay
	n.state = StateProbing
	n.mode = Ladder[0]
	n.url = ""
	n.since = time.Now()
	target := n.target
	st, cb := n.statusLocked(), n.onStatus
	n.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prevDone != nil {
		<-prevDone
	}

	n.logger.Info("negotiating remote feed",
		"reason", reason,
		"base", target.Base,
		"bypass", target.Bypass,
	)
	if cb != nil {
		cb(st)
	}

	go func() {
		terminal := n.run(ctx, gen, target)
		close(done)
		if terminal != nil {
			terminal()
		}
	}()
}

// run walks the ladder. It returns the terminal callback to invoke once the
// run has exited, or nil when there is nothing to report.
func (n *Negotiator) run(ctx context.Context, gen uint64, target Target) func() {
	for _, mode := range Ladder {
		if mode == ModeDeviceHandoff {
			if fn := n.handoffFunc(); fn != nil {
				return n.handoff(gen, fn)
			}
			n.skip(gen, mode)
			continue
		}

		for {
			if ctx.Err() != nil {
				return nil
			}
			url := target.urlFor(mode, n.retryCount(mode))
			if url == "" {
				n.skip(gen, mode)
				break
			}
			if !n.setState(gen, StateProbing, mode, url) {
				return nil
			}
			n.beginAttempt(gen, mode, url)

			err := n.probe(ctx, target, mode, url)
			if err == nil {
				if !n.setState(gen, StateDisplaying, mode, url) {
					return nil
				}
				err = n.display(ctx, gen, target, mode, url)
			}
			if ctx.Err() != nil {
				return nil
			}

			tries, ok := n.recordFailure(gen, mode, url, err)
			if !ok {
				return nil
			}
			if tries >= n.cfg.MaxRetries {
				break
			}
			if !sleep(ctx, n.cfg.Backoff(tries)) {
				return nil
			}
		}
	}
	return n.exhaust(gen, target)
}

func (n *Negotiator) probe(ctx context.Context, target Target, mode Mode, url string) error {
	pctx, cancel := context.WithTimeout(ctx, n.cfg.LoadTimeout)
	defer cancel()

	req := url
	if mode == ModeSnapshot {
		req = camurl.WithCacheBuster(url, n.poller.Token())
	}
	err := n.transport.Probe(pctx, mode, target.Request(req))
	if err != nil && ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("load timeout after %v: %w", n.cfg.LoadTimeout, err)
	}
	return err
}

// display keeps a working mode on screen. It returns when the feed breaks
// (the error feeds the ladder) or ctx ends.
func (n *Negotiator) display(ctx context.Context, gen uint64, target Target, mode Mode, url string) error {
	emit := n.frameEmitter(gen)

	if mode == ModeSnapshot {
		return n.poller.Run(ctx, target, url, emit)
	}
	if emit == nil {
		<-ctx.Done()
		return nil
	}

	err := n.transport.Stream(ctx, target.Request(url), emit)
	if errors.Is(err, ErrNotMultipart) {
		// Playable by the UI directly; nothing to relay.
		<-ctx.Done()
		return nil
	}
	return err
}

// frameEmitter returns a frame callback bound to gen, or nil when no one listens.
func (n *Negotiator) frameEmitter(gen uint64) func([]byte) {
	n.mu.Lock()
	fn := n.onFrame
	n.mu.Unlock()
	if fn == nil {
		return nil
	}
	return func(frame []byte) {
		n.mu.Lock()
		current := n.gen == gen
		n.mu.Unlock()
		if current {
			fn(frame)
		}
	}
}

// handoffFunc returns the handoff callback, or nil when the rung is off.
func (n *Negotiator) handoffFunc() func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.cfg.Handoff {
		return nil
	}
	return n.onHandoff
}

func (n *Negotiator) retryCount(mode Mode) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.retries[mode]
}

// setState records a transition if gen is still current.
func (n *Negotiator) setState(gen uint64, state State, mode Mode, url string) bool {
	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return false
	}
	changed := n.state != state || n.mode != mode || n.url != url
	n.state = state
	n.mode = mode
	n.url = url
	if changed {
		n.since = time.Now()
	}
	if state == StateDisplaying {
		if n.current != nil && n.current.Outcome == OutcomePending {
			n.current.Outcome = OutcomeSuccess
			n.current.Settled = time.Now()
		}
		n.settleLocked()
	}
	st, cb := n.statusLocked(), n.onStatus
	n.mu.Unlock()

	if state == StateDisplaying {
		n.logger.Info("remote feed displaying", "mode", mode, "url", url)
	}
	if changed && cb != nil {
		cb(st)
	}
	return true
}

// beginAttempt opens a pending attempt for mode.
func (n *Negotiator) beginAttempt(gen uint64, mode Mode, url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.gen != gen {
		return
	}
	n.current = &Attempt{
		Mode:    mode,
		URL:     url,
		Retry:   n.retries[mode],
		Started: time.Now(),
		Outcome: OutcomePending,
	}
}

// recordFailure counts a failed attempt. Single failures are logged, never surfaced.
func (n *Negotiator) recordFailure(gen uint64, mode Mode, url string, err error) (int, bool) {
	if err == nil {
		err = errors.New("feed ended")
	}

	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return 0, false
	}
	now := time.Now()
	a := n.current
	if a == nil || a.Mode != mode || a.URL != url {
		a = &Attempt{Mode: mode, URL: url, Retry: n.retries[mode], Started: now, Outcome: OutcomePending}
	}
	n.current = nil

	n.retries[mode]++
	tries := n.retries[mode]
	network := IsNetworkError(err)
	if !network {
		n.networkOnly = false
	}
	n.lastErr = err

	if a.Outcome == OutcomePending {
		a.Outcome = OutcomeFailed
		a.Settled = now
	}
	a.Error = err.Error()
	a.Network = network
	n.attempts = append(n.attempts, *a)
	if len(n.attempts) > maxAttempts {
		n.attempts = n.attempts[len(n.attempts)-maxAttempts:]
	}
	n.state = StateProbing
	st, cb := n.statusLocked(), n.onStatus
	n.mu.Unlock()

	n.logger.Warn("remote attempt failed",
		"mode", mode,
		"attempt", tries,
		"max_retries", n.cfg.MaxRetries,
		"url", url,
		"error", err,
	)
	if cb != nil {
		cb(st)
	}
	return tries, true
}

// skip marks a mode with no usable endpoint as spent.
func (n *Negotiator) skip(gen uint64, mode Mode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.gen == gen {
		n.retries[mode] = n.cfg.MaxRetries
	}
}

func (n *Negotiator) exhaust(gen uint64, target Target) func() {
	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return nil
	}
	ferr := feederr.New(feederr.CodeRemoteConnectionFailed, feederr.SourceRemote, "load",
		fmt.Errorf("all transport modes failed for %s: %w", target.Base, n.lastErr))
	if n.networkOnly && !target.Bypass {
		// Nothing ever answered; the relay may get through.
		inner := feederr.New(feederr.CodeRemoteConnectionFailed, feederr.SourceRemote, "", n.lastErr)
		ferr = feederr.New(feederr.CodeCorsOrNetworkFailure, feederr.SourceRemote, "load", inner)
	}
	n.state = StateExhausted
	n.mode = ""
	n.url = ""
	n.lastErr = ferr
	n.since = time.Now()
	n.settleLocked()
	st, cb, onExhausted := n.statusLocked(), n.onStatus, n.onExhausted
	n.mu.Unlock()

	n.logger.Error("remote feed exhausted", "base", target.Base, "code", ferr.Code, "error", ferr.Err)
	if cb != nil {
		cb(st)
	}
	return func() {
		if onExhausted != nil {
			onExhausted(ferr)
		}
	}
}

func (n *Negotiator) handoff(gen uint64, fn func()) func() {
	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return nil
	}
	n.state = StateHandoff
	n.mode = ModeDeviceHandoff
	n.url = ""
	n.since = time.Now()
	n.settleLocked()
	st, cb := n.statusLocked(), n.onStatus
	n.mu.Unlock()

	n.logger.Info("remote transports failed, handing off to device camera", "base", n.Target().Base)
	if cb != nil {
		cb(st)
	}
	return fn
}

func (n *Negotiator) settleLocked() {
	if n.settled != nil && !n.isSettled {
		close(n.settled)
		n.isSettled = true
	}
}

// sleep waits d or until ctx ends. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
