package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/feederr"
)

// handoffTimeout bounds the device start triggered by the remote ladder.
const handoffTimeout = 30 * time.Second

// errNoHandoffTarget is the cause reported when the remote ladder hands off
// without a device source to take over.
var errNoHandoffTarget = errors.New("no device camera to hand off to")

var (
	ErrUnknownSource = errors.New("feed: unknown source")
	ErrNotSupported  = errors.New("feed: not supported by source")
)

// Addressable is a source whose camera address can be changed.
type Addressable interface {
	SetURL(url string)
}

// Relayed is a source that can route through a CORS relay.
type Relayed interface {
	SetCorsBypass(enabled bool)
}

// Positioned is a source that can open the camera at a given position.
type Positioned interface {
	SelectPosition(ctx context.Context, p camera.Position) error
}

// Enumerable is a source that can list its cameras. requestAccess allows
// a throwaway capture to unlock device labels.
type Enumerable interface {
	Devices(ctx context.Context, requestAccess bool) (camera.Classification, error)
}

// Status is the merged feed view for the UI. Exactly one of Loading,
// Active and Error is set.
type Status struct {
	Loading  bool            `json:"loading"`
	Active   bool            `json:"active"`
	Error    string          `json:"error,omitempty"`
	Code     feederr.Code    `json:"code,omitempty"`
	Hints    []string        `json:"hints,omitempty"`
	Source   Kind            `json:"source"`
	Mode     string          `json:"mode,omitempty"`
	Position camera.Position `json:"position,omitempty"`
	URL      string          `json:"url,omitempty"`
}

// Orchestrator owns the feed sources and guarantees at most one runs.
// Every source switch stops the running source, and waits for it, before
// the next one starts.
type Orchestrator struct {
	sources map[Kind]Source
	order   []Kind
	logger  *slog.Logger

	// opMu serializes source lifecycle operations.
	opMu sync.Mutex

	mu         sync.Mutex
	current    Kind
	reported   *feederr.Error
	handingOff bool
	handoffErr *feederr.Error
	onError    func(*feederr.Error)
	onStatus   func(Status)
}

// New creates an orchestrator over sources. The first source is selected
// initially but not started.
func New(logger *slog.Logger, sources ...Source) (*Orchestrator, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("feed: at least one source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		sources: make(map[Kind]Source, len(sources)),
		logger:  logger.With("component", "feed"),
		current: sources[0].Kind(),
	}
	for _, s := range sources {
		k := s.Kind()
		if _, dup := o.sources[k]; dup {
			return nil, fmt.Errorf("feed: duplicate %s source", k)
		}
		o.sources[k] = s
		o.order = append(o.order, k)
		s.OnChange(func() { o.sourceChanged(k) })
	}
	return o, nil
}

// OnError registers the single error funnel. Only terminal failures reach
// it, each one once.
func (o *Orchestrator) OnError(fn func(*feederr.Error)) {
	o.mu.Lock()
	o.onError = fn
	o.mu.Unlock()
}

// OnStatus registers a callback receiving every merged status change.
func (o *Orchestrator) OnStatus(fn func(Status)) {
	o.mu.Lock()
	o.onStatus = fn
	o.mu.Unlock()
}

// Current returns the selected source kind.
func (o *Orchestrator) Current() Kind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Source returns the source of kind k.
func (o *Orchestrator) Source(k Kind) (Source, bool) {
	s, ok := o.sources[k]
	return s, ok
}

// Start starts the selected source.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.SelectSource(ctx, o.Current())
}

// SelectSource stops whichever other source runs and starts kind.
// Selecting the source that is already running without error is a no-op.
func (o *Orchestrator) SelectSource(ctx context.Context, kind Kind) error {
	src, ok := o.sources[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}

	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	prev := o.current
	o.current = kind
	o.handingOff = false
	o.handoffErr = nil
	o.mu.Unlock()

	if prev == kind {
		if st := src.Status(); st.Running && st.Err == nil {
			return nil
		}
	}

	o.stopOthers(kind)

	o.logger.Info("selecting feed source", "source", kind, "previous", prev)
	err := src.Start(ctx)
	o.publish()
	if err != nil {
		o.report(err)
		return err
	}
	return nil
}

// SelectPosition selects the device source and opens the camera facing p.
func (o *Orchestrator) SelectPosition(ctx context.Context, p camera.Position) error {
	src, ok := o.sources[KindDevice]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, KindDevice)
	}
	ps, ok := src.(Positioned)
	if !ok {
		return ErrNotSupported
	}

	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	o.current = KindDevice
	o.handingOff = false
	o.handoffErr = nil
	o.mu.Unlock()

	o.stopOthers(KindDevice)
	err := ps.SelectPosition(ctx, p)
	o.publish()
	if err != nil {
		o.report(err)
	}
	return err
}

// SwitchCamera flips the device camera or re-negotiates the remote feed.
func (o *Orchestrator) SwitchCamera(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	src := o.sources[o.Current()]
	err := src.Switch(ctx)
	o.publish()
	if err != nil {
		o.report(err)
	}
	return err
}

// Reload restarts the selected source from scratch. For the remote source
// this is the way out of an exhausted ladder.
func (o *Orchestrator) Reload(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	kind := o.Current()
	o.stopOthers(kind)
	o.clearReported()
	err := o.sources[kind].Start(ctx)
	o.publish()
	if err != nil {
		o.report(err)
	}
	return err
}

// SetCameraURL changes the remote camera address and, if the remote source
// is selected, reloads it.
func (o *Orchestrator) SetCameraURL(ctx context.Context, url string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	src, ok := o.sources[KindRemote]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, KindRemote)
	}
	a, ok := src.(Addressable)
	if !ok {
		return ErrNotSupported
	}
	a.SetURL(url)

	if o.Current() != KindRemote {
		return nil
	}
	o.clearReported()
	err := src.Start(ctx)
	o.publish()
	if err != nil {
		o.report(err)
	}
	return err
}

// SetCorsBypass toggles the relay on the remote source.
func (o *Orchestrator) SetCorsBypass(enabled bool) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	src, ok := o.sources[KindRemote]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, KindRemote)
	}
	r, ok := src.(Relayed)
	if !ok {
		return ErrNotSupported
	}
	o.clearReported()
	r.SetCorsBypass(enabled)
	o.publish()
	return nil
}

// Devices lists the device cameras. Access is only requested, which opens
// a capture, while no other source is running.
func (o *Orchestrator) Devices(ctx context.Context) (camera.Classification, error) {
	src, ok := o.sources[KindDevice]
	if !ok {
		return camera.Classification{}, fmt.Errorf("%w: %q", ErrUnknownSource, KindDevice)
	}
	en, ok := src.(Enumerable)
	if !ok {
		return camera.Classification{}, ErrNotSupported
	}

	o.opMu.Lock()
	defer o.opMu.Unlock()

	requestAccess := true
	for _, k := range o.order {
		if k != KindDevice && o.sources[k].Status().Running {
			requestAccess = false
			break
		}
	}
	return en.Devices(ctx, requestAccess)
}

// Stop stops every running source.
func (o *Orchestrator) Stop() error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	var firstErr error
	for _, k := range o.order {
		if err := o.sources[k].Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	o.publish()
	return firstErr
}

// Close is Stop for teardown.
func (o *Orchestrator) Close() error {
	return o.Stop()
}

// Running lists the sources currently holding resources.
func (o *Orchestrator) Running() []Kind {
	var out []Kind
	for _, k := range o.order {
		if o.sources[k].Status().Running {
			out = append(out, k)
		}
	}
	return out
}

// Status returns the merged view of the selected source.
func (o *Orchestrator) Status() Status {
	kind := o.Current()
	ss := o.sources[kind].Status()
	if ss.Handoff {
		o.mu.Lock()
		if o.handoffErr != nil {
			ss.Err = o.handoffErr
		}
		o.mu.Unlock()
	}

	st := Status{
		Source:   kind,
		Mode:     ss.Mode,
		Position: ss.Position,
		URL:      ss.URL,
	}
	switch {
	case ss.Err != nil:
		st.Error = ss.Err.Error()
		st.Code = ss.Err.Code
		st.Hints = ss.Err.Hints()
	case ss.Active:
		st.Active = true
	default:
		// Idle between selection and start shows as loading.
		st.Loading = true
	}
	return st
}

// stopOthers stops every source except keep. Callers hold opMu.
func (o *Orchestrator) stopOthers(keep Kind) {
	for _, k := range o.order {
		if k == keep {
			continue
		}
		s := o.sources[k]
		if !s.Status().Running {
			continue
		}
		if err := s.Stop(); err != nil {
			o.logger.Warn("source stop failed", "source", k, "error", err)
		}
	}
}

func (o *Orchestrator) sourceChanged(k Kind) {
	if o.Current() != k {
		return
	}
	st := o.sources[k].Status()
	if st.Err != nil {
		o.report(st.Err)
	}
	if st.Handoff {
		o.beginHandoff()
	}
	o.publish()
}

// beginHandoff switches to the device camera once the remote ladder has
// given up. It runs asynchronously: the remote source is still unwinding.
func (o *Orchestrator) beginHandoff() {
	o.mu.Lock()
	if o.handingOff || o.current != KindRemote {
		o.mu.Unlock()
		return
	}
	o.handingOff = true
	o.mu.Unlock()

	if _, ok := o.sources[KindDevice]; !ok {
		fe := feederr.New(feederr.CodeRemoteConnectionFailed, feederr.SourceRemote, "handoff", errNoHandoffTarget)
		o.mu.Lock()
		o.handoffErr = fe
		o.mu.Unlock()
		o.report(fe)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), handoffTimeout)
		defer cancel()
		o.logger.Info("handing off to device camera")
		if err := o.SelectSource(ctx, KindDevice); err != nil {
			o.logger.Warn("device handoff failed", "error", err)
		}
	}()
}

// report sends a classified error to OnError unless it was already sent.
func (o *Orchestrator) report(err error) {
	fe, ok := feederr.As(err)
	if !ok {
		o.logger.Debug("unclassified feed error", "error", err)
		return
	}

	o.mu.Lock()
	if o.reported == fe {
		o.mu.Unlock()
		return
	}
	o.reported = fe
	cb := o.onError
	o.mu.Unlock()

	o.logger.Warn("feed error", "code", fe.Code, "source", fe.Source, "error", fe)
	if cb != nil {
		cb(fe)
	}
}

func (o *Orchestrator) clearReported() {
	o.mu.Lock()
	o.reported = nil
	o.handoffErr = nil
	o.handingOff = false
	o.mu.Unlock()
}

func (o *Orchestrator) publish() {
	o.mu.Lock()
	cb := o.onStatus
	o.mu.Unlock()
	if cb != nil {
		cb(o.Status())
	}
}
