package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/teslashibe/go-medibot/pkg/feederr"
	"github.com/teslashibe/go-medibot/pkg/remotefeed"
)

// RemoteSource runs a network camera through a remotefeed.Negotiator.
type RemoteSource struct {
	neg *remotefeed.Negotiator

	mu       sync.Mutex
	url      string
	loadErr  *feederr.Error
	onChange func()
}

// NewRemoteSource wraps neg. url is the camera address to load on Start.
func NewRemoteSource(neg *remotefeed.Negotiator, url string) *RemoteSource {
	r := &RemoteSource{neg: neg, url: url}
	neg.OnStatus(func(remotefeed.Status) { r.changed() })
	neg.OnHandoff(r.changed)
	return r
}

// Kind implements Source.
func (r *RemoteSource) Kind() Kind { return KindRemote }

// Negotiator returns the underlying negotiator.
func (r *RemoteSource) Negotiator() *remotefeed.Negotiator { return r.neg }

// URL returns the configured camera address.
func (r *RemoteSource) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// SetURL changes the camera address used by the next Start.
func (r *RemoteSource) SetURL(url string) {
	r.mu.Lock()
	r.url = url
	r.mu.Unlock()
}

// Start implements Source. Negotiation continues in the background; Start
// only fails for an unusable address.
func (r *RemoteSource) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.neg.Load(r.URL())

	r.mu.Lock()
	r.loadErr, _ = feederr.As(err)
	r.mu.Unlock()
	if err != nil {
		r.changed()
	}
	return err
}

// Stop implements Source.
func (r *RemoteSource) Stop() error {
	r.mu.Lock()
	r.loadErr = nil
	r.mu.Unlock()
	return r.neg.Stop()
}

// Switch implements Source by re-running the ladder.
func (r *RemoteSource) Switch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.neg.Reload()
	if errors.Is(err, remotefeed.ErrNoTarget) {
		return r.Start(ctx)
	}
	return err
}

// SetCorsBypass toggles the relay.
func (r *RemoteSource) SetCorsBypass(enabled bool) {
	r.neg.ToggleCorsBypass(enabled)
}

// SetRelay changes the relay prefix used from the next start or reload.
func (r *RemoteSource) SetRelay(relay string) {
	r.neg.SetRelay(relay)
}

// SetHandoff enables the device-handoff rung.
func (r *RemoteSource) SetHandoff(enabled bool) {
	r.neg.SetHandoff(enabled)
}

// Status implements Source.
func (r *RemoteSource) Status() SourceStatus {
	st := r.neg.Status()
	out := SourceStatus{
		Kind:    KindRemote,
		Running: st.State != remotefeed.StateIdle,
		Mode:    string(st.Mode),
		URL:     st.Request,
	}
	switch st.State {
	case remotefeed.StateDisplaying:
		out.Active = true
	case remotefeed.StateExhausted:
		if fe, ok := feederr.As(st.Err); ok {
			out.Err = fe
		} else {
			out.Err = feederr.New(feederr.CodeRemoteConnectionFailed, feederr.SourceRemote, "load", st.Err)
		}
	case remotefeed.StateProbing:
		out.Loading = true
	case remotefeed.StateHandoff:
		out.Loading = true
		out.Handoff = true
	case remotefeed.StateIdle:
		r.mu.Lock()
		if r.loadErr != nil {
			out.Err = r.loadErr
			out.Running = false
		}
		r.mu.Unlock()
	}
	return out
}

// OnChange implements Source.
func (r *RemoteSource) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *RemoteSource) changed() {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

var _ Source = (*RemoteSource)(nil)
