package feed

import (
	"context"
	"sync"

	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/capture"
	"github.com/teslashibe/go-medibot/pkg/feederr"
)

// DeviceSource runs the local camera through a capture.Session.
type DeviceSource struct {
	session *capture.Session

	mu       sync.Mutex
	onChange func()
}

// NewDeviceSource wraps session.
func NewDeviceSource(session *capture.Session) *DeviceSource {
	d := &DeviceSource{session: session}
	session.OnStatus(func(capture.Status) { d.changed() })
	return d
}

// Kind implements Source.
func (d *DeviceSource) Kind() Kind { return KindDevice }

// Session returns the underlying session.
func (d *DeviceSource) Session() *capture.Session { return d.session }

// Start implements Source. It reopens the camera at the last used position.
func (d *DeviceSource) Start(ctx context.Context) error {
	return d.session.StartPosition(ctx, d.session.Position())
}

// Stop implements Source.
func (d *DeviceSource) Stop() error {
	return d.session.Stop()
}

// Switch implements Source by toggling front and back.
func (d *DeviceSource) Switch(ctx context.Context) error {
	return d.session.SwitchFacing(ctx)
}

// Status implements Source.
func (d *DeviceSource) Status() SourceStatus {
	st := d.session.Status()
	out := SourceStatus{
		Kind:     KindDevice,
		Running:  st.State != capture.StateIdle,
		Position: st.Position,
	}
	switch st.State {
	case capture.StateActive:
		out.Active = true
	case capture.StateError:
		if fe, ok := feederr.As(st.Err); ok {
			out.Err = fe
		} else {
			out.Err = feederr.New(feederr.CodePlaybackFailed, feederr.SourceDevice, "start", st.Err)
		}
	case capture.StateRequestingPermission, capture.StateStarting, capture.StateStopping:
		out.Loading = true
	}
	return out
}

// SelectPosition starts the camera facing p.
func (d *DeviceSource) SelectPosition(ctx context.Context, p camera.Position) error {
	return d.session.StartPosition(ctx, p)
}

// Devices implements Enumerable.
func (d *DeviceSource) Devices(ctx context.Context, requestAccess bool) (camera.Classification, error) {
	if requestAccess {
		return d.session.Devices(ctx)
	}
	return d.session.ListDevices(ctx)
}

// OnChange implements Source.
func (d *DeviceSource) OnChange(fn func()) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

func (d *DeviceSource) changed() {
	d.mu.Lock()
	fn := d.onChange
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

var (
	_ Source     = (*DeviceSource)(nil)
	_ Positioned = (*DeviceSource)(nil)
	_ Enumerable = (*DeviceSource)(nil)
)
