package camera

import (
	"context"
	"image"
)

// Position is which way a camera faces relative to the operator's device.
type Position string

const (
	PositionFront Position = "front"
	PositionBack  Position = "back"
	PositionOther Position = "other"
)

// Opposite returns the other facing position. Other maps to back.
func (p Position) Opposite() Position {
	if p == PositionBack {
		return PositionFront
	}
	return PositionBack
}

// Facing returns the facing-mode constraint for the position.
func (p Position) Facing() Facing {
	switch p {
	case PositionFront:
		return FacingUser
	case PositionBack:
		return FacingEnvironment
	default:
		return ""
	}
}

// Facing is a logical orientation constraint used when no device id is chosen.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Kind is the media device kind reported by the platform.
type Kind string

const (
	KindVideoInput  Kind = "videoinput"
	KindAudioInput  Kind = "audioinput"
	KindAudioOutput Kind = "audiooutput"
)

// DeviceInfo is one raw entry from platform enumeration.
type DeviceInfo struct {
	DeviceID string `json:"device_id"`
	Label    string `json:"label"`
	Kind     Kind   `json:"kind"`
}

// Device is a classified video input. Devices are immutable; every
// enumeration returns a fresh set.
type Device struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Position Position `json:"position"`
}

// Constraints describes a capture request.
// DeviceID wins over Facing; zero Width/Height leave the choice to the driver.
type Constraints struct {
	DeviceID string `json:"device_id,omitempty"`
	Facing   Facing `json:"facing,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FPS      int    `json:"fps,omitempty"`
}

// Relaxed returns the generic "any video input" fallback constraint.
func (c Constraints) Relaxed() Constraints {
	return Constraints{}
}

// IsZero reports whether no device or facing was requested.
func (c Constraints) IsZero() bool {
	return c.DeviceID == "" && c.Facing == ""
}

// Track is one media track of a live stream.
type Track interface {
	ID() string

	// Stop halts the track and releases its hardware. Safe to call twice.
	Stop() error

	// Stopped reports whether Stop has completed.
	Stopped() bool
}

// FrameReader yields decoded frames from a video track.
// release must be called once the frame is no longer used.
type FrameReader interface {
	ReadFrame() (img image.Image, release func(), err error)
}

// Stream is a live media stream handle returned by GetUserMedia.
type Stream interface {
	ID() string
	Tracks() []Track

	// NewFrameReader returns a reader over the first video track.
	NewFrameReader() (FrameReader, error)
}

// MediaBackend is the platform media-capture boundary.
type MediaBackend interface {
	// Name returns the backend name (e.g. "pion", "mock").
	Name() string

	// SecureContext reports whether capture is allowed at all.
	SecureContext() bool

	// GetUserMedia acquires a stream for the constraints.
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)

	// EnumerateDevices lists every media device the platform exposes.
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)
}

// StopAll stops every track of s and returns the first error.
// A nil stream is a no-op.
func StopAll(s Stream) error {
	if s == nil {
		return nil
	}
	var first error
	for _, t := range s.Tracks() {
		if err := t.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Live reports whether any track of s is still running.
func Live(s Stream) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks() {
		if !t.Stopped() {
			return true
		}
	}
	return false
}
