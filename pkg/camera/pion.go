package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the V4L2/AVFoundation camera driver
	"github.com/pion/mediadevices/pkg/prop"
)

// PionBackend captures from local cameras through pion/mediadevices.
type PionBackend struct {
	cfg    Config
	logger *slog.Logger

	// mediadevices keeps a global driver registry; serialize opens.
	mu sync.Mutex
}

// NewPionBackend creates a pion-based media backend.
func NewPionBackend(cfg Config, logger *slog.Logger) *PionBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &PionBackend{
		cfg:    cfg,
		logger: logger.With("component", "camera.pion"),
	}
}

// Name implements MediaBackend.
func (p *PionBackend) Name() string { return "pion" }

// SecureContext implements MediaBackend. A native process has no
// browser-style origin restrictions, so capture is always permitted.
func (p *PionBackend) SecureContext() bool { return true }

// EnumerateDevices implements MediaBackend.
func (p *PionBackend) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []DeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		info := DeviceInfo{DeviceID: d.DeviceID, Label: d.Label}
		switch d.Kind {
		case mediadevices.VideoInput:
			info.Kind = KindVideoInput
		case mediadevices.AudioInput:
			info.Kind = KindAudioInput
		default:
			info.Kind = KindAudioOutput
		}
		out = append(out, info)
	}
	return out, nil
}

// GetUserMedia implements MediaBackend.
//
// mediadevices has no facing-mode constraint, so a Facing request is
// resolved to a device id through Classify first. Acquisition itself is not
// cancellable; if ctx ends first the late stream is closed on arrival.
func (p *PionBackend) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	deviceID := c.DeviceID
	if deviceID == "" && c.Facing != "" {
		id, err := p.resolveFacing(ctx, c.Facing)
		if err != nil {
			return nil, err
		}
		deviceID = id
	}

	width, height, fps := c.Width, c.Height, c.FPS
	if width == 0 {
		width = p.cfg.Width
	}
	if height == 0 {
		height = p.cfg.Height
	}
	if fps == 0 {
		fps = p.cfg.Framerate
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)

	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Video: func(mc *mediadevices.MediaTrackConstraints) {
				if width > 0 {
					mc.Width = prop.Int(width)
				}
				if height > 0 {
					mc.Height = prop.Int(height)
				}
				if fps > 0 {
					mc.FrameRate = prop.Float(fps)
				}
				if deviceID != "" {
					mc.DeviceID = prop.String(deviceID)
				}
			},
		})
		done <- result{stream: stream, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("getUserMedia: %w", r.err)
		}
		return newPionStream(r.stream)
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				for _, t := range r.stream.GetTracks() {
					_ = t.Close()
				}
				p.logger.Debug("closed stream acquired after cancellation")
			}
		}()
		return nil, ctx.Err()
	}
}

func (p *PionBackend) resolveFacing(ctx context.Context, facing Facing) (string, error) {
	infos, err := p.EnumerateDevices(ctx)
	if err != nil {
		return "", err
	}
	var devices []Device
	for _, info := range infos {
		if info.Kind == KindVideoInput {
			devices = append(devices, Device{ID: info.DeviceID, Label: info.Label})
		}
	}

	pos := PositionFront
	if facing == FacingEnvironment {
		pos = PositionBack
	}
	if d := Classify(devices).ForPosition(pos); d != nil {
		return d.ID, nil
	}
	return "", fmt.Errorf("overconstrained: no camera facing %s", facing)
}

type pionStream struct {
	id     string
	stream mediadevices.MediaStream
	tracks []Track
	video  *mediadevices.VideoTrack
}

func newPionStream(s mediadevices.MediaStream) (*pionStream, error) {
	ps := &pionStream{stream: s}
	for _, t := range s.GetTracks() {
		ps.tracks = append(ps.tracks, &pionTrack{track: t})
	}
	for _, t := range s.GetVideoTracks() {
		if vt, ok := t.(*mediadevices.VideoTrack); ok {
			ps.video = vt
			ps.id = vt.ID()
			break
		}
	}
	if ps.video == nil {
		for _, t := range ps.tracks {
			_ = t.Stop()
		}
		return nil, errors.New("getUserMedia: stream has no video track")
	}
	return ps, nil
}

func (s *pionStream) ID() string      { return s.id }
func (s *pionStream) Tracks() []Track { return s.tracks }

func (s *pionStream) NewFrameReader() (FrameReader, error) {
	return &pionFrameReader{reader: s.video.NewReader(false)}, nil
}

type pionFrameReader struct {
	reader interface {
		Read() (image.Image, func(), error)
	}
}

func (r *pionFrameReader) ReadFrame() (image.Image, func(), error) {
	return r.reader.Read()
}

type pionTrack struct {
	track mediadevices.Track

	mu      sync.Mutex
	stopped bool
}

func (t *pionTrack) ID() string { return t.track.ID() }

func (t *pionTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}
	t.stopped = true
	return t.track.Close()
}

func (t *pionTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
