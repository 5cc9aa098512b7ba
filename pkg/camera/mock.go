package camera

import (
	"context"
	"errors"
	"image"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-medibot/pkg/feederr"
)

// MockBackend is an in-memory MediaBackend for tests and headless runs.
//
// It records every GetUserMedia call and keeps every stream it handed out so
// tests can assert that hardware was released.
type MockBackend struct {
	mu sync.Mutex

	// Devices is what EnumerateDevices returns.
	Devices []DeviceInfo

	// Insecure makes SecureContext report false.
	Insecure bool

	// DenyPermission makes every GetUserMedia fail with PermissionDenied.
	DenyPermission bool

	// Busy marks device ids that fail with DeviceBusy.
	Busy map[string]bool

	// ReadyDelay delays the first frame of every stream.
	ReadyDelay time.Duration

	// NeverReady makes frame readers block until the stream is stopped.
	NeverReady bool

	// GetUserMediaFunc overrides acquisition entirely when set.
	GetUserMediaFunc func(ctx context.Context, c Constraints) (Stream, error)

	calls   []Constraints
	streams []*MockStream
}

// NewMockBackend creates a mock exposing the given devices as video inputs.
func NewMockBackend(labels ...string) *MockBackend {
	m := &MockBackend{Busy: make(map[string]bool)}
	for i, label := range labels {
		m.Devices = append(m.Devices, DeviceInfo{
			DeviceID: mockDeviceID(i),
			Label:    label,
			Kind:     KindVideoInput,
		})
	}
	return m
}

func mockDeviceID(i int) string {
	return "mock-camera-" + strconv.Itoa(i)
}

// Name implements MediaBackend.
func (m *MockBackend) Name() string { return "mock" }

// SecureContext implements MediaBackend.
func (m *MockBackend) SecureContext() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.Insecure
}

// EnumerateDevices implements MediaBackend.
func (m *MockBackend) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeviceInfo, len(m.Devices))
	copy(out, m.Devices)
	return out, nil
}

// GetUserMedia implements MediaBackend.
func (m *MockBackend) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	override := m.GetUserMediaFunc
	m.mu.Unlock()

	if override != nil {
		return override(ctx, c)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DenyPermission {
		return nil, feederr.ErrPermissionDenied
	}

	id, err := m.resolve(c)
	if err != nil {
		return nil, err
	}
	if m.Busy[id] {
		return nil, errors.New("could not start video source: device busy")
	}

	s := newMockStream(id, m.ReadyDelay, m.NeverReady)
	m.streams = append(m.streams, s)
	return s, nil
}

// resolve picks the device id for c. Callers hold m.mu.
func (m *MockBackend) resolve(c Constraints) (string, error) {
	var videos []Device
	for _, d := range m.Devices {
		if d.Kind == KindVideoInput {
			videos = append(videos, Device{ID: d.DeviceID, Label: d.Label})
		}
	}
	if len(videos) == 0 {
		return "", errors.New("requested device not found")
	}

	switch {
	case c.DeviceID != "":
		for _, d := range videos {
			if d.ID == c.DeviceID {
				return d.ID, nil
			}
		}
		return "", errors.New("overconstrained: device " + c.DeviceID + " not found")
	case c.Facing != "":
		cls := Classify(videos)
		pos := PositionFront
		if c.Facing == FacingEnvironment {
			pos = PositionBack
		}
		if d := cls.ForPosition(pos); d != nil {
			return d.ID, nil
		}
		return "", errors.New("overconstrained: no camera facing " + string(c.Facing))
	default:
		return videos[0].ID, nil
	}
}

// Calls returns the constraints of every GetUserMedia call.
func (m *MockBackend) Calls() []Constraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Constraints, len(m.calls))
	copy(out, m.calls)
	return out
}

// Streams returns every stream handed out so far.
func (m *MockBackend) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockStream, len(m.streams))
	copy(out, m.streams)
	return out
}

// LiveStreams counts streams with at least one running track.
func (m *MockBackend) LiveStreams() int {
	n := 0
	for _, s := range m.Streams() {
		if Live(s) {
			n++
		}
	}
	return n
}

// MockStream is a stream with a single video track.
type MockStream struct {
	id         string
	DeviceID   string
	track      *MockTrack
	readyDelay time.Duration
	neverReady bool
}

func newMockStream(deviceID string, readyDelay time.Duration, neverReady bool) *MockStream {
	return &MockStream{
		id:         uuid.NewString(),
		DeviceID:   deviceID,
		track:      &MockTrack{id: uuid.NewString(), done: make(chan struct{})},
		readyDelay: readyDelay,
		neverReady: neverReady,
	}
}

// ID implements Stream.
func (s *MockStream) ID() string { return s.id }

// Tracks implements Stream.
func (s *MockStream) Tracks() []Track { return []Track{s.track} }

// NewFrameReader implements Stream.
func (s *MockStream) NewFrameReader() (FrameReader, error) {
	return &mockFrameReader{stream: s}, nil
}

// MockTrack is a track whose Stop is observable.
type MockTrack struct {
	id      string
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// ID implements Track.
func (t *MockTrack) ID() string { return t.id }

// Stop implements Track.
func (t *MockTrack) Stop() error {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.done)
	})
	return nil
}

// Stopped implements Track.
func (t *MockTrack) Stopped() bool { return t.stopped.Load() }

type mockFrameReader struct {
	stream *MockStream
	frames int
}

func (r *mockFrameReader) ReadFrame() (image.Image, func(), error) {
	done := r.stream.track.done

	if r.stream.neverReady {
		<-done
		return nil, nil, io.EOF
	}

	wait := 20 * time.Millisecond
	if r.frames == 0 && r.stream.readyDelay > 0 {
		wait = r.stream.readyDelay
	}
	select {
	case <-done:
		return nil, nil, io.EOF
	case <-time.After(wait):
	}

	r.frames++
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	shade := uint8(r.frames * 16)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = shade, shade, shade, 255
	}
	return img, func() {}, nil
}
