package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/feederr"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadyTimeout = 500 * time.Millisecond
	return cfg
}

func newTestSession(t *testing.T, backend *camera.MockBackend) *Session {
	t.Helper()
	s := NewSession(backend, nil, testConfig(), nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_StartStop(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera", "Back Camera")
	s := newTestSession(t, backend)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, camera.Constraints{Facing: camera.FacingUser}))
	assert.Equal(t, StateActive, s.State())
	assert.True(t, s.Status().Active)
	assert.Equal(t, camera.PositionFront, s.Position())
	assert.Equal(t, 1, backend.LiveStreams())

	require.NoError(t, s.Stop())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, backend.LiveStreams())

	// Stop is idempotent.
	require.NoError(t, s.Stop())
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_ReplaceReleasesPrevious(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera", "Back Camera")
	s := newTestSession(t, backend)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, camera.Constraints{Facing: camera.FacingUser}))
	require.NoError(t, s.Start(ctx, camera.Constraints{Facing: camera.FacingEnvironment}))

	streams := backend.Streams()
	require.Len(t, streams, 2)
	assert.False(t, camera.Live(streams[0]), "previous stream tracks must be stopped")
	assert.True(t, camera.Live(streams[1]))
	assert.Equal(t, 1, backend.LiveStreams())
	assert.Equal(t, camera.PositionBack, s.Position())
}

func TestSession_RelaxedRetry(t *testing.T) {
	backend := camera.NewMockBackend("Integrated Camera")
	s := newTestSession(t, backend)

	require.NoError(t, s.Start(context.Background(), camera.Constraints{DeviceID: "unplugged"}))

	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "unplugged", calls[0].DeviceID)
	assert.True(t, calls[1].IsZero(), "retry must use the generic constraint")
	assert.True(t, s.Status().Relaxed)
	assert.Equal(t, StateActive, s.State())
}

func TestSession_PermissionDenied(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera")
	backend.DenyPermission = true
	s := newTestSession(t, backend)

	err := s.Start(context.Background(), camera.Constraints{Facing: camera.FacingUser})
	require.Error(t, err)
	assert.True(t, errors.Is(err, feederr.ErrPermissionDenied))
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, feederr.CodePermissionDenied, s.Status().Code)
	assert.Len(t, backend.Calls(), 1, "permission failures are not retried")

	require.NoError(t, s.Stop())
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Status().Error)
}

func TestSession_DeviceBusy(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera")
	backend.Busy["mock-camera-0"] = true
	s := newTestSession(t, backend)

	err := s.Start(context.Background(), camera.Constraints{})
	assert.True(t, errors.Is(err, feederr.ErrDeviceBusy), "got %v", err)
	assert.Equal(t, 0, backend.LiveStreams())
}

func TestSession_NotSecure(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera")
	backend.Insecure = true
	s := newTestSession(t, backend)

	err := s.Start(context.Background(), camera.Constraints{})
	assert.True(t, errors.Is(err, feederr.ErrNotSecureContext))
	assert.Empty(t, backend.Calls())
}

func TestSession_ReadyTimeoutReleases(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera")
	backend.NeverReady = true

	cfg := testConfig()
	cfg.ReadyTimeout = 50 * time.Millisecond
	s := NewSession(backend, nil, cfg, nil)
	defer s.Close()

	start := time.Now()
	err := s.Start(context.Background(), camera.Constraints{})
	assert.True(t, errors.Is(err, feederr.ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, 0, backend.LiveStreams(), "timed out stream must be released")
}

func TestSession_SwitchFacing(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera", "Back Camera")
	s := newTestSession(t, backend)
	ctx := context.Background()

	require.NoError(t, s.StartPosition(ctx, camera.PositionFront))
	require.NoError(t, s.SwitchFacing(ctx))

	st := s.Status()
	assert.Equal(t, camera.PositionBack, st.Position)
	assert.Equal(t, "mock-camera-1", st.DeviceID)
	assert.Equal(t, 1, backend.LiveStreams())

	require.NoError(t, s.SwitchFacing(ctx))
	assert.Equal(t, camera.PositionFront, s.Position())
	assert.Equal(t, 1, backend.LiveStreams())
}

func TestSession_SwitchFacingNoOpposite(t *testing.T) {
	backend := camera.NewMockBackend("")
	s := newTestSession(t, backend)
	ctx := context.Background()

	require.NoError(t, s.StartPosition(ctx, camera.PositionFront))
	before := s.Status().StreamID

	err := s.SwitchFacing(ctx)
	assert.True(t, errors.Is(err, feederr.ErrNoOppositeCameraAvailable), "got %v", err)

	after := s.Status()
	assert.Equal(t, StateActive, after.State, "current capture must be kept")
	assert.Equal(t, before, after.StreamID)
}

func TestSession_DevicesFromIdleRequestsAccess(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera", "Back Camera")
	s := newTestSession(t, backend)

	cls, err := s.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, cls.Devices(), 2)
	assert.Len(t, backend.Calls(), 1, "idle session opens one access capture")
	assert.Equal(t, 0, backend.LiveStreams(), "access capture must be released")
}

func TestSession_DevicesDuringStartKeepsOneCapture(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera", "Back Camera")
	backend.ReadyDelay = 300 * time.Millisecond
	s := newTestSession(t, backend)

	errc := make(chan error, 1)
	go func() {
		errc <- s.Start(context.Background(), camera.Constraints{Facing: camera.FacingUser})
	}()
	require.Eventually(t, func() bool {
		return s.State() == StateStarting
	}, time.Second, time.Millisecond)

	cls, err := s.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, cls.Devices(), 2)
	assert.LessOrEqual(t, backend.LiveStreams(), 1)

	require.NoError(t, <-errc)
	assert.Len(t, backend.Calls(), 1, "enumeration must not open a second capture")
	assert.Equal(t, 1, backend.LiveStreams())

	// Active: listing reuses the granted permission.
	_, err = s.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, backend.Calls(), 1)
}

func TestSession_ListDevicesNeverOpensCapture(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera")
	s := newTestSession(t, backend)

	cls, err := s.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, cls.Devices(), 1)
	assert.Empty(t, backend.Calls())
}

func TestSession_StopCancelsInFlightStart(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera")
	backend.GetUserMediaFunc = func(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := newTestSession(t, backend)

	errc := make(chan error, 1)
	go func() {
		errc <- s.Start(context.Background(), camera.Constraints{})
	}()

	require.Eventually(t, func() bool {
		return s.State() == StateRequestingPermission
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_LateAcquisitionDiscarded(t *testing.T) {
	inner := camera.NewMockBackend("Front Camera")
	release := make(chan struct{})

	backend := camera.NewMockBackend("Front Camera")
	backend.GetUserMediaFunc = func(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
		<-release
		// Ignores cancellation like a slow driver would.
		return inner.GetUserMedia(context.Background(), c)
	}
	s := newTestSession(t, backend)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Start(context.Background(), camera.Constraints{})
	}()

	require.Eventually(t, func() bool {
		return s.State() == StateRequestingPermission
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	wg.Wait()
	<-stopped

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, inner.LiveStreams(), "stream acquired after stop must be released")
}

func TestSession_StatusTransitions(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera")
	s := newTestSession(t, backend)

	var mu sync.Mutex
	var states []State
	s.OnStatus(func(st Status) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	})

	require.NoError(t, s.Start(context.Background(), camera.Constraints{}))
	require.NoError(t, s.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateRequestingPermission,
		StateStarting,
		StateActive,
		StateIdle,
	}, states)
}

func TestFrameSink_RelaysFrames(t *testing.T) {
	backend := camera.NewMockBackend("Front Camera")

	var mu sync.Mutex
	var frames [][]byte
	sink := NewFrameSink(func(jpeg []byte) {
		mu.Lock()
		frames = append(frames, jpeg)
		mu.Unlock()
	}, 80, 30, nil)

	s := NewSession(backend, sink, testConfig(), nil)
	defer s.Close()

	require.NoError(t, s.Start(context.Background(), camera.Constraints{}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) >= 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	first := frames[0]
	mu.Unlock()
	require.GreaterOrEqual(t, len(first), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, first[:2], "frames must be JPEG encoded")
	assert.GreaterOrEqual(t, sink.Frames(), uint64(2))
}
