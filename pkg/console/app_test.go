package console

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-medibot/internal/config"
	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/feed"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.SettingsPath = filepath.Join(dir, "settings.json")
	cfg.RemindersPath = filepath.Join(dir, "reminders.json")
	cfg.Web.Addr = "127.0.0.1:0"
	cfg.Web.StaticDir = ""
	cfg.Web.OperationTimeout = 2 * time.Second
	cfg.Capture.ReadyTimeout = time.Second
	cfg.Camera.Backend = camera.BackendMock
	return cfg
}

func TestNew_Validates(t *testing.T) {
	cfg := DefaultConfig()
	_, err := New(cfg, nil)
	assert.Error(t, err, "settings path is required")

	cfg = DefaultConfig()
	cfg.SettingsPath = "x.json"
	cfg.Camera.Width = 1
	_, err = New(cfg, nil)
	assert.ErrorContains(t, err, "camera")
}

func TestApp_RunRequiresInit(t *testing.T) {
	app, err := New(testConfig(t), nil)
	require.NoError(t, err)
	assert.Error(t, app.Run(context.Background()))
}

func TestApp_InitOrdersSourcesFromSettings(t *testing.T) {
	cfg := testConfig(t)
	st := config.Default()
	st.Source = string(feed.KindRemote)
	st.CameraURL = "http://192.168.4.1:81/stream"
	require.NoError(t, config.Save(cfg.SettingsPath, st))

	app, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, app.Init(camera.NewMockBackend("Front Camera")))
	defer app.Shutdown()

	assert.Equal(t, feed.KindRemote, app.feed.Current())
	assert.Equal(t, st.CameraURL, app.remote.URL())
}

func TestApp_RunStartsDeviceFeed(t *testing.T) {
	cfg := testConfig(t)
	backend := camera.NewMockBackend("Front Camera", "Back Camera")

	app, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, app.Init(backend))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.feed.Status().Active }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return app.sink.Frames() > 0 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, feed.KindDevice, app.feed.Status().Source)

	// A capture change restarts the running camera at the new size.
	next := app.camMgr.GetConfig()
	next.Width, next.Height = 320, 240
	require.NoError(t, app.camMgr.SetConfig(next))
	require.Eventually(t, func() bool { return app.feed.Status().Active }, 3*time.Second, 10*time.Millisecond)
	calls := backend.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, 320, calls[len(calls)-1].Width)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	app.Shutdown()
	assert.Zero(t, backend.LiveStreams())
}

func TestApp_NoAutoStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoStart = false
	backend := camera.NewMockBackend("Front Camera")

	app, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, app.Init(backend))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, backend.Calls())
	assert.True(t, app.feed.Status().Loading)

	cancel()
	<-done
	app.Shutdown()
}
