package remotefeed

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-medibot/pkg/feederr"
)

type transportCall struct {
	mode Mode
	url  string
}

// fakeTransport fails every attempt unless respond is set.
type fakeTransport struct {
	mu    sync.Mutex
	calls []transportCall
	respond func(ctx context.Context, mode Mode, url string) error
}

func (f *fakeTransport) Probe(ctx context.Context, mode Mode, url string) error {
	f.mu.Lock()
	f.calls = append(f.calls, transportCall{mode: mode, url: url})
	fn := f.respond
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, mode, url)
	}
	return &ResponseError{URL: url, Status: http.StatusNotFound}
}

func (f *fakeTransport) Snapshot(ctx context.Context, url string) ([]byte, error) {
	return nil, &ResponseError{URL: url, Status: http.StatusNotFound}
}

func (f *fakeTransport) Stream(ctx context.Context, url string, onFrame func([]byte)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) callsFor(mode Mode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.mode == mode {
			n++
		}
	}
	return n
}

func (f *fakeTransport) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) last() transportCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return transportCall{}
	}
	return f.calls[len(f.calls)-1]
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 0
	cfg.MaxRetryDelay = 0
	cfg.LoadTimeout = time.Second
	cfg.PollInterval = 20 * time.Millisecond
	return cfg
}

func awaitSettled(t *testing.T, n *Negotiator) (Status, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := n.Await(ctx)
	require.NoError(t, ctx.Err(), "negotiator never settled")
	return st, err
}

func TestConfigBackoff(t *testing.T) {
	cfg := Config{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, cfg.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, cfg.Backoff(40))
	assert.Zero(t, cfg.Backoff(0))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CorsBypass = true
	cfg.Relay = ""
	assert.Error(t, cfg.Validate())
}

func TestTargetURLs(t *testing.T) {
	target := NewTarget("192.168.1.50:8080/video", false, DefaultRelay)
	assert.Equal(t, "192.168.1.50:8080/video", target.Raw)
	assert.Equal(t, "http://192.168.1.50:8080", target.Base)
	assert.Equal(t, []string{"http://192.168.1.50:8080/video"}, target.URLs(ModeDirectStream))
	assert.Equal(t, []string{"http://192.168.1.50:8080/videofeed"}, target.URLs(ModeMJPEG))
	assert.Equal(t, []string{
		"http://192.168.1.50:8080/shot.jpg",
		"http://192.168.1.50:8080/photo.jpg",
	}, target.URLs(ModeSnapshot))
	assert.Empty(t, target.URLs(ModeDeviceHandoff))

	target.Bypass = true
	assert.Equal(t,
		"https://corsproxy.io/?http%3A%2F%2F192.168.1.50%3A8080%2Fvideo",
		target.Request("http://192.168.1.50:8080/video"),
	)
}

func TestNegotiator_ExhaustsEveryModeAtCap(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, fastConfig(), nil)
	defer n.Close()

	var exhausted []*feederr.Error
	var mu sync.Mutex
	n.OnExhausted(func(err *feederr.Error) {
		mu.Lock()
		exhausted = append(exhausted, err)
		mu.Unlock()
	})

	require.NoError(t, n.Load("10.0.0.9"))
	st, err := awaitSettled(t, n)

	require.Error(t, err)
	assert.ErrorIs(t, err, feederr.ErrRemoteConnectionFailed)
	assert.Equal(t, StateExhausted, st.State)
	assert.Equal(t, feederr.CodeRemoteConnectionFailed, st.Code, "HTTP answers are not a network failure")

	for _, mode := range []Mode{ModeDirectStream, ModeMJPEG, ModeSnapshot} {
		assert.Equal(t, 3, ft.callsFor(mode), "mode %s", mode)
		assert.Equal(t, 3, st.Retries[mode], "mode %s", mode)
	}
	assert.Zero(t, ft.callsFor(ModeDeviceHandoff))

	// No automatic retry after exhaustion.
	calls := ft.total()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, ft.total())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exhausted) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNegotiator_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	cfg := fastConfig()
	cfg.LoadTimeout = 500 * time.Millisecond
	n := NewNegotiator(NewHTTPProber(nil, nil), cfg, nil)
	defer n.Close()

	require.NoError(t, n.Load(addr))
	st, err := awaitSettled(t, n)

	assert.Equal(t, StateExhausted, st.State)
	assert.ErrorIs(t, err, feederr.ErrRemoteConnectionFailed)
	assert.ErrorIs(t, err, feederr.ErrCorsOrNetworkFailure)
	assert.Equal(t, feederr.CodeCorsOrNetworkFailure, st.Code)
	for _, mode := range []Mode{ModeDirectStream, ModeMJPEG, ModeSnapshot} {
		assert.Equal(t, cfg.MaxRetries, st.Retries[mode])
	}
	for _, a := range st.Attempts {
		assert.True(t, a.Network, "attempt %+v", a)
	}
}

func TestNegotiator_LoadTimeoutAdvancesLadder(t *testing.T) {
	ft := &fakeTransport{}
	ft.respond = func(ctx context.Context, mode Mode, url string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	cfg := fastConfig()
	cfg.LoadTimeout = 20 * time.Millisecond
	n := NewNegotiator(ft, cfg, nil)
	defer n.Close()

	require.NoError(t, n.Load("10.0.0.9"))
	st, err := awaitSettled(t, n)

	require.Error(t, err)
	assert.Equal(t, StateExhausted, st.State)
	assert.Equal(t, feederr.CodeCorsOrNetworkFailure, st.Code)
	for _, mode := range []Mode{ModeDirectStream, ModeMJPEG, ModeSnapshot} {
		assert.Equal(t, cfg.MaxRetries, st.Retries[mode], "mode %s", mode)
		assert.Equal(t, cfg.MaxRetries, ft.callsFor(mode), "mode %s", mode)
	}
	require.NotEmpty(t, st.Attempts)
	for _, a := range st.Attempts {
		assert.Equal(t, OutcomeFailed, a.Outcome)
		assert.Contains(t, a.Error, "load timeout")
	}
}

func TestNegotiator_AttemptOutcomes(t *testing.T) {
	ft := &fakeTransport{}
	ft.respond = func(ctx context.Context, mode Mode, url string) error {
		if mode == ModeDirectStream {
			return &ResponseError{URL: url, Status: http.StatusNotFound}
		}
		return nil
	}
	n := NewNegotiator(ft, fastConfig(), nil)
	defer n.Close()

	require.NoError(t, n.Load("10.0.0.9"))
	st, err := awaitSettled(t, n)
	require.NoError(t, err)
	assert.Equal(t, StateDisplaying, st.State)

	require.Len(t, st.Attempts, 3)
	for i, a := range st.Attempts {
		assert.Equal(t, ModeDirectStream, a.Mode)
		assert.Equal(t, i, a.Retry)
		assert.Equal(t, OutcomeFailed, a.Outcome)
		assert.False(t, a.Started.IsZero())
		assert.False(t, a.Settled.Before(a.Started))
		assert.NotEmpty(t, a.Error)
	}

	require.NotNil(t, st.Current)
	assert.Equal(t, ModeMJPEG, st.Current.Mode)
	assert.Equal(t, OutcomeSuccess, st.Current.Outcome)
	assert.Zero(t, st.Current.Retry)
	assert.False(t, st.Current.Settled.IsZero())
}

func TestNegotiator_AttemptPendingWhileTrying(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{}
	ft.respond = func(ctx context.Context, mode Mode, url string) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return errors.New("refused")
	}
	cfg := fastConfig()
	cfg.LoadTimeout = time.Hour
	n := NewNegotiator(ft, cfg, nil)
	defer n.Close()

	require.NoError(t, n.Load("10.0.0.9"))
	require.Eventually(t, func() bool { return n.Status().Current != nil }, time.Second, 5*time.Millisecond)

	st := n.Status()
	assert.Equal(t, OutcomePending, st.Current.Outcome)
	assert.Equal(t, ModeDirectStream, st.Current.Mode)
	assert.False(t, st.Current.Started.IsZero())
	assert.True(t, st.Current.Settled.IsZero())
	assert.Empty(t, st.Attempts)

	close(release)
	require.Eventually(t, func() bool { return len(n.Status().Attempts) > 0 }, time.Second, 5*time.Millisecond)
	a := n.Status().Attempts[0]
	assert.Equal(t, OutcomeFailed, a.Outcome)
	assert.Equal(t, "refused", a.Error)
}

func TestNegotiator_RelayAndHandoffSettings(t *testing.T) {
	ft := &fakeTransport{}
	n := NewNegotiator(ft, fastConfig(), nil)
	defer n.Close()

	handed := make(chan struct{}, 1)
	n.OnHandoff(func() { handed <- struct{}{} })

	n.SetRelay("http://relay.local/?")
	n.SetHandoff(true)
	n.ToggleCorsBypass(true)
	assert.Equal(t, "http://relay.local/?", n.Relay())

	require.NoError(t, n.Load("10.0.0.9"))
	st, err := awaitSettled(t, n)
	require.NoError(t, err)
	assert.Equal(t, StateHandoff, st.State)
	assert.True(t, strings.HasPrefix(ft.last().url, "http://relay.local/?"), ft.last().url)
	<-handed

	n.SetRelay("")
	assert.Equal(t, DefaultRelay, n.Relay())
	n.SetHandoff(false)
	require.NoError(t, n.Reload())
	_, err = awaitSettled(t, n)
	assert.ErrorIs(t, err, feederr.ErrRemoteConnectionFailed)
	assert.Equal(t, DefaultRelay, n.Target().Relay)
	assert.True(t, strings.HasPrefix(ft.last().url, DefaultRelay), ft.last().url)
}

func TestNegotiator_CorsToggleResetsLadder(t *testing.T) {
	ft := &fakeTransport{}
	ft.respond = func(ctx context.Context, mode Mode, url string) error {
		if strings.HasPrefix(url, DefaultRelay) {
			<-ctx.Done()
			return ctx.Err()
		}
		return &ResponseError{URL: url, Status: http.StatusForbidden}
	}

	cfg := fastConfig()
	cfg.LoadTimeout = time.Hour
	cfg.RetryDelay = time.Hour
	cfg.MaxRetryDelay = time.Hour
	n := NewNegotiator(ft, cfg, nil)
	defer n.Close()

	require.NoError(t, n.Load("10.0.0.9:8080"))
	require.Eventually(t, func() bool {
		return n.Retries()[ModeDirectStream] == 1
	}, time.Second, 5*time.Millisecond)

	n.ToggleCorsBypass(true)

	require.Eventually(t, func() bool {
		return strings.HasPrefix(ft.last().url, DefaultRelay)
	}, time.Second, 5*time.Millisecond)

	st := n.Status()
	assert.True(t, st.CorsBypass)
	assert.Equal(t, StateProbing, st.State)
	assert.Equal(t, ModeDirectStream, st.Mode)
	for mode, count := range st.Retries {
		assert.Zero(t, count, "mode %s not reset", mode)
	}
	assert.Equal(t, ModeDirectStream, ft.last().mode)
}

func TestNegotiator_Handoff(t *testing.T) {
	ft := &fakeTransport{}
	cfg := fastConfig()
	cfg.Handoff = true
	n := NewNegotiator(ft, cfg, nil)
	defer n.Close()

	handed := make(chan struct{}, 1)
	n.OnHandoff(func() { handed <- struct{}{} })

	require.NoError(t, n.Load("10.0.0.9"))
	st, err := awaitSettled(t, n)
	require.NoError(t, err)
	assert.Equal(t, StateHandoff, st.State)
	assert.Equal(t, ModeDeviceHandoff, st.Mode)

	select {
	case <-handed:
	case <-time.After(time.Second):
		t.Fatal("handoff callback not invoked")
	}
}

func TestNegotiator_StaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{}
	ft.respond = func(ctx context.Context, mode Mode, url string) error {
		<-release
		return nil
	}
	n := NewNegotiator(ft, fastConfig(), nil)

	var mu sync.Mutex
	var states []State
	n.OnStatus(func(st Status) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	})

	require.NoError(t, n.Load("10.0.0.9"))
	require.Eventually(t, func() bool { return ft.total() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		_ = n.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-stopped

	assert.Equal(t, StateIdle, n.Status().State)
	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, states, StateDisplaying)
}

func TestNegotiator_ReloadRequiresTarget(t *testing.T) {
	n := NewNegotiator(&fakeTransport{}, fastConfig(), nil)
	assert.ErrorIs(t, n.Reload(), ErrNoTarget)
	assert.ErrorIs(t, n.Load("   "), feederr.ErrRemoteConnectionFailed)
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// mjpegHandler serves frame as a multipart stream until the client leaves.
func mjpegHandler(frame []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		if r.Method == http.MethodHead {
			return
		}
		flusher, _ := w.(http.Flusher)
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "image/jpeg")
		for {
			part, err := mw.CreatePart(h)
			if err != nil {
				return
			}
			if _, err := part.Write(frame); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

func TestNegotiator_DirectStreamRelaysFrames(t *testing.T) {
	frame := testJPEG(t)
	mux := http.NewServeMux()
	mux.Handle("/video", mjpegHandler(frame))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	n := NewNegotiator(NewHTTPProber(nil, nil), fastConfig(), nil)
	defer n.Close()

	var mu sync.Mutex
	var frames [][]byte
	n.OnFrame(func(b []byte) {
		mu.Lock()
		frames = append(frames, b)
		mu.Unlock()
	})

	require.NoError(t, n.Load(srv.URL))
	st, err := awaitSettled(t, n)
	require.NoError(t, err)
	assert.Equal(t, StateDisplaying, st.State)
	assert.Equal(t, ModeDirectStream, st.Mode)
	assert.Equal(t, srv.URL+"/video", st.URL)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, frame, frames[0])
	mu.Unlock()

	require.NoError(t, n.Stop())
	assert.Equal(t, StateIdle, n.Status().State)
}

func TestNegotiator_FallsBackToSnapshotPolling(t *testing.T) {
	frame := testJPEG(t)

	var mu sync.Mutex
	tokens := map[string]bool{}
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shot.jpg" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		polls++
		tokens[r.URL.Query().Get("t")] = true
		mu.Unlock()
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(frame)
	}))
	defer srv.Close()

	n := NewNegotiator(NewHTTPProber(nil, nil), fastConfig(), nil)
	defer n.Close()

	got := make(chan []byte, 16)
	n.OnFrame(func(b []byte) {
		select {
		case got <- b:
		default:
		}
	})

	require.NoError(t, n.Load(srv.URL))
	st, err := awaitSettled(t, n)
	require.NoError(t, err)
	assert.Equal(t, StateDisplaying, st.State)
	assert.Equal(t, ModeSnapshot, st.Mode)
	assert.Equal(t, 3, st.Retries[ModeDirectStream])
	assert.Equal(t, 3, st.Retries[ModeMJPEG])
	assert.Zero(t, st.Retries[ModeSnapshot])

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return polls >= 4
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, polls, len(tokens), "every poll must carry a fresh cache buster")
	assert.False(t, tokens[""])
	mu.Unlock()

	select {
	case b := <-got:
		assert.Equal(t, frame, b)
	case <-time.After(time.Second):
		t.Fatal("no snapshot frame relayed")
	}
}

func TestHTTPProber(t *testing.T) {
	frame := testJPEG(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/nohead", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	})
	mux.Handle("/videofeed", mjpegHandler(frame))
	mux.HandleFunc("/shot.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(frame)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHTTPProber(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, p.Probe(ctx, ModeDirectStream, srv.URL+"/nohead"), "GET fallback after HEAD 405")

	err := p.Probe(ctx, ModeDirectStream, srv.URL+"/page")
	var re *ResponseError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.False(t, IsNetworkError(err))

	assert.NoError(t, p.Probe(ctx, ModeMJPEG, srv.URL+"/videofeed"))
	assert.Error(t, p.Probe(ctx, ModeMJPEG, srv.URL+"/shot.jpg"), "a single JPEG is not an MJPEG stream")

	body, err := p.Snapshot(ctx, srv.URL+"/shot.jpg")
	require.NoError(t, err)
	assert.Equal(t, frame, body)

	assert.ErrorIs(t, p.Probe(ctx, ModeDeviceHandoff, srv.URL), ErrHandoff)

	addr := srv.URL
	srv.Close()
	err = p.Probe(ctx, ModeSnapshot, addr+"/shot.jpg")
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
}
