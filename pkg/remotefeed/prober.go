package remotefeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/mattn/go-mjpeg"

	"github.com/teslashibe/go-medibot/internal/httpc"
)

// maxSnapshotBytes caps a single snapshot body.
const maxSnapshotBytes = 8 << 20

var (
	// ErrHandoff is returned when probing the device-handoff rung.
	ErrHandoff = errors.New("remotefeed: hand off to device camera")

	// ErrNotMultipart is returned by Stream when the endpoint is not an MJPEG stream.
	ErrNotMultipart = errors.New("remotefeed: not a multipart stream")
)

// Prober checks whether a mode works against a URL.
type Prober interface {
	Probe(ctx context.Context, mode Mode, url string) error
}

// Transport is everything the negotiator needs from the network.
type Transport interface {
	Prober

	// Snapshot fetches one JPEG.
	Snapshot(ctx context.Context, url string) ([]byte, error)

	// Stream relays MJPEG frames to onFrame until the stream ends or ctx is done.
	Stream(ctx context.Context, url string, onFrame func([]byte)) error
}

// ResponseError is a reachable endpoint that answered with something unusable.
// Anything that is not a ResponseError is treated as a network-level failure.
type ResponseError struct {
	URL         string
	Status      int
	ContentType string
	Reason      string
}

func (e *ResponseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("%s: HTTP %d (%s)", e.URL, e.Status, e.ContentType)
}

// IsNetworkError reports whether err never got an HTTP answer.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var re *ResponseError
	return !errors.As(err, &re)
}

// HTTPProber implements Transport over plain HTTP.
type HTTPProber struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProber creates a prober. A nil client gets a stream-safe client
// whose response headers are bounded by DefaultLoadTimeout.
func NewHTTPProber(client *http.Client, logger *slog.Logger) *HTTPProber {
	if client == nil {
		client = httpc.NewStreamClient(DefaultLoadTimeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProber{
		client: client,
		logger: logger.With("component", "remotefeed.prober"),
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, mode Mode, url string) error {
	switch mode {
	case ModeDirectStream:
		return p.probeDirect(ctx, url)
	case ModeMJPEG:
		return p.probeMJPEG(ctx, url)
	case ModeSnapshot:
		_, err := p.Snapshot(ctx, url)
		return err
	case ModeDeviceHandoff:
		return ErrHandoff
	default:
		return fmt.Errorf("remotefeed: unknown mode %q", mode)
	}
}

// probeDirect tries HEAD first and falls back to GET, since many embedded
// web servers reject HEAD.
func (p *HTTPProber) probeDirect(ctx context.Context, url string) error {
	res, err := p.do(ctx, http.MethodHead, url)
	if err == nil {
		res.Body.Close()
		if err = checkResponse(url, res, isStreamType); err == nil {
			return nil
		}
	}
	if IsNetworkError(err) {
		return err
	}

	p.logger.Debug("HEAD rejected, retrying with GET", "url", url, "error", err)
	res, err = p.do(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	res.Body.Close()
	return checkResponse(url, res, isStreamType)
}

func (p *HTTPProber) probeMJPEG(ctx context.Context, url string) error {
	res, err := p.do(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := checkResponse(url, res, isMultipart); err != nil {
		return err
	}
	dec, err := mjpeg.NewDecoderFromResponse(res)
	if err != nil {
		return &ResponseError{URL: url, Status: res.StatusCode, Reason: err.Error()}
	}
	frame, err := dec.DecodeRaw()
	if err != nil {
		return fmt.Errorf("read first frame: %w", err)
	}
	if !isJPEG(frame) {
		return &ResponseError{URL: url, Status: res.StatusCode, Reason: "first part is not a JPEG"}
	}
	return nil
}

// Snapshot implements Transport.
func (p *HTTPProber) Snapshot(ctx context.Context, url string) ([]byte, error) {
	res, err := p.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkResponse(url, res, isImage); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(body) == 0 {
		return nil, &ResponseError{URL: url, Status: res.StatusCode, Reason: "empty snapshot"}
	}
	return body, nil
}

// Stream implements Transport.
func (p *HTTPProber) Stream(ctx context.Context, url string, onFrame func([]byte)) error {
	res, err := p.do(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := checkResponse(url, res, isStreamType); err != nil {
		return err
	}
	if !isMultipart(res.Header.Get("Content-Type")) {
		return ErrNotMultipart
	}
	dec, err := mjpeg.NewDecoderFromResponse(res)
	if err != nil {
		return &ResponseError{URL: url, Status: res.StatusCode, Reason: err.Error()}
	}

	for {
		frame, err := dec.DecodeRaw()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream ended: %w", err)
		}
		if isJPEG(frame) {
			onFrame(frame)
		}
	}
}

func (p *HTTPProber) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, &ResponseError{URL: url, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", "medibot/1.0")
	return p.client.Do(req)
}

func checkResponse(url string, res *http.Response, accept func(string) bool) error {
	ct := res.Header.Get("Content-Type")
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &ResponseError{URL: url, Status: res.StatusCode, ContentType: ct}
	}
	if !accept(ct) {
		return &ResponseError{URL: url, Status: res.StatusCode, ContentType: ct, Reason: "unexpected content type " + ct}
	}
	return nil
}

func mediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

func isStreamType(ct string) bool {
	mt := mediaType(ct)
	switch {
	case mt == "":
		// Some firmwares omit the header on their stream endpoint.
		return true
	case strings.HasPrefix(mt, "video/"),
		strings.HasPrefix(mt, "image/"),
		strings.HasPrefix(mt, "multipart/"),
		mt == "application/octet-stream",
		mt == "application/vnd.apple.mpegurl",
		mt == "application/x-mpegurl":
		return true
	}
	return false
}

func isMultipart(ct string) bool {
	return strings.HasPrefix(mediaType(ct), "multipart/")
}

func isImage(ct string) bool {
	return strings.HasPrefix(mediaType(ct), "image/")
}

func isJPEG(b []byte) bool {
	return len(b) > 2 && bytes.HasPrefix(b, []byte{0xFF, 0xD8})
}
