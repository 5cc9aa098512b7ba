package robot

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/go-medibot/internal/httpc"
)

// CommandResult records the outcome of the last command sent.
type CommandResult struct {
	URL    string    `json:"url"`
	Status int       `json:"status,omitempty"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// HTTPController implements Controller against the microcontroller's GET API.
type HTTPController struct {
	client *http.Client
	logger *slog.Logger

	mu       sync.RWMutex
	motorURL string
	servoURL string
	last     CommandResult
}

// NewHTTPController creates a controller for the given endpoints.
func NewHTTPController(motorURL, servoURL string, logger *slog.Logger) *HTTPController {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPController{
		client:   httpc.Commands,
		logger:   logger.With("component", "robot"),
		motorURL: motorURL,
		servoURL: servoURL,
	}
}

// SetURLs replaces both endpoints, e.g. after settings are saved.
func (r *HTTPController) SetURLs(motorURL, servoURL string) {
	r.mu.Lock()
	r.motorURL = motorURL
	r.servoURL = servoURL
	r.mu.Unlock()
}

// URLs returns the configured endpoints.
func (r *HTTPController) URLs() (motorURL, servoURL string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.motorURL, r.servoURL
}

// Last returns the result of the most recent command.
func (r *HTTPController) Last() CommandResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Drive sends a drive action.
func (r *HTTPController) Drive(action Action) error {
	if _, err := ParseAction(string(action)); err != nil {
		return err
	}
	motorURL, _ := r.URLs()
	if motorURL == "" {
		return fmt.Errorf("motor control URL not configured")
	}
	u, err := withQuery(motorURL, url.Values{"action": {string(action)}})
	if err != nil {
		return err
	}
	return r.get(u)
}

// SetServo positions a servo. Position is clamped to 0..180 degrees.
func (r *HTTPController) SetServo(name string, position int) error {
	if name == "" {
		return fmt.Errorf("servo name is required")
	}
	_, servoURL := r.URLs()
	if servoURL == "" {
		return fmt.Errorf("servo control URL not configured")
	}
	u, err := withQuery(servoURL, url.Values{
		"servo":    {name},
		"position": {strconv.Itoa(ClampAngle(position))},
	})
	if err != nil {
		return err
	}
	return r.get(u)
}

// get issues one command and records the outcome.
func (r *HTTPController) get(u string) error {
	res := CommandResult{URL: u, At: time.Now()}

	resp, err := r.client.Get(u)
	if err != nil {
		res.Error = err.Error()
		r.record(res)
		return fmt.Errorf("command request failed: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	res.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Error = resp.Status
		r.record(res)
		return fmt.Errorf("command rejected: %s", resp.Status)
	}

	res.OK = true
	r.record(res)
	return nil
}

func (r *HTTPController) record(res CommandResult) {
	r.mu.Lock()
	r.last = res
	r.mu.Unlock()

	if res.OK {
		r.logger.Debug("command sent", "url", res.URL)
	} else {
		r.logger.Warn("command failed", "url", res.URL, "status", res.Status, "error", res.Error)
	}
}

// withQuery merges params into base's query string.
func withQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid control URL %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid control URL %q: scheme and host required", base)
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
