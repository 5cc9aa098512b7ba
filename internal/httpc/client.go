// Package httpc provides the HTTP clients used to reach the robot's
// microcontroller and remote cameras. Every client bounds dialing.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second

	// CommandTimeout bounds a single motor/servo GET.
	CommandTimeout = 2 * time.Second
)

// Commands is the client used for fire-and-forget microcontroller commands.
var Commands = NewClient(CommandTimeout)

// NewClient creates a new HTTP client with the specified timeout.
// A zero timeout leaves the request bounded only by its context, which
// long-lived MJPEG streams need.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// NewStreamClient returns a client without an overall timeout.
// Only the dial and response headers are bounded.
func NewStreamClient(headerTimeout time.Duration) *http.Client {
	t := newTransport()
	t.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: t}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
