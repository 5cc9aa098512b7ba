package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattn/go-mjpeg"
)

// FrameRelay re-serves the active feed's frames as a plain MJPEG stream,
// for clients that can't speak websockets (an <img> tag, VLC).
//
// It runs on its own net/http listener because the fiber adaptor buffers
// whole responses and can't carry an endless multipart body.
type FrameRelay struct {
	stream *mjpeg.Stream
	srv    *http.Server
	logger *slog.Logger
}

// NewFrameRelay creates a relay serving /stream.mjpg on addr.
func NewFrameRelay(addr string, logger *slog.Logger) *FrameRelay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &FrameRelay{
		stream: mjpeg.NewStream(),
		logger: logger.With("component", "web.relay"),
	}
	r.srv = &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return r
}

// Handler returns the relay's routes.
func (r *FrameRelay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/stream.mjpg", r.stream)
	return mux
}

// Publish pushes one JPEG frame to every watcher.
func (r *FrameRelay) Publish(jpeg []byte) {
	if err := r.stream.Update(jpeg); err != nil {
		r.logger.Debug("relay update failed", "error", err)
	}
}

// Run serves until ctx is done.
func (r *FrameRelay) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("mjpeg relay listening", "addr", r.srv.Addr)
		errCh <- r.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		r.stream.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.srv.Shutdown(shutdownCtx)
	}
}
