package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/feederr"
)

// Sink is the video sink a stream is attached to.
type Sink interface {
	// Attach binds s and blocks until the first frame is available or ctx ends.
	Attach(ctx context.Context, s camera.Stream) error

	// Detach unbinds the current stream. Safe to call when nothing is attached.
	Detach()
}

// FrameHandler receives JPEG-encoded preview frames.
type FrameHandler func(jpeg []byte)

// FrameSink pulls frames from an attached stream, JPEG-encodes them at a
// capped rate and hands them to a FrameHandler.
type FrameSink struct {
	handler FrameHandler
	quality int
	minGap  time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	stop chan struct{}

	frames uint64
}

// NewFrameSink creates a sink relaying frames to handler.
// quality is the JPEG quality (1-100); fps caps the relay rate.
func NewFrameSink(handler FrameHandler, quality, fps int, logger *slog.Logger) *FrameSink {
	if logger == nil {
		logger = slog.Default()
	}
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	gap := time.Duration(0)
	if fps > 0 {
		gap = time.Second / time.Duration(fps)
	}
	return &FrameSink{
		handler: handler,
		quality: quality,
		minGap:  gap,
		logger:  logger.With("component", "capture.sink"),
	}
}

// Attach implements Sink.
func (f *FrameSink) Attach(ctx context.Context, s camera.Stream) error {
	reader, err := s.NewFrameReader()
	if err != nil {
		return feederr.New(feederr.CodePlaybackFailed, feederr.SourceDevice, "attach", err)
	}

	f.mu.Lock()
	if f.stop != nil {
		close(f.stop)
	}
	stop := make(chan struct{})
	f.stop = stop
	f.mu.Unlock()

	ready := make(chan error, 1)
	go f.pump(reader, stop, ready)

	select {
	case err := <-ready:
		if err != nil {
			return feederr.New(feederr.CodePlaybackFailed, feederr.SourceDevice, "attach", err)
		}
		return nil
	case <-ctx.Done():
		f.detach(stop)
		return ctx.Err()
	}
}

// Detach implements Sink. The pump exits once its pending read returns,
// which happens when the stream's tracks are stopped.
func (f *FrameSink) Detach() {
	f.mu.Lock()
	stop := f.stop
	f.mu.Unlock()
	f.detach(stop)
}

func (f *FrameSink) detach(stop chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stop != nil && f.stop == stop {
		close(stop)
		f.stop = nil
	}
}

// SetRate changes the JPEG quality and relay rate of the running pump.
func (f *FrameSink) SetRate(quality, fps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if quality > 0 && quality <= 100 {
		f.quality = quality
	}
	f.minGap = 0
	if fps > 0 {
		f.minGap = time.Second / time.Duration(fps)
	}
}

// Frames returns how many frames were relayed.
func (f *FrameSink) Frames() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *FrameSink) pump(reader camera.FrameReader, stop chan struct{}, ready chan<- error) {
	var last time.Time
	first := true

	for {
		img, release, err := reader.ReadFrame()
		if err != nil {
			if first {
				ready <- fmt.Errorf("read first frame: %w", err)
			} else {
				f.logger.Debug("frame pump ended", "error", err)
			}
			return
		}

		select {
		case <-stop:
			release()
			if first {
				ready <- context.Canceled
			}
			return
		default:
		}

		if first {
			first = false
			ready <- nil
		}

		f.mu.Lock()
		quality, gap := f.quality, f.minGap
		f.mu.Unlock()

		if f.handler == nil || time.Since(last) < gap {
			release()
			continue
		}
		last = time.Now()

		var buf bytes.Buffer
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		release()
		if err != nil {
			f.logger.Debug("jpeg encode failed", "error", err)
			continue
		}

		f.mu.Lock()
		f.frames++
		f.mu.Unlock()
		f.handler(buf.Bytes())
	}
}
