package remotefeed

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-medibot/pkg/camurl"
)

// Poller refreshes a snapshot URL on a fixed interval.
// Every fetch carries a fresh cache-busting token.
type Poller struct {
	transport Transport
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	seq atomic.Uint64
}

// NewPoller creates a poller. timeout bounds each fetch.
func NewPoller(transport Transport, interval, timeout time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		transport: transport,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.With("component", "remotefeed.poller"),
	}
}

// Token returns the next cache-busting token.
func (p *Poller) Token() string {
	n := p.seq.Add(1)
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatUint(n, 10)
}

// Run polls url of target until a fetch fails or ctx is done. The first failing
// fetch is returned so the caller can feed it into the retry ladder.
func (p *Poller) Run(ctx context.Context, target Target, url string, onFrame func([]byte)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
		frame, err := p.transport.Snapshot(fetchCtx, target.Request(camurl.WithCacheBuster(url, p.Token())))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Debug("snapshot poll failed", "url", url, "error", err)
			return err
		}
		if onFrame != nil {
			onFrame(frame)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
