package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default scheduler settings.
const (
	DefaultCheckInterval = 15 * time.Second
	DefaultGrace         = 5 * time.Minute
	DefaultNotifyTimeout = 5 * time.Second
)

// Config holds scheduler settings.
type Config struct {
	// CheckInterval is how often due reminders are checked.
	CheckInterval time.Duration
	// Grace is how late after its clock time a reminder may still fire.
	Grace time.Duration
	// NotifyTimeout bounds one notification.
	NotifyTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval: DefaultCheckInterval,
		Grace:         DefaultGrace,
		NotifyTimeout: DefaultNotifyTimeout,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive")
	}
	if c.Grace < c.CheckInterval {
		return fmt.Errorf("grace %v shorter than check interval %v would skip reminders", c.Grace, c.CheckInterval)
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("notify timeout must be positive")
	}
	return nil
}

// Scheduler checks the store on an interval and notifies due reminders.
type Scheduler struct {
	store    Store
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	// serializes Check so a reminder can't fire twice
	checkMu sync.Mutex

	mu     sync.Mutex
	onFire func(Reminder)
}

// NewScheduler creates a scheduler.
func NewScheduler(store Store, notifier Notifier, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "reminder"),
		now:      time.Now,
	}, nil
}

// OnFire registers a callback invoked after each reminder fires.
func (s *Scheduler) OnFire(fn func(Reminder)) {
	s.mu.Lock()
	s.onFire = fn
	s.mu.Unlock()
}

// Store returns the backing store.
func (s *Scheduler) Store() Store { return s.store }

// Run checks reminders until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check fires every reminder due now and returns them.
func (s *Scheduler) Check(ctx context.Context) []Reminder {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	now := s.now()
	list, err := s.store.List()
	if err != nil {
		s.logger.Warn("list reminders failed", "error", err)
		return nil
	}

	var fired []Reminder
	for _, r := range list {
		if !r.Due(now, s.cfg.Grace) {
			continue
		}
		r.LastFired = now
		if err := s.store.Save(r); err != nil {
			s.logger.Warn("mark reminder fired failed", "id", r.ID, "error", err)
			continue
		}
		s.fire(ctx, *r)
		fired = append(fired, *r)
	}
	return fired
}

// Upcoming returns enabled reminders with their next firing time.
func (s *Scheduler) Upcoming() ([]Upcoming, error) {
	list, err := s.store.List()
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []Upcoming
	for _, r := range list {
		if at, ok := r.Next(now); ok {
			out = append(out, Upcoming{Reminder: *r, At: at})
		}
	}
	return out, nil
}

// Upcoming is a reminder paired with its next firing time.
type Upcoming struct {
	Reminder
	At time.Time `json:"at"`
}

func (s *Scheduler) fire(ctx context.Context, r Reminder) {
	s.logger.Info("reminder due", "id", r.ID, "medicine", r.Medicine, "drawer", r.Drawer)

	if s.notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
		err := s.notifier.Notify(nctx, NotificationFor(&r))
		cancel()
		if err != nil {
			s.logger.Warn("notification failed", "id", r.ID, "error", err)
		}
	}

	s.mu.Lock()
	cb := s.onFire
	s.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}
