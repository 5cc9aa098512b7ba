// Package reminder schedules medicine reminders and raises a notification
// when one falls due.
//
// A reminder fires at most once per calendar day, at its clock time or
// within Config.Grace after it (so a late tick still fires).
package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClockLayout is the wire format of Reminder.Time.
const ClockLayout = "15:04"

// MaxDrawer is the highest drawer a reminder can point at.
const MaxDrawer = 3

var (
	ErrNotFound = errors.New("reminder: not found")
	ErrInvalid  = errors.New("reminder: invalid")
)

// Reminder is one scheduled dose.
type Reminder struct {
	ID       string `json:"id"`
	Medicine string `json:"medicine"`
	// Time is the local clock time, "HH:MM".
	Time string `json:"time"`
	// Days restricts firing to these weekdays; empty means every day.
	Days    []time.Weekday `json:"days,omitempty"`
	Drawer  int            `json:"drawer,omitempty"`
	Note    string         `json:"note,omitempty"`
	Enabled bool           `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastFired time.Time `json:"last_fired,omitempty"`
}

// Validate checks the user-editable fields.
func (r *Reminder) Validate() error {
	if strings.TrimSpace(r.Medicine) == "" {
		return fmt.Errorf("%w: medicine is required", ErrInvalid)
	}
	if _, err := time.Parse(ClockLayout, r.Time); err != nil {
		return fmt.Errorf("%w: time %q must be HH:MM", ErrInvalid, r.Time)
	}
	if r.Drawer < 0 || r.Drawer > MaxDrawer {
		return fmt.Errorf("%w: drawer %d out of range 0..%d", ErrInvalid, r.Drawer, MaxDrawer)
	}
	for _, d := range r.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: weekday %d", ErrInvalid, d)
		}
	}
	return nil
}

// ScheduledOn returns the reminder's firing instant on the day of now,
// in now's location.
func (r *Reminder) ScheduledOn(now time.Time) (time.Time, bool) {
	clock, err := time.Parse(ClockLayout, r.Time)
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, now.Location()), true
}

// Due reports whether r should fire at now.
func (r *Reminder) Due(now time.Time, grace time.Duration) bool {
	if !r.Enabled || !r.onDay(now.Weekday()) {
		return false
	}
	at, ok := r.ScheduledOn(now)
	if !ok {
		return false
	}
	if now.Before(at) || !now.Before(at.Add(grace)) {
		return false
	}
	return !sameDay(r.LastFired.In(now.Location()), now)
}

// Next returns the next firing instant strictly after now.
func (r *Reminder) Next(now time.Time) (time.Time, bool) {
	if !r.Enabled {
		return time.Time{}, false
	}
	at, ok := r.ScheduledOn(now)
	if !ok {
		return time.Time{}, false
	}
	for i := 0; i < 8; i++ {
		cand := at.AddDate(0, 0, i)
		if cand.After(now) && r.onDay(cand.Weekday()) {
			return cand, true
		}
	}
	return time.Time{}, false
}

func (r *Reminder) onDay(d time.Weekday) bool {
	if len(r.Days) == 0 {
		return true
	}
	for _, w := range r.Days {
		if w == d {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
