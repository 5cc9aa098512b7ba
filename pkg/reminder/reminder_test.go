package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-medibot/pkg/hub"
)

// Monday 2026-10-19 08:00 local.
var monday8 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.Local)

type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

type recordingToaster struct {
	toasts []hub.Toast
}

func (r *recordingToaster) Toast(t hub.Toast) { r.toasts = append(r.toasts, t) }

func TestReminder_Validate(t *testing.T) {
	ok := Reminder{Medicine: "Aspirin", Time: "08:00", Drawer: 1}
	require.NoError(t, ok.Validate())

	cases := []Reminder{
		{Medicine: "", Time: "08:00"},
		{Medicine: "A", Time: "8am"},
		{Medicine: "A", Time: "25:00"},
		{Medicine: "A", Time: "08:00", Drawer: 4},
		{Medicine: "A", Time: "08:00", Days: []time.Weekday{9}},
	}
	for _, c := range cases {
		assert.ErrorIs(t, c.Validate(), ErrInvalid, "%+v", c)
	}
}

func TestReminder_Due(t *testing.T) {
	r := Reminder{Medicine: "A", Time: "08:00", Enabled: true}
	grace := 5 * time.Minute

	assert.False(t, r.Due(monday8.Add(-time.Minute), grace), "early")
	assert.True(t, r.Due(monday8, grace), "on time")
	assert.True(t, r.Due(monday8.Add(4*time.Minute), grace), "within grace")
	assert.False(t, r.Due(monday8.Add(5*time.Minute), grace), "past grace")

	r.LastFired = monday8.Add(time.Second)
	assert.False(t, r.Due(monday8.Add(time.Minute), grace), "already fired today")
	assert.True(t, r.Due(monday8.AddDate(0, 0, 1), grace), "next day")

	r.Enabled = false
	assert.False(t, r.Due(monday8.AddDate(0, 0, 2), grace), "disabled")
}

func TestReminder_Days(t *testing.T) {
	r := Reminder{Medicine: "A", Time: "08:00", Enabled: true, Days: []time.Weekday{time.Wednesday}}
	assert.False(t, r.Due(monday8, time.Minute))

	next, ok := r.Next(monday8)
	require.True(t, ok)
	assert.Equal(t, time.Wednesday, next.Weekday())
	assert.Equal(t, 8, next.Hour())
}

func TestReminder_NextSameDay(t *testing.T) {
	r := Reminder{Medicine: "A", Time: "20:30", Enabled: true}
	next, ok := r.Next(monday8)
	require.True(t, ok)
	assert.Equal(t, monday8.Day(), next.Day())
	assert.Equal(t, 20, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestJSONStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reminders.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)

	r := &Reminder{Medicine: "Vitamin D", Time: "09:00", Enabled: true}
	require.NoError(t, s.Save(r))
	require.NotEmpty(t, r.ID)
	require.NoError(t, s.Save(&Reminder{Medicine: "Aspirin", Time: "07:30", Enabled: true}))

	reopened, err := NewJSONStore(path)
	require.NoError(t, err)
	list, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Aspirin", list[0].Medicine, "sorted by time")

	got, err := reopened.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vitamin D", got.Medicine)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, reopened.Delete(r.ID))
	_, err = reopened.Get(r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, reopened.Delete(r.ID), ErrNotFound)
}

func TestJSONStore_RejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	assert.ErrorIs(t, s.Save(&Reminder{Time: "08:00"}), ErrInvalid)
	list, _ := s.List()
	assert.Empty(t, list)
}

func TestScheduler_FiresOncePerDay(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(&Reminder{Medicine: "Aspirin", Time: "08:00", Drawer: 2, Enabled: true}))
	require.NoError(t, store.Save(&Reminder{Medicine: "Later", Time: "12:00", Enabled: true}))

	notes := &recordingNotifier{}
	s, err := NewScheduler(store, notes, DefaultConfig(), nil)
	require.NoError(t, err)

	var fired []Reminder
	s.OnFire(func(r Reminder) { fired = append(fired, r) })

	clock := monday8.Add(30 * time.Second)
	s.now = func() time.Time { return clock }

	got := s.Check(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "Aspirin", got[0].Medicine)
	require.Len(t, fired, 1)
	require.Len(t, notes.got, 1)
	assert.Contains(t, notes.got[0].Body, "Aspirin")
	assert.Contains(t, notes.got[0].Body, "drawer 2")
	assert.Equal(t, 2, notes.got[0].Drawer)

	clock = clock.Add(time.Minute)
	assert.Empty(t, s.Check(context.Background()), "second check same day")

	clock = monday8.AddDate(0, 0, 1)
	assert.Len(t, s.Check(context.Background()), 1, "next day")
}

func TestScheduler_NotifierFailureStillMarksFired(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(&Reminder{Medicine: "A", Time: "08:00", Enabled: true}))

	notes := &recordingNotifier{err: errors.New("no display")}
	s, err := NewScheduler(store, notes, DefaultConfig(), nil)
	require.NoError(t, err)
	s.now = func() time.Time { return monday8 }

	assert.Len(t, s.Check(context.Background()), 1)
	assert.Empty(t, s.Check(context.Background()))
}

func TestScheduler_Upcoming(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(&Reminder{Medicine: "A", Time: "07:00", Enabled: true}))
	require.NoError(t, store.Save(&Reminder{Medicine: "B", Time: "09:00", Enabled: false}))

	s, err := NewScheduler(store, nil, DefaultConfig(), nil)
	require.NoError(t, err)
	s.now = func() time.Time { return monday8 }

	up, err := s.Upcoming()
	require.NoError(t, err)
	require.Len(t, up, 1)
	assert.Equal(t, monday8.AddDate(0, 0, 1).Add(-time.Hour), up[0].At)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Grace = time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CheckInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestFallback(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	toaster := &recordingToaster{}
	chain := Fallback{failing, NewToastNotifier(toaster)}

	require.NoError(t, chain.Notify(context.Background(), Notification{Title: "T", Body: "B"}))
	require.Len(t, toaster.toasts, 1)
	assert.Equal(t, "B", toaster.toasts[0].Message)

	assert.ErrorIs(t, Fallback{}.Notify(context.Background(), Notification{}), ErrNotifierUnavailable)
}

func TestDesktopNotifier_Args(t *testing.T) {
	var gotName string
	var gotArgs []string
	d := &DesktopNotifier{tool: "/usr/bin/notify-send", run: func(_ context.Context, name string, args ...string) error {
		gotName, gotArgs = name, args
		return nil
	}}
	require.NoError(t, d.Notify(context.Background(), Notification{Title: "T", Body: "B"}))
	assert.Equal(t, "/usr/bin/notify-send", gotName)
	assert.Equal(t, []string{"--urgency=critical", "T", "B"}, gotArgs)

	d.tool = "/usr/bin/osascript"
	require.NoError(t, d.Notify(context.Background(), Notification{Title: "T", Body: "B"}))
	assert.Equal(t, "-e", gotArgs[0])
	assert.Contains(t, gotArgs[1], `display notification "B" with title "T"`)
}
