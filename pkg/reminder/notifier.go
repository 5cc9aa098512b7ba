package reminder

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/teslashibe/go-medibot/pkg/hub"
)

// ErrNotifierUnavailable is returned when no desktop notification tool exists.
var ErrNotifierUnavailable = errors.New("reminder: desktop notifications unavailable")

// Notification is what the user sees when a reminder fires.
type Notification struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Drawer int    `json:"drawer,omitempty"`
}

// NotificationFor builds the notification for r.
func NotificationFor(r *Reminder) Notification {
	body := "Time to take " + r.Medicine
	if r.Drawer > 0 {
		body += fmt.Sprintf(" (drawer %d)", r.Drawer)
	}
	if r.Note != "" {
		body += ". " + r.Note
	}
	return Notification{Title: "Medicine reminder", Body: body, Drawer: r.Drawer}
}

// Notifier delivers a notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// DesktopNotifier shells out to notify-send (Linux) or osascript (macOS).
type DesktopNotifier struct {
	tool string
	run  func(ctx context.Context, name string, args ...string) error
}

// NewDesktopNotifier finds the platform's notification tool.
func NewDesktopNotifier() (*DesktopNotifier, error) {
	tool := "notify-send"
	if runtime.GOOS == "darwin" {
		tool = "osascript"
	}
	path, err := exec.LookPath(tool)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrNotifierUnavailable, tool)
	}
	return &DesktopNotifier{tool: path, run: runCommand}, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Notify implements Notifier.
func (d *DesktopNotifier) Notify(ctx context.Context, n Notification) error {
	if strings.HasSuffix(d.tool, "osascript") {
		script := fmt.Sprintf("display notification %q with title %q", n.Body, n.Title)
		return d.run(ctx, d.tool, "-e", script)
	}
	return d.run(ctx, d.tool, "--urgency=critical", n.Title, n.Body)
}

// Toaster is satisfied by *hub.Hub.
type Toaster interface {
	Toast(t hub.Toast)
}

// ToastNotifier shows the reminder as an in-console toast.
type ToastNotifier struct {
	toaster Toaster
}

// NewToastNotifier creates a notifier broadcasting over t.
func NewToastNotifier(t Toaster) *ToastNotifier {
	return &ToastNotifier{toaster: t}
}

// Notify implements Notifier.
func (t *ToastNotifier) Notify(_ context.Context, n Notification) error {
	t.toaster.Toast(hub.Toast{Level: hub.ToastInfo, Title: n.Title, Message: n.Body})
	return nil
}

// Fallback tries each notifier in order and stops at the first success.
type Fallback []Notifier

// Notify implements Notifier.
func (f Fallback) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range f {
		if nt == nil {
			continue
		}
		err := nt.Notify(ctx, n)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrNotifierUnavailable
	}
	return errors.Join(errs...)
}

// DefaultNotifier prefers desktop notifications and falls back to toasts.
func DefaultNotifier(t Toaster) Notifier {
	var chain Fallback
	if d, err := NewDesktopNotifier(); err == nil {
		chain = append(chain, d)
	}
	if t != nil {
		chain = append(chain, NewToastNotifier(t))
	}
	return chain
}

var (
	_ Notifier = (*DesktopNotifier)(nil)
	_ Notifier = (*ToastNotifier)(nil)
	_ Notifier = Fallback(nil)
)
