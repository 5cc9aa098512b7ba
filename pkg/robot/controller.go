package robot

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Servo names known to the firmware.
const (
	ServoPan  = "pan"
	ServoTilt = "tilt"
)

// Drawer servo positions (degrees).
const (
	DrawerOpen   = 180
	DrawerClosed = 0
	DrawerCount  = 3
)

// Servo travel limits (degrees).
const (
	MinAngle = 0
	MaxAngle = 180
)

// JoystickDeadZone is the stick magnitude below which the base stops.
const JoystickDeadZone = 0.2

// DeadZoneDegrees skips head updates smaller than this.
const DeadZoneDegrees = 1

// ClampAngle restricts a servo position to the travel limits.
func ClampAngle(v int) int {
	if v < MinAngle {
		return MinAngle
	}
	if v > MaxAngle {
		return MaxAngle
	}
	return v
}

// DrawerServo returns the servo name of drawer n (1-based).
func DrawerServo(n int) (string, bool) {
	if n < 1 || n > DrawerCount {
		return "", false
	}
	return fmt.Sprintf("drawer%d", n), true
}

// SetDrawer opens or closes drawer n.
func SetDrawer(s ServoController, n int, open bool) error {
	name, ok := DrawerServo(n)
	if !ok {
		return fmt.Errorf("unknown drawer %d (want 1..%d)", n, DrawerCount)
	}
	pos := DrawerClosed
	if open {
		pos = DrawerOpen
	}
	return s.SetServo(name, pos)
}

// JoystickAction maps a stick vector to a drive action. y > 0 is forward,
// x > 0 is right. The dominant axis wins; inside the dead zone the base stops.
func JoystickAction(x, y float64) Action {
	if math.Hypot(x, y) < JoystickDeadZone {
		return ActionStop
	}
	if math.Abs(y) >= math.Abs(x) {
		if y > 0 {
			return ActionForward
		}
		return ActionBackward
	}
	if x > 0 {
		return ActionRight
	}
	return ActionLeft
}

// Head is a pan/tilt position in degrees.
type Head struct {
	Pan  int `json:"pan"`
	Tilt int `json:"tilt"`
}

// Clamp returns h with both axes inside the travel limits.
func (h Head) Clamp() Head {
	return Head{Pan: ClampAngle(h.Pan), Tilt: ClampAngle(h.Tilt)}
}

// DefaultHead looks straight ahead.
var DefaultHead = Head{Pan: 90, Tilt: 90}

// Teleop turns continuous joystick and head input into discrete commands
// at a fixed rate. Only changes are sent: a held stick sends one action,
// and head moves under DeadZoneDegrees are dropped.
type Teleop struct {
	robot  Controller
	logger *slog.Logger

	mu     sync.RWMutex
	action Action
	head   Head

	rate time.Duration
	stop chan struct{}
	once sync.Once

	// Loop-owned state.
	lastAction   Action
	lastHead     Head
	headSent     bool
	tickCount    uint64
	skippedTicks uint64
	errorCount   uint64
	lastErrorAt  time.Time
}

// NewTeleop creates a controller ticking at rate.
func NewTeleop(robot Controller, rate time.Duration, logger *slog.Logger) *Teleop {
	if logger == nil {
		logger = slog.Default()
	}
	if rate <= 0 {
		rate = 50 * time.Millisecond
	}
	return &Teleop{
		robot:      robot,
		logger:     logger.With("component", "robot.teleop"),
		action:     ActionStop,
		head:       DefaultHead,
		rate:       rate,
		stop:       make(chan struct{}),
		lastAction: ActionStop,
	}
}

// SetJoystick updates the stick vector.
func (t *Teleop) SetJoystick(x, y float64) Action {
	a := JoystickAction(x, y)
	t.mu.Lock()
	t.action = a
	t.mu.Unlock()
	return a
}

// SetAction sets the drive action directly (button input).
func (t *Teleop) SetAction(a Action) {
	t.mu.Lock()
	t.action = a
	t.mu.Unlock()
}

// Action returns the desired drive action.
func (t *Teleop) Action() Action {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.action
}

// SetHead sets the desired head position, clamped.
func (t *Teleop) SetHead(h Head) Head {
	h = h.Clamp()
	t.mu.Lock()
	t.head = h
	t.mu.Unlock()
	return h
}

// NudgeHead moves the head by a delta, clamped.
func (t *Teleop) NudgeHead(dPan, dTilt int) Head {
	t.mu.Lock()
	h := Head{Pan: t.head.Pan + dPan, Tilt: t.head.Tilt + dTilt}.Clamp()
	t.head = h
	t.mu.Unlock()
	return h
}

// Head returns the desired head position.
func (t *Teleop) Head() Head {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.head
}

// Run starts the control loop. Blocks until Stop is called.
// The base is stopped on exit.
func (t *Teleop) Run() {
	ticker := time.NewTicker(t.rate)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			if t.robot != nil && t.lastAction != ActionStop {
				if err := t.robot.Drive(ActionStop); err != nil {
					t.logger.Warn("stop on exit failed", "error", err)
				}
			}
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// Stop halts the control loop. Safe to call more than once.
func (t *Teleop) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// tick sends whatever changed since the last successful send.
func (t *Teleop) tick() {
	t.mu.RLock()
	action := t.action
	head := t.head
	t.mu.RUnlock()

	if t.robot == nil {
		return
	}
	t.tickCount++

	headMoved := !t.headSent ||
		absInt(head.Pan-t.lastHead.Pan) >= DeadZoneDegrees ||
		absInt(head.Tilt-t.lastHead.Tilt) >= DeadZoneDegrees

	if action == t.lastAction && !headMoved {
		t.skippedTicks++
		return
	}

	if action != t.lastAction {
		if err := t.robot.Drive(action); err != nil {
			t.fail("drive", err)
		} else {
			t.lastAction = action
		}
	}

	if headMoved {
		errPan := t.robot.SetServo(ServoPan, head.Pan)
		errTilt := t.robot.SetServo(ServoTilt, head.Tilt)
		switch {
		case errPan != nil:
			t.fail("pan", errPan)
		case errTilt != nil:
			t.fail("tilt", errTilt)
		default:
			t.lastHead = head
			t.headSent = true
		}
	}
}

// fail logs at most once per 5s so a dead microcontroller doesn't flood logs.
func (t *Teleop) fail(what string, err error) {
	t.errorCount++
	if t.lastErrorAt.IsZero() || time.Since(t.lastErrorAt) > 5*time.Second {
		t.logger.Warn("teleop command failed",
			"command", what,
			"error", err,
			"errors", t.errorCount,
			"ticks", t.tickCount,
			"skipped", t.skippedTicks,
		)
		t.lastErrorAt = time.Now()
	}
}
