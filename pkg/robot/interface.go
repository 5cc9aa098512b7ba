// Package robot sends drive and servo commands to the robot's microcontroller.
//
// The microcontroller exposes two plain HTTP endpoints:
//
//	GET <motorURL>?action=forward|backward|left|right|stop
//	GET <servoURL>?servo=<name>&position=<degrees>
//
// Commands are single-shot; the only acknowledgment is the HTTP status.
package robot

import "fmt"

// Action is a drive command.
type Action string

const (
	ActionForward  Action = "forward"
	ActionBackward Action = "backward"
	ActionLeft     Action = "left"
	ActionRight    Action = "right"
	ActionStop     Action = "stop"
)

// ParseAction validates a drive command name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionForward, ActionBackward, ActionLeft, ActionRight, ActionStop:
		return a, nil
	}
	return "", fmt.Errorf("unknown drive action %q", s)
}

// DriveController moves the robot base.
type DriveController interface {
	Drive(action Action) error
}

// ServoController positions a named servo in degrees.
type ServoController interface {
	SetServo(name string, position int) error
}

// Controller is the composite interface for full robot control.
type Controller interface {
	DriveController
	ServoController
}

// Ensure HTTPController implements Controller
var _ Controller = (*HTTPController)(nil)
