package web

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-medibot/pkg/hub"
	"github.com/teslashibe/go-medibot/pkg/robot"
)

// DriveRequest is a button press.
type DriveRequest struct {
	Action string `json:"action"`
}

// CommandResponse reports a forwarded command. Commands are fire-and-forget:
// a failed GET is returned with OK=false and status 200 so the UI can keep
// driving. Queued commands go out on the next teleop tick.
type CommandResponse struct {
	robot.CommandResult
	Action robot.Action `json:"action,omitempty"`
	Queued bool         `json:"queued,omitempty"`
}

func (s *Server) handleDrive(c *fiber.Ctx) error {
	if s.deps.Robot == nil {
		return errUnavailable
	}
	var req DriveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body")
	}
	action, err := robot.ParseAction(req.Action)
	if err != nil {
		return badRequest(err.Error())
	}

	if s.deps.Teleop != nil {
		s.deps.Teleop.SetAction(action)
		return c.JSON(CommandResponse{Action: action, Queued: true})
	}
	_ = s.deps.Robot.Drive(action)
	return s.commandResult(c, action)
}

// JoystickRequest is a stick vector in [-1, 1].
type JoystickRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Server) handleJoystick(c *fiber.Ctx) error {
	if s.deps.Teleop == nil {
		return errUnavailable
	}
	var req JoystickRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body")
	}
	return c.JSON(fiber.Map{"action": s.deps.Teleop.SetJoystick(req.X, req.Y)})
}

// HeadRequest sets (or, with Relative, nudges) the pan/tilt head.
type HeadRequest struct {
	Pan      int  `json:"pan"`
	Tilt     int  `json:"tilt"`
	Relative bool `json:"relative"`
}

func (s *Server) handleHead(c *fiber.Ctx) error {
	if s.deps.Teleop == nil {
		return errUnavailable
	}
	var req HeadRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body")
	}
	var h robot.Head
	if req.Relative {
		h = s.deps.Teleop.NudgeHead(req.Pan, req.Tilt)
	} else {
		h = s.deps.Teleop.SetHead(robot.Head{Pan: req.Pan, Tilt: req.Tilt})
	}
	return c.JSON(h)
}

// ServoRequest positions one servo.
type ServoRequest struct {
	Servo    string `json:"servo"`
	Position int    `json:"position"`
}

func (s *Server) handleServo(c *fiber.Ctx) error {
	if s.deps.Robot == nil {
		return errUnavailable
	}
	var req ServoRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid body")
	}
	if req.Servo == "" {
		return badRequest("servo is required")
	}
	_ = s.deps.Robot.SetServo(req.Servo, req.Position)
	return s.commandResult(c, "")
}

func (s *Server) handleDrawer(c *fiber.Ctx) error {
	if s.deps.Robot == nil {
		return errUnavailable
	}
	n, err := strconv.Atoi(c.Params("n"))
	if err != nil {
		return badRequest("drawer must be a number")
	}
	var open bool
	switch c.Params("op") {
	case "open":
		open = true
	case "close":
	default:
		return badRequest("op must be open or close")
	}
	if _, ok := robot.DrawerServo(n); !ok {
		return badRequest("unknown drawer " + c.Params("n"))
	}

	_ = robot.SetDrawer(s.deps.Robot, n, open)
	res := s.deps.Robot.Last()
	if s.deps.Events != nil {
		s.deps.Events.Publish(hub.EventRobot, fiber.Map{"drawer": n, "open": open, "ok": res.OK})
	}
	return s.commandResult(c, "")
}

func (s *Server) handleLastCommand(c *fiber.Ctx) error {
	if s.deps.Robot == nil {
		return errUnavailable
	}
	return c.JSON(s.deps.Robot.Last())
}

func (s *Server) commandResult(c *fiber.Ctx, action robot.Action) error {
	return c.JSON(CommandResponse{CommandResult: s.deps.Robot.Last(), Action: action})
}
