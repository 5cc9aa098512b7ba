package web

import (
	"encoding/json"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-medibot/pkg/hub"
	"github.com/teslashibe/go-medibot/pkg/robot"
)

// handleEventsWS streams JSON events, starting with the current feed status.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	if s.deps.Events == nil {
		c.Close()
		return
	}
	var initial []hub.Message
	if s.deps.Feed != nil {
		if msg, err := hub.NewEvent(hub.EventFeedStatus, s.feedStatus()).Encode(); err == nil {
			initial = append(initial, msg)
		}
	}
	hub.NewClient(s.deps.Events, c, nil, initial...).Run()
}

// handleCameraWS streams JPEG preview frames as binary messages.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	if s.deps.Frames == nil {
		c.Close()
		return
	}
	hub.NewClient(s.deps.Frames, c, nil).Run()
}

// ControlMessage is one inbound teleop message on /ws/control.
type ControlMessage struct {
	Type   string  `json:"type"` // joystick, head, nudge, drive
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Pan    int     `json:"pan"`
	Tilt   int     `json:"tilt"`
	Action string  `json:"action"`
}

// handleControlWS accepts high-rate joystick and head input and streams
// events back.
func (s *Server) handleControlWS(c *websocket.Conn) {
	if s.deps.Teleop == nil || s.deps.Events == nil {
		c.Close()
		return
	}
	hub.NewClient(s.deps.Events, c, s.applyControl).Run()
}

func (s *Server) applyControl(data []byte) {
	var m ControlMessage
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Debug("bad control message", "error", err)
		return
	}
	t := s.deps.Teleop
	switch m.Type {
	case "joystick":
		t.SetJoystick(m.X, m.Y)
	case "head":
		t.SetHead(robot.Head{Pan: m.Pan, Tilt: m.Tilt})
	case "nudge":
		t.NudgeHead(m.Pan, m.Tilt)
	case "drive":
		if a, err := robot.ParseAction(m.Action); err == nil {
			t.SetAction(a)
		}
	default:
		s.logger.Debug("unknown control message", "type", m.Type)
	}
}
