// Package hub fans console events and camera frames out to websocket
// clients using a single broadcast goroutine.
package hub

import (
	"encoding/json"
	"time"
)

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded event
	JSONMessage MessageType = iota
	// BinaryMessage is a raw JPEG frame
	BinaryMessage
)

// Message is one websocket write.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// EventType names the payload carried by an Event.
type EventType string

const (
	EventFeedStatus EventType = "feed.status"
	EventFeedError  EventType = "feed.error"
	EventToast      EventType = "toast"
	EventReminder   EventType = "reminder"
	EventRobot      EventType = "robot"
)

// Event is the JSON envelope sent to clients.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// ToastLevel is the severity of a toast.
type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
	ToastWarning ToastLevel = "warning"
	ToastError   ToastLevel = "error"
)

// Toast is a short notification shown by the console.
type Toast struct {
	Level   ToastLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message,omitempty"`
	Hints   []string   `json:"hints,omitempty"`
}

// NewEvent wraps data in an envelope stamped now.
func NewEvent(t EventType, data any) Event {
	return Event{Type: t, At: time.Now(), Data: data}
}

// Encode marshals e into a JSON message.
func (e Event) Encode() (Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(data), nil
}
