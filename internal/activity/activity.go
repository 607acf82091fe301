package activity

import "time"

// Actions recorded by the presence layer.
const (
	ActionStatusChange     = "online-status-change"
	ActionInactivityPrompt = "inactivity-prompt"
)

// Event is one audit entry emitted by the presence layer. Recording is
// fire-and-forget: presence mutations are authoritative whether or not the
// event ever reaches storage.
type Event struct {
	ClientID    string    `json:"clientId"`
	UserID      string    `json:"userId"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// Recorder accepts events without blocking the caller.
type Recorder interface {
	Record(event Event)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(Event)

func (f RecorderFunc) Record(event Event) { f(event) }

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}
