package websocket

import (
	"encoding/json"
	"fmt"
)

// EventType names one wire event, matching the client protocol.
type EventType string

const (
	// Client-to-server events
	EventFetchOnlineUsers EventType = "client-fetch-online-users"
	EventPublishStatus    EventType = "client-publish-user-status"
	EventActivatePrompt   EventType = "client-activate-inactivity-prompt"

	// Server-to-client events
	EventSendOnlineUsers        EventType = "server-send-online-users"
	EventOpenInactivityPrompt   EventType = "server-open-inactivity-prompt"
	EventSendConnectedChatUsers EventType = "server-send-connected-chat-users"
)

func (et EventType) String() string {
	return string(et)
}

// IsClientEvent reports whether the event may be sent by a client.
func (et EventType) IsClientEvent() bool {
	switch et {
	case EventFetchOnlineUsers, EventPublishStatus, EventActivatePrompt:
		return true
	default:
		return false
	}
}

// Frame is one websocket message: an event name plus its payload.
type Frame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UserStatusData is the payload of client-publish-user-status. KickedOut marks
// a status change forced by the client-side inactivity countdown expiring.
type UserStatusData struct {
	Status    string `json:"status"`
	Color     string `json:"color"`
	KickedOut bool   `json:"kickedOut,omitempty"`
}

func (d *UserStatusData) Validate() error {
	if d.Status == "" {
		return fmt.Errorf("status is required")
	}
	if d.Color == "" {
		return fmt.Errorf("color is required")
	}
	return nil
}

// InactivityPromptData is the payload of client-activate-inactivity-prompt.
type InactivityPromptData struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func (d *InactivityPromptData) Validate() error {
	if d.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	return nil
}

// PromptStateData is the payload of server-open-inactivity-prompt. The client
// runs its own 45-second countdown once the prompt opens; the server only
// reacts to the resulting status event.
type PromptStateData struct {
	OpenState bool `json:"openState"`
}

func NewFrame(event EventType, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// NewRosterFrame wraps an already-serialized roster array, as received from
// the tenant's fan-out channel.
func NewRosterFrame(roster []byte) ([]byte, error) {
	return json.Marshal(Frame{Event: EventSendOnlineUsers, Data: roster})
}

func NewPromptFrame(open bool) ([]byte, error) {
	return NewFrame(EventOpenInactivityPrompt, PromptStateData{OpenState: open})
}
