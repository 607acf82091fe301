package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"gateway-service/internal/activity"
	"gateway-service/internal/models"
	"gateway-service/internal/presence"
	"gateway-service/internal/store"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []activity.Event
}

func (c *capturedEvents) recorder() activity.Recorder {
	return activity.RecorderFunc(func(e activity.Event) {
		c.mu.Lock()
		c.events = append(c.events, e)
		c.mu.Unlock()
	})
}

func (c *capturedEvents) all() []activity.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]activity.Event, len(c.events))
	copy(out, c.events)
	return out
}

func newTestHub(st *store.MemoryStore, rec activity.Recorder) *Hub {
	registry := presence.NewRegistry(st, rec)
	hub := NewHub(registry, st)
	return hub
}

// readFrame drains a client's send buffer until a frame of the wanted event
// arrives or the timeout expires.
func readFrame(t *testing.T, client *Client, want EventType) Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw, ok := <-client.send:
			if !ok {
				t.Fatalf("Send channel closed while waiting for %s", want)
			}
			var frame Frame
			if err := json.Unmarshal(raw, &frame); err != nil {
				t.Fatalf("Received invalid frame: %v", err)
			}
			if frame.Event == want {
				return frame
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %s", want)
		}
	}
}

func assertNoFrame(t *testing.T, client *Client, unwanted EventType) {
	t.Helper()
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case raw, ok := <-client.send:
			if !ok {
				return
			}
			var frame Frame
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}
			if frame.Event == unwanted {
				t.Fatalf("Received unwanted %s frame", unwanted)
			}
		case <-timeout:
			return
		}
	}
}

func TestRegisterPublishesRosterToClient(t *testing.T) {
	st := store.NewMemoryStore()
	hub := newTestHub(st, nil)
	defer hub.Stop()

	client := NewClient(hub, nil, "acme", "u1")
	hub.registerClient(client)

	frame := readFrame(t, client, EventSendOnlineUsers)
	var roster []models.OnlineUser
	if err := json.Unmarshal(frame.Data, &roster); err != nil {
		t.Fatalf("Roster payload invalid: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != "u1" {
		t.Errorf("Expected roster [u1], got %v", roster)
	}
	if roster[0].Status != models.DefaultStatus {
		t.Errorf("Expected default status, got %q", roster[0].Status)
	}
}

// Two hubs sharing one store stand in for two gateway processes: a join on
// one process reaches sockets connected to the other through the fan-out.
func TestRosterFanOutAcrossHubs(t *testing.T) {
	st := store.NewMemoryStore()
	hubA := newTestHub(st, nil)
	defer hubA.Stop()
	hubB := newTestHub(st, nil)
	defer hubB.Stop()

	clientA := NewClient(hubA, nil, "acme", "u1")
	hubA.registerClient(clientA)
	readFrame(t, clientA, EventSendOnlineUsers)

	clientB := NewClient(hubB, nil, "acme", "u2")
	hubB.registerClient(clientB)

	// clientA hears about u2 via hubA's subscription to the tenant channel.
	deadline := time.After(2 * time.Second)
	for {
		var roster []models.OnlineUser
		frame := readFrame(t, clientA, EventSendOnlineUsers)
		if err := json.Unmarshal(frame.Data, &roster); err != nil {
			t.Fatalf("Roster payload invalid: %v", err)
		}
		if len(roster) == 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("Never saw both users, last roster: %v", roster)
		default:
		}
	}
}

func TestUnregisterLastSocketEmptiesRoster(t *testing.T) {
	st := store.NewMemoryStore()
	hub := newTestHub(st, nil)
	defer hub.Stop()

	client := NewClient(hub, nil, "acme", "u1")
	hub.registerClient(client)
	readFrame(t, client, EventSendOnlineUsers)

	hub.unregisterClient(client)

	roster, err := hub.registry.FetchRoster(context.Background(), "acme")
	if err != nil {
		t.Fatalf("FetchRoster failed: %v", err)
	}
	if len(roster) != 0 {
		t.Errorf("Expected empty roster after last disconnect, got %v", roster)
	}

	hub.mu.RLock()
	_, subscribed := hub.subs["acme"]
	hub.mu.RUnlock()
	if subscribed {
		t.Error("Expected tenant subscription released when last client left")
	}
}

func TestUnregisterNonLastSocketKeepsUserOnline(t *testing.T) {
	st := store.NewMemoryStore()
	hub := newTestHub(st, nil)
	defer hub.Stop()

	tab1 := NewClient(hub, nil, "acme", "u1")
	tab2 := NewClient(hub, nil, "acme", "u1")
	hub.registerClient(tab1)
	hub.registerClient(tab2)
	readFrame(t, tab2, EventSendOnlineUsers)

	hub.unregisterClient(tab1)

	roster, _ := hub.registry.FetchRoster(context.Background(), "acme")
	if len(roster) != 1 || roster[0].UserID != "u1" {
		t.Errorf("Expected u1 still online with one tab open, got %v", roster)
	}

	sockets, _ := hub.registry.FetchSockets(context.Background(), "acme", "u1")
	if len(sockets) != 1 || sockets[0] != tab2.id {
		t.Errorf("Expected remaining socket %s, got %v", tab2.id, sockets)
	}
}

// A disconnect on one process must not prune the same user's live sockets on
// a sibling process: each hub only vouches for ids it minted.
func TestUnregisterKeepsSiblingHubSockets(t *testing.T) {
	st := store.NewMemoryStore()
	hubA := newTestHub(st, nil)
	defer hubA.Stop()
	hubB := newTestHub(st, nil)
	defer hubB.Stop()

	tabA := NewClient(hubA, nil, "acme", "u1")
	tabB := NewClient(hubB, nil, "acme", "u1")
	hubA.registerClient(tabA)
	hubB.registerClient(tabB)

	hubA.unregisterClient(tabA)

	sockets, err := hubA.registry.FetchSockets(context.Background(), "acme", "u1")
	if err != nil {
		t.Fatalf("FetchSockets failed: %v", err)
	}
	if len(sockets) != 1 || sockets[0] != tabB.id {
		t.Errorf("Expected sibling socket %s to survive, got %v", tabB.id, sockets)
	}

	roster, _ := hubA.registry.FetchRoster(context.Background(), "acme")
	if len(roster) != 1 || roster[0].UserID != "u1" {
		t.Errorf("Expected u1 still on roster with a live sibling socket, got %v", roster)
	}
}

// Prompt state travels the store, so a prompt activated on one process must
// open and close on the target's sockets connected to a sibling process.
func TestPromptReachesSiblingHubSockets(t *testing.T) {
	st := store.NewMemoryStore()
	hubA := newTestHub(st, nil)
	defer hubA.Stop()
	hubB := newTestHub(st, nil)
	defer hubB.Stop()

	admin := NewClient(hubA, nil, "acme", "admin")
	tabA := NewClient(hubA, nil, "acme", "u1")
	tabB := NewClient(hubB, nil, "acme", "u1")
	hubA.registerClient(admin)
	hubA.registerClient(tabA)
	hubB.registerClient(tabB)

	promptData, _ := json.Marshal(InactivityPromptData{UserID: "u1", Name: "User One"})
	hubA.handleEvent(&clientEvent{
		client: admin,
		frame:  &Frame{Event: EventActivatePrompt, Data: promptData},
	})

	for _, tab := range []*Client{tabA, tabB} {
		frame := readFrame(t, tab, EventOpenInactivityPrompt)
		var state PromptStateData
		if err := json.Unmarshal(frame.Data, &state); err != nil {
			t.Fatalf("Prompt payload invalid: %v", err)
		}
		if !state.OpenState {
			t.Error("Expected prompt opened on both processes")
		}
	}

	// Confirming from the tab on hubB closes the prompt on hubA's tab too.
	statusData, _ := json.Marshal(UserStatusData{Status: "Busy", Color: "#ff0000"})
	hubB.handleEvent(&clientEvent{
		client: tabB,
		frame:  &Frame{Event: EventPublishStatus, Data: statusData},
	})

	for _, tab := range []*Client{tabA, tabB} {
		frame := readFrame(t, tab, EventOpenInactivityPrompt)
		var state PromptStateData
		if err := json.Unmarshal(frame.Data, &state); err != nil {
			t.Fatalf("Prompt payload invalid: %v", err)
		}
		if state.OpenState {
			t.Error("Expected prompt closed on both processes after confirmation")
		}
	}
}

func TestInactivityPromptFlow(t *testing.T) {
	captured := &capturedEvents{}
	st := store.NewMemoryStore()
	hub := newTestHub(st, captured.recorder())
	defer hub.Stop()

	tab1 := NewClient(hub, nil, "acme", "u1")
	tab2 := NewClient(hub, nil, "acme", "u1")
	admin := NewClient(hub, nil, "acme", "admin")
	hub.registerClient(tab1)
	hub.registerClient(tab2)
	hub.registerClient(admin)

	// Admin challenges u1; both of u1's sockets get the prompt, admin none.
	promptData, _ := json.Marshal(InactivityPromptData{UserID: "u1", Name: "User One"})
	hub.handleEvent(&clientEvent{
		client: admin,
		frame:  &Frame{Event: EventActivatePrompt, Data: promptData},
	})

	for _, tab := range []*Client{tab1, tab2} {
		frame := readFrame(t, tab, EventOpenInactivityPrompt)
		var state PromptStateData
		if err := json.Unmarshal(frame.Data, &state); err != nil {
			t.Fatalf("Prompt payload invalid: %v", err)
		}
		if !state.OpenState {
			t.Error("Expected prompt opened")
		}
	}
	assertNoFrame(t, admin, EventOpenInactivityPrompt)

	// u1 confirms from one tab; both tabs get the prompt closed.
	statusData, _ := json.Marshal(UserStatusData{Status: "Busy", Color: "#ff0000"})
	hub.handleEvent(&clientEvent{
		client: tab1,
		frame:  &Frame{Event: EventPublishStatus, Data: statusData},
	})

	for _, tab := range []*Client{tab1, tab2} {
		frame := readFrame(t, tab, EventOpenInactivityPrompt)
		var state PromptStateData
		if err := json.Unmarshal(frame.Data, &state); err != nil {
			t.Fatalf("Prompt payload invalid: %v", err)
		}
		if state.OpenState {
			t.Error("Expected prompt closed after confirmation")
		}
	}

	events := captured.all()
	if len(events) != 2 {
		t.Fatalf("Expected prompt + status events, got %d", len(events))
	}
	if events[0].Action != activity.ActionInactivityPrompt {
		t.Errorf("Expected first event %q, got %q", activity.ActionInactivityPrompt, events[0].Action)
	}
	if events[0].Description != "prompted user for online status" {
		t.Errorf("Unexpected prompt description %q", events[0].Description)
	}
	want := "Changed status from Online to Busy::Online:Busy"
	if events[1].Description != want {
		t.Errorf("Expected description %q, got %q", want, events[1].Description)
	}
}

func TestStatusEventUpdatesRoster(t *testing.T) {
	st := store.NewMemoryStore()
	hub := newTestHub(st, nil)
	defer hub.Stop()

	client := NewClient(hub, nil, "acme", "u1")
	hub.registerClient(client)
	readFrame(t, client, EventSendOnlineUsers)

	statusData, _ := json.Marshal(UserStatusData{Status: "Away", Color: "#ffb74d"})
	hub.handleEvent(&clientEvent{
		client: client,
		frame:  &Frame{Event: EventPublishStatus, Data: statusData},
	})

	frame := readFrame(t, client, EventSendOnlineUsers)
	var roster []models.OnlineUser
	if err := json.Unmarshal(frame.Data, &roster); err != nil {
		t.Fatalf("Roster payload invalid: %v", err)
	}
	if len(roster) != 1 || roster[0].Status != "Away" || roster[0].Color != "#ffb74d" {
		t.Errorf("Expected roster reflecting status change, got %v", roster)
	}
}

func TestInvalidStatusPayloadIgnored(t *testing.T) {
	st := store.NewMemoryStore()
	hub := newTestHub(st, nil)
	defer hub.Stop()

	client := NewClient(hub, nil, "acme", "u1")
	hub.registerClient(client)
	readFrame(t, client, EventSendOnlineUsers)

	hub.handleEvent(&clientEvent{
		client: client,
		frame:  &Frame{Event: EventPublishStatus, Data: json.RawMessage(`{"status":""}`)},
	})

	roster, _ := hub.registry.FetchRoster(context.Background(), "acme")
	if len(roster) != 1 || roster[0].Status != models.DefaultStatus {
		t.Errorf("Expected roster unchanged by invalid payload, got %v", roster)
	}
}

func TestFetchOnlineUsersEvent(t *testing.T) {
	st := store.NewMemoryStore()
	hub := newTestHub(st, nil)
	defer hub.Stop()

	client := NewClient(hub, nil, "acme", "u1")
	hub.registerClient(client)
	readFrame(t, client, EventSendOnlineUsers)

	hub.handleEvent(&clientEvent{
		client: client,
		frame:  &Frame{Event: EventFetchOnlineUsers},
	})

	frame := readFrame(t, client, EventSendOnlineUsers)
	var roster []models.OnlineUser
	if err := json.Unmarshal(frame.Data, &roster); err != nil {
		t.Fatalf("Roster payload invalid: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != "u1" {
		t.Errorf("Expected roster [u1], got %v", roster)
	}
}

func TestChatUsersChannelRelayed(t *testing.T) {
	st := store.NewMemoryStore()
	hub := newTestHub(st, nil)
	defer hub.Stop()

	client := NewClient(hub, nil, "acme", "u1")
	hub.registerClient(client)
	readFrame(t, client, EventSendOnlineUsers)

	payload := []byte(`[{"userId":"u2","room":"general"}]`)
	st.Publish(context.Background(), presence.ChatUsersChannel("acme"), payload)

	frame := readFrame(t, client, EventSendConnectedChatUsers)
	if string(frame.Data) != string(payload) {
		t.Errorf("Expected chat payload relayed verbatim, got %s", frame.Data)
	}
}
