package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gateway-service/internal/presence"
	"gateway-service/internal/store"
)

const (
	storeOpTimeout = 5 * time.Second
	joinRetryDelay = 200 * time.Millisecond
)

type clientEvent struct {
	client *Client
	frame  *Frame
}

// Hub drives the socket lifecycle for every connection of this gateway
// process: Connecting to Joined on register, Joined to Left on disconnect. It
// holds no authoritative presence state; the registry's store owns that. The
// hub only indexes its local clients for targeted delivery and relays the
// tenant fan-out channels to them.
type Hub struct {
	registry *presence.Registry
	store    store.Store

	// instanceID prefixes every socket id minted by this process. The
	// liveness filter uses it to tell its own ids from sibling processes'.
	instanceID string

	// Local client indexes
	clients       map[*Client]bool
	tenantClients map[string]map[*Client]bool
	userClients   map[string]map[*Client]bool

	// Per-tenant store subscriptions
	subs map[string]store.Subscription

	register   chan *Client
	unregister chan *Client
	events     chan *clientEvent

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

func NewHub(registry *presence.Registry, st store.Store) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		registry:      registry,
		store:         st,
		instanceID:    uuid.New().String(),
		clients:       make(map[*Client]bool),
		tenantClients: make(map[string]map[*Client]bool),
		userClients:   make(map[string]map[*Client]bool),
		subs:          make(map[string]store.Subscription),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		events:        make(chan *clientEvent),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case ev := <-h.events:
			h.handleEvent(ev)

		case <-h.ctx.Done():
			slog.Info("WebSocket hub shutting down")
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for tenant, sub := range h.subs {
		sub.Close()
		delete(h.subs, tenant)
	}
}

func userKey(tenant, userID string) string {
	return tenant + "/" + userID
}

// registerClient moves a socket from Connecting to Joined: subscribe the
// process to the tenant's channels, record the socket in the registry, then
// republish the current roster so the new client and every sibling converge
// even when membership did not change.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	if h.tenantClients[client.tenant] == nil {
		h.tenantClients[client.tenant] = make(map[*Client]bool)
	}
	h.tenantClients[client.tenant][client] = true

	key := userKey(client.tenant, client.userID)
	if h.userClients[key] == nil {
		h.userClients[key] = make(map[*Client]bool)
	}
	h.userClients[key][client] = true
	h.mu.Unlock()

	h.subscribeTenant(client.tenant)

	ctx, cancel := context.WithTimeout(h.ctx, storeOpTimeout)
	defer cancel()

	err := h.registry.JoinSocket(ctx, client.tenant, client.userID, client.id)
	if err != nil {
		time.Sleep(joinRetryDelay)
		err = h.registry.JoinSocket(ctx, client.tenant, client.userID, client.id)
	}
	if err != nil {
		// The socket stays connected but unregistered from presence; the
		// liveness filter corrects the registry on the next successful read.
		slog.Error("Failed to join presence registry",
			"socketID", client.id, "userID", client.userID, "tenant", client.tenant, "error", err)
		return
	}

	slog.Info("Client joined", "socketID", client.id, "userID", client.userID, "tenant", client.tenant)

	h.registry.PublishRoster(ctx, client.tenant)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)

	delete(h.tenantClients[client.tenant], client)
	tenantEmpty := len(h.tenantClients[client.tenant]) == 0
	if tenantEmpty {
		delete(h.tenantClients, client.tenant)
	}

	key := userKey(client.tenant, client.userID)
	delete(h.userClients[key], client)
	if len(h.userClients[key]) == 0 {
		delete(h.userClients, key)
	}
	h.mu.Unlock()

	client.close()
	client.closeSendChannel()

	ctx, cancel := context.WithTimeout(h.ctx, storeOpTimeout)
	defer cancel()

	err := h.registry.LeaveSocket(ctx, client.tenant, client.userID, client.id, h.socketAlive)
	if err != nil {
		slog.Error("Failed to leave presence registry",
			"socketID", client.id, "userID", client.userID, "tenant", client.tenant, "error", err)
	} else {
		slog.Info("Client left", "socketID", client.id, "userID", client.userID, "tenant", client.tenant)
	}

	if tenantEmpty {
		h.unsubscribeTenant(client.tenant)
	}
}

// socketAlive is the liveness view handed to the registry. A process can only
// vouch for ids it minted: its own ids are live while the client is still in
// the map, ids minted by a sibling process are presumed live and left for
// that sibling to prune on its own leaves.
func (h *Hub) socketAlive(socketID string) bool {
	if !strings.HasPrefix(socketID, h.instanceID+":") {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.id == socketID {
			return true
		}
	}
	return false
}

func (h *Hub) handleEvent(ev *clientEvent) {
	switch ev.frame.Event {
	case EventPublishStatus:
		h.handlePublishStatus(ev.client, ev.frame.Data)
	case EventActivatePrompt:
		h.handleActivatePrompt(ev.client, ev.frame.Data)
	case EventFetchOnlineUsers:
		h.handleFetchOnlineUsers(ev.client)
	}
}

// handlePublishStatus applies a status change for the sending user. A change
// also closes any open inactivity prompt on all of that user's sockets; the
// kicked-out case is followed by a client-initiated disconnect which drives
// the normal leave path.
func (h *Hub) handlePublishStatus(client *Client, data json.RawMessage) {
	var payload UserStatusData
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Warn("Invalid status payload", "socketID", client.id, "error", err)
		return
	}
	if err := payload.Validate(); err != nil {
		slog.Warn("Invalid status payload", "socketID", client.id, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, storeOpTimeout)
	defer cancel()

	_, changed, err := h.registry.SetStatus(ctx, client.tenant, client.userID, payload.Status, payload.Color, payload.KickedOut)
	if err != nil {
		slog.Error("Failed to set status",
			"socketID", client.id, "userID", client.userID, "error", err)
		return
	}
	if changed {
		h.registry.PublishPromptState(ctx, client.tenant, client.userID, false)
	}
}

// handleActivatePrompt opens the inactivity prompt on every socket recorded
// for the target user. The prompt targets sockets, never the tenant room; the
// state travels the store's prompt channel so sockets on sibling processes
// are reached too.
func (h *Hub) handleActivatePrompt(client *Client, data json.RawMessage) {
	var payload InactivityPromptData
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Warn("Invalid prompt payload", "socketID", client.id, "error", err)
		return
	}
	if err := payload.Validate(); err != nil {
		slog.Warn("Invalid prompt payload", "socketID", client.id, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, storeOpTimeout)
	defer cancel()

	h.registry.PublishPromptState(ctx, client.tenant, payload.UserID, true)
	h.registry.RecordPrompt(client.tenant, payload.UserID)
}

func (h *Hub) handleFetchOnlineUsers(client *Client) {
	ctx, cancel := context.WithTimeout(h.ctx, storeOpTimeout)
	defer cancel()

	roster, err := h.registry.FetchRoster(ctx, client.tenant)
	if err != nil {
		slog.Error("Failed to fetch roster", "tenant", client.tenant, "error", err)
		return
	}
	frame, err := NewFrame(EventSendOnlineUsers, roster)
	if err != nil {
		return
	}
	client.Send(frame)
}

// deliverPromptState emits server-open-inactivity-prompt to each of the
// target user's recorded sockets owned by this process. Called from the
// tenant pump when a prompt-state payload arrives off the store.
func (h *Hub) deliverPromptState(tenant string, payload []byte) {
	var state presence.PromptState
	if err := json.Unmarshal(payload, &state); err != nil {
		slog.Warn("Malformed prompt state payload", "tenant", tenant, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, storeOpTimeout)
	defer cancel()

	userID := state.UserID
	open := state.OpenState

	socketIDs, err := h.registry.FetchSockets(ctx, tenant, userID)
	if err != nil {
		slog.Error("Failed to fetch sockets for prompt", "tenant", tenant, "userID", userID, "error", err)
		return
	}
	if len(socketIDs) == 0 {
		return
	}

	frame, err := NewPromptFrame(open)
	if err != nil {
		return
	}

	targets := make(map[string]bool, len(socketIDs))
	for _, id := range socketIDs {
		targets[id] = true
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.userClients[userKey(tenant, userID)]))
	for client := range h.userClients[userKey(tenant, userID)] {
		if targets[client.id] {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.Send(frame)
	}
}

// subscribeTenant ensures one pump per tenant relaying the roster, prompt and
// connected-chat-users channels to this process's local clients. Subscribing
// again for a tenant that already has a pump is a no-op.
func (h *Hub) subscribeTenant(tenant string) {
	h.mu.Lock()
	if _, ok := h.subs[tenant]; ok {
		h.mu.Unlock()
		return
	}
	sub := h.store.Subscribe(h.ctx,
		presence.RosterChannel(tenant),
		presence.PromptChannel(tenant),
		presence.ChatUsersChannel(tenant))
	h.subs[tenant] = sub
	h.mu.Unlock()

	go h.pumpTenant(tenant, sub)
}

func (h *Hub) unsubscribeTenant(tenant string) {
	h.mu.Lock()
	sub, ok := h.subs[tenant]
	if ok {
		delete(h.subs, tenant)
	}
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// pumpTenant relays every fan-out payload to the tenant's local clients. This
// is how sibling processes' roster changes reach sockets connected here.
func (h *Hub) pumpTenant(tenant string, sub store.Subscription) {
	rosterChannel := presence.RosterChannel(tenant)
	promptChannel := presence.PromptChannel(tenant)

	for msg := range sub.Messages() {
		// Prompt state is addressed to one user's sockets, not the room.
		if msg.Channel == promptChannel {
			h.deliverPromptState(tenant, msg.Payload)
			continue
		}

		var frame []byte
		var err error
		if msg.Channel == rosterChannel {
			frame, err = NewRosterFrame(msg.Payload)
		} else {
			frame, err = json.Marshal(Frame{Event: EventSendConnectedChatUsers, Data: msg.Payload})
		}
		if err != nil {
			slog.Error("Failed to build fan-out frame", "tenant", tenant, "error", err)
			continue
		}

		h.broadcastTenant(tenant, frame)
	}
}

func (h *Hub) broadcastTenant(tenant string, frame []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.tenantClients[tenant]))
	for client := range h.tenantClients[tenant] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.Send(frame)
	}
}
