package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gateway-service/internal/activity"
	"gateway-service/internal/models"
	"gateway-service/internal/store"
)

var ErrEmptyIdentifier = errors.New("presence: tenant, user and socket ids must be non-empty")

// LivenessChecker reports whether a socket id still belongs to a live
// transport connection. A nil checker treats every id as live.
type LivenessChecker func(socketID string) bool

// Registry owns the per-tenant socket-set and roster bookkeeping. All durable
// state lives in the injected Store; the registry holds nothing authoritative
// in memory, so any number of gateway processes can share one store.
type Registry struct {
	store    store.Store
	recorder activity.Recorder
}

func NewRegistry(st store.Store, recorder activity.Recorder) *Registry {
	if recorder == nil {
		recorder = activity.NopRecorder{}
	}
	return &Registry{store: st, recorder: recorder}
}

// JoinSocket records a socket under (tenant, user) and ensures the user is on
// the tenant's roster. The append is unconditional; an existing roster entry
// keeps its status. Socket set and roster are written in one atomic update so
// a store failure cannot leave them out of sync.
func (r *Registry) JoinSocket(ctx context.Context, tenant, userID, socketID string) error {
	if tenant == "" || userID == "" || socketID == "" {
		return ErrEmptyIdentifier
	}

	sockField := socketsField(userID)
	return r.store.Update(ctx, tenant, []string{sockField, onlineUsersField}, func(values map[string]string) (map[string]string, []string, error) {
		sockets := decodeSockets(values[sockField])
		sockets = append(sockets, socketID)

		roster := decodeRoster(values[onlineUsersField])
		if findUser(roster, userID) < 0 {
			roster = append(roster, models.OnlineUser{
				UserID: userID,
				Status: models.DefaultStatus,
				Color:  models.DefaultStatusColor,
			})
		}

		set := map[string]string{
			sockField:        encode(sockets),
			onlineUsersField: encode(roster),
		}
		return set, nil, nil
	})
}

// LeaveSocket removes a socket and prunes ids the transport no longer knows.
// When the set empties, the field is deleted, the user leaves the roster and
// the updated roster is published. A non-last leave writes the filtered set
// back without publishing, and a leave for a user the roster never had
// publishes nothing either: publishes track membership changes only.
func (r *Registry) LeaveSocket(ctx context.Context, tenant, userID, socketID string, live LivenessChecker) error {
	if tenant == "" || userID == "" {
		return ErrEmptyIdentifier
	}

	sockField := socketsField(userID)
	removed := false

	err := r.store.Update(ctx, tenant, []string{sockField, onlineUsersField}, func(values map[string]string) (map[string]string, []string, error) {
		removed = false
		sockets := decodeSockets(values[sockField])

		remaining := sockets[:0]
		for _, id := range sockets {
			if id == socketID {
				continue
			}
			if live != nil && !live(id) {
				continue
			}
			remaining = append(remaining, id)
		}

		if len(remaining) > 0 {
			return map[string]string{sockField: encode(remaining)}, nil, nil
		}

		set := map[string]string{}
		roster := decodeRoster(values[onlineUsersField])
		if i := findUser(roster, userID); i >= 0 {
			roster = append(roster[:i], roster[i+1:]...)
			set[onlineUsersField] = encode(roster)
			removed = true
		}
		return set, []string{sockField}, nil
	})
	if err != nil {
		return err
	}

	if removed {
		r.PublishRoster(ctx, tenant)
	}
	return nil
}

// SetStatus overwrites a roster entry's status and color. When the user is not
// on the roster the call is a no-op: no entry is created, nothing published.
// The previous status is returned so the transport layer can close an open
// inactivity prompt, and an activity event is recorded describing either the
// normal transition or the forced kick-out.
func (r *Registry) SetStatus(ctx context.Context, tenant, userID, status, color string, kickedOut bool) (prev string, changed bool, err error) {
	if tenant == "" || userID == "" {
		return "", false, ErrEmptyIdentifier
	}

	err = r.store.Update(ctx, tenant, []string{onlineUsersField}, func(values map[string]string) (map[string]string, []string, error) {
		prev, changed = "", false
		roster := decodeRoster(values[onlineUsersField])
		i := findUser(roster, userID)
		if i < 0 {
			return nil, nil, nil
		}
		prev = roster[i].Status
		roster[i].Status = status
		roster[i].Color = color
		changed = true
		return map[string]string{onlineUsersField: encode(roster)}, nil, nil
	})
	if err != nil {
		return "", false, err
	}
	if !changed {
		return "", false, nil
	}

	r.PublishRoster(ctx, tenant)

	description := fmt.Sprintf("Changed status from %s to %s::%s:%s", prev, status, prev, status)
	if kickedOut {
		description = fmt.Sprintf("Kicked out for inactivity::%s:In-active (%s)", prev, status)
	}
	r.recorder.Record(activity.Event{
		ClientID:    tenant,
		UserID:      userID,
		Action:      activity.ActionStatusChange,
		Description: description,
		At:          time.Now(),
	})

	return prev, true, nil
}

// FetchRoster returns the tenant's current roster. Absent or malformed stored
// state reads as empty.
func (r *Registry) FetchRoster(ctx context.Context, tenant string) ([]models.OnlineUser, error) {
	raw, ok, err := r.store.HGet(ctx, tenant, onlineUsersField)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.OnlineUser{}, nil
	}
	return decodeRoster(raw), nil
}

// FetchSockets returns the live socket ids recorded for (tenant, user).
func (r *Registry) FetchSockets(ctx context.Context, tenant, userID string) ([]string, error) {
	raw, ok, err := r.store.HGet(ctx, tenant, socketsField(userID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decodeSockets(raw), nil
}

// PublishRoster reads the roster and fans it out on the tenant's channel.
// Publishing is fire-and-forget: subscribers that miss an update converge on
// the next join's republish, so failures are only logged.
func (r *Registry) PublishRoster(ctx context.Context, tenant string) {
	roster, err := r.FetchRoster(ctx, tenant)
	if err != nil {
		slog.Error("Failed to read roster for publish", "tenant", tenant, "error", err)
		return
	}
	payload, err := json.Marshal(roster)
	if err != nil {
		slog.Error("Failed to marshal roster", "tenant", tenant, "error", err)
		return
	}
	if err := r.store.Publish(ctx, RosterChannel(tenant), payload); err != nil {
		slog.Error("Failed to publish roster", "tenant", tenant, "error", err)
	}
}

// PromptState is the payload carried on the tenant's prompt channel.
type PromptState struct {
	UserID    string `json:"userId"`
	OpenState bool   `json:"openState"`
}

// PublishPromptState fans out a prompt open or close for one user so that
// every gateway process can deliver it to the target's sockets it owns.
// Fire-and-forget like PublishRoster.
func (r *Registry) PublishPromptState(ctx context.Context, tenant, userID string, open bool) {
	payload, err := json.Marshal(PromptState{UserID: userID, OpenState: open})
	if err != nil {
		slog.Error("Failed to marshal prompt state", "tenant", tenant, "userID", userID, "error", err)
		return
	}
	if err := r.store.Publish(ctx, PromptChannel(tenant), payload); err != nil {
		slog.Error("Failed to publish prompt state", "tenant", tenant, "userID", userID, "error", err)
	}
}

// RecordPrompt logs that a user was challenged for their online status.
func (r *Registry) RecordPrompt(tenant, userID string) {
	r.recorder.Record(activity.Event{
		ClientID:    tenant,
		UserID:      userID,
		Action:      activity.ActionInactivityPrompt,
		Description: "prompted user for online status",
		At:          time.Now(),
	})
}

func findUser(roster []models.OnlineUser, userID string) int {
	for i, entry := range roster {
		if entry.UserID == userID {
			return i
		}
	}
	return -1
}

// decodeSockets treats malformed stored state as absent; the next write
// self-heals the corruption.
func decodeSockets(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		slog.Warn("Malformed socket set in store, treating as empty", "error", err)
		return nil
	}
	return ids
}

func decodeRoster(raw string) []models.OnlineUser {
	if raw == "" {
		return []models.OnlineUser{}
	}
	var roster []models.OnlineUser
	if err := json.Unmarshal([]byte(raw), &roster); err != nil {
		slog.Warn("Malformed roster in store, treating as empty", "error", err)
		return []models.OnlineUser{}
	}
	return roster
}

func encode(v interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}
