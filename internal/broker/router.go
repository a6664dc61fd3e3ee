// pattern: Imperative Shell

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"coderoom/internal/logging"
	"coderoom/internal/room"
	"coderoom/internal/store"
)

const defaultLookupTimeout = 3 * time.Second

// RoomFinder is the slice of the external room store the router consumes.
type RoomFinder interface {
	FindRoomByID(ctx context.Context, id string) (*room.Room, error)
}

// Router dispatches inbound events to room-scoped fan-out. Handlers for
// one connection are invoked serially from that connection's read loop;
// handlers for different connections run concurrently.
//
// Unknown rooms and denied code changes are dropped without any feedback
// to the sender; clients rely on that silence. Every such drop is logged
// so it stays visible operationally.
type Router struct {
	registry      *Registry
	rooms         RoomFinder
	logger        *logging.ScopedLogger
	lookupTimeout time.Duration
}

// NewRouter creates a router with its own presence registry.
func NewRouter(rooms RoomFinder, logProvider logging.LoggerProvider) *Router {
	return &Router{
		registry:      NewRegistry(),
		rooms:         rooms,
		logger:        logProvider.For("broker"),
		lookupTimeout: defaultLookupTimeout,
	}
}

// Registry exposes the presence registry (read paths only for callers).
func (rt *Router) Registry() *Registry {
	return rt.registry
}

// findRoom looks up a room with a bounded timeout. Any failure degrades
// to "not found" so a slow or broken store never hangs a connection.
func (rt *Router) findRoom(ctx context.Context, roomID string) *room.Room {
	ctx, cancel := context.WithTimeout(ctx, rt.lookupTimeout)
	defer cancel()

	r, err := rt.rooms.FindRoomByID(ctx, roomID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			rt.logger.Warn("room lookup failed", "room", roomID, "error", err)
		}
		return nil
	}
	return r
}

// HandleJoin processes a join-room event. Unknown rooms are a logged
// no-op: the caller gets no error and no broadcast happens.
func (rt *Router) HandleJoin(ctx context.Context, connID string, sink Sink, p JoinPayload) {
	rm := rt.findRoom(ctx, p.RoomID)
	if rm == nil {
		rt.logger.Warn("join ignored, room not found", "room", p.RoomID, "conn", connID)
		return
	}

	role := room.DeriveRole(rm, p.User.ID)
	m, prevRoom := rt.registry.Add(connID, p.User, role, rm.ID, sink)

	// Re-joining moves the connection; members left behind in the old
	// room see the departure.
	if prevRoom != "" && prevRoom != rm.ID {
		rt.broadcastPresence(prevRoom)
	}
	rt.broadcastPresence(rm.ID)

	rt.logger.Info("member joined",
		"room", rm.ID,
		"conn", connID,
		"user", m.User.ID,
		"role", m.Role,
	)
}

// HandleDisconnect removes the connection's member, if any, and
// re-broadcasts presence to the room it left. Safe to call for
// connections that never joined, and safe to call twice.
func (rt *Router) HandleDisconnect(connID string) {
	m := rt.registry.Remove(connID)
	if m == nil {
		return
	}
	rt.broadcastPresence(m.RoomID)
	rt.logger.Info("member left", "room", m.RoomID, "conn", connID, "user", m.User.ID)
}

// HandleChat relays a chat payload verbatim to every connection in the
// room, the sender included, exactly once. No permission gate, no
// room-existence check, no persistence.
func (rt *Router) HandleChat(connID string, data json.RawMessage) {
	var p ChatPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		rt.logger.Debug("chat dropped, no room id", "conn", connID)
		return
	}

	env := Envelope{Event: EventReceiveChat, Data: data}
	rt.fanOut(p.RoomID, env, "")
}

// HandleCodeChange relays a code change to every other connection in the
// room if the sender's role passes the room's mode gate. Denied or
// unroutable changes are dropped with no echo and no error.
func (rt *Router) HandleCodeChange(ctx context.Context, connID string, p CodeChangePayload) {
	m := rt.registry.Member(connID)
	if m == nil {
		rt.logger.Debug("code change dropped, sender not joined", "conn", connID)
		return
	}

	rm := rt.findRoom(ctx, p.RoomID)
	if rm == nil {
		rt.logger.Warn("code change dropped, room not found", "room", p.RoomID, "conn", connID)
		return
	}

	if !room.CanBroadcastCode(rm.Mode, m.Role) {
		rt.logger.Warn("code change dropped, permission denied",
			"room", rm.ID,
			"conn", connID,
			"mode", rm.Mode,
			"role", m.Role,
		)
		return
	}

	env, err := NewEnvelope(EventCodeUpdate, CodeUpdate{Code: p.Code, From: connID})
	if err != nil {
		rt.logger.Error("encode code update", "error", err)
		return
	}
	rt.fanOut(rm.ID, env, connID)
}

// HandleCursorMove broadcasts a cursor position to every other connection
// in the room, tagged with the sender's registered identity. Dropped
// silently when the sender has not joined.
func (rt *Router) HandleCursorMove(connID string, p CursorMovePayload) {
	m := rt.registry.Member(connID)
	if m == nil {
		rt.logger.Debug("cursor move dropped, sender not joined", "conn", connID)
		return
	}

	env, err := NewEnvelope(EventCursorMove, CursorUpdate{
		UserID:   m.User.ID,
		Username: m.User.Username,
		Position: p.Position,
	})
	if err != nil {
		rt.logger.Error("encode cursor update", "error", err)
		return
	}
	rt.fanOut(p.RoomID, env, connID)
}

// broadcastPresence sends the room's ordered participant list to every
// member of the room.
func (rt *Router) broadcastPresence(roomID string) {
	members := rt.registry.Members(roomID)
	participants := make([]Participant, 0, len(members))
	for _, m := range members {
		participants = append(participants, Participant{
			ID:       m.User.ID,
			Username: m.User.Username,
			Role:     m.Role,
		})
	}

	env, err := NewEnvelope(EventUpdateParticipants, participants)
	if err != nil {
		rt.logger.Error("encode participants", "error", err)
		return
	}
	for _, m := range members {
		rt.send(m, env)
	}
}

// fanOut sends env to every member of the room, skipping exclConn when
// non-empty. The member slice is a join-ordered snapshot taken under the
// registry lock; sends happen outside it.
func (rt *Router) fanOut(roomID string, env Envelope, exclConn string) {
	for _, m := range rt.registry.Members(roomID) {
		if exclConn != "" && m.ConnID == exclConn {
			continue
		}
		rt.send(m, env)
	}
}

func (rt *Router) send(m *Member, env Envelope) {
	if err := m.sink.Send(env); err != nil {
		// The connection's own teardown handles a dead socket.
		rt.logger.Debug("send failed", "conn", m.ConnID, "event", env.Event, "error", err)
	}
}
