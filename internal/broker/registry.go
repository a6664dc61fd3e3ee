// pattern: Imperative Shell

package broker

import (
	"sort"
	"sync"

	"coderoom/internal/room"
)

// Sink is a connection's outbound side. Implementations must be safe for
// concurrent use; broadcasts from different rooms may interleave.
type Sink interface {
	Send(e Envelope) error
}

// Member binds one live connection to a user identity, role and room.
// Role is derived once at join time and never changes for the life of
// the connection; two tabs of the same user are two independent members.
type Member struct {
	ConnID string
	User   room.User
	Role   room.Role
	RoomID string

	sink Sink
	seq  uint64 // join order, monotonic across the registry
}

// Registry is the in-memory presence registry: which connections are in
// which room. It is rebuilt from scratch as connections arrive; nothing
// here survives a restart.
//
// All mutation and the snapshot-for-broadcast read for a room happen
// under one lock, so a broadcast always observes either the pre- or the
// post-mutation member set, never a torn one.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*Member            // by connection id
	rooms   map[string]map[string]*Member // roomID → connID → member
	nextSeq uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]*Member),
		rooms:   make(map[string]map[string]*Member),
	}
}

// Add registers a member for connID. If the connection is already in a
// room it is moved: a connection id is in at most one room at a time.
// Returns the new member and the room it left, if any.
func (r *Registry) Add(connID string, user room.User, role room.Role, roomID string, sink Sink) (*Member, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prevRoom := ""
	if old, ok := r.members[connID]; ok {
		prevRoom = old.RoomID
		r.detachLocked(old)
	}

	r.nextSeq++
	m := &Member{
		ConnID: connID,
		User:   user,
		Role:   role,
		RoomID: roomID,
		sink:   sink,
		seq:    r.nextSeq,
	}
	r.members[connID] = m

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Member)
	}
	r.rooms[roomID][connID] = m

	return m, prevRoom
}

// Remove deregisters the member for connID and returns it, or nil if the
// connection never joined. Disconnect-without-join is a valid path, not
// an error.
func (r *Registry) Remove(connID string) *Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return nil
	}
	r.detachLocked(m)
	return m
}

// detachLocked removes m from both indexes and garbage-collects its room
// session when the member set becomes empty.
func (r *Registry) detachLocked(m *Member) {
	delete(r.members, m.ConnID)
	if conns, ok := r.rooms[m.RoomID]; ok {
		delete(conns, m.ConnID)
		if len(conns) == 0 {
			delete(r.rooms, m.RoomID)
		}
	}
}

// Member returns the member for connID, or nil.
func (r *Registry) Member(connID string) *Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[connID]
}

// Members returns the room's members ordered by join time. The slice is
// a snapshot; it does not change under the caller.
func (r *Registry) Members(roomID string) []*Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.rooms[roomID]
	out := make([]*Member, 0, len(conns))
	for _, m := range conns {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// RoomOf returns the room a connection has joined, if any.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[connID]
	if !ok {
		return "", false
	}
	return m.RoomID, true
}
