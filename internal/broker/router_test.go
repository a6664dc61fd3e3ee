package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"coderoom/internal/logging"
	"coderoom/internal/room"
	"coderoom/internal/store"
)

// recordSink captures everything sent to a connection.
type recordSink struct {
	mu   sync.Mutex
	sent []Envelope
}

func (s *recordSink) Send(e Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, e)
	return nil
}

func (s *recordSink) byEvent(event string) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, e := range s.sent {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeStore is an in-memory RoomFinder.
type fakeStore struct {
	rooms map[string]*room.Room
}

func (f *fakeStore) FindRoomByID(_ context.Context, id string) (*room.Room, error) {
	if r, ok := f.rooms[id]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func newTestRouter(t *testing.T, rooms ...*room.Room) (*Router, *logging.TestManager) {
	t.Helper()
	fs := &fakeStore{rooms: make(map[string]*room.Room)}
	for _, r := range rooms {
		fs.rooms[r.ID] = r
	}
	lm := logging.NewTestManager(256)
	t.Cleanup(func() { _ = lm.Close() })
	return NewRouter(fs, lm), lm
}

func teachingRoom() *room.Room {
	return &room.Room{ID: "abc123", CreatedBy: "u1", Mode: room.ModeTeaching, MaxUsers: 2, Language: "javascript"}
}

func join(t *testing.T, rt *Router, connID, roomID, userID, username string) *recordSink {
	t.Helper()
	sink := &recordSink{}
	rt.HandleJoin(context.Background(), connID, sink, JoinPayload{
		RoomID: roomID,
		User:   room.User{ID: userID, Username: username},
	})
	return sink
}

// drainDiagnostics collects all buffered entries from the test log manager.
func drainDiagnostics(lm *logging.TestManager) []logging.Entry {
	var out []logging.Entry
	for {
		select {
		case e := <-lm.Entries():
			out = append(out, e)
		default:
			return out
		}
	}
}

func hasDiagnostic(entries []logging.Entry, substr string) bool {
	for _, e := range entries {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestHandleJoin_DerivesRolesAndBroadcastsPresence(t *testing.T) {
	rt, _ := newTestRouter(t, teachingRoom())

	s1 := join(t, rt, "c1", "abc123", "u1", "ada")
	s2 := join(t, rt, "c2", "abc123", "u2", "bob")

	m1 := rt.Registry().Member("c1")
	if m1 == nil || m1.Role != room.RoleMentor {
		t.Fatalf("creator role = %+v, want mentor", m1)
	}
	m2 := rt.Registry().Member("c2")
	if m2 == nil || m2.Role != room.RoleParticipant {
		t.Fatalf("second user role = %+v, want participant", m2)
	}

	// c1 saw two presence broadcasts (its own join, then c2's); c2 one.
	if got := len(s1.byEvent(EventUpdateParticipants)); got != 2 {
		t.Errorf("c1 presence broadcasts = %d, want 2", got)
	}
	p := s2.byEvent(EventUpdateParticipants)
	if len(p) != 1 {
		t.Fatalf("c2 presence broadcasts = %d, want 1", len(p))
	}

	var participants []Participant
	if err := json.Unmarshal(p[0].Data, &participants); err != nil {
		t.Fatalf("decode participants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(participants))
	}
	// Ordered by join.
	if participants[0].ID != "u1" || participants[0].Role != room.RoleMentor {
		t.Errorf("participants[0] = %+v", participants[0])
	}
	if participants[1].ID != "u2" || participants[1].Role != room.RoleParticipant {
		t.Errorf("participants[1] = %+v", participants[1])
	}
}

func TestHandleJoin_UnknownRoomIsSilentNoop(t *testing.T) {
	rt, lm := newTestRouter(t)

	sink := join(t, rt, "c1", "nope", "u1", "ada")

	if len(sink.sent) != 0 {
		t.Errorf("sender received %d envelopes, want 0", len(sink.sent))
	}
	if rt.Registry().Member("c1") != nil {
		t.Error("member registered despite unknown room")
	}
	if !hasDiagnostic(drainDiagnostics(lm), "join ignored") {
		t.Error("expected a diagnostic entry for the ignored join")
	}
}

func TestHandleChat_VerbatimToWholeRoomOnce(t *testing.T) {
	rt, _ := newTestRouter(t, teachingRoom(),
		&room.Room{ID: "other", CreatedBy: "u9", Mode: room.ModeOneToOne, MaxUsers: 2})

	s1 := join(t, rt, "c1", "abc123", "u1", "ada")
	s2 := join(t, rt, "c2", "abc123", "u2", "bob")
	s3 := join(t, rt, "c3", "other", "u3", "cyd")

	payload := json.RawMessage(`{"roomId":"abc123","text":"hello","sentAt":123}`)
	rt.HandleChat("c1", payload)

	for name, sink := range map[string]*recordSink{"c1": s1, "c2": s2} {
		got := sink.byEvent(EventReceiveChat)
		if len(got) != 1 {
			t.Fatalf("%s chat envelopes = %d, want exactly 1", name, len(got))
		}
		if string(got[0].Data) != string(payload) {
			t.Errorf("%s payload = %s, not verbatim", name, got[0].Data)
		}
	}
	if got := len(s3.byEvent(EventReceiveChat)); got != 0 {
		t.Errorf("other-room member received %d chat envelopes, want 0", got)
	}
}

func TestHandleCodeChange_TeachingModeGatesParticipant(t *testing.T) {
	rt, lm := newTestRouter(t, teachingRoom())

	s1 := join(t, rt, "c1", "abc123", "u1", "ada") // mentor
	s2 := join(t, rt, "c2", "abc123", "u2", "bob") // participant

	// Participant's change never appears anywhere.
	rt.HandleCodeChange(context.Background(), "c2", CodeChangePayload{RoomID: "abc123", Code: "x=1"})
	if got := len(s1.byEvent(EventCodeUpdate)); got != 0 {
		t.Errorf("mentor received %d code updates after participant change, want 0", got)
	}
	if got := len(s2.byEvent(EventCodeUpdate)); got != 0 {
		t.Errorf("participant echoed its own denied change %d times", got)
	}
	if !hasDiagnostic(drainDiagnostics(lm), "permission denied") {
		t.Error("expected a diagnostic entry for the denied code change")
	}

	// Mentor's change reaches the participant but not the mentor.
	rt.HandleCodeChange(context.Background(), "c1", CodeChangePayload{RoomID: "abc123", Code: "x=2"})
	updates := s2.byEvent(EventCodeUpdate)
	if len(updates) != 1 {
		t.Fatalf("participant code updates = %d, want 1", len(updates))
	}
	var cu CodeUpdate
	if err := json.Unmarshal(updates[0].Data, &cu); err != nil {
		t.Fatalf("decode code update: %v", err)
	}
	if cu.Code != "x=2" || cu.From != "c1" {
		t.Errorf("code update = %+v", cu)
	}
	if got := len(s1.byEvent(EventCodeUpdate)); got != 0 {
		t.Errorf("mentor received its own change %d times, want 0", got)
	}
}

func TestHandleCodeChange_OneToOneAllowsAnyRole(t *testing.T) {
	rt, _ := newTestRouter(t,
		&room.Room{ID: "pair", CreatedBy: "u1", Mode: room.ModeOneToOne, MaxUsers: 2})

	s1 := join(t, rt, "c1", "pair", "u1", "ada")
	join(t, rt, "c2", "pair", "u2", "bob")

	rt.HandleCodeChange(context.Background(), "c2", CodeChangePayload{RoomID: "pair", Code: "y=3"})

	if got := len(s1.byEvent(EventCodeUpdate)); got != 1 {
		t.Errorf("creator received %d code updates from participant, want 1", got)
	}
}

func TestHandleCodeChange_UnknownRoomDropped(t *testing.T) {
	rt, lm := newTestRouter(t, teachingRoom())

	s1 := join(t, rt, "c1", "abc123", "u1", "ada")
	rt.HandleCodeChange(context.Background(), "c1", CodeChangePayload{RoomID: "ghost", Code: "x"})

	if got := len(s1.byEvent(EventCodeUpdate)); got != 0 {
		t.Errorf("received %d code updates, want 0", got)
	}
	if !hasDiagnostic(drainDiagnostics(lm), "room not found") {
		t.Error("expected a diagnostic entry for the dropped code change")
	}
}

func TestHandleCodeChange_NotJoinedDropped(t *testing.T) {
	rt, _ := newTestRouter(t, teachingRoom())
	join(t, rt, "c1", "abc123", "u1", "ada")

	// c9 never joined; must not crash and must not broadcast.
	rt.HandleCodeChange(context.Background(), "c9", CodeChangePayload{RoomID: "abc123", Code: "x"})
}

func TestHandleCursorMove_TaggedWithSenderIdentity(t *testing.T) {
	rt, _ := newTestRouter(t, teachingRoom())

	s1 := join(t, rt, "c1", "abc123", "u1", "ada")
	s2 := join(t, rt, "c2", "abc123", "u2", "bob")

	pos := json.RawMessage(`{"line":4,"col":12}`)
	rt.HandleCursorMove("c2", CursorMovePayload{RoomID: "abc123", Position: pos})

	got := s1.byEvent(EventCursorMove)
	if len(got) != 1 {
		t.Fatalf("mentor cursor updates = %d, want 1", len(got))
	}
	var cu CursorUpdate
	if err := json.Unmarshal(got[0].Data, &cu); err != nil {
		t.Fatalf("decode cursor update: %v", err)
	}
	if cu.UserID != "u2" || cu.Username != "bob" {
		t.Errorf("cursor update identity = %s/%s", cu.UserID, cu.Username)
	}
	if string(cu.Position) != string(pos) {
		t.Errorf("position = %s", cu.Position)
	}
	// Sender excluded.
	if got := len(s2.byEvent(EventCursorMove)); got != 0 {
		t.Errorf("sender received %d cursor updates, want 0", got)
	}
}

func TestHandleCursorMove_NotJoinedDropped(t *testing.T) {
	rt, _ := newTestRouter(t, teachingRoom())
	s1 := join(t, rt, "c1", "abc123", "u1", "ada")

	rt.HandleCursorMove("c9", CursorMovePayload{RoomID: "abc123", Position: json.RawMessage(`1`)})
	if got := len(s1.byEvent(EventCursorMove)); got != 0 {
		t.Errorf("received %d cursor updates from unjoined sender, want 0", got)
	}
}

func TestHandleDisconnect_RebroadcastsPresence(t *testing.T) {
	rt, _ := newTestRouter(t, teachingRoom())

	s1 := join(t, rt, "c1", "abc123", "u1", "ada")
	join(t, rt, "c2", "abc123", "u2", "bob")

	before := len(s1.byEvent(EventUpdateParticipants))
	rt.HandleDisconnect("c2")

	lists := s1.byEvent(EventUpdateParticipants)
	if len(lists) != before+1 {
		t.Fatalf("presence broadcasts = %d, want %d", len(lists), before+1)
	}
	var participants []Participant
	if err := json.Unmarshal(lists[len(lists)-1].Data, &participants); err != nil {
		t.Fatalf("decode participants: %v", err)
	}
	if len(participants) != 1 || participants[0].ID != "u1" {
		t.Errorf("final presence = %+v, want only u1", participants)
	}
}

func TestHandleDisconnect_WithoutJoinIsSilent(t *testing.T) {
	rt, _ := newTestRouter(t, teachingRoom())
	s1 := join(t, rt, "c1", "abc123", "u1", "ada")

	before := len(s1.byEvent(EventUpdateParticipants))
	rt.HandleDisconnect("never-joined")
	if got := len(s1.byEvent(EventUpdateParticipants)); got != before {
		t.Errorf("presence broadcasts changed from %d to %d", before, got)
	}
}

func TestHandleDisconnect_Idempotent(t *testing.T) {
	rt, _ := newTestRouter(t, teachingRoom())

	s1 := join(t, rt, "c1", "abc123", "u1", "ada")
	join(t, rt, "c2", "abc123", "u2", "bob")

	rt.HandleDisconnect("c2")
	after := len(s1.byEvent(EventUpdateParticipants))
	rt.HandleDisconnect("c2")
	if got := len(s1.byEvent(EventUpdateParticipants)); got != after {
		t.Errorf("second disconnect produced another broadcast: %d -> %d", after, got)
	}
}

func TestPresenceInvariant_AfterChurn(t *testing.T) {
	rt, _ := newTestRouter(t, teachingRoom(),
		&room.Room{ID: "other", CreatedBy: "u9", Mode: room.ModeOneToOne, MaxUsers: 4})

	join(t, rt, "c1", "abc123", "u1", "ada")
	join(t, rt, "c2", "abc123", "u2", "bob")
	join(t, rt, "c3", "other", "u3", "cyd")
	rt.HandleDisconnect("c1")
	join(t, rt, "c4", "abc123", "u4", "dan")
	rt.HandleDisconnect("c3")

	reg := rt.Registry()
	for _, roomID := range []string{"abc123", "other"} {
		members := reg.Members(roomID)
		for _, m := range members {
			if got, ok := reg.RoomOf(m.ConnID); !ok || got != roomID {
				t.Errorf("RoomOf(%s) = %q, %v; listed in %q", m.ConnID, got, ok, roomID)
			}
		}
	}
	if got := len(reg.Members("abc123")); got != 2 {
		t.Errorf("abc123 members = %d, want 2", got)
	}
	if got := len(reg.Members("other")); got != 0 {
		t.Errorf("other members = %d, want 0", got)
	}
}

func TestStoreErrorDegradesToNotFound(t *testing.T) {
	lm := logging.NewTestManager(64)
	t.Cleanup(func() { _ = lm.Close() })
	rt := NewRouter(failingStore{}, lm)

	sink := &recordSink{}
	rt.HandleJoin(context.Background(), "c1", sink, JoinPayload{RoomID: "abc123", User: room.User{ID: "u1"}})

	if rt.Registry().Member("c1") != nil {
		t.Error("member registered despite store failure")
	}
	entries := drainDiagnostics(lm)
	if !hasDiagnostic(entries, "room lookup failed") {
		t.Error("expected a diagnostic for the failing lookup")
	}
	if !hasDiagnostic(entries, "join ignored") {
		t.Error("store failure should degrade to room-not-found")
	}
}

type failingStore struct{}

func (failingStore) FindRoomByID(context.Context, string) (*room.Room, error) {
	return nil, context.DeadlineExceeded
}
