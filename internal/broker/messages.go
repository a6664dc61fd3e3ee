// pattern: Functional Core

// Package broker tracks room membership, enforces the session-mode
// permission policy, and fans events out to the right subset of
// connections. It owns no transport: connections hand it a Sink and call
// its handlers from their own read loop.
package broker

import (
	"encoding/json"
	"fmt"

	"coderoom/internal/room"
)

// Event names on the wire. Kept in the hyphenated form the browser
// clients already speak.
const (
	EventJoinRoom           = "join-room"
	EventUpdateParticipants = "update-participants"
	EventSendChat           = "send-chat"
	EventReceiveChat        = "receive-chat"
	EventCodeChange         = "code-change"
	EventCodeUpdate         = "code-update"
	EventCursorMove         = "cursor:move"
	EventResize             = "resize"
	EventTerminalError      = "terminal-error"
)

// Envelope is one text frame: an event name plus its payload. Payloads
// stay raw until a handler needs them, which keeps the chat relay
// byte-for-byte verbatim.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals v into an envelope for the given event.
func NewEnvelope(event string, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// JoinPayload is the data of a join-room event.
type JoinPayload struct {
	RoomID string    `json:"roomId"`
	User   room.User `json:"user"`
}

// ChatPayload carries only the routing field of a send-chat event; the
// rest of the payload is relayed untouched.
type ChatPayload struct {
	RoomID string `json:"roomId"`
}

// CodeChangePayload is the data of a code-change event.
type CodeChangePayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// CodeUpdate is broadcast to every connection in the room except the
// origin. Last write wins; the broker does not merge.
type CodeUpdate struct {
	Code string `json:"code"`
	From string `json:"from"`
}

// CursorMovePayload is the data of an inbound cursor:move event. The
// position shape belongs to the editor; the broker never inspects it.
type CursorMovePayload struct {
	RoomID   string          `json:"roomId"`
	Position json.RawMessage `json:"position"`
}

// CursorUpdate is the outbound cursor:move, tagged with the sender's
// identity as registered at join time.
type CursorUpdate struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Position json.RawMessage `json:"position"`
}

// Participant is one entry of an update-participants broadcast, ordered
// by join time.
type Participant struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Role     room.Role `json:"role"`
}

// ResizePayload is the data of a resize control event for the
// connection's terminal.
type ResizePayload struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// TerminalError tells a connection its shell could not be started. It is
// private to the connection and non-fatal to the session.
type TerminalError struct {
	Message string `json:"message"`
}
