// Package room contains the collaboration domain entities and the pure
// decision functions over them. No transport or storage logic here.
package room

import "errors"

// Mode is a room's session mode. It controls who may broadcast code changes.
type Mode string

const (
	// ModeOneToOne allows any member to broadcast code changes.
	ModeOneToOne Mode = "one-to-one"
	// ModeTeaching restricts code broadcast to the mentor.
	ModeTeaching Mode = "teaching"
)

// ErrUnknownMode is returned by ParseMode for values outside the enum.
var ErrUnknownMode = errors.New("unknown session mode")

// ParseMode validates a mode string. "class" is accepted as a legacy alias
// for teaching mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case string(ModeOneToOne):
		return ModeOneToOne, nil
	case string(ModeTeaching), "class":
		return ModeTeaching, nil
	}
	return "", ErrUnknownMode
}

// Role is a member's role inside a room, derived once at join time.
type Role string

const (
	RoleMentor      Role = "mentor"
	RoleParticipant Role = "participant"
)

// User is the identity a client presents when joining.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
}

// Room is the broker's read-only view of an externally stored room.
// The broker never mutates a room; only membership is broker-local.
type Room struct {
	ID        string
	CreatedBy string
	Mode      Mode
	MaxUsers  int
	Language  string
}

// DeriveRole returns mentor for the room's creator, participant otherwise.
// The result is cached on the member record at join time and never
// recomputed for the life of the connection.
func DeriveRole(r *Room, userID string) Role {
	if r.CreatedBy == userID {
		return RoleMentor
	}
	return RoleParticipant
}
