// pattern: Functional Core
package room

// CanBroadcastCode reports whether a member with the given role may
// broadcast code changes in a room with the given mode.
//
// Teaching mode gates code broadcast on the mentor role. One-to-one mode
// permits any role. Any mode value outside the enum fails closed.
func CanBroadcastCode(mode Mode, role Role) bool {
	switch mode {
	case ModeTeaching:
		return role == RoleMentor
	case ModeOneToOne:
		return true
	}
	return false
}
