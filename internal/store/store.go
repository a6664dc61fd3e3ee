// Package store provides the room store the broker consults on join and
// code-change. Rooms are provisioned out-of-band (seed file, ops tooling);
// the broker itself only ever reads.
package store

import "errors"

// ErrNotFound is returned when a room id has no row.
var ErrNotFound = errors.New("room not found")
