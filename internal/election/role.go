// Package election decides whether a relay starts a fresh session or takes
// over one abandoned by a dead predecessor, and runs the liveness listener
// standbys use to detect that this instance died.
package election

import "fmt"

// Role is decided once per process start.
type Role int

const (
	// RoleFresh means no previous master owned the connection.
	RoleFresh Role = iota

	// RoleRecovering means a previous master existed and this instance took
	// over its replication record.
	RoleRecovering
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleFresh:
		return "fresh"
	case RoleRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Recovering reports whether the role resumes an existing session.
func (r Role) Recovering() bool {
	return r == RoleRecovering
}
