// Package arbiter implements the direction arbiter: a deterministic,
// coordination-free rule for which side of a pairwise link initiates the
// connection, so two nodes in radio range never both dial each other.
package arbiter

import "github.com/permissionlesstech/meshcore/internal/registry"

// Decision is the arbiter's verdict for a potential link.
type Decision int

const (
	// Initiate means the local side should dial.
	Initiate Decision = iota
	// Wait means the local side stays passive and expects the remote to
	// dial in as central.
	Wait
	// Collision means local and remote MACs are equal; neither side
	// initiates.
	Collision
)

// Decide compares local and remote as 48-bit unsigned integers. The lower
// MAC initiates; equal MACs refuse to initiate (logged by the caller as a
// collision).
func Decide(local, remote registry.MAC) Decision {
	switch {
	case local == remote:
		return Collision
	case local < remote:
		return Initiate
	default:
		return Wait
	}
}

// ShouldInitiate is a convenience predicate for selector.Filters.
func ShouldInitiate(local registry.MAC) func(remote registry.MAC) bool {
	return func(remote registry.MAC) bool {
		return Decide(local, remote) == Initiate
	}
}
