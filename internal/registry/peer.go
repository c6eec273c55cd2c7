package registry

import (
	"time"

	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

// State is a peer's position in the connection orchestrator's state machine.
type State int

const (
	// Discovered means an advertisement was seen but no dial is in flight.
	Discovered State = iota
	// Dialing means a connect attempt is outstanding.
	Dialing
	// HandshakePending means the link is up but identity exchange hasn't
	// completed.
	HandshakePending
	// Active means the handshake completed and the peer is usable.
	Active
	// Disconnecting means teardown is in progress.
	Disconnecting
	// Blacklisted means the peer is excluded from selection until
	// BlacklistedUntil.
	Blacklisted
)

// String renders the state for logging.
func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Dialing:
		return "dialing"
	case HandshakePending:
		return "handshake_pending"
	case Active:
		return "active"
	case Disconnecting:
		return "disconnecting"
	case Blacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// Peer is one known remote device. Invariants (enforced by Registry, not by
// this struct alone): at most one Peer per identity; AttemptsSuccess <=
// AttemptsTotal; BlacklistedUntil is non-zero iff State == Blacklisted.
type Peer struct {
	Identity meshid.Identity // zero value means not yet learned
	MAC      MAC
	Name     string

	RSSILast int
	SeenAt   time.Time

	AttemptsTotal   int
	AttemptsSuccess int
	LastAttemptAt   time.Time

	BlacklistedUntil time.Time

	State State
}

// HasIdentity reports whether the handshake has learned this peer's
// identity.
func (p *Peer) HasIdentity() bool {
	return !p.Identity.IsZero()
}

// clone returns a value copy safe to hand to callers outside the registry
// lock.
func (p *Peer) clone() *Peer {
	cp := *p
	return &cp
}
