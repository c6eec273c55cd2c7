// Package host defines the typed boundary to the upper mesh stack: the
// engine's view of whatever layer owns packet routing and identity
// material above the BLE link.
package host

import (
	"github.com/permissionlesstech/meshcore/internal/registry"
	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

// Handle is an opaque token tied to a peer's identity; sends and receives
// through it route automatically without the upper stack knowing about
// MACs, fragments, or connection state.
type Handle struct {
	identity meshid.Identity
}

// NewHandle wraps an identity as an opaque peer handle.
func NewHandle(identity meshid.Identity) Handle {
	return Handle{identity: identity}
}

// Identity returns the identity a handle was minted for. Exposed so the
// engine can look the peer back up in the registry; the upper stack itself
// should treat Handle as opaque.
func (h Handle) Identity() meshid.Identity {
	return h.identity
}

// Host is the upper-stack contract the engine consumes.
type Host interface {
	// LocalIdentity returns this node's stable 16-byte identity.
	LocalIdentity() meshid.Identity
	// LocalMAC returns this node's current BLE address for direction
	// arbitration.
	LocalMAC() registry.MAC
	// Inbound delivers one fully reassembled packet from peer.
	Inbound(peer Handle, packet []byte)
}

// Exposed is the set of calls the engine makes outward into the upper
// stack as peer lifecycle events occur.
type Exposed interface {
	// PeerAppeared is called once a peer reaches Active and has a usable
	// handle.
	PeerAppeared(identity meshid.Identity, peer Handle)
	// PeerGone is called when a previously Active peer is torn down.
	PeerGone(identity meshid.Identity)
}
