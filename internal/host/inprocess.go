package host

import (
	"sync"

	"github.com/permissionlesstech/meshcore/internal/registry"
	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

// PeerEvent describes a peer lifecycle notification delivered by InProcess.
type PeerEvent struct {
	Identity meshid.Identity
	Peer     Handle
	Gone     bool
}

// InboundPacket pairs a reassembled packet with the peer it arrived from.
type InboundPacket struct {
	Peer   Handle
	Packet []byte
}

// InProcess is a minimal in-memory Host implementation for demos and
// integration tests: it has no routing logic of its own, just channels the
// caller can drain. Channels rather than synchronous callbacks, since the
// engine runs as a single cooperative executor that must never block on
// upper-stack code.
type InProcess struct {
	mu       sync.Mutex
	identity meshid.Identity
	mac      registry.MAC

	events  chan PeerEvent
	inbound chan InboundPacket
}

// NewInProcess returns an InProcess host bound to the given local identity
// and MAC.
func NewInProcess(identity meshid.Identity, mac registry.MAC) *InProcess {
	return &InProcess{
		identity: identity,
		mac:      mac,
		events:   make(chan PeerEvent, 64),
		inbound:  make(chan InboundPacket, 256),
	}
}

// LocalIdentity implements Host.
func (p *InProcess) LocalIdentity() meshid.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

// LocalMAC implements Host.
func (p *InProcess) LocalMAC() registry.MAC {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mac
}

// Inbound implements Host. It never blocks: a full buffer drops the oldest
// pending packet rather than stall the engine's executor.
func (p *InProcess) Inbound(peer Handle, packet []byte) {
	select {
	case p.inbound <- InboundPacket{Peer: peer, Packet: packet}:
	default:
		select {
		case <-p.inbound:
		default:
		}
		p.inbound <- InboundPacket{Peer: peer, Packet: packet}
	}
}

// PeerAppeared implements Exposed.
func (p *InProcess) PeerAppeared(identity meshid.Identity, peer Handle) {
	p.events <- PeerEvent{Identity: identity, Peer: peer}
}

// PeerGone implements Exposed.
func (p *InProcess) PeerGone(identity meshid.Identity) {
	p.events <- PeerEvent{Identity: identity, Gone: true}
}

// Events returns the channel of peer lifecycle notifications.
func (p *InProcess) Events() <-chan PeerEvent {
	return p.events
}

// Inboxes returns the channel of reassembled inbound packets.
func (p *InProcess) Inboxes() <-chan InboundPacket {
	return p.inbound
}
