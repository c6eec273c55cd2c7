// Package orchestrator implements the connection orchestrator: the
// per-peer state machine, its rate limiting and blacklist backoff, the
// process-wide connecting-set guard, and the cleanup that runs on every
// exit path.
package orchestrator

import (
	"time"

	"github.com/permissionlesstech/meshcore/internal/host"
	"github.com/permissionlesstech/meshcore/internal/meshlog"
	"github.com/permissionlesstech/meshcore/internal/reassembly"
	"github.com/permissionlesstech/meshcore/internal/registry"
	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

var log = meshlog.For("orchestrator")

// Config bundles the subset of the engine's configuration the
// orchestrator's policies depend on.
type Config struct {
	MaxFailuresBeforeBlacklist int
	ConnectRateLimit           time.Duration
}

// Orchestrator drives peer state transitions. It holds no driver or
// network reference; the engine issues the actual driver calls and
// reports their outcomes back here.
type Orchestrator struct {
	registry   *registry.Registry
	connecting *ConnectingSet
	reasm      *reassembly.Buffer
	exposed    host.Exposed
	cfg        Config
}

// New returns an Orchestrator wired to the given collaborators.
func New(reg *registry.Registry, reasm *reassembly.Buffer, exposed host.Exposed, cfg Config) *Orchestrator {
	return &Orchestrator{
		registry:   reg,
		connecting: NewConnectingSet(),
		reasm:      reasm,
		exposed:    exposed,
		cfg:        cfg,
	}
}

// ConnectingSet exposes the guard for the scheduler's scan gate.
func (o *Orchestrator) ConnectingSet() *ConnectingSet {
	return o.connecting
}

// BeginDial transitions a Discovered peer to Dialing, records the attempt,
// and claims the connecting-set slot for mac. It returns false if mac was
// already Dialing or HandshakePending, so a duplicate connect attempt is
// always a no-op, and also if mac's last attempt was less than
// ConnectRateLimit ago.
func (o *Orchestrator) BeginDial(mac registry.MAC, now time.Time) (bool, error) {
	if !o.connecting.TryAdd(mac) {
		return false, nil
	}
	if p, ok := o.registry.GetByMAC(mac); ok && !p.LastAttemptAt.IsZero() && now.Sub(p.LastAttemptAt) < o.cfg.ConnectRateLimit {
		o.connecting.Remove(mac)
		return false, nil
	}
	if err := o.registry.RecordAttemptByMAC(mac, now); err != nil {
		o.connecting.Remove(mac)
		return false, err
	}
	if err := o.registry.TransitionByMAC(mac, registry.Discovered, registry.Dialing); err != nil {
		o.connecting.Remove(mac)
		return false, err
	}
	return true, nil
}

// OnLinkUp transitions Dialing to HandshakePending once the driver reports
// the link connected. mtu is not stored here; the engine asks the driver's
// PeerMTU for the current value each time it sends.
func (o *Orchestrator) OnLinkUp(mac registry.MAC, mtu int, now time.Time) error {
	return o.registry.TransitionByMAC(mac, registry.Dialing, registry.HandshakePending)
}

// CompleteHandshake transitions HandshakePending to Active once the
// identity exchange concludes, for either role: central (after its
// identity write lands and the remote identity is known) or peripheral
// (once the handshake detector in internal/handshake fires). It binds the
// identity, records the successful attempt, and notifies the upper stack
// that a new peer interface exists.
func (o *Orchestrator) CompleteHandshake(mac registry.MAC, identity meshid.Identity, now time.Time) error {
	if _, err := o.registry.BindIdentity(mac, identity, now); err != nil {
		return err
	}
	if err := o.registry.TransitionByMAC(mac, registry.HandshakePending, registry.Active); err != nil {
		return err
	}
	if err := o.registry.RecordSuccessByMAC(mac); err != nil {
		return err
	}
	o.connecting.Remove(mac)

	if o.exposed != nil {
		o.exposed.PeerAppeared(identity, host.NewHandle(identity))
	}
	return nil
}

// Fail records an unsuccessful dial or handshake, releases the connecting-
// set slot, forces the peer back to Disconnecting, runs cleanup, and
// blacklists the peer once MaxFailuresBeforeBlacklist consecutive failures
// have accumulated.
func (o *Orchestrator) Fail(mac registry.MAC, now time.Time) error {
	o.connecting.Remove(mac)

	if err := o.registry.ForceStateByMAC(mac, registry.Disconnecting); err != nil {
		return err
	}
	o.cleanup(mac)

	p, ok := o.registry.GetByMAC(mac)
	if !ok {
		return registry.ErrUnknownPeer
	}

	consecutiveFailures := p.AttemptsTotal - p.AttemptsSuccess
	if consecutiveFailures >= o.cfg.MaxFailuresBeforeBlacklist {
		until := ComputeBlacklistUntil(now, consecutiveFailures, o.cfg.MaxFailuresBeforeBlacklist)
		log.WithField("mac", mac).WithField("until", until).Warn("blacklisting peer after repeated failures")
		return o.registry.BlacklistByMAC(mac, until)
	}

	return o.registry.TransitionByMAC(mac, registry.Disconnecting, registry.Discovered)
}

// Teardown retires an Active (or otherwise live) peer: it cleans up
// resources, notifies the upper stack the peer is gone, and returns the
// record to Discovered, crediting the success counter it already earned at
// handshake time.
func (o *Orchestrator) Teardown(mac registry.MAC, now time.Time) error {
	o.connecting.Remove(mac)

	identity, hadIdentity := o.registry.IdentityForMAC(mac)

	if err := o.registry.ForceStateByMAC(mac, registry.Disconnecting); err != nil {
		return err
	}
	o.cleanup(mac)

	if hadIdentity && o.exposed != nil {
		o.exposed.PeerGone(identity)
	}

	return o.registry.TransitionByMAC(mac, registry.Disconnecting, registry.Discovered)
}

// cleanup releases the reassembly buffer for mac's identity, if bound.
// Fragmenters are stateless (internal/fragment.Encode takes no per-peer
// state) so there is nothing to release there; outbound queues and driver
// handles are the scheduler's responsibility to release via the driver
// contract's disconnect/remove_device calls.
func (o *Orchestrator) cleanup(mac registry.MAC) {
	if identity, ok := o.registry.IdentityForMAC(mac); ok {
		o.reasm.Drop(identity)
	}
}

// ExpireBlacklists clears backoffs whose deadline has passed.
func (o *Orchestrator) ExpireBlacklists(now time.Time) {
	o.registry.ExpireBlacklists(now)
}
