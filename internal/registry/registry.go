// Package registry implements the peer registry: the authoritative map of
// known peers keyed by identity, plus the bookkeeping selection and the
// connection orchestrator need to rank, dial, and retire them.
//
// A peer is born from an advertisement with only a MAC address and is
// tracked provisionally until the identity handshake completes, at which
// point it's re-keyed onto its stable identity.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

// DefaultMaxDiscoveredPeers bounds the number of provisional (pre-identity)
// peer records the registry retains.
const DefaultMaxDiscoveredPeers = 100

var (
	// ErrUnknownPeer is returned when an operation references an identity
	// or MAC the registry has no record for.
	ErrUnknownPeer = errors.New("registry: unknown peer")
	// ErrWrongState is returned by Transition when the peer isn't in the
	// expected "from" state.
	ErrWrongState = errors.New("registry: unexpected peer state")
	// ErrIdentityExists reports an identity already bound to another MAC.
	// BindIdentity does not return it: a known identity is rebound to the
	// new MAC instead.
	ErrIdentityExists = errors.New("registry: identity already bound to another MAC")
)

// DiscoveredAdvert is the ephemeral value the driver produces per scan
// result.
type DiscoveredAdvert struct {
	MAC          MAC
	RSSI         int
	Name         string
	ServiceUUIDs []string
}

// Registry is the thread-safe peer store. All mutations take a single lock
// held only for the mutation itself; callers must not hold a registry
// method call under any other lock they also need for I/O.
type Registry struct {
	mu sync.Mutex

	maxDiscovered int

	byIdentity map[meshid.Identity]*Peer
	byMAC      map[MAC]*Peer       // provisional, pre-identity peers
	macIndex   map[MAC]meshid.Identity // secondary index for identified peers

	discoveryOrder []MAC // insertion order of byMAC, for eviction
}

// New returns an empty Registry.
func New(maxDiscovered int) *Registry {
	if maxDiscovered <= 0 {
		maxDiscovered = DefaultMaxDiscoveredPeers
	}
	return &Registry{
		maxDiscovered: maxDiscovered,
		byIdentity:    make(map[meshid.Identity]*Peer),
		byMAC:         make(map[MAC]*Peer),
		macIndex:      make(map[MAC]meshid.Identity),
	}
}

// UpsertFromAdvert records or refreshes a peer from a scan result. If the
// MAC is already bound to a known identity, the identified record is
// refreshed in place; otherwise a provisional (identity-less) record is
// created or refreshed, evicting the oldest provisional record if the
// registry is at MaxDiscoveredPeers.
func (r *Registry) UpsertFromAdvert(a DiscoveredAdvert, now time.Time) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.macIndex[a.MAC]; ok {
		p := r.byIdentity[id]
		p.RSSILast = a.RSSI
		p.SeenAt = now
		if a.Name != "" {
			p.Name = a.Name
		}
		return p.clone()
	}

	if p, ok := r.byMAC[a.MAC]; ok {
		p.RSSILast = a.RSSI
		p.SeenAt = now
		if a.Name != "" {
			p.Name = a.Name
		}
		return p.clone()
	}

	if len(r.byMAC) >= r.maxDiscovered {
		r.evictOldestProvisional()
	}

	p := &Peer{
		MAC:      a.MAC,
		Name:     a.Name,
		RSSILast: a.RSSI,
		SeenAt:   now,
		State:    Discovered,
	}
	r.byMAC[a.MAC] = p
	r.discoveryOrder = append(r.discoveryOrder, a.MAC)
	return p.clone()
}

// evictOldestProvisional drops the oldest identity-less record to keep the
// registry within MaxDiscoveredPeers. Callers hold r.mu.
func (r *Registry) evictOldestProvisional() {
	for len(r.discoveryOrder) > 0 {
		mac := r.discoveryOrder[0]
		r.discoveryOrder = r.discoveryOrder[1:]
		if _, ok := r.byMAC[mac]; ok {
			delete(r.byMAC, mac)
			return
		}
	}
}

// BindIdentity records that mac belongs to identity, following the
// handshake's idempotence rule: a repeated handshake for the same identity
// just refreshes SeenAt, while a handshake presenting a different identity
// for a MAC that previously rotated away from an old identity opens a fresh
// logical peer rather than mutating the old one.
func (r *Registry) BindIdentity(mac MAC, identity meshid.Identity, now time.Time) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byIdentity[identity]; ok {
		existing.MAC = mac
		existing.SeenAt = now
		r.macIndex[mac] = identity
		return existing.clone(), nil
	}

	provisional, ok := r.byMAC[mac]
	if !ok {
		provisional = &Peer{MAC: mac, State: Discovered, SeenAt: now}
	} else {
		delete(r.byMAC, mac)
	}

	provisional.Identity = identity
	provisional.SeenAt = now
	r.byIdentity[identity] = provisional
	r.macIndex[mac] = identity
	return provisional.clone(), nil
}

// Get returns a copy of the peer record for identity.
func (r *Registry) Get(identity meshid.Identity) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byIdentity[identity]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// GetByMAC returns a copy of the peer record addressed by mac, whether
// provisional or identified.
func (r *Registry) GetByMAC(mac MAC) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.macIndex[mac]; ok {
		p := r.byIdentity[id]
		return p.clone(), true
	}
	if p, ok := r.byMAC[mac]; ok {
		return p.clone(), true
	}
	return nil, false
}

// Transition moves identity from one state to another, failing if the
// record isn't currently in "from".
func (r *Registry) Transition(identity meshid.Identity, from, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byIdentity[identity]
	if !ok {
		return ErrUnknownPeer
	}
	if p.State != from {
		return ErrWrongState
	}
	p.State = to
	return nil
}

// resolveByMAC returns the peer addressed by mac, whether it's still a
// provisional (pre-identity) record or has already been promoted. Callers
// hold r.mu.
func (r *Registry) resolveByMAC(mac MAC) (*Peer, bool) {
	if id, ok := r.macIndex[mac]; ok {
		return r.byIdentity[id], true
	}
	if p, ok := r.byMAC[mac]; ok {
		return p, true
	}
	return nil, false
}

// TransitionByMAC is Transition's counterpart for peers whose identity
// hasn't been learned yet: Dialing and HandshakePending both begin before
// the handshake completes, so the orchestrator must be able to drive the
// state machine by MAC alone.
func (r *Registry) TransitionByMAC(mac MAC, from, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.resolveByMAC(mac)
	if !ok {
		return ErrUnknownPeer
	}
	if p.State != from {
		return ErrWrongState
	}
	p.State = to
	return nil
}

// RecordAttemptByMAC is RecordAttempt's pre-identity counterpart.
func (r *Registry) RecordAttemptByMAC(mac MAC, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.resolveByMAC(mac)
	if !ok {
		return ErrUnknownPeer
	}
	p.AttemptsTotal++
	p.LastAttemptAt = now
	return nil
}

// RecordSuccessByMAC is RecordSuccess's pre-identity counterpart.
func (r *Registry) RecordSuccessByMAC(mac MAC) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.resolveByMAC(mac)
	if !ok {
		return ErrUnknownPeer
	}
	p.AttemptsSuccess++
	return nil
}

// BlacklistByMAC is Blacklist's pre-identity counterpart.
func (r *Registry) BlacklistByMAC(mac MAC, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.resolveByMAC(mac)
	if !ok {
		return ErrUnknownPeer
	}
	p.State = Blacklisted
	p.BlacklistedUntil = until
	return nil
}

// ForceStateByMAC sets the peer addressed by mac to the given state
// unconditionally, bypassing the normal transition table. Used on
// unrecoverable errors, where the peer must move to Disconnecting
// regardless of its current state.
func (r *Registry) ForceStateByMAC(mac MAC, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.resolveByMAC(mac)
	if !ok {
		return ErrUnknownPeer
	}
	p.State = to
	return nil
}

// IdentityForMAC returns the identity bound to mac, if any.
func (r *Registry) IdentityForMAC(mac MAC) (meshid.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.macIndex[mac]
	return id, ok
}

// RecordAttempt updates attempt counters and LastAttemptAt for identity.
func (r *Registry) RecordAttempt(identity meshid.Identity, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byIdentity[identity]
	if !ok {
		return ErrUnknownPeer
	}
	p.AttemptsTotal++
	p.LastAttemptAt = now
	return nil
}

// RecordSuccess marks the most recent attempt as successful.
func (r *Registry) RecordSuccess(identity meshid.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byIdentity[identity]
	if !ok {
		return ErrUnknownPeer
	}
	p.AttemptsSuccess++
	return nil
}

// Blacklist marks identity Blacklisted until the given deadline.
func (r *Registry) Blacklist(identity meshid.Identity, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byIdentity[identity]
	if !ok {
		return ErrUnknownPeer
	}
	p.State = Blacklisted
	p.BlacklistedUntil = until
	return nil
}

// ExpireBlacklists clears Blacklisted state for every peer whose
// BlacklistedUntil has passed, returning them to Discovered.
func (r *Registry) ExpireBlacklists(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byMAC {
		if p.State == Blacklisted && !p.BlacklistedUntil.After(now) {
			p.State = Discovered
			p.BlacklistedUntil = time.Time{}
		}
	}
	for _, p := range r.byIdentity {
		if p.State == Blacklisted && !p.BlacklistedUntil.After(now) {
			p.State = Discovered
			p.BlacklistedUntil = time.Time{}
		}
	}
}

// IterCandidates returns copies of every identified peer for which
// predicate returns true. Predicate runs under the registry lock and must
// not call back into the registry.
func (r *Registry) IterCandidates(predicate func(*Peer) bool) []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Peer
	for _, p := range r.byIdentity {
		if predicate(p) {
			out = append(out, p.clone())
		}
	}
	return out
}

// DiscoveredForDial returns copies of every peer in State Discovered,
// whether it's a provisional (pre-identity) record fresh off an
// advertisement or an already-identified one that lapsed back to
// Discovered (e.g. after a blacklist expired). Dial candidate selection
// needs both: a peer's first-ever contact is always provisional, since
// identity is only learned once the handshake completes.
func (r *Registry) DiscoveredForDial() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Peer
	for _, p := range r.byMAC {
		if p.State == Discovered {
			out = append(out, p.clone())
		}
	}
	for _, p := range r.byIdentity {
		if p.State == Discovered {
			out = append(out, p.clone())
		}
	}
	return out
}

// StaleDiscovered returns copies of identified peers in State Discovered
// whose SeenAt is older than staleAfter, for the cleanup sweep to retire.
func (r *Registry) StaleDiscovered(now time.Time, staleAfter time.Duration) []*Peer {
	return r.IterCandidates(func(p *Peer) bool {
		return p.State == Discovered && now.Sub(p.SeenAt) > staleAfter
	})
}

// Remove deletes a peer record entirely, releasing both the identity and
// MAC index entries.
func (r *Registry) Remove(identity meshid.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byIdentity[identity]
	if !ok {
		return
	}
	delete(r.macIndex, p.MAC)
	delete(r.byIdentity, identity)
}

// Len returns the number of identified peer records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byIdentity)
}
