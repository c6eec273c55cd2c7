package orchestrator

import (
	"sync"

	"github.com/permissionlesstech/meshcore/internal/registry"
)

// ConnectingSet tracks peers currently in Dialing or HandshakePending,
// process-wide. It uses a dedicated mutex, separate from and always locked
// after the registry's, so the two never deadlock against each other.
type ConnectingSet struct {
	mu      sync.Mutex
	members map[registry.MAC]struct{}
}

// NewConnectingSet returns an empty set.
func NewConnectingSet() *ConnectingSet {
	return &ConnectingSet{members: make(map[registry.MAC]struct{})}
}

// TryAdd adds mac to the set, returning false if it was already present
// (the caller's connect() should then be a no-op).
func (c *ConnectingSet) TryAdd(mac registry.MAC) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[mac]; ok {
		return false
	}
	c.members[mac] = struct{}{}
	return true
}

// Remove drops mac from the set. Safe to call even if mac isn't a member.
func (c *ConnectingSet) Remove(mac registry.MAC) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, mac)
}

// Contains reports whether mac is currently tracked.
func (c *ConnectingSet) Contains(mac registry.MAC) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[mac]
	return ok
}

// Len reports how many peers are currently Dialing or HandshakePending.
func (c *ConnectingSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}
