// Package metrics holds the lightweight counters the engine updates; there
// is no exporter or scrape endpoint, just atomically updated totals that
// Snapshot copies out. The daemon creates the counters but does not print
// them.
package metrics

import "sync/atomic"

// Counters is a fixed set of monotonically increasing totals, safe for
// concurrent use from the engine's event loop and its dial goroutines.
type Counters struct {
	dialsAttempted     atomic.Int64
	dialsSucceeded     atomic.Int64
	dialsFailed        atomic.Int64
	blacklistEvents    atomic.Int64
	bytesSent          atomic.Int64
	bytesReceived      atomic.Int64
	packetsReassembled atomic.Int64
	reassemblyErrors   atomic.Int64
}

// New returns a zeroed Counters.
func New() *Counters {
	return &Counters{}
}

func (c *Counters) DialAttempted()  { c.dialsAttempted.Add(1) }
func (c *Counters) DialSucceeded()  { c.dialsSucceeded.Add(1) }
func (c *Counters) DialFailed()     { c.dialsFailed.Add(1) }
func (c *Counters) BlacklistEvent() { c.blacklistEvents.Add(1) }
func (c *Counters) BytesSent(n int)     { c.bytesSent.Add(int64(n)) }
func (c *Counters) BytesReceived(n int) { c.bytesReceived.Add(int64(n)) }
func (c *Counters) PacketReassembled()  { c.packetsReassembled.Add(1) }
func (c *Counters) ReassemblyError()    { c.reassemblyErrors.Add(1) }

// Snapshot is a point-in-time copy of every counter, safe to print or
// marshal without further synchronization.
type Snapshot struct {
	DialsAttempted     int64
	DialsSucceeded     int64
	DialsFailed        int64
	BlacklistEvents    int64
	BytesSent          int64
	BytesReceived      int64
	PacketsReassembled int64
	ReassemblyErrors   int64
}

// Snapshot reads every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		DialsAttempted:     c.dialsAttempted.Load(),
		DialsSucceeded:     c.dialsSucceeded.Load(),
		DialsFailed:        c.dialsFailed.Load(),
		BlacklistEvents:    c.blacklistEvents.Load(),
		BytesSent:          c.bytesSent.Load(),
		BytesReceived:      c.bytesReceived.Load(),
		PacketsReassembled: c.packetsReassembled.Load(),
		ReassemblyErrors:   c.reassemblyErrors.Load(),
	}
}
