// Package reassembly implements the per-peer reassembly buffer: it wraps
// one fragment.Decoder per peer identity and adds the timeout and memory
// bound the bare codec doesn't know about. Buffers are keyed by the peer's
// stable identity, expire after an idle timeout, and are swept
// periodically to bound total in-flight memory across all peers.
package reassembly

import (
	"errors"
	"time"

	"github.com/permissionlesstech/meshcore/internal/fragment"
	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

// DefaultTimeout is how long a partial buffer may sit idle before the
// cleanup sweep discards it.
const DefaultTimeout = 30 * time.Second

// DefaultMaxInflightBytes bounds per-peer outstanding reassembly memory.
const DefaultMaxInflightBytes = 64 * 1024

// ErrReassemblyOverflow is returned when a peer's in-flight buffer would
// exceed MaxInflightBytes.
var ErrReassemblyOverflow = errors.New("reassembly: max inflight bytes exceeded")

type entry struct {
	decoder      *fragment.Decoder
	lastUpdateAt time.Time
}

// Buffer holds one in-flight partial packet per peer identity.
type Buffer struct {
	timeout          time.Duration
	maxInflightBytes int

	entries map[meshid.Identity]*entry
}

// Option configures a Buffer at construction time.
type Option func(*Buffer)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Buffer) { b.timeout = d }
}

// WithMaxInflightBytes overrides DefaultMaxInflightBytes.
func WithMaxInflightBytes(n int) Option {
	return func(b *Buffer) { b.maxInflightBytes = n }
}

// New returns an empty reassembly Buffer. Not safe for concurrent use; the
// caller (the orchestrator, one peer at a time) serializes access.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		timeout:          DefaultTimeout,
		maxInflightBytes: DefaultMaxInflightBytes,
		entries:          make(map[meshid.Identity]*entry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Feed delivers one fragment received from id. On fragment.Complete it
// returns the reassembled packet and clears the buffer for id. On any
// error the buffer for id is dropped and the error is returned for the
// caller to log; the upper stack is responsible for retransmission.
func (b *Buffer) Feed(id meshid.Identity, f fragment.Fragment, now time.Time) (fragment.Outcome, []byte, error) {
	e, ok := b.entries[id]
	if !ok {
		e = &entry{decoder: fragment.NewDecoder()}
		b.entries[id] = e
	}

	outcome, packet, err := e.decoder.DecodeInto(f)
	if err != nil {
		delete(b.entries, id)
		return outcome, nil, err
	}

	e.lastUpdateAt = now

	if e.decoder.Len() > b.maxInflightBytes {
		delete(b.entries, id)
		return fragment.Errored, nil, ErrReassemblyOverflow
	}

	if outcome == fragment.Complete {
		delete(b.entries, id)
	}

	return outcome, packet, nil
}

// Drop discards any in-flight buffer for id, e.g. on peer teardown.
func (b *Buffer) Drop(id meshid.Identity) {
	delete(b.entries, id)
}

// Sweep discards every buffer whose lastUpdateAt is older than the
// configured timeout relative to now, returning the identities dropped.
// Intended to be called from the engine's periodic cleanup sweep.
func (b *Buffer) Sweep(now time.Time) []meshid.Identity {
	var expired []meshid.Identity
	for id, e := range b.entries {
		if now.Sub(e.lastUpdateAt) > b.timeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(b.entries, id)
	}
	return expired
}

// Len reports how many peers currently have an in-flight partial packet.
func (b *Buffer) Len() int {
	return len(b.entries)
}
