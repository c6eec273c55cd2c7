// Package driver defines the typed boundary to the platform BLE stack. The
// engine depends only on this interface; concrete implementations
// (internal/driver/bluez) wire it to a real radio.
package driver

import (
	"context"
	"time"

	"github.com/permissionlesstech/meshcore/internal/registry"
	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

// Service and characteristic UUIDs fixed by the wire protocol.
const (
	ServiceUUID    = "37145b00-442d-4a94-917f-8f42c5da28e3"
	TXCharUUID     = "37145b00-442d-4a94-917f-8f42c5da28e4"
	RXCharUUID     = "37145b00-442d-4a94-917f-8f42c5da28e5"
	IdentityCharUUID = "37145b00-442d-4a94-917f-8f42c5da28e6"
)

// DefaultMTU is assumed when the driver can't report a negotiated MTU.
const DefaultMTU = 23

// MaxAdvertisedNameBytes bounds the optional advertised name so the
// advertisement fits its 31-byte budget alongside the service UUID.
const MaxAdvertisedNameBytes = 8

// FailureKind classifies a connection failure reported by the driver.
type FailureKind int

const (
	// FailureUnknown is a catch-all for driver errors with no finer kind.
	FailureUnknown FailureKind = iota
	// FailureTimeout means the connect attempt exceeded connection_timeout.
	FailureTimeout
	// FailureLinkLost means an established link dropped unexpectedly.
	FailureLinkLost
	// FailureRefused means the remote actively rejected the connection.
	FailureRefused
)

// Events is the set of callbacks the driver invokes into the core. All
// calls are delivered onto the engine's event channel rather than run
// directly on a driver thread: core logic never executes on a driver
// goroutine.
type Events interface {
	OnDeviceDiscovered(advert registry.DiscoveredAdvert)
	// OnDeviceConnected reports a completed link. remoteIdentity is the
	// value read from the remote's identity characteristic during service
	// discovery on the central side; it is the zero identity on the
	// peripheral side, where the remote's identity arrives instead as the
	// first OnDataReceived payload (see internal/handshake.Detect).
	OnDeviceConnected(mac registry.MAC, mtu int, remoteIdentity meshid.Identity)
	OnDeviceDisconnected(mac registry.MAC)
	OnDataReceived(mac registry.MAC, data []byte)
	OnConnectionFailed(mac registry.MAC, kind FailureKind)
}

// Driver is the platform boundary the engine depends on. Implementations
// must coalesce concurrent Connect calls for the same MAC and make
// Stop/Disconnect idempotent.
type Driver interface {
	// Start initializes the radio and GATT server with the service and
	// characteristic UUIDs defined in this package and begins delivering
	// events to the given sink.
	Start(ctx context.Context, sink Events) error
	// Stop releases everything. Idempotent.
	Stop(ctx context.Context) error

	// SetIdentity populates the read-only identity characteristic.
	SetIdentity(ctx context.Context, identity [16]byte) error

	StartScanning(ctx context.Context) error
	StopScanning(ctx context.Context) error

	// StartAdvertising advertises ServiceUUID with an optional name no
	// longer than MaxAdvertisedNameBytes.
	StartAdvertising(ctx context.Context, name string) error
	StopAdvertising(ctx context.Context) error

	// Connect and Disconnect are idempotent; concurrent calls for the same
	// mac coalesce onto one another.
	Connect(ctx context.Context, mac registry.MAC) error
	Disconnect(ctx context.Context, mac registry.MAC) error

	// Send writes to the remote's RX characteristic (central role) or
	// notifies on TX (peripheral role).
	Send(ctx context.Context, mac registry.MAC, data []byte) error

	// PeerMTU is queried by the engine each time it sends a packet; callers
	// default to DefaultMTU when the driver returns 0.
	PeerMTU(mac registry.MAC) int

	// RemoveDevice is an optional cleanup hook to evict stale platform
	// state after failures.
	RemoveDevice(ctx context.Context, mac registry.MAC)
}

// DefaultConnectionTimeout bounds any single connection attempt.
const DefaultConnectionTimeout = 30 * time.Second
