// Package handshake implements the identity handshake: the first-message
// identity exchange that lets the rest of the stack key peers by a stable
// identity rather than a MAC that may rotate. The central side reads the
// remote's identity characteristic at connect time; the peripheral side
// detects it from the first RX write, a fixed 16-byte payload.
package handshake

import (
	"errors"

	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

// ErrIdentityMismatch is returned by Confirm when the identity read back
// from the remote doesn't match the one inferred at discovery time.
var ErrIdentityMismatch = errors.New("handshake: identity mismatch")

// Confirm validates the identity read from the remote's identity
// characteristic against the identity (if any) inferred at discovery.
// A zero expected identity means none was known yet, so any remote
// identity is accepted.
func Confirm(expected, remoteRead meshid.Identity) error {
	if expected.IsZero() {
		return nil
	}
	if expected != remoteRead {
		return ErrIdentityMismatch
	}
	return nil
}

// Detection is the verdict from inspecting one inbound RX write on the
// peripheral side.
type Detection struct {
	IsHandshake bool
	Identity    meshid.Identity
}

// Detect classifies an inbound RX payload: a not-yet-known sender writing
// exactly 16 bytes is treated as the handshake; anything else (known
// sender, or wrong length) is ordinary fragment data.
func Detect(identityKnown bool, payload []byte) Detection {
	if identityKnown {
		return Detection{}
	}
	if len(payload) != meshid.Size {
		return Detection{}
	}
	id, err := meshid.FromBytes(payload)
	if err != nil {
		return Detection{}
	}
	return Detection{IsHandshake: true, Identity: id}
}
