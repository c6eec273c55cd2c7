// Package meshid defines the stable cryptographic identity the upper mesh
// stack assigns to each peer. The core treats it as an opaque, fixed-width,
// comparable key; hex rendering only happens at logging/external boundaries.
package meshid

import (
	"encoding/hex"
	"errors"
)

// Size is the fixed width of an Identity in bytes.
const Size = 16

// ErrBadLength is returned by Parse when the input isn't a 32-char hex string.
var ErrBadLength = errors.New("meshid: identity must be 32 lowercase hex chars")

// Identity is a 16-byte value owned by the upper stack. It is comparable and
// safe to use directly as a map key.
type Identity [Size]byte

// Zero is the unset/unknown identity.
var Zero Identity

// FromBytes copies b into a new Identity. b must be exactly Size bytes.
func FromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != Size {
		return id, errors.New("meshid: identity must be 16 bytes")
	}
	copy(id[:], b)
	return id, nil
}

// Parse decodes the canonical 32-character lowercase hex form.
func Parse(s string) (Identity, error) {
	var id Identity
	if len(s) != Size*2 {
		return id, ErrBadLength
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, ErrBadLength
	}
	copy(id[:], b)
	return id, nil
}

// String renders the canonical 32-character lowercase hex form used as the
// map key and in logs.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identity has never been set.
func (id Identity) IsZero() bool {
	return id == Zero
}

// Bytes returns a copy of the underlying bytes.
func (id Identity) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}
