package host

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

// derivedTestIdentity produces a synthetic 16-byte identity from an X25519
// public key, the same key-derivation shape as the upper stack's real
// identity material, without pulling crypto into production engine code.
func derivedTestIdentity(t *testing.T) meshid.Identity {
	t.Helper()
	var priv, pub [32]byte
	_, err := io.ReadFull(rand.Reader, priv[:])
	require.NoError(t, err)
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	curve25519.ScalarBaseMult(&pub, &priv)

	id, err := meshid.FromBytes(pub[:16])
	require.NoError(t, err)
	return id
}

func TestInProcessPeerAppearedAndGone(t *testing.T) {
	var local meshid.Identity
	local[0] = 0x01
	h := NewInProcess(local, 1)

	var remote meshid.Identity
	remote[0] = 0x02
	handle := NewHandle(remote)

	h.PeerAppeared(remote, handle)
	ev := <-h.Events()
	require.Equal(t, remote, ev.Identity)
	require.False(t, ev.Gone)

	h.PeerGone(remote)
	ev = <-h.Events()
	require.True(t, ev.Gone)
}

func TestInProcessInboundDeliversPacket(t *testing.T) {
	var local meshid.Identity
	h := NewInProcess(local, 1)

	var remote meshid.Identity
	remote[0] = 0x05
	handle := NewHandle(remote)
	h.Inbound(handle, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	pkt := <-h.Inboxes()
	require.Equal(t, remote, pkt.Peer.Identity())
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, pkt.Packet)
}

func TestInProcessPeerAppearedWithCurve25519DerivedIdentity(t *testing.T) {
	local := derivedTestIdentity(t)
	h := NewInProcess(local, 7)

	remote := derivedTestIdentity(t)
	require.NotEqual(t, local, remote)
	handle := NewHandle(remote)

	h.PeerAppeared(remote, handle)
	ev := <-h.Events()
	require.Equal(t, remote, ev.Identity)
}

func TestInProcessLocalAccessors(t *testing.T) {
	var local meshid.Identity
	local[0] = 0x09
	h := NewInProcess(local, 42)
	require.Equal(t, local, h.LocalIdentity())
	require.Equal(t, uint64(42), uint64(h.LocalMAC()))
}
