package reassembly

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/permissionlesstech/meshcore/internal/fragment"
	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

func idFor(b byte) meshid.Identity {
	var id meshid.Identity
	id[0] = b
	return id
}

func TestBufferFeedCompletesPacket(t *testing.T) {
	buf := New()
	id := idFor(1)
	now := time.Unix(0, 0)

	packet := bytes.Repeat([]byte{0x09}, 100)
	frags, err := fragment.Encode(packet, 23)
	require.NoError(t, err)

	var got []byte
	for i, f := range frags {
		outcome, out, err := buf.Feed(id, f, now)
		require.NoError(t, err)
		if i == len(frags)-1 {
			require.Equal(t, fragment.Complete, outcome)
			got = out
		} else {
			require.Equal(t, fragment.Incomplete, outcome)
		}
	}
	require.Equal(t, packet, got)
	require.Equal(t, 0, buf.Len())
}

func TestBufferTracksPeersIndependently(t *testing.T) {
	buf := New()
	now := time.Unix(0, 0)

	packetA := bytes.Repeat([]byte{0xAA}, 60)
	packetB := bytes.Repeat([]byte{0xBB}, 60)
	fragsA, err := fragment.Encode(packetA, 23)
	require.NoError(t, err)
	fragsB, err := fragment.Encode(packetB, 23)
	require.NoError(t, err)

	_, _, err = buf.Feed(idFor(1), fragsA[0], now)
	require.NoError(t, err)
	_, _, err = buf.Feed(idFor(2), fragsB[0], now)
	require.NoError(t, err)
	require.Equal(t, 2, buf.Len())

	for _, f := range fragsA[1:] {
		_, _, err := buf.Feed(idFor(1), f, now)
		require.NoError(t, err)
	}
	require.Equal(t, 1, buf.Len())
}

func TestBufferOverflowDropsBuffer(t *testing.T) {
	buf := New(WithMaxInflightBytes(20))
	id := idFor(1)
	now := time.Unix(0, 0)

	packet := bytes.Repeat([]byte{0x01}, 100)
	frags, err := fragment.Encode(packet, 23)
	require.NoError(t, err)

	_, _, err = buf.Feed(id, frags[0], now)
	require.NoError(t, err)

	_, _, err = buf.Feed(id, frags[1], now)
	require.ErrorIs(t, err, ErrReassemblyOverflow)
	require.Equal(t, 0, buf.Len())
}

func TestBufferSweepExpiresStaleEntries(t *testing.T) {
	buf := New(WithTimeout(30 * time.Second))
	id := idFor(1)
	t0 := time.Unix(0, 0)

	frags, err := fragment.Encode(bytes.Repeat([]byte{0x02}, 60), 23)
	require.NoError(t, err)
	_, _, err = buf.Feed(id, frags[0], t0)
	require.NoError(t, err)
	require.Equal(t, 1, buf.Len())

	expired := buf.Sweep(t0.Add(29 * time.Second))
	require.Empty(t, expired)
	require.Equal(t, 1, buf.Len())

	expired = buf.Sweep(t0.Add(30*time.Second + time.Millisecond))
	require.Equal(t, []meshid.Identity{id}, expired)
	require.Equal(t, 0, buf.Len())
}

func TestBufferFeedErrorDropsBuffer(t *testing.T) {
	buf := New()
	id := idFor(1)
	now := time.Unix(0, 0)

	_, _, err := buf.Feed(id, fragment.Fragment{Start: true, Seq: 0, Total: 3, Payload: []byte("a")}, now)
	require.NoError(t, err)
	require.Equal(t, 1, buf.Len())

	_, _, err = buf.Feed(id, fragment.Fragment{Seq: 5, Total: 3, Payload: []byte("b")}, now)
	require.ErrorIs(t, err, fragment.ErrFragmentInconsistent)
	require.Equal(t, 0, buf.Len())
}

func TestBufferDrop(t *testing.T) {
	buf := New()
	id := idFor(1)
	now := time.Unix(0, 0)

	_, _, err := buf.Feed(id, fragment.Fragment{Start: true, Seq: 0, Total: 2, Payload: []byte("a")}, now)
	require.NoError(t, err)
	require.Equal(t, 1, buf.Len())

	buf.Drop(id)
	require.Equal(t, 0, buf.Len())
}
