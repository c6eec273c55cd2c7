package handshake

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

func TestConfirmAcceptsWhenNoPriorExpectation(t *testing.T) {
	var remote meshid.Identity
	remote[0] = 0xAB
	require.NoError(t, Confirm(meshid.Zero, remote))
}

func TestConfirmMatches(t *testing.T) {
	var id meshid.Identity
	id[0] = 0xAB
	require.NoError(t, Confirm(id, id))
}

func TestConfirmMismatch(t *testing.T) {
	var expected, got meshid.Identity
	expected[0] = 0x01
	got[0] = 0x02
	require.ErrorIs(t, Confirm(expected, got), ErrIdentityMismatch)
}

func TestDetectRecognizesSixteenByteHandshake(t *testing.T) {
	payload := []byte{0x68, 0x00, 0x69, 0xB6, 0x1F, 0xA5, 0x1C, 0xDE, 0x5A, 0x75, 0x1E, 0xD2, 0x39, 0x6C, 0xE4, 0x6D}
	d := Detect(false, payload)
	require.True(t, d.IsHandshake)
	require.Equal(t, "680069b61fa51cde5a751ed2396ce46d", d.Identity.String())
}

func TestDetectIgnoresWhenIdentityAlreadyKnown(t *testing.T) {
	payload := make([]byte, 16)
	d := Detect(true, payload)
	require.False(t, d.IsHandshake)
}

func TestDetectIgnoresWrongLength(t *testing.T) {
	d := Detect(false, []byte{0x01, 0x02, 0x03})
	require.False(t, d.IsHandshake)
}
