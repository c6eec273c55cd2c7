package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeBlacklistUntilThirdFailure(t *testing.T) {
	now := time.Unix(20, 0)
	until := ComputeBlacklistUntil(now, 3, 3)
	require.Equal(t, time.Unix(80, 0), until)
}

func TestComputeBlacklistUntilFourthFailure(t *testing.T) {
	now := time.Unix(90, 0)
	until := ComputeBlacklistUntil(now, 4, 3)
	require.Equal(t, time.Unix(210, 0), until)
}

func TestComputeBlacklistUntilCapsAtEightMinutes(t *testing.T) {
	now := time.Unix(0, 0)
	until := ComputeBlacklistUntil(now, 100, 3)
	require.Equal(t, now.Add(8*time.Minute), until)
}
