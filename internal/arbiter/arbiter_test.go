package arbiter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permissionlesstech/meshcore/internal/registry"
)

func TestDecideLowerMACInitiates(t *testing.T) {
	require.Equal(t, Initiate, Decide(1, 2))
	require.Equal(t, Wait, Decide(2, 1))
}

func TestDecideEqualMACsCollide(t *testing.T) {
	require.Equal(t, Collision, Decide(42, 42))
}

func TestShouldInitiatePredicate(t *testing.T) {
	pred := ShouldInitiate(registry.MAC(5))
	require.True(t, pred(registry.MAC(10)))
	require.False(t, pred(registry.MAC(1)))
	require.False(t, pred(registry.MAC(5)))
}
