package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	c := New()
	c.DialAttempted()
	c.DialAttempted()
	c.DialSucceeded()
	c.DialFailed()
	c.BlacklistEvent()
	c.BytesSent(10)
	c.BytesReceived(20)
	c.PacketReassembled()
	c.ReassemblyError()

	snap := c.Snapshot()
	require.Equal(t, int64(2), snap.DialsAttempted)
	require.Equal(t, int64(1), snap.DialsSucceeded)
	require.Equal(t, int64(1), snap.DialsFailed)
	require.Equal(t, int64(1), snap.BlacklistEvents)
	require.Equal(t, int64(10), snap.BytesSent)
	require.Equal(t, int64(20), snap.BytesReceived)
	require.Equal(t, int64(1), snap.PacketsReassembled)
	require.Equal(t, int64(1), snap.ReassemblyErrors)
}

func TestCountersAreConcurrencySafe(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.DialAttempted()
			c.BytesSent(1)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	require.Equal(t, int64(100), snap.DialsAttempted)
	require.Equal(t, int64(100), snap.BytesSent)
}
