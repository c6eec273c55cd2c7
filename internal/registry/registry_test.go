package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

func mustMAC(t *testing.T, s string) MAC {
	t.Helper()
	m, err := ParseMAC(s)
	require.NoError(t, err)
	return m
}

func TestParseMACRoundTrip(t *testing.T) {
	m := mustMAC(t, "AA:BB:CC:DD:EE:FF")
	require.Equal(t, "AA:BB:CC:DD:EE:FF", m.String())
}

func TestParseMACRejectsMalformed(t *testing.T) {
	_, err := ParseMAC("not-a-mac")
	require.ErrorIs(t, err, ErrBadMAC)
}

func TestMACLess(t *testing.T) {
	a := mustMAC(t, "00:00:00:00:00:01")
	b := mustMAC(t, "00:00:00:00:00:02")
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}

func TestUpsertFromAdvertCreatesProvisionalPeer(t *testing.T) {
	r := New(0)
	mac := mustMAC(t, "11:22:33:44:55:66")
	now := time.Unix(100, 0)

	p := r.UpsertFromAdvert(DiscoveredAdvert{MAC: mac, RSSI: -50, Name: "node-a"}, now)
	require.Equal(t, Discovered, p.State)
	require.Equal(t, -50, p.RSSILast)
	require.True(t, p.Identity.IsZero())

	p2 := r.UpsertFromAdvert(DiscoveredAdvert{MAC: mac, RSSI: -40}, now.Add(time.Second))
	require.Equal(t, -40, p2.RSSILast)
	require.Equal(t, "node-a", p2.Name) // preserved since new advert had no name
}

func TestUpsertFromAdvertEvictsOldestWhenFull(t *testing.T) {
	r := New(2)
	now := time.Unix(0, 0)

	macA := mustMAC(t, "00:00:00:00:00:01")
	macB := mustMAC(t, "00:00:00:00:00:02")
	macC := mustMAC(t, "00:00:00:00:00:03")

	r.UpsertFromAdvert(DiscoveredAdvert{MAC: macA, RSSI: -50}, now)
	r.UpsertFromAdvert(DiscoveredAdvert{MAC: macB, RSSI: -50}, now)
	r.UpsertFromAdvert(DiscoveredAdvert{MAC: macC, RSSI: -50}, now)

	_, ok := r.GetByMAC(macA)
	require.False(t, ok, "oldest provisional peer should have been evicted")
	_, ok = r.GetByMAC(macB)
	require.True(t, ok)
	_, ok = r.GetByMAC(macC)
	require.True(t, ok)
}

func TestBindIdentityPromotesProvisionalPeer(t *testing.T) {
	r := New(0)
	mac := mustMAC(t, "11:22:33:44:55:66")
	now := time.Unix(0, 0)

	r.UpsertFromAdvert(DiscoveredAdvert{MAC: mac, RSSI: -60}, now)

	var id meshid.Identity
	id[0] = 0xAB
	p, err := r.BindIdentity(mac, id, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, id, p.Identity)
	require.Equal(t, mac, p.MAC)

	got, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, id, got.Identity)

	byMAC, ok := r.GetByMAC(mac)
	require.True(t, ok)
	require.Equal(t, id, byMAC.Identity)
}

func TestBindIdentityRepeatedHandshakeJustRefreshes(t *testing.T) {
	r := New(0)
	mac := mustMAC(t, "11:22:33:44:55:66")
	var id meshid.Identity
	id[0] = 0x01
	now := time.Unix(0, 0)

	r.UpsertFromAdvert(DiscoveredAdvert{MAC: mac}, now)
	_, err := r.BindIdentity(mac, id, now)
	require.NoError(t, err)

	_, err = r.BindIdentity(mac, id, now.Add(10*time.Second))
	require.NoError(t, err)

	require.Equal(t, 1, r.Len())
}

func TestBindIdentityMACRotationOpensNewLogicalPeer(t *testing.T) {
	r := New(0)
	oldMAC := mustMAC(t, "11:22:33:44:55:66")
	newMAC := mustMAC(t, "AA:BB:CC:DD:EE:FF")
	now := time.Unix(0, 0)

	var oldID, newID meshid.Identity
	oldID[0] = 0x01
	newID[0] = 0x02

	_, err := r.BindIdentity(oldMAC, oldID, now)
	require.NoError(t, err)

	_, err = r.BindIdentity(newMAC, newID, now.Add(time.Minute))
	require.NoError(t, err)

	require.Equal(t, 2, r.Len())
	oldPeer, ok := r.Get(oldID)
	require.True(t, ok)
	require.Equal(t, oldMAC, oldPeer.MAC)
}

func TestTransitionRejectsWrongFromState(t *testing.T) {
	r := New(0)
	var id meshid.Identity
	id[0] = 0x01
	mac := mustMAC(t, "00:00:00:00:00:01")
	now := time.Unix(0, 0)
	_, err := r.BindIdentity(mac, id, now)
	require.NoError(t, err)

	err = r.Transition(id, Dialing, Active)
	require.ErrorIs(t, err, ErrWrongState)

	err = r.Transition(id, Discovered, Dialing)
	require.NoError(t, err)

	got, _ := r.Get(id)
	require.Equal(t, Dialing, got.State)
}

func TestRecordAttemptAndSuccess(t *testing.T) {
	r := New(0)
	var id meshid.Identity
	id[0] = 0x01
	mac := mustMAC(t, "00:00:00:00:00:01")
	now := time.Unix(0, 0)
	_, err := r.BindIdentity(mac, id, now)
	require.NoError(t, err)

	require.NoError(t, r.RecordAttempt(id, now))
	require.NoError(t, r.RecordAttempt(id, now.Add(time.Second)))
	require.NoError(t, r.RecordSuccess(id))

	p, _ := r.Get(id)
	require.Equal(t, 2, p.AttemptsTotal)
	require.Equal(t, 1, p.AttemptsSuccess)
	require.LessOrEqual(t, p.AttemptsSuccess, p.AttemptsTotal)
}

func TestBlacklistAndExpiry(t *testing.T) {
	r := New(0)
	var id meshid.Identity
	id[0] = 0x01
	mac := mustMAC(t, "00:00:00:00:00:01")
	now := time.Unix(0, 0)
	_, err := r.BindIdentity(mac, id, now)
	require.NoError(t, err)

	until := now.Add(time.Minute)
	require.NoError(t, r.Blacklist(id, until))

	p, _ := r.Get(id)
	require.Equal(t, Blacklisted, p.State)
	require.True(t, p.BlacklistedUntil.After(now))

	r.ExpireBlacklists(now.Add(30 * time.Second))
	p, _ = r.Get(id)
	require.Equal(t, Blacklisted, p.State, "should still be blacklisted before deadline")

	r.ExpireBlacklists(until.Add(time.Second))
	p, _ = r.Get(id)
	require.Equal(t, Discovered, p.State)
}

func TestIterCandidatesFiltersByPredicate(t *testing.T) {
	r := New(0)
	now := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		var id meshid.Identity
		id[0] = byte(i + 1)
		mac := MAC(i + 1)
		_, err := r.BindIdentity(mac, id, now)
		require.NoError(t, err)
	}

	var target meshid.Identity
	target[0] = 2
	require.NoError(t, r.Transition(target, Discovered, Dialing))

	candidates := r.IterCandidates(func(p *Peer) bool {
		return p.State == Discovered
	})
	require.Len(t, candidates, 2)
}

func TestDiscoveredForDialUnionsProvisionalAndIdentifiedPeers(t *testing.T) {
	r := New(0)
	now := time.Unix(0, 0)

	r.UpsertFromAdvert(DiscoveredAdvert{MAC: MAC(1), RSSI: -40}, now)

	var id meshid.Identity
	id[0] = 0x02
	_, err := r.BindIdentity(MAC(2), id, now)
	require.NoError(t, err)
	require.NoError(t, r.Blacklist(id, now.Add(time.Minute)))
	r.ExpireBlacklists(now.Add(time.Minute))

	candidates := r.DiscoveredForDial()
	require.Len(t, candidates, 2)
}

func TestStaleDiscovered(t *testing.T) {
	r := New(0)
	var id meshid.Identity
	id[0] = 0x01
	mac := MAC(1)
	now := time.Unix(0, 0)
	_, err := r.BindIdentity(mac, id, now)
	require.NoError(t, err)

	stale := r.StaleDiscovered(now.Add(time.Hour), 10*time.Minute)
	require.Len(t, stale, 1)

	fresh := r.StaleDiscovered(now.Add(time.Minute), 10*time.Minute)
	require.Len(t, fresh, 0)
}

func TestTransitionByMACDrivesPreIdentityPeer(t *testing.T) {
	r := New(0)
	mac := mustMAC(t, "00:00:00:00:00:01")
	now := time.Unix(0, 0)
	r.UpsertFromAdvert(DiscoveredAdvert{MAC: mac, RSSI: -50}, now)

	require.NoError(t, r.RecordAttemptByMAC(mac, now))
	require.NoError(t, r.TransitionByMAC(mac, Discovered, Dialing))

	p, ok := r.GetByMAC(mac)
	require.True(t, ok)
	require.Equal(t, Dialing, p.State)
	require.Equal(t, 1, p.AttemptsTotal)

	var id meshid.Identity
	id[0] = 0x07
	_, err := r.BindIdentity(mac, id, now.Add(time.Second))
	require.NoError(t, err)

	require.NoError(t, r.TransitionByMAC(mac, Dialing, HandshakePending))
	got, _ := r.Get(id)
	require.Equal(t, HandshakePending, got.State, "state changes on the promoted record must be visible by identity too")
}

func TestRemoveDeletesBothIndexes(t *testing.T) {
	r := New(0)
	var id meshid.Identity
	id[0] = 0x01
	mac := MAC(1)
	now := time.Unix(0, 0)
	_, err := r.BindIdentity(mac, id, now)
	require.NoError(t, err)

	r.Remove(id)
	_, ok := r.Get(id)
	require.False(t, ok)
	_, ok = r.GetByMAC(mac)
	require.False(t, ok)
}
