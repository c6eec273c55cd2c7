// Package selector implements scoring and selection: ranking discovered
// peers and choosing which to dial under the current capacity. Peers are
// scored on signal strength, connection history, and freshness.
package selector

import (
	"sort"
	"time"

	"github.com/permissionlesstech/meshcore/internal/registry"
)

// Score component bounds.
const (
	maxRSSIScore      = 70
	maxHistoryScore   = 50
	maxFreshnessScore = 25

	rssiFloor = -100
	rssiCeil  = -30

	freshnessFullWindow  = 5 * time.Second
	freshnessZeroWindow  = 30 * time.Second
	noAttemptsHistoryDefault = 25
)

// Score returns the 0-145 desirability score for a peer as of now.
func Score(p *registry.Peer, now time.Time) int {
	return rssiScore(p.RSSILast) + historyScore(p) + freshnessScore(p.SeenAt, now)
}

func rssiScore(rssi int) int {
	clamped := rssi
	if clamped < rssiFloor {
		clamped = rssiFloor
	}
	if clamped > rssiCeil {
		clamped = rssiCeil
	}
	// Linear map rssiFloor->0, rssiCeil->maxRSSIScore.
	span := rssiCeil - rssiFloor
	return (clamped - rssiFloor) * maxRSSIScore / span
}

func historyScore(p *registry.Peer) int {
	if p.AttemptsTotal == 0 {
		return noAttemptsHistoryDefault
	}
	return maxHistoryScore * p.AttemptsSuccess / p.AttemptsTotal
}

func freshnessScore(seenAt, now time.Time) int {
	age := now.Sub(seenAt)
	if age <= freshnessFullWindow {
		return maxFreshnessScore
	}
	if age >= freshnessZeroWindow {
		return 0
	}
	remaining := freshnessZeroWindow - age
	window := freshnessZeroWindow - freshnessFullWindow
	return int(int64(maxFreshnessScore) * int64(remaining) / int64(window))
}

// IsFresh reports whether a peer's last advertisement is recent enough to
// remain eligible for selection at all (age < freshnessZeroWindow).
func IsFresh(seenAt, now time.Time) bool {
	return now.Sub(seenAt) < freshnessZeroWindow
}

// Filters bundles the capacity and policy gates Select applies before
// ranking candidates.
type Filters struct {
	MinRSSI          int
	ConnectRateLimit time.Duration
	// ShouldInitiate reports whether the direction arbiter says the local
	// side initiates this link.
	ShouldInitiate func(remoteMAC registry.MAC) bool
}

// Select ranks the given candidates and returns at most `slots` of them,
// applying the eligibility filters and breaking ties by stronger RSSI then
// lower MAC.
func Select(candidates []*registry.Peer, slots int, f Filters, now time.Time) []*registry.Peer {
	if slots <= 0 {
		return nil
	}

	eligible := make([]*registry.Peer, 0, len(candidates))
	for _, p := range candidates {
		if !eligibleForDial(p, f, now) {
			continue
		}
		eligible = append(eligible, p)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := Score(eligible[i], now), Score(eligible[j], now)
		if si != sj {
			return si > sj
		}
		if eligible[i].RSSILast != eligible[j].RSSILast {
			return eligible[i].RSSILast > eligible[j].RSSILast
		}
		return eligible[i].MAC.Less(eligible[j].MAC)
	})

	if len(eligible) > slots {
		eligible = eligible[:slots]
	}
	return eligible
}

func eligibleForDial(p *registry.Peer, f Filters, now time.Time) bool {
	if p.State == registry.Blacklisted {
		return false
	}
	if p.State == registry.Dialing || p.State == registry.Active || p.State == registry.HandshakePending {
		return false
	}
	if p.RSSILast < f.MinRSSI {
		return false
	}
	if !IsFresh(p.SeenAt, now) {
		return false
	}
	if !p.LastAttemptAt.IsZero() && now.Sub(p.LastAttemptAt) < f.ConnectRateLimit {
		return false
	}
	if f.ShouldInitiate != nil && !f.ShouldInitiate(p.MAC) {
		return false
	}
	return true
}
