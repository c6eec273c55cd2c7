// Package engine implements the scheduler and runtime core: the single
// cooperative executor that drains driver events, drives the discovery and
// cleanup ticks, and wires the driver, registry, selector, arbiter,
// orchestrator, reassembly buffer, and host together into a running node.
// Driver callbacks never run core logic on the calling driver goroutine:
// they only translate into an event and hand it to this loop, so no two
// pieces of core logic ever execute concurrently.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/permissionlesstech/meshcore/internal/arbiter"
	"github.com/permissionlesstech/meshcore/internal/config"
	"github.com/permissionlesstech/meshcore/internal/driver"
	"github.com/permissionlesstech/meshcore/internal/fragment"
	"github.com/permissionlesstech/meshcore/internal/handshake"
	"github.com/permissionlesstech/meshcore/internal/host"
	"github.com/permissionlesstech/meshcore/internal/meshlog"
	"github.com/permissionlesstech/meshcore/internal/metrics"
	"github.com/permissionlesstech/meshcore/internal/orchestrator"
	"github.com/permissionlesstech/meshcore/internal/reassembly"
	"github.com/permissionlesstech/meshcore/internal/registry"
	"github.com/permissionlesstech/meshcore/internal/selector"
	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

var log = meshlog.For("engine")

// eventKind tags the union of driver callbacks and internal ticks the run
// loop serializes over.
type eventKind int

const (
	evtDiscovered eventKind = iota
	evtConnected
	evtDisconnected
	evtData
	evtConnFailed
	evtScanTick
	evtCleanupTick
	evtCoverTrafficTick
)

// coverTrafficInterval is fixed rather than configurable: it only needs to
// be slow enough not to compete with real traffic for airtime.
const coverTrafficInterval = 5 * time.Minute

type event struct {
	kind eventKind

	advert         registry.DiscoveredAdvert
	mac            registry.MAC
	mtu            int
	remoteIdentity meshid.Identity
	data           []byte
	failureKind    driver.FailureKind
}

// Engine is the running node: one goroutine processes events.events
// serially while periodic tickers feed scan and cleanup work onto the same
// channel, so no two pieces of core logic ever run concurrently.
type Engine struct {
	cfg   config.Config
	drv   driver.Driver
	reg   *registry.Registry
	orch  *orchestrator.Orchestrator
	reasm *reassembly.Buffer
	host  host.Host

	localIdentity meshid.Identity
	localMAC      registry.MAC

	events chan event

	// initiated marks MACs this node dialed as central, so the handshake
	// step knows which side writes its identity first.
	initiated map[registry.MAC]struct{}

	metrics *metrics.Counters
}

// Option configures optional Engine behavior at construction time.
type Option func(*Engine)

// WithMetrics attaches a counters sink; omit it to run without metrics.
func WithMetrics(m *metrics.Counters) Option {
	return func(e *Engine) { e.metrics = m }
}

// New wires an Engine from its collaborators. cfg.MaxDiscoveredPeers and
// cfg.MaxFailuresBeforeBlacklist are expected to already have shaped reg and
// orch at construction time; New just holds the references.
func New(cfg config.Config, drv driver.Driver, reg *registry.Registry, orch *orchestrator.Orchestrator, reasm *reassembly.Buffer, h host.Host, opts ...Option) *Engine {
	e := &Engine{
		cfg:           cfg,
		drv:           drv,
		reg:           reg,
		orch:          orch,
		reasm:         reasm,
		host:          h,
		localIdentity: h.LocalIdentity(),
		localMAC:      h.LocalMAC(),
		events:        make(chan event, 256),
		initiated:     make(map[registry.MAC]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// eventsAdapter implements driver.Events by forwarding every callback onto
// the engine's event channel, never running core logic on the calling
// (driver) goroutine.
type eventsAdapter struct {
	ctx context.Context
	out chan event
}

func (a eventsAdapter) send(e event) {
	select {
	case a.out <- e:
	case <-a.ctx.Done():
	}
}

func (a eventsAdapter) OnDeviceDiscovered(advert registry.DiscoveredAdvert) {
	a.send(event{kind: evtDiscovered, advert: advert})
}

func (a eventsAdapter) OnDeviceConnected(mac registry.MAC, mtu int, remoteIdentity meshid.Identity) {
	a.send(event{kind: evtConnected, mac: mac, mtu: mtu, remoteIdentity: remoteIdentity})
}

func (a eventsAdapter) OnDeviceDisconnected(mac registry.MAC) {
	a.send(event{kind: evtDisconnected, mac: mac})
}

func (a eventsAdapter) OnDataReceived(mac registry.MAC, data []byte) {
	a.send(event{kind: evtData, mac: mac, data: append([]byte(nil), data...)})
}

func (a eventsAdapter) OnConnectionFailed(mac registry.MAC, kind driver.FailureKind) {
	a.send(event{kind: evtConnFailed, mac: mac, failureKind: kind})
}

// scanInterval applies the power_mode multiplier to the configured
// scan_interval: aggressive scans at the configured rate, balanced at 2x,
// saver at 4x, trading discovery latency for radio duty cycle.
func (e *Engine) scanInterval() time.Duration {
	switch e.cfg.PowerMode {
	case config.PowerAggressive:
		return e.cfg.ScanInterval
	case config.PowerSaver:
		return e.cfg.ScanInterval * 4
	default:
		return e.cfg.ScanInterval * 2
	}
}

// Run starts the radio, begins advertising/scanning as configured, and
// blocks processing events until ctx is canceled, at which point it drains
// gracefully within cfg.ShutdownTimeout before returning.
func (e *Engine) Run(ctx context.Context) error {
	adapter := eventsAdapter{ctx: ctx, out: e.events}
	if err := e.drv.Start(ctx, adapter); err != nil {
		return fmt.Errorf("engine: start driver: %w", err)
	}
	if err := e.drv.SetIdentity(ctx, e.localIdentity.Bytes()); err != nil {
		return fmt.Errorf("engine: set identity: %w", err)
	}
	if e.cfg.EnablePeripheral {
		if err := e.drv.StartAdvertising(ctx, e.cfg.DeviceName); err != nil {
			log.WithError(err).Warn("failed to start advertising")
		}
	}

	scanTicker := time.NewTicker(e.scanInterval())
	defer scanTicker.Stop()
	cleanupTicker := time.NewTicker(e.cfg.CleanupSweepInterval)
	defer cleanupTicker.Stop()

	var coverC <-chan time.Time
	if e.cfg.CoverTraffic {
		coverTicker := time.NewTicker(coverTrafficInterval)
		defer coverTicker.Stop()
		coverC = coverTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case ev := <-e.events:
			e.handle(ev, time.Now())
		case <-scanTicker.C:
			e.handle(event{kind: evtScanTick}, time.Now())
		case <-cleanupTicker.C:
			e.handle(event{kind: evtCleanupTick}, time.Now())
		case <-coverC:
			e.handle(event{kind: evtCoverTrafficTick}, time.Now())
		}
	}
}

func (e *Engine) handle(ev event, now time.Time) {
	switch ev.kind {
	case evtDiscovered:
		e.reg.UpsertFromAdvert(ev.advert, now)
	case evtConnected:
		e.onConnected(ev, now)
	case evtDisconnected:
		if err := e.orch.Teardown(ev.mac, now); err != nil {
			log.WithField("mac", ev.mac).WithError(err).Debug("teardown on disconnect")
		}
	case evtData:
		e.onData(ev, now)
	case evtConnFailed:
		if err := e.orch.Fail(ev.mac, now); err != nil {
			log.WithField("mac", ev.mac).WithError(err).Debug("fail on connection failure")
		}
		if e.metrics != nil {
			e.metrics.DialFailed()
			if p, ok := e.reg.GetByMAC(ev.mac); ok && p.State == registry.Blacklisted {
				e.metrics.BlacklistEvent()
			}
		}
		e.drv.RemoveDevice(context.Background(), ev.mac)
	case evtScanTick:
		e.discoveryTick(now)
	case evtCleanupTick:
		e.cleanupSweep(now)
	case evtCoverTrafficTick:
		e.sendCoverTraffic()
	}
}

// sendCoverTraffic writes one random 32-byte decoy packet (two fragments at
// the default MTU, once the flag byte is added) to every Active peer so a
// passive observer can't distinguish idle nodes from ones exchanging real
// traffic by link activity alone. Gated behind cfg.CoverTraffic, off by
// default.
func (e *Engine) sendCoverTraffic() {
	decoy := make([]byte, 32)
	if _, err := rand.Read(decoy); err != nil {
		log.WithError(err).Debug("failed to generate cover traffic payload")
		return
	}
	ctx := context.Background()
	for _, p := range e.reg.IterCandidates(func(p *registry.Peer) bool { return p.State == registry.Active }) {
		wire, err := host.CompressOutgoing(decoy)
		if err != nil {
			continue
		}
		frags, err := fragment.Encode(wire, driver.DefaultMTU)
		if err != nil {
			continue
		}
		for _, f := range frags {
			_ = e.drv.Send(ctx, p.MAC, f.Marshal())
		}
	}
}

// onConnected transitions the link up and, for the central side, runs the
// identity confirmation and write-back half of the handshake. The
// peripheral side's half completes later, in onData, once the first
// 16-byte identity write arrives.
func (e *Engine) onConnected(ev event, now time.Time) {
	if err := e.orch.OnLinkUp(ev.mac, ev.mtu, now); err != nil {
		log.WithField("mac", ev.mac).WithError(err).Debug("link-up transition")
		return
	}

	_, central := e.initiated[ev.mac]
	if !central {
		return
	}

	var expected meshid.Identity
	if id, ok := e.reg.IdentityForMAC(ev.mac); ok {
		expected = id
	}
	if err := handshake.Confirm(expected, ev.remoteIdentity); err != nil {
		log.WithField("mac", ev.mac).Warn("remote identity mismatch, dropping link")
		_ = e.orch.Fail(ev.mac, now)
		_ = e.drv.Disconnect(context.Background(), ev.mac)
		return
	}

	idBytes := e.localIdentity.Bytes()
	if err := e.drv.Send(context.Background(), ev.mac, idBytes); err != nil {
		log.WithField("mac", ev.mac).WithError(err).Warn("failed to write local identity")
		return
	}

	if !ev.remoteIdentity.IsZero() {
		e.completeHandshake(ev.mac, ev.remoteIdentity, now)
	}
}

func (e *Engine) completeHandshake(mac registry.MAC, identity meshid.Identity, now time.Time) {
	if err := e.orch.CompleteHandshake(mac, identity, now); err != nil {
		log.WithField("mac", mac).WithError(err).Warn("failed to complete handshake")
		return
	}
	delete(e.initiated, mac)
	if e.metrics != nil {
		e.metrics.DialSucceeded()
	}
}

// onData routes an inbound RX payload: the first 16-byte write from a peer
// whose identity isn't yet known is the handshake; everything else is a
// fragment to feed into the peer's reassembly buffer.
func (e *Engine) onData(ev event, now time.Time) {
	if e.metrics != nil {
		e.metrics.BytesReceived(len(ev.data))
	}

	identity, known := e.reg.IdentityForMAC(ev.mac)

	if !known {
		det := handshake.Detect(false, ev.data)
		if det.IsHandshake {
			e.completeHandshake(ev.mac, det.Identity, now)
		} else {
			log.WithField("mac", ev.mac).Debug("dropped data from a peer with no bound identity")
		}
		return
	}

	f, err := fragment.Parse(ev.data)
	if err != nil {
		log.WithField("mac", ev.mac).WithError(err).Warn("unparseable fragment")
		return
	}

	outcome, packet, err := e.reasm.Feed(identity, f, now)
	if err != nil {
		log.WithField("mac", ev.mac).WithError(err).Warn("reassembly error, buffer dropped")
		if e.metrics != nil {
			e.metrics.ReassemblyError()
		}
		return
	}
	if outcome == fragment.Complete {
		plain, err := host.DecompressIncoming(packet)
		if err != nil {
			log.WithField("identity", identity.String()).WithError(err).Warn("dropped packet with unreadable compression flag")
			if e.metrics != nil {
				e.metrics.ReassemblyError()
			}
			return
		}
		if e.metrics != nil {
			e.metrics.PacketReassembled()
		}
		e.host.Inbound(host.NewHandle(identity), plain)
	}
}

// discoveryTick applies the scan gate (scanning and active connection
// initiation never overlap), then selects and dials into any free
// capacity.
func (e *Engine) discoveryTick(now time.Time) {
	ctx := context.Background()
	if e.orch.ConnectingSet().Len() > 0 {
		if err := e.drv.StopScanning(ctx); err != nil {
			log.WithError(err).Debug("stop scanning during scan gate")
		}
		return
	}
	if err := e.drv.StartScanning(ctx); err != nil {
		log.WithError(err).Warn("failed to (re)start scanning")
		return
	}

	activeCount := len(e.reg.IterCandidates(func(p *registry.Peer) bool {
		return p.State == registry.Active
	}))
	slots := e.cfg.MaxPeers - activeCount
	if slots <= 0 {
		return
	}

	candidates := e.reg.DiscoveredForDial()
	filters := selector.Filters{
		MinRSSI:          e.cfg.MinRSSI,
		ConnectRateLimit: e.cfg.ConnectRateLimit,
		ShouldInitiate:   arbiter.ShouldInitiate(e.localMAC),
	}
	chosen := selector.Select(candidates, slots, filters, now)

	for _, p := range chosen {
		ok, err := e.orch.BeginDial(p.MAC, now)
		if err != nil || !ok {
			continue
		}
		e.initiated[p.MAC] = struct{}{}
		if e.metrics != nil {
			e.metrics.DialAttempted()
		}
		go e.dial(p.MAC)
	}
}

// dial issues the blocking driver Connect call off the event loop, bounded
// by connection_timeout. The driver reports the outcome back through
// OnDeviceConnected or OnConnectionFailed, which re-enter the loop as
// ordinary events.
func (e *Engine) dial(mac registry.MAC) {
	trace := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ConnectionTimeout)
	defer cancel()
	log.WithField("mac", mac).WithField("trace", trace).Debug("dial attempt started")
	if err := e.drv.Connect(ctx, mac); err != nil {
		log.WithField("mac", mac).WithField("trace", trace).WithError(err).Debug("connect attempt ended")
	}
}

// cleanupSweep runs the 30-second maintenance pass: expired reassembly
// buffers, lapsed blacklists, and stale discovered-but-unseen peers.
func (e *Engine) cleanupSweep(now time.Time) {
	for _, id := range e.reasm.Sweep(now) {
		log.WithField("identity", id.String()).Debug("reassembly buffer expired")
	}
	e.orch.ExpireBlacklists(now)
	for _, p := range e.reg.StaleDiscovered(now, e.cfg.StalePeerInterval) {
		e.reg.Remove(p.Identity)
	}
}

// shutdown force-disconnects every Active peer, withdraws advertising and
// scanning, and releases the driver, bounded by cfg.ShutdownTimeout.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()

	for _, p := range e.reg.IterCandidates(func(p *registry.Peer) bool { return p.State == registry.Active }) {
		if err := e.drv.Disconnect(ctx, p.MAC); err != nil {
			log.WithField("mac", p.MAC).WithError(err).Warn("disconnect during shutdown failed")
		}
	}
	_ = e.drv.StopAdvertising(ctx)
	_ = e.drv.StopScanning(ctx)
	_ = e.drv.Stop(ctx)
}

// SendPacket fragments packet to peer's negotiated MTU and writes each
// fragment out. peer must currently be Active.
func (e *Engine) SendPacket(ctx context.Context, peer host.Handle, packet []byte) error {
	p, ok := e.reg.Get(peer.Identity())
	if !ok || p.State != registry.Active {
		return fmt.Errorf("engine: peer %s is not active", peer.Identity())
	}

	mtu := e.drv.PeerMTU(p.MAC)
	if mtu == 0 {
		mtu = driver.DefaultMTU
	}

	wirePacket, err := host.CompressOutgoing(packet)
	if err != nil {
		return fmt.Errorf("engine: compress packet: %w", err)
	}

	frags, err := fragment.Encode(wirePacket, mtu)
	if err != nil {
		return fmt.Errorf("engine: encode packet: %w", err)
	}
	for _, f := range frags {
		wire := f.Marshal()
		if err := e.drv.Send(ctx, p.MAC, wire); err != nil {
			return fmt.Errorf("engine: send fragment: %w", err)
		}
		if e.metrics != nil {
			e.metrics.BytesSent(len(wire))
		}
	}
	return nil
}
