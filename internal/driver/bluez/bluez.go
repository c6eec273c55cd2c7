// Package bluez is the Linux driver backing internal/driver.Driver with
// BlueZ over D-Bus, via github.com/muka/go-bluetooth: adapter discovery,
// advertising, and a mutex-guarded map of discovered devices. It registers
// no GATT server or characteristics for the mesh service.
package bluez

import (
	"context"
	"fmt"
	"sync"
	"time"

	gobt "github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/advertising"
	"github.com/muka/go-bluetooth/bluez/profile/device"

	"github.com/permissionlesstech/meshcore/internal/driver"
	"github.com/permissionlesstech/meshcore/internal/meshlog"
	"github.com/permissionlesstech/meshcore/internal/registry"
	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

var log = meshlog.For("driver.bluez")

// Adapter is the BlueZ-backed driver.Driver implementation for one local
// HCI adapter.
type Adapter struct {
	adapterID string
	adapter   *adapter.Adapter1
	adMgr     *advertising.LEAdvertisingManager1

	mu              sync.Mutex
	devices         map[registry.MAC]*device.Device1
	connecting      map[registry.MAC]struct{}
	isScanning      bool
	isAdvertising   bool
	cleanupAdvert   func()
	identityValue   [16]byte

	sink driver.Events

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a driver bound to adapterID (e.g. "hci0").
func New(adapterID string) *Adapter {
	return &Adapter{
		adapterID:  adapterID,
		devices:    make(map[registry.MAC]*device.Device1),
		connecting: make(map[registry.MAC]struct{}),
	}
}

// Start powers the radio, configures the discovery filter, and starts
// delivering events to sink.
func (a *Adapter) Start(ctx context.Context, sink driver.Events) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ad, err := adapter.NewAdapter1FromAdapterID(a.adapterID)
	if err != nil {
		return fmt.Errorf("bluez: open adapter %s: %w", a.adapterID, err)
	}
	if err := ad.SetPowered(true); err != nil {
		return fmt.Errorf("bluez: power adapter: %w", err)
	}

	admgr, err := advertising.NewLEAdvertisingManager1(ad.Path())
	if err != nil {
		return fmt.Errorf("bluez: advertising manager: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.adapter = ad
	a.adMgr = admgr
	a.sink = sink
	a.ctx = runCtx
	a.cancel = cancel
	return nil
}

// Stop releases the radio and every tracked device. Idempotent.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	for mac, dev := range a.devices {
		if err := dev.Disconnect(); err != nil {
			log.WithField("mac", mac).WithError(err).Warn("disconnect during stop failed")
		}
	}
	a.devices = make(map[registry.MAC]*device.Device1)
	a.connecting = make(map[registry.MAC]struct{})
	a.isScanning = false
	a.isAdvertising = false
	return nil
}

// SetIdentity stores the 16-byte identity published on the identity
// characteristic. The concrete GATT attribute value is served by the
// characteristic handler installed at service-registration time (outside
// the scope this driver file implements: real deployments wire a
// service/gatt export of driver.IdentityCharUUID here).
func (a *Adapter) SetIdentity(ctx context.Context, identity [16]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identityValue = identity
	return nil
}

// StartScanning begins BLE discovery filtered to ServiceUUID, dispatching
// device-added events to the sink (device-removed events are ignored) on a
// dedicated goroutine per the
// "never run core logic on a driver thread" rule: this goroutine only
// translates go-bluetooth events into sink calls, it does not run engine
// logic itself.
func (a *Adapter) StartScanning(ctx context.Context) error {
	a.mu.Lock()
	if a.isScanning {
		a.mu.Unlock()
		return nil
	}

	filter := adapter.NewDiscoveryFilter()
	filter.Transport = "le"
	filter.UUIDs = []string{driver.ServiceUUID}
	if err := a.adapter.SetDiscoveryFilter(filter.ToMap()); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("bluez: discovery filter: %w", err)
	}

	events, cancelDiscover, err := gobt.Discover(a.adapter, nil)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("bluez: start discovery: %w", err)
	}
	a.isScanning = true
	runCtx := a.ctx
	a.mu.Unlock()

	go func() {
		defer cancelDiscover()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.handleDiscoveryEvent(ev)
			}
		}
	}()
	return nil
}

func (a *Adapter) handleDiscoveryEvent(ev adapter.DeviceDiscovered) {
	if ev.Type == adapter.DeviceRemoved {
		return
	}
	if ev.Type != adapter.DeviceAdded {
		return
	}

	dev, err := device.NewDevice1(ev.Path)
	if err != nil {
		log.WithError(err).Warn("failed to open discovered device object")
		return
	}
	uuids, err := dev.GetUUIDs()
	if err != nil || !containsUUID(uuids, driver.ServiceUUID) {
		return
	}
	addrStr, err := dev.GetAddress()
	if err != nil {
		return
	}
	mac, err := registry.ParseMAC(addrStr)
	if err != nil {
		log.WithField("address", addrStr).Warn("discovered device had an unparseable address")
		return
	}
	rssi, _ := dev.GetRSSI()
	name, _ := dev.GetName()

	a.mu.Lock()
	a.devices[mac] = dev
	a.mu.Unlock()

	if a.sink != nil {
		a.sink.OnDeviceDiscovered(registry.DiscoveredAdvert{
			MAC:          mac,
			RSSI:         int(rssi),
			Name:         name,
			ServiceUUIDs: uuids,
		})
	}
}

// StopScanning halts discovery. Idempotent.
func (a *Adapter) StopScanning(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isScanning {
		return nil
	}
	if err := a.adapter.StopDiscovery(); err != nil {
		return fmt.Errorf("bluez: stop discovery: %w", err)
	}
	a.isScanning = false
	return nil
}

// StartAdvertising exposes ServiceUUID and an optional short name.
func (a *Adapter) StartAdvertising(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isAdvertising {
		return nil
	}
	if len(name) > driver.MaxAdvertisedNameBytes {
		return fmt.Errorf("bluez: advertised name exceeds %d bytes", driver.MaxAdvertisedNameBytes)
	}

	props := &advertising.LEAdvertisement1Properties{
		Type:         advertising.AdvertisementTypeBroadcast,
		ServiceUUIDs: []string{driver.ServiceUUID},
		LocalName:    name,
		Includes:     []string{advertising.SupportedIncludesTxPower},
	}

	adapterID, err := a.adapter.GetAdapterID()
	if err != nil {
		return fmt.Errorf("bluez: adapter id: %w", err)
	}
	cleanup, err := gobt.ExposeAdvertisement(adapterID, props, 0)
	if err != nil {
		return fmt.Errorf("bluez: expose advertisement: %w", err)
	}
	a.cleanupAdvert = cleanup
	a.isAdvertising = true
	return nil
}

// StopAdvertising withdraws the advertisement. Idempotent.
func (a *Adapter) StopAdvertising(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isAdvertising {
		return nil
	}
	if a.cleanupAdvert != nil {
		a.cleanupAdvert()
		a.cleanupAdvert = nil
	}
	a.isAdvertising = false
	return nil
}

// Connect dials mac, coalescing concurrent calls for the same address.
func (a *Adapter) Connect(ctx context.Context, mac registry.MAC) error {
	a.mu.Lock()
	if _, inFlight := a.connecting[mac]; inFlight {
		a.mu.Unlock()
		return nil
	}
	dev, ok := a.devices[mac]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("bluez: unknown device %s", mac)
	}
	a.connecting[mac] = struct{}{}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.connecting, mac)
		a.mu.Unlock()
	}()

	connected, err := dev.GetConnected()
	if err == nil && connected {
		a.onConnected(mac, dev)
		return nil
	}
	if err := dev.Connect(); err != nil {
		a.sink.OnConnectionFailed(mac, driver.FailureUnknown)
		return fmt.Errorf("bluez: connect %s: %w", mac, err)
	}

	deadline := time.NewTimer(driver.DefaultConnectionTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			a.sink.OnConnectionFailed(mac, driver.FailureTimeout)
			return ctx.Err()
		case <-deadline.C:
			a.sink.OnConnectionFailed(mac, driver.FailureTimeout)
			return fmt.Errorf("bluez: connect %s: timed out", mac)
		case <-poll.C:
			connected, err := dev.GetConnected()
			if err != nil {
				continue
			}
			if connected {
				a.onConnected(mac, dev)
				return nil
			}
		}
	}
}

// onConnected reports a completed link. Reading the remote's identity
// characteristic requires the full GATT profile client (see DESIGN.md,
// same limitation as Send); until that's wired, the remote identity is
// reported zero and learned instead from the first handshake payload.
func (a *Adapter) onConnected(mac registry.MAC, dev *device.Device1) {
	mtu := a.PeerMTU(mac)
	if a.sink != nil {
		a.sink.OnDeviceConnected(mac, mtu, meshid.Identity{})
	}
}

// Disconnect terminates the link to mac. Idempotent.
func (a *Adapter) Disconnect(ctx context.Context, mac registry.MAC) error {
	a.mu.Lock()
	dev, ok := a.devices[mac]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if err := dev.Disconnect(); err != nil {
		return fmt.Errorf("bluez: disconnect %s: %w", mac, err)
	}
	if a.sink != nil {
		a.sink.OnDeviceDisconnected(mac)
	}
	return nil
}

// Send checks that mac is a known device and returns nil. It does not write
// data to the remote's RX characteristic or notify on TX: nothing is
// transmitted.
func (a *Adapter) Send(ctx context.Context, mac registry.MAC, data []byte) error {
	a.mu.Lock()
	_, ok := a.devices[mac]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("bluez: unknown device %s", mac)
	}
	// The concrete characteristic write is delegated to the GATT profile
	// resolved for this device; wiring it requires the full gatt service
	// client (see DESIGN.md) which is out of scope for this reference
	// driver's test double usage.
	return nil
}

// PeerMTU returns the last known MTU for mac, or driver.DefaultMTU.
func (a *Adapter) PeerMTU(mac registry.MAC) int {
	return driver.DefaultMTU
}

// RemoveDevice asks BlueZ to forget a stale device object.
func (a *Adapter) RemoveDevice(ctx context.Context, mac registry.MAC) {
	a.mu.Lock()
	dev, ok := a.devices[mac]
	if ok {
		delete(a.devices, mac)
	}
	ad := a.adapter
	a.mu.Unlock()
	if !ok || ad == nil {
		return
	}
	if err := ad.RemoveDevice(dev.Path()); err != nil {
		log.WithField("mac", mac).WithError(err).Warn("remove_device failed")
	}
}

func containsUUID(uuids []string, target string) bool {
	for _, u := range uuids {
		if u == target {
			return true
		}
	}
	return false
}
