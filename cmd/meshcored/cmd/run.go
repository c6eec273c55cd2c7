package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/permissionlesstech/meshcore/internal/config"
	"github.com/permissionlesstech/meshcore/internal/driver/bluez"
	"github.com/permissionlesstech/meshcore/internal/engine"
	"github.com/permissionlesstech/meshcore/internal/host"
	"github.com/permissionlesstech/meshcore/internal/meshlog"
	"github.com/permissionlesstech/meshcore/internal/metrics"
	"github.com/permissionlesstech/meshcore/internal/orchestrator"
	"github.com/permissionlesstech/meshcore/internal/reassembly"
	"github.com/permissionlesstech/meshcore/internal/registry"
	"github.com/permissionlesstech/meshcore/pkg/meshid"
)

var log = meshlog.For("meshcored")

var adapterID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the mesh engine in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	runCmd.Flags().StringVar(&adapterID, "adapter", "hci0", "local BlueZ adapter id")
}

func runDaemon() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	meshlog.SetLevel(cfg.Debug)

	identity, err := randomIdentity()
	if err != nil {
		return fmt.Errorf("generate local identity: %w", err)
	}
	localMAC, err := randomMAC()
	if err != nil {
		return fmt.Errorf("generate local mac: %w", err)
	}

	log.WithField("identity", identity.String()).WithField("mac", localMAC.String()).Info("starting mesh engine")

	h := host.NewInProcess(identity, localMAC)
	reg := registry.New(cfg.MaxDiscoveredPeers)
	reasm := reassembly.New(
		reassembly.WithTimeout(cfg.ReassemblyTimeout),
		reassembly.WithMaxInflightBytes(cfg.MaxInflightBytes),
	)
	orch := orchestrator.New(reg, reasm, h, orchestrator.Config{
		MaxFailuresBeforeBlacklist: cfg.MaxFailuresBeforeBlacklist,
		ConnectRateLimit:           cfg.ConnectRateLimit,
	})
	counters := metrics.New()
	drv := bluez.New(adapterID)
	eng := engine.New(cfg, drv, reg, orch, reasm, h, engine.WithMetrics(counters))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigC
		log.WithField("signal", sig).Info("shutting down")
		cancel()
	}()

	go drainEvents(h)

	return eng.Run(ctx)
}

// drainEvents logs peer lifecycle notifications and inbound packets so the
// foreground daemon is observable without a separate host stack attached.
func drainEvents(h *host.InProcess) {
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return
			}
			if ev.Gone {
				log.WithField("identity", ev.Identity.String()).Info("peer gone")
			} else {
				log.WithField("identity", ev.Identity.String()).Info("peer appeared")
			}
		case pkt, ok := <-h.Inboxes():
			if !ok {
				return
			}
			log.WithField("identity", pkt.Peer.Identity().String()).
				WithField("bytes", len(pkt.Packet)).
				Debug("inbound packet")
		}
	}
}

func randomIdentity() (meshid.Identity, error) {
	var b [meshid.Size]byte
	if _, err := rand.Read(b[:]); err != nil {
		return meshid.Identity{}, err
	}
	return meshid.FromBytes(b[:])
}

func randomMAC() (registry.MAC, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	var mac registry.MAC
	for _, v := range b {
		mac = mac<<8 | registry.MAC(v)
	}
	return mac, nil
}
