// Package config defines the engine's configuration surface and loads it
// from defaults, an optional YAML file, and environment variables, in
// that precedence order.
package config

import (
	"fmt"
	"time"

	"github.com/fatih/structs"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// PowerMode adjusts scan cadence and duty cycle.
type PowerMode string

const (
	PowerAggressive PowerMode = "aggressive"
	PowerBalanced   PowerMode = "balanced"
	PowerSaver      PowerMode = "saver"
)

// Config is the engine's full configuration surface.
type Config struct {
	MaxPeers               int           `koanf:"max_peers"`
	MaxDiscoveredPeers     int           `koanf:"max_discovered_peers"`
	ScanInterval           time.Duration `koanf:"scan_interval"`
	MinRSSI                int           `koanf:"min_rssi"`
	ServiceDiscoveryDelay  time.Duration `koanf:"service_discovery_delay"`
	ConnectionTimeout      time.Duration `koanf:"connection_timeout"`
	ConnectRateLimit       time.Duration `koanf:"connect_rate_limit"`
	MaxFailuresBeforeBlacklist int       `koanf:"max_failures_before_blacklist"`
	PowerMode              PowerMode     `koanf:"power_mode"`
	EnableCentral          bool          `koanf:"enable_central"`
	EnablePeripheral       bool          `koanf:"enable_peripheral"`
	DeviceName             string        `koanf:"device_name"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	ReassemblyTimeout time.Duration `koanf:"reassembly_timeout"`
	MaxInflightBytes  int           `koanf:"max_inflight_bytes"`
	CleanupSweepInterval time.Duration `koanf:"cleanup_sweep_interval"`
	StalePeerInterval    time.Duration `koanf:"stale_peer_interval"`
	CoverTraffic      bool          `koanf:"cover_traffic"`
	Debug             bool          `koanf:"debug"`
}

// Default returns a Config populated with every documented default.
func Default() Config {
	return Config{
		MaxPeers:                   7,
		MaxDiscoveredPeers:         100,
		ScanInterval:               5 * time.Second,
		MinRSSI:                    -85,
		ServiceDiscoveryDelay:      1500 * time.Millisecond,
		ConnectionTimeout:          30 * time.Second,
		ConnectRateLimit:           5 * time.Second,
		MaxFailuresBeforeBlacklist: 3,
		PowerMode:                  PowerBalanced,
		EnableCentral:              true,
		EnablePeripheral:           true,
		DeviceName:                 "",
		ShutdownTimeout:            10 * time.Second,
		ReassemblyTimeout:          30 * time.Second,
		MaxInflightBytes:           64 * 1024,
		CleanupSweepInterval:       30 * time.Second,
		StalePeerInterval:          10 * time.Minute,
		CoverTraffic:               false,
		Debug:                      false,
	}
}

// Load merges Default() with an optional YAML file and MESHCORE_-prefixed
// environment variables, validates the result, and returns it.
func Load(yamlPath string) (Config, error) {
	k := koanf.New(".")

	def := Default()
	if err := k.Load(structsProvider(def), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if yamlPath != "" {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", yamlPath, err)
		}
	}

	if err := k.Load(env.Provider("MESHCORE_", ".", envKeyMap), nil); err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envKeyMap(s string) string {
	// MESHCORE_MAX_PEERS -> max_peers
	const prefix = "MESHCORE_"
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		s = s[len(prefix):]
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r == '_' {
			out = append(out, '_')
			continue
		}
		out = append(out, byte(r+('a'-'A')))
	}
	return string(out)
}

// structsProvider adapts a Go struct into a koanf map provider using
// fatih/structs, so Default()'s field values seed the lowest-precedence
// layer without hand-written key/value wiring.
type mapProvider map[string]interface{}

func (m mapProvider) ReadBytes() ([]byte, error) { return nil, fmt.Errorf("not supported") }
func (m mapProvider) Read() (map[string]interface{}, error) { return m, nil }

func structsProvider(cfg Config) mapProvider {
	s := structs.New(cfg)
	s.TagName = "koanf"
	return mapProvider(s.Map())
}

// Validate enforces the configured bounds are sane.
func (c Config) Validate() error {
	type bound struct {
		name     string
		ok       bool
		message  string
	}
	bounds := []bound{
		{"max_peers", c.MaxPeers >= 1 && c.MaxPeers <= 10, "must be in [1,10]"},
		{"max_discovered_peers", c.MaxDiscoveredPeers >= 10 && c.MaxDiscoveredPeers <= 500, "must be in [10,500]"},
		{"scan_interval", c.ScanInterval >= time.Second && c.ScanInterval <= 60*time.Second, "must be in [1s,60s]"},
		{"min_rssi", c.MinRSSI >= -100 && c.MinRSSI <= -30, "must be in [-100,-30]"},
		{"service_discovery_delay", c.ServiceDiscoveryDelay >= 500*time.Millisecond && c.ServiceDiscoveryDelay <= 5*time.Second, "must be in [0.5s,5s]"},
		{"connection_timeout", c.ConnectionTimeout >= 10*time.Second && c.ConnectionTimeout <= 120*time.Second, "must be in [10s,120s]"},
		{"max_failures_before_blacklist", c.MaxFailuresBeforeBlacklist >= 1, "must be >= 1"},
	}
	for _, b := range bounds {
		if !b.ok {
			return fmt.Errorf("config: %s %s", b.name, b.message)
		}
	}
	switch c.PowerMode {
	case PowerAggressive, PowerBalanced, PowerSaver:
	default:
		return fmt.Errorf("config: power_mode %q is not one of aggressive|balanced|saver", c.PowerMode)
	}
	if len(c.DeviceName) > 8 {
		return fmt.Errorf("config: device_name must be <= 8 bytes to fit the advertisement budget")
	}
	return nil
}
