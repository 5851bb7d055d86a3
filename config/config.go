// Package config defines the device's configuration surface and binds
// it to command-line flags, grounded on limits.Syslimit_t's plain
// constant-table shape (one struct holding every tunable system limit)
// and on the one complete flag-driven teacher-pack daemon's choice of
// kingpin for parsing.
package config

import (
	"fmt"
	"time"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

// Config holds every tunable governing how a device is constructed,
// mirroring spec.md §9's configuration surface: slab geometry, zone
// counts, the packer's bin timeout, and the admission-control depths
// guarding concurrent requests and discards.
type Config struct {
	SlabSizeBlocks   uint32
	LogicalZones     int
	PhysicalZones    int
	PackerBinTimeout time.Duration
	MaxConcurrentOps int
	DiscardLimit     int
	ZoneInboxDepth   int
	MetricsAddr      string
}

// Default returns the configuration a freshly formatted device starts
// with absent any flags.
func Default() Config {
	return Config{
		SlabSizeBlocks:   1 << 15, // 32768 blocks per slab
		LogicalZones:     4,
		PhysicalZones:    4,
		PackerBinTimeout: 100 * time.Millisecond,
		MaxConcurrentOps: 256,
		DiscardLimit:     64,
		ZoneInboxDepth:   32,
		MetricsAddr:      "",
	}
}

// Bind registers app's flags, backed by the fields of cfg, which
// starts out holding Default()'s values as the flags' defaults. Call
// app.Parse(args) after Bind to populate cfg from argv.
func Bind(app *kingpin.Application, cfg *Config) {
	app.Flag("slab-size-blocks", "Number of physical blocks per slab.").
		Default(fmt.Sprint(cfg.SlabSizeBlocks)).Uint32Var(&cfg.SlabSizeBlocks)
	app.Flag("logical-zones", "Number of logical zones (LBN address space shards).").
		Default(fmt.Sprint(cfg.LogicalZones)).IntVar(&cfg.LogicalZones)
	app.Flag("physical-zones", "Number of physical zones (PBN address space shards).").
		Default(fmt.Sprint(cfg.PhysicalZones)).IntVar(&cfg.PhysicalZones)
	app.Flag("packer-bin-timeout", "Idle time before the packer force-flushes a partially full bin.").
		Default(cfg.PackerBinTimeout.String()).DurationVar(&cfg.PackerBinTimeout)
	app.Flag("max-concurrent-ops", "Maximum data VIOs admitted to the write pipeline at once.").
		Default(fmt.Sprint(cfg.MaxConcurrentOps)).IntVar(&cfg.MaxConcurrentOps)
	app.Flag("discard-limit", "Maximum concurrent discard sub-operations.").
		Default(fmt.Sprint(cfg.DiscardLimit)).IntVar(&cfg.DiscardLimit)
	app.Flag("zone-inbox-depth", "Per-zone completion inbox depth.").
		Default(fmt.Sprint(cfg.ZoneInboxDepth)).IntVar(&cfg.ZoneInboxDepth)
	app.Flag("metrics-addr", "Address to serve /metrics on; empty disables it.").
		Default(cfg.MetricsAddr).StringVar(&cfg.MetricsAddr)
}

// Validate reports a descriptive error for any configuration value
// that would make a device impossible to construct.
func (c Config) Validate() error {
	if c.SlabSizeBlocks == 0 {
		return fmt.Errorf("config: slab-size-blocks must be positive")
	}
	if c.LogicalZones <= 0 {
		return fmt.Errorf("config: logical-zones must be positive")
	}
	if c.PhysicalZones <= 0 {
		return fmt.Errorf("config: physical-zones must be positive")
	}
	if c.MaxConcurrentOps <= 0 {
		return fmt.Errorf("config: max-concurrent-ops must be positive")
	}
	if c.DiscardLimit <= 0 {
		return fmt.Errorf("config: discard-limit must be positive")
	}
	if c.ZoneInboxDepth <= 0 {
		return fmt.Errorf("config: zone-inbox-depth must be positive")
	}
	return nil
}
