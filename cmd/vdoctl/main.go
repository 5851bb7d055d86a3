// Command vdoctl drives the admin surface (spec.md §6 / SPEC_FULL.md
// §10): load, drain, resume, grow, use-new-slabs, abandon-new-slabs,
// stats, and an optional /metrics server, grounded on
// talyz-systemd_exporter's kingpin-flag-driven main package — the
// pack's one complete flag-and-subcommand CLI.
//
// There is no persistent on-disk superblock describing slab geometry
// (spec.md leaves that format unspecified); each invocation
// reconstructs the layout from --size-blocks and the zone/slab-size
// flags. Load does not read the backing file's recovery journal, slab
// journals or slab summary, so reference counts and free-block counts
// start fresh on every invocation; block-map pages are read from the
// file when first touched.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/narwhal-systems/dedupvol/backend"
	"github.com/narwhal-systems/dedupvol/config"
	"github.com/narwhal-systems/dedupvol/dedupadvice"
	"github.com/narwhal-systems/dedupvol/device"
)

func main() {
	app := kingpin.New("vdoctl", "Admin CLI for a deduplicating, compressing block-storage volume.")

	devicePath := app.Flag("device", "Path to the backing file.").Required().String()
	sizeBlocks := app.Flag("size-blocks", "Total capacity of the backing file, in 4 KiB blocks.").Required().Uint64()
	advisorCapacity := app.Flag("advisor-capacity", "Fingerprint entries the in-memory dedupe advisor keeps.").Default("65536").Int()

	cfg := config.Default()
	config.Bind(app, &cfg)

	loadCmd := app.Command("load", "Bring the device up.")
	loadMode := loadCmd.Flag("mode", "normal, recovery, or rebuild.").Default("normal").Enum("normal", "recovery", "rebuild")

	drainCmd := app.Command("drain", "Quiesce the device.")
	drainMode := drainCmd.Flag("mode", "flush, rebuild, suspend, or save.").Default("flush").Enum("flush", "rebuild", "suspend", "save")

	app.Command("resume", "Reverse a prior drain.")

	growCmd := app.Command("grow", "Prepare to extend device capacity.")
	growSize := growCmd.Flag("new-size-blocks", "Target total capacity, in blocks.").Required().Uint64()

	app.Command("use-new-slabs", "Commit capacity prepared by grow.")
	app.Command("abandon-new-slabs", "Roll back a prepared grow.")

	app.Command("stats", "Print a point-in-time snapshot of device health.")

	profileCmd := app.Command("profile", "Capture a merged CPU+heap profile.")
	profileDuration := profileCmd.Flag("duration", "CPU sampling window.").Default("5s").Duration()
	profileOut := profileCmd.Flag("out", "Output path for the merged profile.").Default("vdoctl.pprof").String()

	app.Command("serve", "Load the device and serve /metrics until interrupted.")

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	dev, err := backend.OpenFile(*devicePath, *sizeBlocks)
	if err != nil {
		kingpin.Fatalf("open device: %v", err)
	}
	defer dev.Close()

	advisor := dedupadvice.NewMemoryAdvisor(*advisorCapacity)
	d, err := device.New(cfg, dev, advisor, *sizeBlocks)
	if err != nil {
		kingpin.Fatalf("construct device: %v", err)
	}
	defer d.Close()

	if err := d.Load(device.LoadNormal); err != nil {
		kingpin.Fatalf("load: %v", err)
	}
	d.PrepareToAllocate()

	switch cmd {
	case loadCmd.FullCommand():
		if err := d.Load(parseLoadMode(*loadMode)); err != nil {
			kingpin.Fatalf("load: %v", err)
		}
		fmt.Println("device loaded")

	case drainCmd.FullCommand():
		if err := d.Drain(parseDrainMode(*drainMode)); err != nil {
			kingpin.Fatalf("drain: %v", err)
		}
		fmt.Println("device drained")

	case "resume":
		if err := d.Resume(); err != nil {
			kingpin.Fatalf("resume: %v", err)
		}
		fmt.Println("device resumed")

	case growCmd.FullCommand():
		if err := d.PrepareToGrow(*growSize); err != nil {
			kingpin.Fatalf("grow: %v", err)
		}

	case "use-new-slabs":
		if err := d.UseNewSlabs(); err != nil {
			kingpin.Fatalf("use-new-slabs: %v", err)
		}

	case "abandon-new-slabs":
		if err := d.AbandonNewSlabs(); err != nil {
			kingpin.Fatalf("abandon-new-slabs: %v", err)
		}
		fmt.Println("prepared growth abandoned")

	case "stats":
		printStats(d.Stats())

	case profileCmd.FullCommand():
		f, err := os.Create(*profileOut)
		if err != nil {
			kingpin.Fatalf("profile: %v", err)
		}
		defer f.Close()
		if err := d.DumpProfile(f, *profileDuration); err != nil {
			kingpin.Fatalf("profile: %v", err)
		}
		fmt.Printf("wrote merged profile to %s\n", *profileOut)

	case "serve":
		serveMetrics(d, cfg.MetricsAddr)
	}
}

func parseLoadMode(s string) device.LoadMode {
	switch s {
	case "recovery":
		return device.LoadRecovery
	case "rebuild":
		return device.LoadRebuild
	default:
		return device.LoadNormal
	}
}

func parseDrainMode(s string) device.DrainMode {
	switch s {
	case "rebuild":
		return device.DrainRebuild
	case "suspend":
		return device.DrainSuspend
	case "save":
		return device.DrainSave
	default:
		return device.DrainFlush
	}
}

func printStats(s device.Stats) {
	fmt.Printf("admin state:       %s\n", s.AdminState)
	fmt.Printf("slabs:              %d\n", s.SlabCount)
	fmt.Printf("free blocks:        %d\n", s.TotalFreeBlocks)
	fmt.Printf("journal head (seq): %d\n", s.RecoveryJournalHead)
	fmt.Printf("journal tail (seq): %d\n", s.RecoveryJournalTail)
}

func serveMetrics(d *device.Device, addr string) {
	if addr == "" {
		kingpin.Fatalf("serve: --metrics-addr is empty; set it to an address to listen on")
	}

	reg := prometheus.NewRegistry()
	d.Metrics.Register(reg)
	reg.MustRegister(d.DepotMetrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			kingpin.Fatalf("serve: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	fmt.Printf("serving /metrics on %s (ctrl-c to stop)\n", addr)
	<-sig
	srv.Close()
}
