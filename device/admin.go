package device

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/google/pprof/profile"

	"github.com/narwhal-systems/dedupvol/adminstate"
	"github.com/narwhal-systems/dedupvol/layout"
)

// Load brings the device up, per spec.md §6's load(NORMAL|RECOVERY|REBUILD).
// LoadNormal skips every slab whose in-memory summary entry says its
// reference counts need no reload; LoadRecovery and LoadRebuild process
// every slab. Processing a slab marks it replaying, commits the slab
// journal blocks it still holds in memory, and marks it rebuilt. Load
// reads nothing back from the backend: the recovery journal, the slab
// journals and the slab summary on disk are not replayed, so reference
// counts are not reconstructed from a previous run.
func (d *Device) Load(mode LoadMode) error {
	for _, s := range d.slabs {
		mustLoad := d.depot.Summary.MustLoadRefCounts(s.Number)
		if mode == LoadRebuild {
			mustLoad = true
		}
		if mode == LoadNormal && !mustLoad {
			continue
		}
		s.MarkReplaying()
		if err := s.Journal.CommitAll(); err != nil {
			return fmt.Errorf("device: load slab %d: %w", s.Number, err)
		}
		s.FinishScrubbing()
	}
	d.Log.WithField("mode", mode).Info("device loaded")
	return nil
}

// PrepareToAllocate opens every slab for allocation, the step between
// Load and serving write traffic (spec.md §6).
func (d *Device) PrepareToAllocate() {
	for _, s := range d.slabs {
		s.Open()
	}
}

// Drain quiesces the device per spec.md §6's
// drain(FLUSH|REBUILD|SUSPEND|SAVE): forces the recovery journal's
// open block durable, writes back every block-map page whose
// recovery-journal dependency is already reclaimed, commits every
// slab's pending journal entries, and persists the slab summary.
func (d *Device) Drain(mode DrainMode) error {
	target := adminstate.Flushing
	switch mode {
	case DrainSuspend:
		target = adminstate.Suspending
	case DrainSave:
		target = adminstate.Saving
	case DrainRebuild:
		target = adminstate.Scrubbing
	}
	if err := d.Admin.Transition(target); err != nil {
		return fmt.Errorf("device: drain: %w", err)
	}

	if err := d.journal.Flush(); err != nil {
		return fmt.Errorf("device: drain: flush journal: %w", err)
	}
	d.journal.ProcessReclaims()

	if err := d.drainDirtyBlockMapPages(); err != nil {
		return err
	}

	for _, s := range d.slabs {
		if err := s.Drain(); err != nil {
			return fmt.Errorf("device: drain slab %d: %w", s.Number, err)
		}
	}

	for i := 0; i < d.depot.SlabCount(); i++ {
		s := d.depot.Slab(uint32(i))
		d.depot.Summary.Update(s.Number, false, 0)
	}
	if err := d.depot.Summary.Save(d.dev); err != nil {
		return fmt.Errorf("device: drain: save slab summary: %w", err)
	}

	if err := d.dev.Flush(); err != nil {
		return fmt.Errorf("device: drain: flush backend: %w", err)
	}

	target = adminstate.NormalOperation
	if mode == DrainSave {
		target = adminstate.Saved
	}
	d.Log.WithField("mode", mode).Info("device drained")
	return d.Admin.Transition(target)
}

// Resume reverses Drain, per spec.md §6.
func (d *Device) Resume() error {
	if err := d.Admin.Transition(adminstate.Resuming); err != nil {
		return fmt.Errorf("device: resume: %w", err)
	}
	for _, s := range d.slabs {
		s.Open()
	}
	return d.Admin.Transition(adminstate.NormalOperation)
}

// PrepareToGrow is a placeholder for spec.md §6's prepare_to_grow:
// online capacity growth requires allocating and formatting new
// slabs ahead of UseNewSlabs committing them, which needs a live
// backend resize hook backend.Device doesn't expose. Recorded as an
// Open Question resolution in DESIGN.md: unsupported in this
// implementation, surfaced as an explicit error rather than silently
// doing nothing.
func (d *Device) PrepareToGrow(newSizeBlocks uint64) error {
	return fmt.Errorf("device: prepare_to_grow is unsupported: backend.Device has no resize operation")
}

// UseNewSlabs is the commit half of online growth; see PrepareToGrow.
func (d *Device) UseNewSlabs() error {
	return fmt.Errorf("device: use_new_slabs is unsupported: backend.Device has no resize operation")
}

// AbandonNewSlabs is the rollback half of online growth; a no-op is
// always safe since PrepareToGrow never allocates anything to abandon.
func (d *Device) AbandonNewSlabs() error {
	return nil
}

// drainDirtyBlockMapPages writes back every block-map page whose
// recovery-journal dependency has already been reclaimed, the
// happens-before ordering spec.md §5 requires between a block-map
// page write and the reclaim of the journal blocks that dirtied it.
func (d *Device) drainDirtyBlockMapPages() error {
	oldest := d.journal.OldestSequence()
	type dirtyPage struct {
		zone int
		page uint64
	}
	var ready []dirtyPage
	if err := d.blocks.ForEachDirtyPage(func(zone int, pageNumber uint64, point layout.JournalPoint) error {
		if point.SequenceNumber < oldest {
			ready = append(ready, dirtyPage{zone: zone, page: pageNumber})
		}
		return nil
	}); err != nil {
		return err
	}
	for _, p := range ready {
		if err := d.blocks.WriteBackPage(p.zone, p.page); err != nil {
			return err
		}
	}
	return nil
}

// Stats is a point-in-time snapshot of device health for the `stats`
// admin subcommand.
type Stats struct {
	SlabCount           int
	TotalFreeBlocks     uint64
	RecoveryJournalHead uint64
	RecoveryJournalTail uint64
	AdminState          string
}

// Stats gathers a Stats snapshot.
func (d *Device) Stats() Stats {
	var free uint64
	for i := 0; i < d.depot.SlabCount(); i++ {
		free += uint64(d.depot.Slab(uint32(i)).FreeBlockCount())
	}
	return Stats{
		SlabCount:           d.depot.SlabCount(),
		TotalFreeBlocks:     free,
		RecoveryJournalHead: d.journal.NextSequence(),
		RecoveryJournalTail: d.journal.OldestSequence(),
		AdminState:          d.Admin.Current().String(),
	}
}

// DumpProfile captures a short CPU profile plus a heap snapshot and
// merges them into one support-bundle profile.pb.gz, written to w.
func (d *Device) DumpProfile(w io.Writer, cpuDuration time.Duration) error {
	var cpuBuf bytes.Buffer
	if err := pprof.StartCPUProfile(&cpuBuf); err != nil {
		return fmt.Errorf("device: start cpu profile: %w", err)
	}
	time.Sleep(cpuDuration)
	pprof.StopCPUProfile()

	var heapBuf bytes.Buffer
	runtime.GC()
	if err := pprof.WriteHeapProfile(&heapBuf); err != nil {
		return fmt.Errorf("device: write heap profile: %w", err)
	}

	cpuProf, err := profile.Parse(&cpuBuf)
	if err != nil {
		return fmt.Errorf("device: parse cpu profile: %w", err)
	}
	heapProf, err := profile.Parse(&heapBuf)
	if err != nil {
		return fmt.Errorf("device: parse heap profile: %w", err)
	}

	merged, err := profile.Merge([]*profile.Profile{cpuProf, heapProf})
	if err != nil {
		return fmt.Errorf("device: merge profiles: %w", err)
	}
	return merged.Write(w)
}
