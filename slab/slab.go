// Package slab implements a single slab: the fixed-size physical-block
// range, its saturating reference counts, its append-only slab
// journal, and its admin-state sub-machine (spec.md §4.3).
package slab

import (
	"fmt"

	"github.com/narwhal-systems/dedupvol/adminstate"
	"github.com/narwhal-systems/dedupvol/layout"
	"github.com/narwhal-systems/dedupvol/refcount"
)

// Slab owns physical blocks [Start, End) and the bookkeeping to track
// how many logical mappings reference each of them.
type Slab struct {
	Number uint32
	Start  uint64
	End    uint64

	RefCounts *refcount.Counts
	Journal   *Journal
	Admin     *adminstate.Machine

	status RebuildStatus
}

// New constructs a Slab spanning [start, start+blockCount), with a
// fresh slab journal committing via commit and starting in admin
// state from (New for a freshly formatted slab, Loading when recovered
// from an existing on-disk image).
func New(number uint32, start uint64, blockCount uint32, entriesPerJournalBlock int, commit CommitFunc, from adminstate.State) *Slab {
	return &Slab{
		Number:    number,
		Start:     start,
		End:       start + uint64(blockCount),
		RefCounts: refcount.New(blockCount),
		Journal:   NewJournal(entriesPerJournalBlock, commit),
		Admin:     adminstate.NewSlabMachine(from),
		status:    Rebuilt,
	}
}

// Status reports the slab's rebuild status.
func (s *Slab) Status() RebuildStatus { return s.status }

// MarkReplaying transitions a rebuilt slab into Replaying, for
// recovery-journal replay after a crash; any other status is left
// untouched, matching the teacher's guard that only a rebuilt slab can
// start replaying.
func (s *Slab) MarkReplaying() {
	if s.status == Rebuilt {
		s.status = Replaying
	}
}

// MarkUnrecovered forces the slab into RequiresScrubbing, used when a
// crash is detected before the slab's reference counts were known
// good.
func (s *Slab) MarkUnrecovered() {
	s.status = RequiresScrubbing
}

// FinishScrubbing restores Rebuilt status once journal replay into the
// reference counts has completed.
func (s *Slab) FinishScrubbing() {
	s.status = Rebuilt
}

// IsUnrecovered reports whether the slab's in-memory reference counts
// cannot yet be trusted for allocation.
func (s *Slab) IsUnrecovered() bool {
	switch s.status {
	case RequiresScrubbing, RequiresHighPriorityScrubbing, Rebuilding:
		return true
	default:
		return false
	}
}

// indexOf converts an absolute physical block number into this slab's
// local reference-count index, failing if pbn falls outside the slab.
func (s *Slab) indexOf(pbn uint64) (uint32, error) {
	if pbn < s.Start || pbn >= s.End {
		return 0, fmt.Errorf("slab %d: pbn %d out of range [%d, %d)", s.Number, pbn, s.Start, s.End)
	}
	return uint32(pbn - s.Start), nil
}

// ModifyReferenceCount applies a slab-journal-logged reference count
// change at pbn. If the slab is unrecovered, the in-memory reference
// counts are left untouched (scrubbing will derive the true count from
// the journal) and only the journal's block-reference bookkeeping is
// adjusted, mirroring modify_slab_reference_count's unrecovered path.
func (s *Slab) ModifyReferenceCount(pbn uint64, op layout.SlabJournalOperation, point layout.JournalPoint) (freeChanged bool, err error) {
	index, err := s.indexOf(pbn)
	if err != nil {
		return false, err
	}

	if s.IsUnrecovered() {
		s.Journal.AdjustBlockReference(point.SequenceNumber, -1)
		return false, nil
	}

	switch op {
	case layout.SlabJournalIncrement:
		freeChanged = s.RefCounts.Increment(index, point)
	case layout.SlabJournalDecrement:
		freeChanged = s.RefCounts.Decrement(index, point)
	default:
		return false, fmt.Errorf("slab %d: unknown slab journal operation %d", s.Number, op)
	}

	s.Journal.AddEntry(layout.SlabJournalEntry{
		Operation:        op,
		SlabBlockNumber:  index,
		JournalSeqNumber: point.SequenceNumber,
	})
	return freeChanged, nil
}

// AcquireProvisionalReference claims pbn for an allocation that hasn't
// yet committed a recovery-journal entry, without logging a slab
// journal entry (provisional claims are speculative; a later increment
// or a drop makes them durable or undoes them).
func (s *Slab) AcquireProvisionalReference(pbn uint64) error {
	index, err := s.indexOf(pbn)
	if err != nil {
		return err
	}
	return s.RefCounts.ProvisionalClaim(index)
}

// ReleaseProvisionalReference undoes a provisional claim at pbn that
// never committed a durable reference, returning the block to free.
func (s *Slab) ReleaseProvisionalReference(pbn uint64) error {
	index, err := s.indexOf(pbn)
	if err != nil {
		return err
	}
	s.RefCounts.ReleaseProvisional(index)
	return nil
}

// CommitProvisionalAllocation converts pbn's provisional claim into its
// first durable reference and logs the increment in the slab journal,
// called once the recovery-journal entry recording the allocation is
// itself durable (spec.md §4.8 step 9-10's "set PROVISIONAL refcount"
// followed later by the committed delta).
func (s *Slab) CommitProvisionalAllocation(pbn uint64, point layout.JournalPoint) error {
	index, err := s.indexOf(pbn)
	if err != nil {
		return err
	}
	if s.IsUnrecovered() {
		s.Journal.AdjustBlockReference(point.SequenceNumber, -1)
		return nil
	}
	if err := s.RefCounts.CommitProvisionalReference(index); err != nil {
		return err
	}
	s.Journal.AddEntry(layout.SlabJournalEntry{
		Operation:        layout.SlabJournalIncrement,
		SlabBlockNumber:  index,
		JournalSeqNumber: point.SequenceNumber,
	})
	return nil
}

// IsProvisionalAllocation reports whether pbn's reference count byte is
// still the provisional sentinel — true for a block no write has yet
// committed a durable reference to. Callers on a slab's owning
// physical zone use this to decide, at the moment they actually run
// rather than at the moment they were scheduled, whether their
// reference is the one that converts the claim (CommitProvisionalAllocation)
// or an additional one sharing an already-committed block
// (ModifyReferenceCount with SlabJournalIncrement) — the only way to
// get that decision right when multiple writers race to reference the
// same freshly allocated block (e.g. a packer bin's shared fragment
// block), since the zone serializes their calls but not the order in
// which they arrive.
func (s *Slab) IsProvisionalAllocation(pbn uint64) (bool, error) {
	index, err := s.indexOf(pbn)
	if err != nil {
		return false, err
	}
	return s.RefCounts.IsProvisional(index), nil
}

// AllocateNextFree finds and provisionally claims the next free block
// in the slab, returning its absolute physical block number.
func (s *Slab) AllocateNextFree() (pbn uint64, ok bool) {
	index, ok := s.RefCounts.AllocateNextFree()
	if !ok {
		return 0, false
	}
	return s.Start + uint64(index), true
}

// FreeBlockCount reports how many blocks in the slab are unreferenced.
func (s *Slab) FreeBlockCount() uint32 {
	return s.RefCounts.FreeBlocks()
}

// Open is the step that readies a slab to serve allocations. It
// changes no slab state: a blank slab and one whose journal already
// holds committed state are treated alike.
func (s *Slab) Open() {
	_ = s.Journal.IsBlank() // reserved for a future dirty-all-blocks hook once ref-count pages are persisted
}

// ShouldSaveFullyBuiltSlab reports whether this slab has any state
// worth persisting: the slab summary says its ref counts must be
// loaded, it has live references, or its journal has pending entries.
func (s *Slab) ShouldSaveFullyBuiltSlab(mustLoadRefCounts bool, dataBlocks uint32) bool {
	return mustLoadRefCounts || s.FreeBlockCount() != dataBlocks || !s.Journal.IsBlank()
}

// Drain commits all pending slab-journal entries and transitions the
// slab's admin-state machine into Draining then Quiescent. Reference
// counts have no separate drain step in this implementation since they
// are held entirely in memory until a page-cache layer is added.
func (s *Slab) Drain() error {
	if err := s.Admin.Transition(adminstate.Draining); err != nil {
		return err
	}
	if err := s.Journal.CommitAll(); err != nil {
		return err
	}
	return s.Admin.Transition(adminstate.Quiescent)
}
