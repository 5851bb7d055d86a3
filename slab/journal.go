package slab

import (
	"container/list"
	"sync"

	"github.com/narwhal-systems/dedupvol/layout"
)

// CommitFunc durably writes one slab-journal block's entries. A real
// device implementation packs them with layout.PackSlabJournalEntry
// and hands the buffer to a backend.Device; tests can stub it.
type CommitFunc func(entries []layout.SlabJournalEntry) error

type journalBlock struct {
	entries []layout.SlabJournalEntry
	locks   map[uint64]int // recovery-journal sequence number -> entry count in this block
}

// Journal is a slab's append-only, lazily-committed ring of reference
// count deltas (spec.md §4.3). It is built on container/list the same
// way the teacher's BlkList_t rings pending blocks, rather than a
// fixed-size circular array, since the number of outstanding
// uncommitted tail blocks is small and unbounded growth is itself a
// bug worth a `container/list` length check rather than silent wraparound.
type Journal struct {
	mu         sync.Mutex
	blocks     *list.List // oldest (already-open tail) at Front, newest at Back
	capacity   int        // entries per block
	lockCounts map[uint64]int
	commit     CommitFunc
	everUsed   bool
}

// NewJournal constructs an empty Journal whose blocks hold up to
// entriesPerBlock entries each, calling commit to durably write a
// block's entries when it is flushed.
func NewJournal(entriesPerBlock int, commit CommitFunc) *Journal {
	return &Journal{
		blocks:     list.New(),
		capacity:   entriesPerBlock,
		lockCounts: make(map[uint64]int),
		commit:     commit,
	}
}

// AddEntry appends a reference-count delta to the journal's current
// tail block, opening a new block if the tail is full or absent.
func (j *Journal) AddEntry(e layout.SlabJournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.everUsed = true
	var blk *journalBlock
	if back := j.blocks.Back(); back != nil {
		candidate := back.Value.(*journalBlock)
		if len(candidate.entries) < j.capacity {
			blk = candidate
		}
	}
	if blk == nil {
		blk = &journalBlock{locks: make(map[uint64]int)}
		j.blocks.PushBack(blk)
	}
	blk.entries = append(blk.entries, e)
	blk.locks[e.JournalSeqNumber]++
	j.lockCounts[e.JournalSeqNumber]++
}

// AdjustBlockReference adjusts, by delta, the count of journal entries
// that reference recovery-journal block seq, used when an unrecovered
// slab preserves its on-disk state instead of replaying it in memory
// (original_source/vdo/slab.c's adjust_slab_journal_block_reference
// call from an unrecovered modify_slab_reference_count).
func (j *Journal) AdjustBlockReference(seq uint64, delta int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lockCounts[seq] += delta
	if j.lockCounts[seq] <= 0 {
		delete(j.lockCounts, seq)
	}
}

// CommitOldestTailBlocksLocking durably writes tail blocks, oldest
// first, until one holding an entry that locks recoveryBlock has been
// committed (or the journal runs dry). This is how the recovery
// journal forces a slab to release its hold on one of its blocks.
func (j *Journal) CommitOldestTailBlocksLocking(recoveryBlock uint64) error {
	for {
		j.mu.Lock()
		front := j.blocks.Front()
		if front == nil {
			j.mu.Unlock()
			return nil
		}
		blk := front.Value.(*journalBlock)
		entries := append([]layout.SlabJournalEntry(nil), blk.entries...)
		j.mu.Unlock()

		if j.commit != nil {
			if err := j.commit(entries); err != nil {
				return err
			}
		}

		j.mu.Lock()
		j.blocks.Remove(front)
		held := blk.locks[recoveryBlock] > 0
		for seq, count := range blk.locks {
			j.lockCounts[seq] -= count
			if j.lockCounts[seq] <= 0 {
				delete(j.lockCounts, seq)
			}
		}
		j.mu.Unlock()

		if held {
			return nil
		}
	}
}

// CommitAll forces every outstanding tail block durable, in order,
// used when draining a slab.
func (j *Journal) CommitAll() error {
	for {
		j.mu.Lock()
		front := j.blocks.Front()
		if front == nil {
			j.mu.Unlock()
			return nil
		}
		blk := front.Value.(*journalBlock)
		entries := append([]layout.SlabJournalEntry(nil), blk.entries...)
		j.mu.Unlock()

		if j.commit != nil {
			if err := j.commit(entries); err != nil {
				return err
			}
		}

		j.mu.Lock()
		j.blocks.Remove(front)
		for seq, count := range blk.locks {
			j.lockCounts[seq] -= count
			if j.lockCounts[seq] <= 0 {
				delete(j.lockCounts, seq)
			}
		}
		j.mu.Unlock()
	}
}

// IsBlank reports whether the journal has never held an entry, used to
// decide whether opening the slab should dirty every reference-count
// block (a truly fresh slab) or trust what's already on disk.
func (j *Journal) IsBlank() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.everUsed
}

// IsActive reports whether the journal has uncommitted tail blocks.
func (j *Journal) IsActive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.blocks.Len() > 0
}
