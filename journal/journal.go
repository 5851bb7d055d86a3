// Package journal implements the recovery journal: the on-disk ring of
// block-map deltas that makes crash recovery possible (spec.md §4.5).
// Reclaim of a ring slot is gated by lockcounter, the sole mechanism
// deciding when every zone that depended on a block is done with it.
package journal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/narwhal-systems/dedupvol/backend"
	"github.com/narwhal-systems/dedupvol/layout"
	"github.com/narwhal-systems/dedupvol/lockcounter"
)

// ErrJournalFull is returned by Append when every ring slot is still
// held by some zone — admission control backing off a write until a
// block is reclaimed.
var ErrJournalFull = errors.New("journal: recovery journal ring is full")

type openBlock struct {
	sequence uint64
	entries  []layout.RecoveryJournalEntry
}

// Journal is the recovery journal: an N-block ring on dev starting at
// origin, paired with a lockcounter.Counter (one lock per ring slot)
// that tracks when a committed block's deltas have been fully
// absorbed by every logical and physical zone, and by the journal
// zone's own bookkeeping.
type Journal struct {
	mu       sync.Mutex
	dev      backend.Device
	origin   uint64
	count    uint32
	capacity int

	lc *lockcounter.Counter

	head           *openBlock
	nextSequence   uint64
	oldestSequence uint64
}

// New constructs a Journal over count blocks of dev starting at PBN
// origin. logicalZones/physicalZones size the lock counter.
func New(dev backend.Device, origin uint64, count uint32, logicalZones, physicalZones int) *Journal {
	j := &Journal{
		dev:      dev,
		origin:   origin,
		count:    count,
		capacity: layout.RecoveryJournalBlockCapacity(backend.BlockSize),
	}
	j.lc = lockcounter.New(logicalZones, physicalZones, int(count), j.onNotify)
	return j
}

func (j *Journal) lockIndex(sequence uint64) int {
	return int(sequence % uint64(j.count))
}

// onNotify is called by the lock counter, possibly from any zone,
// when a lock's last reference drops. It does no work itself — the
// owning journal zone is expected to call ProcessReclaims in response,
// the same deferral the original does by enqueuing a completion rather
// than reclaiming inline from whatever thread triggered the release.
func (j *Journal) onNotify() {}

// Append reserves the next slot for entry, assigning it a
// JournalPoint, opening a new ring block if the current one is full
// (or if this is the first entry), and finalizing (committing) the
// previous block when it rolls over. Returns ErrJournalFull if every
// ring slot is still locked by some zone.
func (j *Journal) Append(entry layout.RecoveryJournalEntry) (layout.JournalPoint, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.head == nil || len(j.head.entries) >= j.capacity {
		if j.head != nil {
			if err := j.finalizeHeadLocked(); err != nil {
				return layout.JournalPoint{}, err
			}
		}
		if j.nextSequence-j.oldestSequence >= uint64(j.count) {
			return layout.JournalPoint{}, ErrJournalFull
		}
		j.head = &openBlock{sequence: j.nextSequence}
		j.nextSequence++
	}

	point := layout.JournalPoint{
		SequenceNumber: j.head.sequence,
		EntryCount:     uint16(len(j.head.entries)),
	}
	j.head.entries = append(j.head.entries, entry)
	return point, nil
}

// finalizeHeadLocked durably writes the current head block and
// initializes its ring slot's journal-zone lock count to the number
// of entries it holds, the same hand-off the original makes from
// "block filling up" to "block dispatched to be locked against."
func (j *Journal) finalizeHeadLocked() error {
	blk := j.head
	buf := layout.PackRecoveryJournalBlock(backend.BlockSize, blk.sequence, blk.entries)
	if err := j.dev.WriteBlock(j.origin+uint64(j.lockIndex(blk.sequence)), buf); err != nil {
		return fmt.Errorf("journal: write block %d: %w", blk.sequence, err)
	}
	j.lc.InitializeLockCount(j.lockIndex(blk.sequence), uint16(len(blk.entries)))
	j.head = nil
	return nil
}

// Flush forces the current head block durable even if it isn't full,
// used before a device-wide flush/suspend.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.head == nil {
		return nil
	}
	return j.finalizeHeadLocked()
}

// AcquireZoneReferences records that the VIO owning point now depends
// on point's block from both its logical and physical zone, called
// immediately after Append (spec.md §4.8 step 9).
func (j *Journal) AcquireZoneReferences(point layout.JournalPoint, logicalZone, physicalZone int) {
	idx := j.lockIndex(point.SequenceNumber)
	j.lc.AcquireLockCountReference(idx, lockcounter.ZoneLogical, logicalZone)
	j.lc.AcquireLockCountReference(idx, lockcounter.ZonePhysical, physicalZone)
}

// ReleaseZoneReferences records that the VIO has finished its
// block-map and refcount updates in both zones.
func (j *Journal) ReleaseZoneReferences(point layout.JournalPoint, logicalZone, physicalZone int) {
	idx := j.lockIndex(point.SequenceNumber)
	j.lc.ReleaseLockCountReference(idx, lockcounter.ZoneLogical, logicalZone)
	j.lc.ReleaseLockCountReference(idx, lockcounter.ZonePhysical, physicalZone)
}

// ReleaseJournalReference records, from any non-journal-zone thread,
// that one VIO's dependency on point's block has been satisfied by the
// slab journal (its refcount delta is durable). Batched and folded in
// by the journal zone's own accounting, never applied inline.
func (j *Journal) ReleaseJournalReference(point layout.JournalPoint) {
	j.lc.ReleaseJournalZoneReferenceFromOtherZone(j.lockIndex(point.SequenceNumber))
}

// ProcessReclaims advances the ring's oldest-sequence watermark past
// every block, in order, that no zone holds locked, and acknowledges
// the lock counter's notification. Call this in response to the
// notify callback firing; the return value lists the sequence numbers
// just reclaimed, which a caller may use to let block allocators know
// more of the ring is free.
func (j *Journal) ProcessReclaims() []uint64 {
	j.mu.Lock()
	var reclaimed []uint64
	for j.oldestSequence < j.nextSequence {
		idx := j.lockIndex(j.oldestSequence)
		if j.lc.IsLocked(idx, lockcounter.ZoneLogical) || j.lc.IsLocked(idx, lockcounter.ZonePhysical) {
			break
		}
		reclaimed = append(reclaimed, j.oldestSequence)
		j.oldestSequence++
	}
	j.mu.Unlock()
	j.lc.AcknowledgeUnlock()
	return reclaimed
}

// OldestSequence returns the oldest ring sequence number not yet
// reclaimed.
func (j *Journal) OldestSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.oldestSequence
}

// NextSequence returns the sequence number that will be assigned to
// the next opened block.
func (j *Journal) NextSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextSequence
}
