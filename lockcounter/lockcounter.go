// Package lockcounter implements the recovery journal's per-block lock
// counter (spec.md §4.5): the single mechanism that decides when a
// recovery-journal block has been fully processed by every zone that
// touched it and can be reclaimed. Semantics are ported directly from
// original_source/vdo/base/lockCounter.c.
package lockcounter

import (
	"fmt"
	"sync/atomic"
)

// ZoneType distinguishes the two zone kinds that hold ordinary,
// per-zone-instance locks. The journal zone is singular and handled
// through its own dedicated methods rather than this enum, matching
// the original's ZONE_TYPE_JOURNAL special-casing.
type ZoneType int

const (
	ZoneLogical ZoneType = iota
	ZonePhysical
)

// Counter tracks, for each of a fixed number of recovery-journal
// block locks, how many zones of each type (journal, logical,
// physical) still hold a reference to it. When the last reference of
// every kind drops, Notify fires exactly once until the owner calls
// AcknowledgeUnlock.
//
// Per-zone-instance counters (logicalCounters/physicalCounters) are
// touched only by the single goroutine owning that zone instance and
// so need no atomics; the aggregated per-lock zone-type totals
// (logicalZoneCounts/physicalZoneCounts) are read and written from
// multiple zones and are atomic, mirroring the original's Atomic32
// fields living alongside its plain uint16 arrays.
type Counter struct {
	locks         int
	logicalZones  int
	physicalZones int

	notifying atomic.Bool
	notify    func()

	logicalZoneCounts  []int32 // atomic, len locks
	physicalZoneCounts []int32 // atomic, len locks

	journalCounters        []uint16 // len locks; journal-thread only
	journalDecrementCounts []int32  // atomic, len locks

	logicalCounters  [][]uint16 // [zone][lock]
	physicalCounters [][]uint16 // [zone][lock]
}

// New constructs a Counter for the given zone counts and number of
// locks (one per recovery-journal block). notify is invoked — from
// whichever zone happens to trigger the transition into "notifying" —
// when every zone-type total for some lock first reaches zero; the
// owner is expected to enqueue a completion onto the journal zone
// rather than do real work inline.
func New(logicalZones, physicalZones, locks int, notify func()) *Counter {
	c := &Counter{
		locks:                  locks,
		logicalZones:           logicalZones,
		physicalZones:          physicalZones,
		notify:                 notify,
		logicalZoneCounts:      make([]int32, locks),
		physicalZoneCounts:     make([]int32, locks),
		journalCounters:        make([]uint16, locks),
		journalDecrementCounts: make([]int32, locks),
		logicalCounters:        make([][]uint16, logicalZones),
		physicalCounters:       make([][]uint16, physicalZones),
	}
	for z := range c.logicalCounters {
		c.logicalCounters[z] = make([]uint16, locks)
	}
	for z := range c.physicalCounters {
		c.physicalCounters[z] = make([]uint16, locks)
	}
	return c
}

func (c *Counter) checkLock(lockNumber int) {
	if lockNumber < 0 || lockNumber >= c.locks {
		panic(fmt.Sprintf("lockcounter: lock number %d out of range for %d locks", lockNumber, c.locks))
	}
}

func (c *Counter) zoneCounts(zoneType ZoneType) []int32 {
	if zoneType == ZoneLogical {
		return c.logicalZoneCounts
	}
	return c.physicalZoneCounts
}

func (c *Counter) perZoneCounters(zoneType ZoneType, zoneID int) []uint16 {
	if zoneType == ZoneLogical {
		return c.logicalCounters[zoneID]
	}
	return c.physicalCounters[zoneID]
}

// InitializeLockCount sets the journal zone's reference count for
// lockNumber to value, used when a recovery-journal block is
// committed, with value the number of entries it holds. Must be called
// only from the journal zone.
func (c *Counter) InitializeLockCount(lockNumber int, value uint16) {
	c.checkLock(lockNumber)
	if c.journalCounters[lockNumber] != uint16(atomic.LoadInt32(&c.journalDecrementCounts[lockNumber])) {
		panic(fmt.Sprintf("lockcounter: lock %d reinitialized while still in use", lockNumber))
	}
	c.journalCounters[lockNumber] = value
	atomic.StoreInt32(&c.journalDecrementCounts[lockNumber], 0)
}

func (c *Counter) isJournalZoneLocked(lockNumber int) bool {
	journalValue := c.journalCounters[lockNumber]
	decrements := atomic.LoadInt32(&c.journalDecrementCounts[lockNumber])
	if uint16(decrements) > journalValue {
		panic(fmt.Sprintf("lockcounter: journal zone lock counter underflow on lock %d", lockNumber))
	}
	return int32(journalValue) != decrements
}

// IsLocked reports whether lockNumber is still held by the journal
// zone or by any zone of zoneType. zoneType must not be the journal
// (there is no enum value for it; use the journal-specific methods).
func (c *Counter) IsLocked(lockNumber int, zoneType ZoneType) bool {
	c.checkLock(lockNumber)
	if c.isJournalZoneLocked(lockNumber) {
		return true
	}
	return atomic.LoadInt32(&c.zoneCounts(zoneType)[lockNumber]) != 0
}

// AcquireLockCountReference records that zone zoneID of zoneType now
// holds a reference on lockNumber.
func (c *Counter) AcquireLockCountReference(lockNumber int, zoneType ZoneType, zoneID int) {
	c.checkLock(lockNumber)
	counters := c.perZoneCounters(zoneType, zoneID)
	if counters[lockNumber] == 0 {
		atomic.AddInt32(&c.zoneCounts(zoneType)[lockNumber], 1)
	}
	counters[lockNumber]++
}

func (c *Counter) releaseReference(lockNumber int, zoneType ZoneType, zoneID int) uint16 {
	counters := c.perZoneCounters(zoneType, zoneID)
	if counters[lockNumber] == 0 {
		panic(fmt.Sprintf("lockcounter: decrement of lock %d underflows", lockNumber))
	}
	counters[lockNumber]--
	return counters[lockNumber]
}

func (c *Counter) attemptNotification() {
	if c.notifying.CompareAndSwap(false, true) {
		if c.notify != nil {
			c.notify()
		}
	}
}

// ReleaseLockCountReference records that zone zoneID of zoneType no
// longer holds a reference on lockNumber, triggering a notification
// attempt if this was the last zone of its type holding it and no zone
// of any other type (journal included) still holds it.
func (c *Counter) ReleaseLockCountReference(lockNumber int, zoneType ZoneType, zoneID int) {
	c.checkLock(lockNumber)
	if c.releaseReference(lockNumber, zoneType, zoneID) != 0 {
		return
	}
	if atomic.AddInt32(&c.zoneCounts(zoneType)[lockNumber], -1) == 0 && c.isClear(lockNumber) {
		c.attemptNotification()
	}
}

// isClear reports whether neither the journal zone nor any logical or
// physical zone still holds a reference on lockNumber.
func (c *Counter) isClear(lockNumber int) bool {
	return !c.isJournalZoneLocked(lockNumber) &&
		atomic.LoadInt32(&c.logicalZoneCounts[lockNumber]) == 0 &&
		atomic.LoadInt32(&c.physicalZoneCounts[lockNumber]) == 0
}

// ReleaseJournalZoneReference releases the journal zone's own
// reference on lockNumber. Must be called only from the journal zone.
func (c *Counter) ReleaseJournalZoneReference(lockNumber int) {
	c.checkLock(lockNumber)
	if c.journalCounters[lockNumber] == 0 {
		panic(fmt.Sprintf("lockcounter: decrement of journal lock %d underflows", lockNumber))
	}
	c.journalCounters[lockNumber]--
	if c.isClear(lockNumber) {
		c.attemptNotification()
	}
}

// ReleaseJournalZoneReferenceFromOtherZone batches a journal-zone
// decrement originating on a non-journal thread; the journal zone
// later folds these into journalCounters via InitializeLockCount's
// underflow assertion (isJournalZoneLocked checks decrements against
// the journal value directly, so no separate apply step is needed).
func (c *Counter) ReleaseJournalZoneReferenceFromOtherZone(lockNumber int) {
	c.checkLock(lockNumber)
	atomic.AddInt32(&c.journalDecrementCounts[lockNumber], 1)
}

// AcknowledgeUnlock clears the notifying flag, allowing a future
// all-zones-released transition to notify again. The owner should
// re-check IsLocked for any lock it cares about after calling this,
// since a release that arrived while notifying was set was absorbed
// rather than triggering its own notification.
func (c *Counter) AcknowledgeUnlock() {
	c.notifying.Store(false)
}
