// Package refcount implements the per-slab reference-count array
// (spec.md §4.2): one saturating byte per physical block in a slab,
// mutated only by the physical zone that owns the slab.
package refcount

import (
	"fmt"
	"sync/atomic"

	"github.com/narwhal-systems/dedupvol/layout"
)

// Special byte values. 1..maxCount are ordinary live counts; provisional
// marks a block claimed by an allocation that hasn't committed (or has
// overflowed past maxCount, a state recovery alone can resolve).
const (
	free        byte = 0
	maxCount    byte = 254
	provisional byte = 255
)

// JournalPoint identifies the recovery-journal position a reference
// change is associated with, used only for bookkeeping by callers; the
// counts array itself does not interpret it.
type JournalPoint = layout.JournalPoint

// Counts is the reference-count array for a single slab. freeBlocks is
// kept as a separate atomic so the owning allocator can read the slab's
// free-block count from another thread without taking the slab's lock,
// mirroring accnt.Accnt_t's pattern of an atomically-maintained running
// total alongside a mutex-guarded detail array.
type Counts struct {
	values     []byte
	freeBlocks int64 // atomic
	cursor     uint32
}

// New constructs a Counts for a slab holding blockCount physical
// blocks, all initially free.
func New(blockCount uint32) *Counts {
	return &Counts{
		values:     make([]byte, blockCount),
		freeBlocks: int64(blockCount),
	}
}

// FreeBlocks returns the number of blocks currently at zero references,
// safe to call from any goroutine.
func (c *Counts) FreeBlocks() uint32 {
	return uint32(atomic.LoadInt64(&c.freeBlocks))
}

func (c *Counts) checkIndex(index uint32) {
	if int(index) >= len(c.values) {
		panic(fmt.Sprintf("refcount: index %d out of range for slab of %d blocks", index, len(c.values)))
	}
}

// Increment bumps the reference count at index by one. freeChanged is
// true iff the block transitioned out of the free state, meaning the
// caller must tell the enclosing slab to remove a free block from its
// tally. A count already at 254 saturates to the provisional/"many"
// marker and is reported pessimistically as not free (it never was).
func (c *Counts) Increment(index uint32, _ JournalPoint) (freeChanged bool) {
	c.checkIndex(index)
	before := c.values[index]
	switch {
	case before == free:
		c.values[index] = 1
		atomic.AddInt64(&c.freeBlocks, -1)
		return true
	case before == maxCount:
		c.values[index] = provisional
		return false
	case before == provisional:
		// Already saturated or provisionally claimed; stays saturated.
		return false
	default:
		c.values[index] = before + 1
		return false
	}
}

// Decrement reduces the reference count at index by one. A decrement
// on an already-free block is a fatal condition the caller must treat
// as driving the whole device read-only; it is reported via panic
// since refcount arrays are only ever touched on their owning physical
// zone's single goroutine and a caught panic there can be converted to
// a read-only transition by that zone's recover.
func (c *Counts) Decrement(index uint32, _ JournalPoint) (freeChanged bool) {
	c.checkIndex(index)
	before := c.values[index]
	switch before {
	case free:
		panic(fmt.Sprintf("refcount: decrement of already-free block %d", index))
	case 1:
		c.values[index] = free
		atomic.AddInt64(&c.freeBlocks, 1)
		return true
	case provisional:
		// A provisional or saturated block's true count is unknown;
		// recovery from the slab journal is required to undo this
		// precisely, so a plain decrement cannot safely un-saturate it.
		return false
	default:
		c.values[index] = before - 1
		return false
	}
}

// ErrProvisionalExists is returned by ProvisionalClaim when the target
// block is already provisional or otherwise non-free.
var ErrProvisionalExists = fmt.Errorf("refcount: block already has a reference")

// ProvisionalClaim marks index provisional, used when an allocation
// claims a block before its recovery-journal entry commits.
func (c *Counts) ProvisionalClaim(index uint32) error {
	c.checkIndex(index)
	if c.values[index] != free {
		return ErrProvisionalExists
	}
	c.values[index] = provisional
	atomic.AddInt64(&c.freeBlocks, -1)
	return nil
}

// AllocateNextFree scans forward from cursor (wrapping) for the next
// free block, marks it provisional, advances the cursor past it, and
// returns its index. ok is false if the slab has no free block.
func (c *Counts) AllocateNextFree() (index uint32, ok bool) {
	n := uint32(len(c.values))
	if n == 0 {
		return 0, false
	}
	for i := uint32(0); i < n; i++ {
		idx := (c.cursor + i) % n
		if c.values[idx] == free {
			c.values[idx] = provisional
			atomic.AddInt64(&c.freeBlocks, -1)
			c.cursor = (idx + 1) % n
			return idx, true
		}
	}
	return 0, false
}

// ReleaseProvisional undoes a provisional claim that never committed a
// real reference (e.g. a hash-lock agent that discovered a dedupe
// match after already allocating a new block), returning index to
// free. It is distinct from Decrement because Decrement must treat the
// provisional/saturated sentinel as pessimistic and never un-saturate
// a block whose true count might genuinely be high; ReleaseProvisional
// is only safe when the caller knows, out of band, that index holds
// nothing but its own uncommitted claim.
func (c *Counts) ReleaseProvisional(index uint32) {
	c.checkIndex(index)
	if c.values[index] != provisional {
		panic(fmt.Sprintf("refcount: ReleaseProvisional on non-provisional block %d", index))
	}
	c.values[index] = free
	atomic.AddInt64(&c.freeBlocks, 1)
}

// CommitProvisionalReference converts a provisional claim into the
// block's first durable reference, once the recovery-journal entry
// that recorded the allocation is itself durable. It is distinct from
// Increment, which treats the provisional byte as a pessimistic
// "many" sentinel and refuses to guess a real count for it — the
// caller here knows, out of band, that index holds nothing but its own
// uncommitted claim and that this is precisely the reference that
// claim was standing in for.
func (c *Counts) CommitProvisionalReference(index uint32) error {
	c.checkIndex(index)
	if c.values[index] != provisional {
		return fmt.Errorf("refcount: CommitProvisionalReference on non-provisional block %d", index)
	}
	c.values[index] = 1
	return nil
}

// Get returns the raw count byte at index, for snapshotting/tests.
func (c *Counts) Get(index uint32) byte {
	c.checkIndex(index)
	return c.values[index]
}

// IsProvisional reports whether index currently holds the
// provisional/saturated sentinel.
func (c *Counts) IsProvisional(index uint32) bool {
	c.checkIndex(index)
	return c.values[index] == provisional
}
