// Package depot implements the slab depot: the full set of slabs
// carved out of the physical address space, one block allocator per
// physical zone, and the slab summary that accelerates startup
// (spec.md §4.4).
package depot

import (
	"fmt"

	"github.com/narwhal-systems/dedupvol/slab"
)

// Depot owns every slab and routes physical block numbers to the slab
// (and physical zone) responsible for them.
type Depot struct {
	Origin        uint64
	SlabBlocks    uint32
	PhysicalZones uint32

	slabs      []*slab.Slab
	allocators []*BlockAllocator
	Summary    *SlabSummary
}

// New constructs a Depot over slabs (indexed by slab number, already
// constructed and loaded), partitioning them across physicalZones
// allocators.
//
// The spec leaves the physical-zone partition function unstated; this
// implementation uses slabNumber % physicalZones, the simplest
// round-robin split that keeps each zone's slab count balanced
// regardless of allocation order.
func New(origin uint64, slabBlocks uint32, physicalZones uint32, slabs []*slab.Slab, summary *SlabSummary) *Depot {
	d := &Depot{
		Origin:        origin,
		SlabBlocks:    slabBlocks,
		PhysicalZones: physicalZones,
		slabs:         slabs,
		allocators:    make([]*BlockAllocator, physicalZones),
		Summary:       summary,
	}
	for z := uint32(0); z < physicalZones; z++ {
		d.allocators[z] = NewBlockAllocator(z)
	}
	for _, s := range slabs {
		d.allocators[d.ZoneForSlab(s.Number)].AddSlab(s)
	}
	return d
}

// SlabNumberForPBN returns the slab owning physical block pbn.
func (d *Depot) SlabNumberForPBN(pbn uint64) (uint32, error) {
	if pbn < d.Origin {
		return 0, fmt.Errorf("depot: pbn %d precedes depot origin %d", pbn, d.Origin)
	}
	n := (pbn - d.Origin) / uint64(d.SlabBlocks)
	if n >= uint64(len(d.slabs)) {
		return 0, fmt.Errorf("depot: pbn %d maps to slab %d, beyond the %d configured slabs", pbn, n, len(d.slabs))
	}
	return uint32(n), nil
}

// ZoneForSlab returns the physical zone that owns slabNumber.
func (d *Depot) ZoneForSlab(slabNumber uint32) uint32 {
	return slabNumber % d.PhysicalZones
}

// Allocator returns the block allocator for physical zone zone.
func (d *Depot) Allocator(zone uint32) *BlockAllocator {
	return d.allocators[zone]
}

// Slab returns the slab with the given number.
func (d *Depot) Slab(slabNumber uint32) *slab.Slab {
	return d.slabs[slabNumber]
}

// SlabCount returns the number of slabs in the depot.
func (d *Depot) SlabCount() int { return len(d.slabs) }

// Release tells the depot that a block in slabNumber returned to zero
// references, so its allocator can re-prioritize and wake a waiter.
func (d *Depot) Release(slabNumber uint32) {
	d.allocators[d.ZoneForSlab(slabNumber)].NotifyBlockFreed(slabNumber)
}
