// Package blockmap implements the logical-to-physical translation
// store (spec.md §4.1): LBNs are grouped into fixed-size pages, pages
// are sharded deterministically across logical zones, and each zone's
// resident pages live in a write-back cache with LRU eviction and pin
// counts.
package blockmap

import (
	"fmt"

	"github.com/narwhal-systems/dedupvol/backend"
	"github.com/narwhal-systems/dedupvol/layout"
)

// BlockMap is the full translation store across every logical zone.
type BlockMap struct {
	zones  []*cache
	origin uint64
}

// New constructs a BlockMap with one page cache per logical zone,
// each capped at pagesPerZone resident pages, backed by dev starting
// at origin.
func New(dev backend.Device, origin uint64, zoneCount int, pagesPerZone int) *BlockMap {
	bm := &BlockMap{zones: make([]*cache, zoneCount), origin: origin}
	for z := 0; z < zoneCount; z++ {
		bm.zones[z] = newCache(dev, origin, pagesPerZone)
	}
	return bm
}

func pageNumberFor(lbn uint64) uint64 { return lbn / uint64(EntriesPerPage) }
func slotFor(lbn uint64) int          { return int(lbn % uint64(EntriesPerPage)) }

// ZoneForLBN returns the logical zone that owns lbn. Every LBN's page
// hashes deterministically to one zone, so all of a page's entries are
// always mutated from the same zone's goroutine.
func (bm *BlockMap) ZoneForLBN(lbn uint64) int {
	return int(pageNumberFor(lbn) % uint64(len(bm.zones)))
}

// Get returns the current mapping for lbn: pin the owning page, decode
// the entry, unpin.
func (bm *BlockMap) Get(lbn uint64) (layout.BlockMapEntry, error) {
	z := bm.ZoneForLBN(lbn)
	pn := pageNumberFor(lbn)

	c := bm.zones[z]
	p, err := c.fetch(pn)
	if err != nil {
		return layout.BlockMapEntry{}, err
	}
	c.pin(pn)
	defer c.unpin(pn)

	return p.entries[slotFor(lbn)], nil
}

// Put installs newEntry at lbn, returning the previous mapping. point
// is the recovery-journal point of the delta this change belongs to;
// the page is marked dirty against it and cannot be written back until
// the journal agrees that point's block is durable.
func (bm *BlockMap) Put(lbn uint64, newEntry layout.BlockMapEntry, point layout.JournalPoint) (layout.BlockMapEntry, error) {
	z := bm.ZoneForLBN(lbn)
	pn := pageNumberFor(lbn)

	c := bm.zones[z]
	p, err := c.fetch(pn)
	if err != nil {
		return layout.BlockMapEntry{}, err
	}
	c.pin(pn)
	defer c.unpin(pn)

	slot := slotFor(lbn)
	old := p.entries[slot]
	p.entries[slot] = newEntry
	p.markDirty(point)
	return old, nil
}

// ForEachDirtyPage calls fn for every dirty page across every zone,
// passing the zone index, page number, and the oldest journal point
// the page is waiting on — used to drive drain's "flush everything
// whose journal dependency is satisfied" loop.
func (bm *BlockMap) ForEachDirtyPage(fn func(zone int, pageNumber uint64, oldestDirtyPoint layout.JournalPoint) error) error {
	for z, c := range bm.zones {
		z := z
		if err := c.forEachDirty(func(pageNumber uint64, point layout.JournalPoint) error {
			return fn(z, pageNumber, point)
		}); err != nil {
			return err
		}
	}
	return nil
}

// WriteBackPage durably writes one zone's page and clears its dirty
// flag. The caller must have already confirmed, via the recovery
// journal, that it is safe to do so.
func (bm *BlockMap) WriteBackPage(zone int, pageNumber uint64) error {
	if zone < 0 || zone >= len(bm.zones) {
		return fmt.Errorf("blockmap: zone %d out of range", zone)
	}
	return bm.zones[zone].writeBack(pageNumber)
}
