package blockmap

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/narwhal-systems/dedupvol/backend"
	"github.com/narwhal-systems/dedupvol/layout"
)

// EntriesPerPage is how many block-map entries fit in one backend
// block; the remainder is left as unused padding, the same
// pack-tight-then-pad approach layout.PackRecoveryJournalBlock uses
// for its own fixed-size blocks.
const EntriesPerPage = backend.BlockSize / layout.BlockMapEntrySize

// cache is a single logical zone's resident set of block-map pages: a
// write-back cache with LRU eviction and pin counts, generalized from
// fs/blk.go's disk block buffer cache to block-map tree pages.
type cache struct {
	mu       sync.Mutex
	dev      backend.Device
	origin   uint64
	capacity int

	pages    map[uint64]*page
	lru      *list.List
	lruElems map[uint64]*list.Element
}

func newCache(dev backend.Device, origin uint64, capacity int) *cache {
	return &cache{
		dev:      dev,
		origin:   origin,
		capacity: capacity,
		pages:    make(map[uint64]*page),
		lru:      list.New(),
		lruElems: make(map[uint64]*list.Element),
	}
}

// fetch returns the resident page for pageNumber, loading it from the
// backend if it isn't cached (a failed read is returned as an error),
// and touches its LRU position.
func (c *cache) fetch(pageNumber uint64) (*page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pages[pageNumber]; ok {
		c.touchLocked(pageNumber)
		return p, nil
	}

	if err := c.makeRoomLocked(); err != nil {
		return nil, err
	}

	raw, err := c.dev.ReadBlock(c.origin + pageNumber)
	if err != nil {
		return nil, fmt.Errorf("blockmap: read page %d: %w", pageNumber, err)
	}
	p := &page{number: pageNumber, entries: make([]layout.BlockMapEntry, EntriesPerPage), loaded: true}
	for i := 0; i < EntriesPerPage; i++ {
		var raw5 [layout.BlockMapEntrySize]byte
		copy(raw5[:], raw[i*layout.BlockMapEntrySize:(i+1)*layout.BlockMapEntrySize])
		p.entries[i] = layout.UnpackBlockMapEntry(raw5)
	}
	c.pages[pageNumber] = p
	c.lruElems[pageNumber] = c.lru.PushFront(pageNumber)
	return p, nil
}

func (c *cache) touchLocked(pageNumber uint64) {
	if el, ok := c.lruElems[pageNumber]; ok {
		c.lru.MoveToFront(el)
	}
}

// makeRoomLocked evicts clean, unpinned pages from the LRU tail until
// the cache is under capacity. If every resident page is pinned or
// dirty, the cache is allowed to grow past capacity rather than block
// or drop unwritten data — a soft cap, not a hard one.
func (c *cache) makeRoomLocked() error {
	for len(c.pages) >= c.capacity {
		evicted := false
		for e := c.lru.Back(); e != nil; e = e.Prev() {
			num := e.Value.(uint64)
			p := c.pages[num]
			if p.pinCount > 0 || p.dirty {
				continue
			}
			c.lru.Remove(e)
			delete(c.lruElems, num)
			delete(c.pages, num)
			evicted = true
			break
		}
		if !evicted {
			break
		}
	}
	return nil
}

func (c *cache) pin(pageNumber uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pages[pageNumber]; ok {
		p.pinCount++
	}
}

func (c *cache) unpin(pageNumber uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pages[pageNumber]; ok && p.pinCount > 0 {
		p.pinCount--
	}
}

// forEachDirty calls fn for every resident dirty page. Iteration order
// is unspecified.
func (c *cache) forEachDirty(fn func(pageNumber uint64, oldestDirtyPoint layout.JournalPoint) error) error {
	c.mu.Lock()
	var dirty []uint64
	for num, p := range c.pages {
		if p.dirty {
			dirty = append(dirty, num)
		}
	}
	c.mu.Unlock()

	for _, num := range dirty {
		c.mu.Lock()
		p, ok := c.pages[num]
		var point layout.JournalPoint
		if ok {
			point = p.oldestDirtyPoint
		}
		c.mu.Unlock()
		if !ok {
			continue
		}
		if err := fn(num, point); err != nil {
			return err
		}
	}
	return nil
}

// writeBack packs pageNumber's entries and writes them durably, then
// clears its dirty flag. The caller is responsible for having already
// confirmed the journal block covering oldestDirtyPoint is durable.
func (c *cache) writeBack(pageNumber uint64) error {
	c.mu.Lock()
	p, ok := c.pages[pageNumber]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("blockmap: write-back of non-resident page %d", pageNumber)
	}
	buf := make([]byte, backend.BlockSize)
	for i, e := range p.entries {
		packed := layout.PackBlockMapEntry(e)
		copy(buf[i*layout.BlockMapEntrySize:(i+1)*layout.BlockMapEntrySize], packed[:])
	}
	c.mu.Unlock()

	if err := c.dev.WriteBlock(c.origin+pageNumber, buf); err != nil {
		return fmt.Errorf("blockmap: write page %d: %w", pageNumber, err)
	}

	c.mu.Lock()
	if p, ok := c.pages[pageNumber]; ok {
		p.clearDirty()
	}
	c.mu.Unlock()
	return nil
}
