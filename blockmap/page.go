package blockmap

import "github.com/narwhal-systems/dedupvol/layout"

// page is one resident block-map tree page: a fixed-size array of
// logical-to-physical entries, tracked for write-back ordering and
// cache eviction.
type page struct {
	number  uint64
	entries []layout.BlockMapEntry
	loaded  bool

	pinCount int

	dirty            bool
	oldestDirtyPoint layout.JournalPoint
}

// markDirty records that the page has an unwritten change whose
// recovery-journal delta is at point. Only the earliest point is kept,
// since the page cannot be written back until the journal block
// holding it (and every earlier one still pending) is durable.
func (p *page) markDirty(point layout.JournalPoint) {
	if !p.dirty || point.SequenceNumber < p.oldestDirtyPoint.SequenceNumber {
		p.oldestDirtyPoint = point
	}
	p.dirty = true
}

func (p *page) clearDirty() {
	p.dirty = false
	p.oldestDirtyPoint = layout.JournalPoint{}
}
