package datavio

import (
	"context"
	"sync"

	"github.com/narwhal-systems/dedupvol/backend"
	"github.com/narwhal-systems/dedupvol/contenthash"
)

// DataVIO is the state one logical I/O carries through the pipeline:
// its own 4 KiB buffer (never aliased with the caller's), the LBN it
// targets, and the fields later stages fill in as they run.
type DataVIO struct {
	Buffer      []byte
	LBN         uint64
	Fingerprint contenthash.Fingerprint
	IsZeroBlock bool

	compression compressionState
}

func (v *DataVIO) reset() {
	v.LBN = 0
	v.Fingerprint = contenthash.Fingerprint{}
	v.IsZeroBlock = false
	v.compression = compressionState{}
}

// Pool hands out DataVIOs from a free list and bounds how many writes
// and discards may be in flight at once, the Go equivalent of the
// fixed-size pool of pre-allocated VIOs a C implementation would keep
// (grounded on the free-list-plus-refcount shape of a page allocator
// pool: acquire blocks when exhausted, release returns the slot to the
// free list for reuse rather than letting the GC reclaim it). sync.Pool
// supplies the free list itself; the channels supply the admission
// bound sync.Pool has no notion of.
type Pool struct {
	vios     sync.Pool
	admitted chan struct{}
	discards chan struct{}
}

// NewPool constructs a Pool admitting at most maxWrites concurrent
// writes and maxDiscards concurrent discard sub-operations.
func NewPool(maxWrites, maxDiscards int) *Pool {
	return &Pool{
		vios: sync.Pool{
			New: func() interface{} {
				return &DataVIO{Buffer: make([]byte, backend.BlockSize)}
			},
		},
		admitted: make(chan struct{}, maxWrites),
		discards: make(chan struct{}, maxDiscards),
	}
}

// Acquire blocks until a write slot is available (or ctx is
// cancelled) and returns a DataVIO ready for reuse.
func (p *Pool) Acquire(ctx context.Context) (*DataVIO, error) {
	select {
	case p.admitted <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v := p.vios.Get().(*DataVIO)
	v.reset()
	return v, nil
}

// Release returns v to the free list and frees its write slot.
func (p *Pool) Release(v *DataVIO) {
	p.vios.Put(v)
	<-p.admitted
}

// AcquireDiscard blocks until a discard slot is available.
func (p *Pool) AcquireDiscard(ctx context.Context) error {
	select {
	case p.discards <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseDiscard frees a discard slot acquired via AcquireDiscard.
func (p *Pool) ReleaseDiscard() {
	<-p.discards
}

// isZeroBlock reports whether buf holds nothing but zero bytes.
func isZeroBlock(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
