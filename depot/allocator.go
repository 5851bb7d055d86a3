package depot

import (
	"container/heap"
	"container/list"
	"context"
	"errors"
	"sync"

	"github.com/narwhal-systems/dedupvol/slab"
)

// ErrOutOfSpace is returned by a non-blocking allocation attempt when
// every slab owned by the allocator's zone is full.
var ErrOutOfSpace = errors.New("depot: out of space")

// BlockAllocator owns one physical zone's slabs and hands out physical
// block numbers from whichever has the most free space, queuing
// callers FIFO when none do (spec.md §4.4).
type BlockAllocator struct {
	mu      sync.Mutex
	zone    uint32
	slabs   map[uint32]*slab.Slab
	refs    map[uint32]*slabRef
	queue   slabPriorityQueue
	pending *list.List // slab numbers awaiting/undergoing scrubbing
	waiters *list.List // FIFO queue of chan struct{}, one per blocked Allocate
}

// NewBlockAllocator constructs an empty allocator for physical zone.
func NewBlockAllocator(zone uint32) *BlockAllocator {
	return &BlockAllocator{
		zone:    zone,
		slabs:   make(map[uint32]*slab.Slab),
		refs:    make(map[uint32]*slabRef),
		pending: list.New(),
		waiters: list.New(),
	}
}

// ZoneNumber returns the physical zone this allocator serves.
func (a *BlockAllocator) ZoneNumber() uint32 { return a.zone }

// AddSlab registers s with this allocator, placing it in the
// allocation priority queue or, if it requires scrubbing, the pending
// queue.
func (a *BlockAllocator) AddSlab(s *slab.Slab) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.slabs[s.Number] = s
	if s.IsUnrecovered() {
		a.pending.PushBack(s.Number)
		return
	}
	a.enqueueLocked(s)
}

func (a *BlockAllocator) enqueueLocked(s *slab.Slab) {
	ref := &slabRef{number: s.Number, freeBlocks: s.FreeBlockCount()}
	a.refs[s.Number] = ref
	heap.Push(&a.queue, ref)
}

// FinishScrubbing moves slabNumber from the pending queue into the
// allocation priority queue once its reference counts are trustworthy
// again.
func (a *BlockAllocator) FinishScrubbing(slabNumber uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for e := a.pending.Front(); e != nil; e = e.Next() {
		if e.Value.(uint32) == slabNumber {
			a.pending.Remove(e)
			break
		}
	}
	if s, ok := a.slabs[slabNumber]; ok {
		a.enqueueLocked(s)
	}
	a.wakeOneLocked()
}

// TryAllocate attempts a non-blocking allocation, returning
// ErrOutOfSpace immediately rather than queuing.
func (a *BlockAllocator) TryAllocate() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateLocked()
}

func (a *BlockAllocator) allocateLocked() (uint64, error) {
	if a.queue.Len() == 0 || a.queue[0].freeBlocks == 0 {
		return 0, ErrOutOfSpace
	}
	top := a.queue[0]
	s := a.slabs[top.number]
	pbn, ok := s.AllocateNextFree()
	if !ok {
		// The cached free count lied (shouldn't happen under single-zone
		// ownership); re-sync and fail this attempt rather than loop.
		top.freeBlocks = 0
		heap.Fix(&a.queue, top.index)
		return 0, ErrOutOfSpace
	}
	top.freeBlocks = s.FreeBlockCount()
	heap.Fix(&a.queue, top.index)
	return pbn, nil
}

// Allocate blocks until a physical block is available or ctx is
// cancelled, serving blocked callers in FIFO order once space frees up.
func (a *BlockAllocator) Allocate(ctx context.Context) (uint64, error) {
	for {
		pbn, err := a.TryAllocate()
		if err == nil {
			return pbn, nil
		}
		if !errors.Is(err, ErrOutOfSpace) {
			return 0, err
		}

		a.mu.Lock()
		ch := make(chan struct{})
		elem := a.waiters.PushBack(ch)
		a.mu.Unlock()

		select {
		case <-ch:
			// Woken up; loop around and retry the allocation.
		case <-ctx.Done():
			a.mu.Lock()
			a.waiters.Remove(elem)
			a.mu.Unlock()
			return 0, ctx.Err()
		}
	}
}

// NotifyBlockFreed updates the priority queue for slabNumber after one
// of its blocks returned to zero references, and wakes the
// longest-waiting blocked Allocate call if any.
func (a *BlockAllocator) NotifyBlockFreed(slabNumber uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ref, ok := a.refs[slabNumber]; ok {
		if s, ok := a.slabs[slabNumber]; ok {
			ref.freeBlocks = s.FreeBlockCount()
			heap.Fix(&a.queue, ref.index)
		}
	}
	a.wakeOneLocked()
}

func (a *BlockAllocator) wakeOneLocked() {
	front := a.waiters.Front()
	if front == nil {
		return
	}
	a.waiters.Remove(front)
	close(front.Value.(chan struct{}))
}
