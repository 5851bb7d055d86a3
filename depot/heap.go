package depot

import "container/heap"

// slabRef is one entry in an allocator's priority queue: just enough
// to order slabs without the heap package needing to know about
// *slab.Slab, so refcount lookups happen lazily via freeBlocks rather
// than being baked into stale heap state.
type slabRef struct {
	number     uint32
	freeBlocks uint32
	index      int // maintained by container/heap
}

// slabPriorityQueue orders slabRefs by descending free-block count,
// breaking ties by ascending slab number, matching the depot's
// "prefer the slab with the most free space, then the lowest number"
// allocation policy.
type slabPriorityQueue []*slabRef

func (q slabPriorityQueue) Len() int { return len(q) }

func (q slabPriorityQueue) Less(i, j int) bool {
	if q[i].freeBlocks != q[j].freeBlocks {
		return q[i].freeBlocks > q[j].freeBlocks
	}
	return q[i].number < q[j].number
}

func (q slabPriorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *slabPriorityQueue) Push(x any) {
	ref := x.(*slabRef)
	ref.index = len(*q)
	*q = append(*q, ref)
}

func (q *slabPriorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*slabPriorityQueue)(nil)
