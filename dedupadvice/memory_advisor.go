package dedupadvice

import (
	"container/list"
	"sync"

	"github.com/narwhal-systems/dedupvol/contenthash"
)

// MemoryAdvisor is a bounded in-memory reference implementation of
// Advisor, used by tests and single-node demo mode. It is a plain LRU:
// a map for O(1) lookup plus a container/list for recency ordering,
// the same pairing the teacher's block cache uses (a lookup structure
// plus a list.List for eviction order) rather than an imported cache
// library, since the whole thing is a dozen lines.
type MemoryAdvisor struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[contenthash.Fingerprint]*list.Element
}

type advisorEntry struct {
	fp      contenthash.Fingerprint
	mapping Mapping
}

// NewMemoryAdvisor constructs a MemoryAdvisor holding at most
// capacity fingerprint->mapping associations.
func NewMemoryAdvisor(capacity int) *MemoryAdvisor {
	if capacity <= 0 {
		panic("dedupadvice: capacity must be positive")
	}
	return &MemoryAdvisor{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[contenthash.Fingerprint]*list.Element),
	}
}

// Post implements Advisor.
func (a *MemoryAdvisor) Post(fp contenthash.Fingerprint, m Mapping) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if el, ok := a.index[fp]; ok {
		el.Value.(*advisorEntry).mapping = m
		a.ll.MoveToFront(el)
		return
	}
	el := a.ll.PushFront(&advisorEntry{fp: fp, mapping: m})
	a.index[fp] = el
	if a.ll.Len() > a.capacity {
		oldest := a.ll.Back()
		if oldest != nil {
			a.ll.Remove(oldest)
			delete(a.index, oldest.Value.(*advisorEntry).fp)
		}
	}
}

// Query implements Advisor.
func (a *MemoryAdvisor) Query(fp contenthash.Fingerprint) (Mapping, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	el, ok := a.index[fp]
	if !ok {
		return Mapping{}, false
	}
	a.ll.MoveToFront(el)
	return el.Value.(*advisorEntry).mapping, true
}
