// Package zone implements the cooperative single-threaded execution
// domains ("zones") the pipeline's metadata managers run on: one
// journal zone, N logical zones, M physical zones, a hash-lock zone,
// and a packer zone. Each zone owns a disjoint shard of state and
// processes work strictly FIFO and non-preemptively; a data VIO moves
// between zones only by enqueueing itself as a tagged completion on
// the destination zone's inbox.
package zone

import (
	"sync"
)

// Type identifies which kind of zone a Zone is, matching spec.md §5.
type Type int

const (
	TypeJournal Type = iota
	TypeLogical
	TypePhysical
	TypeHashLock
	TypePacker
	TypeCPU
)

func (t Type) String() string {
	switch t {
	case TypeJournal:
		return "journal"
	case TypeLogical:
		return "logical"
	case TypePhysical:
		return "physical"
	case TypeHashLock:
		return "hash-lock"
	case TypePacker:
		return "packer"
	case TypeCPU:
		return "cpu"
	default:
		return "unknown"
	}
}

// Completion is a tagged continuation delivered to a zone's inbox.
// Tag lets a zone's dispatch loop branch without type-asserting every
// possible payload; Run carries out the work and must not block on
// anything but another zone's Enqueue or a channel send/receive.
type Completion struct {
	Tag     string
	Run     func()
}

// Zone is one cooperative execution domain: a goroutine draining a
// FIFO inbox. Construction starts the goroutine; callers stop it with
// Close.
type Zone struct {
	id     int
	typ    Type
	inbox  chan Completion
	done   chan struct{}
	wg     sync.WaitGroup
}

// New starts a zone of the given type and numeric id with the given
// inbox depth (0 for unbounded-ish backpressure-free use in tests is
// not allowed — depth must be positive, matching a real bounded
// admission-controlled pipeline).
func New(typ Type, id int, inboxDepth int) *Zone {
	if inboxDepth <= 0 {
		panic("zone: inboxDepth must be positive")
	}
	z := &Zone{
		id:    id,
		typ:   typ,
		inbox: make(chan Completion, inboxDepth),
		done:  make(chan struct{}),
	}
	z.wg.Add(1)
	go z.run()
	return z
}

func (z *Zone) run() {
	defer z.wg.Done()
	for {
		select {
		case c := <-z.inbox:
			c.Run()
		case <-z.done:
			// Drain anything already queued before exiting so a
			// suspend-then-close sequence never loses acknowledged
			// work that was already admitted.
			for {
				select {
				case c := <-z.inbox:
					c.Run()
				default:
					return
				}
			}
		}
	}
}

// ID returns the zone's index within its Type (e.g. logical zone 2).
func (z *Zone) ID() int { return z.id }

// Type returns the zone's Type.
func (z *Zone) Type() Type { return z.typ }

// Enqueue places a completion on the zone's inbox. This is the only
// way a data VIO "migrates" between zones (spec.md §5,
// kvdo_enqueue_data_vio_callback): the caller's own zone keeps running
// and the destination zone will eventually run c.Run() on its own
// goroutine, in FIFO order with everything else queued there.
func (z *Zone) Enqueue(c Completion) {
	z.inbox <- c
}

// TryEnqueue attempts a non-blocking enqueue, reporting false if the
// zone's inbox is full (used by admission control to apply
// backpressure instead of blocking the caller's zone).
func (z *Zone) TryEnqueue(c Completion) bool {
	select {
	case z.inbox <- c:
		return true
	default:
		return false
	}
}

// Close stops the zone after draining anything already queued, and
// waits for its goroutine to exit.
func (z *Zone) Close() {
	close(z.done)
	z.wg.Wait()
}

// Set is a named collection of zones of possibly-mixed types.
type Set struct {
	zones []*Zone
}

// NewSet constructs a Set from already-created zones.
func NewSet(zones ...*Zone) *Set {
	return &Set{zones: zones}
}

// ByIndex returns the zone at position i.
func (s *Set) ByIndex(i int) *Zone { return s.zones[i] }

// Len returns the number of zones in the set.
func (s *Set) Len() int { return len(s.zones) }

// CloseAll closes every zone in the set.
func (s *Set) CloseAll() {
	for _, z := range s.zones {
		z.Close()
	}
}
