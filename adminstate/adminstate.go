// Package adminstate implements the generic admin-state sub-machine
// reused by the top-level device and by each slab. Each of them owns an
// independent instance — this package supplies the one reusable
// state-machine type, not a single global state.
package adminstate

import (
	"fmt"
	"sync"
)

// State is one node of an admin-state machine.
type State int

const (
	// Device-wide states (spec.md §6, "Admin surface").
	NormalOperation State = iota
	Flushing
	Suspending
	Saving
	Resuming
	Scrubbing
	Saved
	ReadOnly

	// Per-slab states (spec.md §4.3).
	New
	Loading
	RequiresScrubbing
	RequiresHighPriorityScrubbing
	Rebuilding
	Replaying
	Draining
	Quiescent
)

func (s State) String() string {
	switch s {
	case NormalOperation:
		return "NORMAL_OPERATION"
	case Flushing:
		return "FLUSHING"
	case Suspending:
		return "SUSPENDING"
	case Saving:
		return "SAVING"
	case Resuming:
		return "RESUMING"
	case Scrubbing:
		return "SCRUBBING"
	case Saved:
		return "SAVED"
	case ReadOnly:
		return "READ_ONLY"
	case New:
		return "NEW"
	case Loading:
		return "LOADING"
	case RequiresScrubbing:
		return "REQUIRES_SCRUBBING"
	case RequiresHighPriorityScrubbing:
		return "REQUIRES_HIGH_PRIORITY_SCRUBBING"
	case Rebuilding:
		return "REBUILDING"
	case Replaying:
		return "REPLAYING"
	case Draining:
		return "DRAINING"
	case Quiescent:
		return "QUIESCENT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Machine is a mutex-guarded admin-state holder with an explicit
// legal-transition table. Operations outside the table fail with
// ErrInvalidTransition rather than being silently allowed, mirroring
// the INVALID_ADMIN_STATE error code.
type Machine struct {
	mu        sync.Mutex
	current   State
	allowed   map[State]map[State]bool
	onEnter   map[State]func()
	readOnly  bool // sticky: once set, every transition except into ReadOnly fails
}

// ErrInvalidTransition is returned when a requested transition is not
// in the machine's allowed table.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("adminstate: invalid transition %s -> %s", e.From, e.To)
}

// NewMachine constructs a Machine starting in initial, with the given
// legal transition table (from -> set of legal destinations).
func NewMachine(initial State, transitions map[State][]State) *Machine {
	m := &Machine{
		current: initial,
		allowed: make(map[State]map[State]bool, len(transitions)),
		onEnter: make(map[State]func()),
	}
	for from, tos := range transitions {
		set := make(map[State]bool, len(tos))
		for _, to := range tos {
			set[to] = true
		}
		m.allowed[from] = set
	}
	return m
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OnEnter registers a callback invoked (synchronously, under the
// machine's lock) whenever the machine transitions into state s.
func (m *Machine) OnEnter(s State, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[s] = fn
}

// Transition attempts to move the machine from its current state to
// to. It fails with *ErrInvalidTransition if that edge is not in the
// allowed table and to is not ReadOnly (ReadOnly is always reachable,
// since a fatal assertion can strike in any state).
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly && to != ReadOnly {
		return &ErrInvalidTransition{From: m.current, To: to}
	}
	if to != ReadOnly {
		set, ok := m.allowed[m.current]
		if !ok || !set[to] {
			return &ErrInvalidTransition{From: m.current, To: to}
		}
	}
	m.current = to
	if to == ReadOnly {
		m.readOnly = true
	}
	if fn := m.onEnter[to]; fn != nil {
		fn()
	}
	return nil
}

// MustTransition panics if the transition is illegal; reserved for
// call sites that have already checked Current() and are certain the
// edge is legal (e.g. a scheduled, single-threaded drain sequence).
func (m *Machine) MustTransition(to State) {
	if err := m.Transition(to); err != nil {
		panic(err)
	}
}

// IsReadOnly reports whether the machine has ever entered ReadOnly.
func (m *Machine) IsReadOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readOnly
}
