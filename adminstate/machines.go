package adminstate

// DeviceTransitions is the legal transition table for the device-wide
// admin-state machine (spec.md §6, "Admin surface").
func DeviceTransitions() map[State][]State {
	return map[State][]State{
		NormalOperation: {Flushing, Suspending, Saving, Scrubbing},
		Flushing:        {NormalOperation, Suspending},
		Suspending:      {Saved, NormalOperation},
		Saving:          {Saved},
		Saved:           {Resuming},
		Resuming:        {NormalOperation, Scrubbing},
		Scrubbing:       {NormalOperation},
	}
}

// SlabTransitions is the legal transition table for a per-slab
// admin-state machine (spec.md §4.3):
// NEW -> LOADING -> NORMAL -> SCRUBBING? -> NORMAL -> DRAINING -> QUIESCENT.
func SlabTransitions() map[State][]State {
	return map[State][]State{
		New:                           {Loading},
		Loading:                      {NormalOperation, RequiresScrubbing, RequiresHighPriorityScrubbing},
		RequiresScrubbing:            {Scrubbing},
		RequiresHighPriorityScrubbing: {Scrubbing},
		Scrubbing:                    {NormalOperation},
		NormalOperation:               {Draining, RequiresScrubbing, RequiresHighPriorityScrubbing},
		Draining:                      {Quiescent},
	}
}

// NewDeviceMachine constructs the device-wide admin-state machine.
func NewDeviceMachine() *Machine {
	return NewMachine(NormalOperation, DeviceTransitions())
}

// NewSlabMachine constructs a per-slab admin-state machine, starting
// in state from (New on first format, Loading on startup load).
func NewSlabMachine(from State) *Machine {
	return NewMachine(from, SlabTransitions())
}
