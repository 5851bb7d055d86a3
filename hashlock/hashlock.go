// Package hashlock coordinates at-most-one dedupe decision per
// content fingerprint (spec.md §4.7). The first data VIO to join a
// given fingerprint is the agent: it alone queries the external
// dedupe advisor, verifies or allocates, and posts new advice. Every
// other VIO that joins while the agent is still working becomes a
// waiter and shares the agent's outcome instead of repeating the
// work. golang.org/x/sync/singleflight already implements exactly
// this "one flight per key, concurrent latecomers share the result"
// contract, so the coordinator is a thin domain wrapper around it
// rather than a hand-rolled table of locks.
package hashlock

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/narwhal-systems/dedupvol/contenthash"
	"github.com/narwhal-systems/dedupvol/dedupadvice"
)

// Decision is what the agent for a fingerprint settled on: the PBN
// every participant should link their LBN to and bump the refcount
// of, and whether that PBN came from a verified dedupe hit or a fresh
// allocation.
type Decision struct {
	PBN      uint64
	New      bool // true if Agent had to allocate rather than dedupe
	Verified bool // true if a candidate's bytes were confirmed to match
}

// AgentFunc performs the one-time-per-flight work: consult the
// advisor, verify a candidate by reading and byte-comparing, or
// allocate a new block. It runs at most once per overlapping set of
// callers sharing a fingerprint.
type AgentFunc func(fp contenthash.Fingerprint) (Decision, error)

// Coordinator is the process-wide table of in-flight hash locks.
// The zero value is ready to use.
type Coordinator struct {
	group singleflight.Group
}

// New constructs a Coordinator.
func New() *Coordinator { return &Coordinator{} }

// Resolve joins the hash lock for fp. The first caller to arrive runs
// agent and becomes the lock's agent; every caller that arrives while
// that call is still in flight waits and receives the same Decision
// without invoking agent itself. Once the in-flight call completes,
// the lock is gone: a later, non-overlapping call with the same
// fingerprint starts a fresh flight, matching the "created on first
// write, destroyed when the last waiter is released" lifecycle.
func (c *Coordinator) Resolve(fp contenthash.Fingerprint, agent AgentFunc) (Decision, error) {
	key := string(fp[:])
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return agent(fp)
	})
	if err != nil {
		return Decision{}, err
	}
	return v.(Decision), nil
}

// VerifyFunc byte-compares the block currently stored at candidate
// against the data VIO's buffer, reporting whether they match.
type VerifyFunc func(candidate dedupadvice.Mapping) (matches bool, err error)

// AllocateFunc allocates a fresh PBN and gives it a provisional
// refcount, for use when no verified dedupe candidate exists.
type AllocateFunc func() (pbn uint64, err error)

// DefaultAgent builds the ordinary AgentFunc for spec.md §4.8 steps
// 5-7: ask the advisor for a candidate, verify it, and fall back to
// allocation (posting the new mapping back to the advisor) on a miss
// or a byte-compare mismatch.
func DefaultAgent(advisor dedupadvice.Advisor, verify VerifyFunc, allocate AllocateFunc) AgentFunc {
	return func(fp contenthash.Fingerprint) (Decision, error) {
		if candidate, ok := advisor.Query(fp); ok {
			matches, err := verify(candidate)
			if err != nil {
				return Decision{}, fmt.Errorf("hashlock: verify candidate for fingerprint: %w", err)
			}
			if matches {
				return Decision{PBN: candidate.PBN, Verified: true}, nil
			}
			// Byte-compare mismatch is expected (advice is never
			// trusted blindly) and falls through to allocation.
		}

		pbn, err := allocate()
		if err != nil {
			return Decision{}, fmt.Errorf("hashlock: allocate on dedupe miss: %w", err)
		}
		advisor.Post(fp, dedupadvice.Mapping{PBN: pbn})
		return Decision{PBN: pbn, New: true}, nil
	}
}
