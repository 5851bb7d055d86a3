// Package dedupadvice defines the external dedupe advisor interface
// (spec.md §6): an opaque asynchronous service offered fingerprints
// and queried for previous advice. Advice is always unverified — the
// core byte-compares before trusting it (spec.md §4.7).
package dedupadvice

import "github.com/narwhal-systems/dedupvol/contenthash"

// Mapping is the PBN a previous write of a given fingerprint ended up
// at, as advised by the external service.
type Mapping struct {
	PBN uint64
}

// Advisor is the interface the hash-lock coordinator talks to. The
// core never assumes a specific advisor implementation.
type Advisor interface {
	// Post offers a fingerprint->mapping association. The advisor may
	// discard it; posting is best-effort, never required for
	// correctness.
	Post(fp contenthash.Fingerprint, m Mapping)
	// Query returns previously posted advice for fp, or ok == false if
	// the advisor has none (or has since evicted it).
	Query(fp contenthash.Fingerprint) (m Mapping, ok bool)
}
