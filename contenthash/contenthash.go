// Package contenthash wraps the MurmurHash3-128 implementation used
// to fingerprint a data VIO's 4 KiB buffer (spec.md §4.8 step 3). The
// hasher is named as an external collaborator in the core
// specification; this package supplies one concrete, real
// implementation so the pipeline is exercisable end-to-end.
package contenthash

import (
	"github.com/twmb/murmur3"
)

// Fingerprint is the 128-bit content fingerprint carried by a data
// VIO from the hashing stage through hash-lock coordination.
type Fingerprint [16]byte

// Seed is the fixed seed the pipeline hashes every block with, so
// that the same content always produces the same fingerprint
// regardless of which VIO computed it (a prerequisite for
// deduplication across independent writers).
const Seed = 0x76f4d7a1

// Hasher computes content fingerprints. It is stateless and safe for
// concurrent use by the CPU worker pool (spec.md §5: "a small pool of
// CPU worker threads for hashing/compressing (pure-compute, no shared
// state)").
type Hasher struct{}

// New constructs a Hasher.
func New() *Hasher { return &Hasher{} }

// Sum computes the MurmurHash3-128 fingerprint of buf using the
// pipeline's fixed seed.
func (h *Hasher) Sum(buf []byte) Fingerprint {
	hi, lo := murmur3.SeedSum128(Seed, Seed, buf)
	var fp Fingerprint
	putUint64(fp[0:8], hi)
	putUint64(fp[8:16], lo)
	return fp
}

func putUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}
