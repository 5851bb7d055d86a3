package datavio

import "fmt"

// CompressionStatus is a data VIO's position in the compression state
// machine (spec.md §4.8); the enum order is itself the only allowed
// forward progression, with PostPacker reachable directly from
// Compressing or Packing when compression is abandoned.
type CompressionStatus int

const (
	PreCompressor CompressionStatus = iota
	Compressing
	Packing
	PostPacker
)

func (s CompressionStatus) String() string {
	switch s {
	case PreCompressor:
		return "PRE_COMPRESSOR"
	case Compressing:
		return "COMPRESSING"
	case Packing:
		return "PACKING"
	case PostPacker:
		return "POST_PACKER"
	default:
		return fmt.Sprintf("CompressionStatus(%d)", int(s))
	}
}

// compressionState tracks one data VIO's compression status plus the
// flags that gate its predicates: a VIO can be marked ineligible to
// start compressing, and once packing it can be cancelled by exactly
// one caller.
type compressionState struct {
	status        CompressionStatus
	mayNotCompress bool
	cancelled      bool
}

// MayCompress is true iff status == PreCompressor and the VIO hasn't
// been marked ineligible (e.g. by a concurrent write to the same LBN
// invalidating it before compression started).
func (s *compressionState) MayCompress() bool {
	return s.status == PreCompressor && !s.mayNotCompress
}

// MayPack is true iff status == Compressing and cancellation hasn't
// been observed.
func (s *compressionState) MayPack() bool {
	return s.status == Compressing && !s.cancelled
}

// MayBlockInPacker is true iff status == Packing and not cancelled;
// once this returns true, any further cancellation must go through
// the packer's CancelCompression contract rather than this flag.
func (s *compressionState) MayBlockInPacker() bool {
	return s.status == Packing && !s.cancelled
}

// Advance moves the VIO to the next compression status. Moving to
// PostPacker is always legal (it is the escape hatch for
// uncompressible, cancelled, or discarded VIOs); any other target must
// be the immediate successor of the current status.
func (s *compressionState) Advance(next CompressionStatus) error {
	if next == PostPacker {
		s.status = PostPacker
		return nil
	}
	if next != s.status+1 {
		return fmt.Errorf("datavio: illegal compression transition %s -> %s", s.status, next)
	}
	s.status = next
	return nil
}

// MarkIneligible sets may_not_compress, used when a concurrent event
// invalidates a VIO's candidacy before it starts compressing.
func (s *compressionState) MarkIneligible() {
	s.mayNotCompress = true
}

// MarkCancelled reports whether this call is the first to cancel the
// VIO's in-progress compression/packing.
func (s *compressionState) MarkCancelled() (first bool) {
	if s.cancelled {
		return false
	}
	s.cancelled = true
	return true
}
