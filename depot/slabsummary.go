package depot

import (
	"fmt"

	"github.com/narwhal-systems/dedupvol/backend"
	"github.com/narwhal-systems/dedupvol/layout"
)

// SlabSummary is the one-byte-per-slab startup accelerator (spec.md
// §6): whether a slab's reference counts must be reloaded from its
// journal, and where its journal tail currently sits.
type SlabSummary struct {
	entries []layout.SlabSummaryByte
	origin  uint64 // PBN of the summary's first on-disk block
}

// NewSlabSummary constructs a summary for slabCount slabs, all
// defaulting to "must load ref counts" until told otherwise (a fresh
// format has nothing trustworthy cached yet).
func NewSlabSummary(slabCount uint32, origin uint64) *SlabSummary {
	entries := make([]layout.SlabSummaryByte, slabCount)
	for i := range entries {
		entries[i] = layout.SlabSummaryByte{MustLoadRefCounts: true}
	}
	return &SlabSummary{entries: entries, origin: origin}
}

func (s *SlabSummary) checkIndex(slabNumber uint32) {
	if int(slabNumber) >= len(s.entries) {
		panic(fmt.Sprintf("depot: slab number %d out of range for summary of %d slabs", slabNumber, len(s.entries)))
	}
}

// Update records slabNumber's current tail-block offset and whether
// its reference counts must be reloaded on next startup.
func (s *SlabSummary) Update(slabNumber uint32, mustLoad bool, tailBlockOffset uint8) {
	s.checkIndex(slabNumber)
	s.entries[slabNumber] = layout.SlabSummaryByte{
		MustLoadRefCounts: mustLoad,
		TailBlockOffset:   tailBlockOffset & 0x7f,
	}
}

// MustLoadRefCounts reports whether slabNumber's reference counts need
// to be rebuilt from its journal before it can serve allocations.
func (s *SlabSummary) MustLoadRefCounts(slabNumber uint32) bool {
	s.checkIndex(slabNumber)
	return s.entries[slabNumber].MustLoadRefCounts
}

// Save packs the summary into whole backend blocks and writes them
// starting at origin.
func (s *SlabSummary) Save(dev backend.Device) error {
	raw := make([]byte, 0, len(s.entries))
	for _, e := range s.entries {
		raw = append(raw, e.Pack())
	}
	padded := padToBlockMultiple(raw)
	return dev.WriteExtent(s.origin, padded)
}

// Load reads blockCount blocks of packed summary bytes starting at
// origin and decodes the first len(s.entries) of them, overwriting any
// in-memory state.
func (s *SlabSummary) Load(dev backend.Device, blockCount uint64) error {
	var raw []byte
	for i := uint64(0); i < blockCount; i++ {
		block, err := dev.ReadBlock(s.origin + i)
		if err != nil {
			return fmt.Errorf("depot: load slab summary block %d: %w", i, err)
		}
		raw = append(raw, block...)
	}
	for i := range s.entries {
		if i >= len(raw) {
			break
		}
		s.entries[i] = layout.UnpackSlabSummaryByte(raw[i])
	}
	return nil
}

func padToBlockMultiple(raw []byte) []byte {
	rem := len(raw) % backend.BlockSize
	if rem == 0 {
		return raw
	}
	return append(raw, make([]byte, backend.BlockSize-rem)...)
}
