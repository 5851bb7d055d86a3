package layout

import "encoding/binary"

// SlabJournalOperation tags a slab journal entry's effect on a
// reference count.
type SlabJournalOperation uint8

const (
	// SlabJournalIncrement records a reference-count increment.
	SlabJournalIncrement SlabJournalOperation = 1
	// SlabJournalDecrement records a reference-count decrement.
	SlabJournalDecrement SlabJournalOperation = 2
)

// JournalPoint identifies the recovery-journal sequence number and
// intra-block entry index a metadata change is associated with; slab
// journal entries and lock-counter accounting are both keyed by it.
type JournalPoint struct {
	SequenceNumber uint64
	EntryCount     uint16
}

// SlabJournalEntrySize is the fixed on-disk size of one slab journal
// entry: operation(1) + slab_block_number(3) + sequenceNumber(8 LE).
const SlabJournalEntrySize = 1 + 3 + 8

// SlabJournalEntry is the unpacked form of one slab-journal record.
type SlabJournalEntry struct {
	Operation        SlabJournalOperation
	SlabBlockNumber  uint32 // only the low 24 bits are significant on disk
	JournalSeqNumber uint64
}

// PackSlabJournalEntry encodes a SlabJournalEntry into its canonical
// 12-byte on-disk form.
func PackSlabJournalEntry(e SlabJournalEntry) [SlabJournalEntrySize]byte {
	var out [SlabJournalEntrySize]byte
	out[0] = byte(e.Operation)
	sbn := e.SlabBlockNumber & 0x00ffffff
	out[1] = byte(sbn)
	out[2] = byte(sbn >> 8)
	out[3] = byte(sbn >> 16)
	binary.LittleEndian.PutUint64(out[4:12], e.JournalSeqNumber)
	return out
}

// UnpackSlabJournalEntry decodes the canonical 12-byte on-disk form.
func UnpackSlabJournalEntry(raw [SlabJournalEntrySize]byte) SlabJournalEntry {
	sbn := uint32(raw[1]) | uint32(raw[2])<<8 | uint32(raw[3])<<16
	return SlabJournalEntry{
		Operation:        SlabJournalOperation(raw[0]),
		SlabBlockNumber:  sbn,
		JournalSeqNumber: binary.LittleEndian.Uint64(raw[4:12]),
	}
}

// SlabSummaryByte is the one-byte-per-slab digest persisted to
// accelerate startup: [mustLoadRefCounts:1 | tailBlockOffset:7].
type SlabSummaryByte struct {
	MustLoadRefCounts bool
	TailBlockOffset   uint8 // 0-127
}

// Pack encodes the slab summary byte.
func (s SlabSummaryByte) Pack() byte {
	var b byte
	if s.MustLoadRefCounts {
		b |= 0x80
	}
	b |= s.TailBlockOffset & 0x7f
	return b
}

// UnpackSlabSummaryByte decodes a slab summary byte.
func UnpackSlabSummaryByte(b byte) SlabSummaryByte {
	return SlabSummaryByte{
		MustLoadRefCounts: b&0x80 != 0,
		TailBlockOffset:   b & 0x7f,
	}
}
