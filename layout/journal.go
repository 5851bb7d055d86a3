package layout

import "encoding/binary"

// RecoveryJournalEntry is one block-map delta recorded in a recovery
// journal block: the LBN that changed, its mapping before the change,
// and its mapping after.
type RecoveryJournalEntry struct {
	LBN      uint64
	OldEntry BlockMapEntry
	NewEntry BlockMapEntry
}

// recoveryJournalEntrySize is the on-disk size of one journal entry:
// an 8-byte LBN plus two 5-byte block-map entries.
const recoveryJournalEntrySize = 8 + BlockMapEntrySize + BlockMapEntrySize

// recoveryJournalHeaderSize is the fixed header before the entry list:
// an 8-byte sequence number and a 2-byte entry count.
const recoveryJournalHeaderSize = 8 + 2

// RecoveryJournalBlockCapacity returns the maximum number of entries
// that fit in a block of the given size after the fixed header.
func RecoveryJournalBlockCapacity(blockSize int) int {
	return (blockSize - recoveryJournalHeaderSize) / recoveryJournalEntrySize
}

// PackRecoveryJournalBlock encodes a sequence number and its entries
// into a buffer of exactly blockSize bytes:
// [sequenceNumber:8 LE][entryCount:2 LE][entries...].
func PackRecoveryJournalBlock(blockSize int, sequenceNumber uint64, entries []RecoveryJournalEntry) []byte {
	if len(entries) > RecoveryJournalBlockCapacity(blockSize) {
		panic("layout: too many recovery journal entries for block size")
	}
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint64(buf[0:8], sequenceNumber)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(entries)))
	off := recoveryJournalHeaderSize
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.LBN)
		off += 8
		old := PackBlockMapEntry(e.OldEntry)
		copy(buf[off:off+BlockMapEntrySize], old[:])
		off += BlockMapEntrySize
		nw := PackBlockMapEntry(e.NewEntry)
		copy(buf[off:off+BlockMapEntrySize], nw[:])
		off += BlockMapEntrySize
	}
	return buf
}

// UnpackRecoveryJournalBlock decodes a recovery journal block
// previously produced by PackRecoveryJournalBlock.
func UnpackRecoveryJournalBlock(buf []byte) (sequenceNumber uint64, entries []RecoveryJournalEntry) {
	sequenceNumber = binary.LittleEndian.Uint64(buf[0:8])
	count := binary.LittleEndian.Uint16(buf[8:10])
	entries = make([]RecoveryJournalEntry, 0, count)
	off := recoveryJournalHeaderSize
	for i := uint16(0); i < count; i++ {
		lbn := binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		var oldRaw, newRaw [BlockMapEntrySize]byte
		copy(oldRaw[:], buf[off:off+BlockMapEntrySize])
		off += BlockMapEntrySize
		copy(newRaw[:], buf[off:off+BlockMapEntrySize])
		off += BlockMapEntrySize
		entries = append(entries, RecoveryJournalEntry{
			LBN:      lbn,
			OldEntry: UnpackBlockMapEntry(oldRaw),
			NewEntry: UnpackBlockMapEntry(newRaw),
		})
	}
	return sequenceNumber, entries
}
