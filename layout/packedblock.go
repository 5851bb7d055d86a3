package layout

import (
	"encoding/binary"
	"fmt"
)

// PackedBlockHeaderSize reserves two bytes per compressed slot for a
// little-endian fragment length, ahead of the concatenated fragment
// payloads — the same "fixed header, then packed bytes" shape as a
// recovery journal block, just keyed by slot instead of entry count.
const PackedBlockHeaderSize = MaxCompressedSlots * 2

// PackCompressedBlock lays out up to MaxCompressedSlots already
// LZ4-compressed fragments into one blockSize buffer: fragments[i]
// occupies slot i. A nil or empty fragments[i] leaves slot i unused
// (length 0 in the header, no bytes in the payload).
func PackCompressedBlock(blockSize int, fragments [][]byte) ([]byte, error) {
	if len(fragments) > MaxCompressedSlots {
		return nil, fmt.Errorf("layout: %d fragments exceeds max %d", len(fragments), MaxCompressedSlots)
	}

	total := PackedBlockHeaderSize
	for _, f := range fragments {
		total += len(f)
	}
	if total > blockSize {
		return nil, fmt.Errorf("layout: packed block needs %d bytes, block size is %d", total, blockSize)
	}

	buf := make([]byte, blockSize)
	offset := PackedBlockHeaderSize
	for i, f := range fragments {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(len(f)))
		copy(buf[offset:offset+len(f)], f)
		offset += len(f)
	}
	return buf, nil
}

// UnpackCompressedFragment extracts the slot-th fragment from a block
// previously produced by PackCompressedBlock.
func UnpackCompressedFragment(block []byte, slot int) ([]byte, error) {
	if slot < 0 || slot >= MaxCompressedSlots {
		return nil, fmt.Errorf("layout: slot %d out of range", slot)
	}
	if len(block) < PackedBlockHeaderSize {
		return nil, fmt.Errorf("layout: block too small to hold a packed-block header")
	}

	offset := PackedBlockHeaderSize
	var length int
	for i := 0; i <= slot; i++ {
		l := int(binary.LittleEndian.Uint16(block[i*2 : i*2+2]))
		if i == slot {
			length = l
			break
		}
		offset += l
	}
	if length == 0 {
		return nil, fmt.Errorf("layout: slot %d is empty", slot)
	}
	if offset+length > len(block) {
		return nil, fmt.Errorf("layout: slot %d length %d overruns block", slot, length)
	}
	return block[offset : offset+length], nil
}
