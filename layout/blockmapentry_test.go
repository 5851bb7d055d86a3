package layout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackBlockMapEntryRoundTrip(t *testing.T) {
	cases := []BlockMapEntry{
		{PBN: 0, State: MappingStateUnmapped},
		{PBN: 1, State: MappingStateUncompressed},
		{PBN: (1 << 36) - 1, State: MappingStateUncompressed},
		{PBN: 12345, State: CompressedState(0)},
		{PBN: 12345, State: CompressedState(13)},
	}
	for _, c := range cases {
		packed := PackBlockMapEntry(c)
		require.Len(t, packed, BlockMapEntrySize)
		got := UnpackBlockMapEntry(packed)
		require.Equal(t, c, got)
	}
}

func TestPackBlockMapEntryTruncatesHighBits(t *testing.T) {
	e := BlockMapEntry{PBN: 1 << 40, State: MappingStateUncompressed}
	packed := PackBlockMapEntry(e)
	got := UnpackBlockMapEntry(packed)
	require.Equal(t, uint64(0), got.PBN)
}

func TestBlockMapEntryValidInvariant(t *testing.T) {
	require.True(t, BlockMapEntry{PBN: 0, State: MappingStateUnmapped}.Valid())
	require.False(t, BlockMapEntry{PBN: 0, State: CompressedState(0)}.Valid())
	require.True(t, BlockMapEntry{PBN: 5, State: CompressedState(0)}.Valid())
}

func TestIsCompressedRange(t *testing.T) {
	require.False(t, IsCompressed(MappingStateUnmapped))
	require.False(t, IsCompressed(MappingStateUncompressed))
	for k := 0; k < MaxCompressedSlots; k++ {
		s := CompressedState(k)
		require.True(t, IsCompressed(s))
		require.Equal(t, k, CompressedSlot(s))
	}
	require.False(t, IsCompressed(CompressedState(MaxCompressedSlots)))
}
