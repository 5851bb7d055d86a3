package datavio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressionStateProgressesInOrder(t *testing.T) {
	var s compressionState
	require.True(t, s.MayCompress())

	require.NoError(t, s.Advance(Compressing))
	require.False(t, s.MayCompress())
	require.True(t, s.MayPack())

	require.NoError(t, s.Advance(Packing))
	require.False(t, s.MayPack())
	require.True(t, s.MayBlockInPacker())

	require.NoError(t, s.Advance(PostPacker))
	require.False(t, s.MayBlockInPacker())
}

func TestCompressionStateRejectsSkippingAStep(t *testing.T) {
	var s compressionState
	require.Error(t, s.Advance(Packing))
}

func TestCompressionStateCanJumpToPostPackerFromAnyStatus(t *testing.T) {
	var s compressionState
	require.NoError(t, s.Advance(PostPacker))
	require.Equal(t, PostPacker, s.status)

	s2 := compressionState{status: Compressing}
	require.NoError(t, s2.Advance(PostPacker))
}

func TestMarkIneligiblePreventsCompression(t *testing.T) {
	var s compressionState
	s.MarkIneligible()
	require.False(t, s.MayCompress())
}

func TestMarkCancelledOnlyFirstCallerWins(t *testing.T) {
	s := compressionState{status: Packing}
	require.True(t, s.MarkCancelled())
	require.False(t, s.MarkCancelled())
	require.False(t, s.MayBlockInPacker())
}

func TestCompressionStatusString(t *testing.T) {
	require.Equal(t, "PRE_COMPRESSOR", PreCompressor.String())
	require.Equal(t, "COMPRESSING", Compressing.String())
	require.Equal(t, "PACKING", Packing.String())
	require.Equal(t, "POST_PACKER", PostPacker.String())
}
