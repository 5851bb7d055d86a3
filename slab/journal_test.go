package slab

import (
	"testing"

	"github.com/narwhal-systems/dedupvol/layout"
	"github.com/stretchr/testify/require"
)

func TestJournalOpensNewBlockWhenFull(t *testing.T) {
	j := NewJournal(2, nil)
	j.AddEntry(layout.SlabJournalEntry{SlabBlockNumber: 0, JournalSeqNumber: 1})
	j.AddEntry(layout.SlabJournalEntry{SlabBlockNumber: 1, JournalSeqNumber: 1})
	j.AddEntry(layout.SlabJournalEntry{SlabBlockNumber: 2, JournalSeqNumber: 2})

	require.Equal(t, 2, j.blocks.Len())
}

func TestJournalIsBlankUntilFirstEntry(t *testing.T) {
	j := NewJournal(2, nil)
	require.True(t, j.IsBlank())
	j.AddEntry(layout.SlabJournalEntry{JournalSeqNumber: 1})
	require.False(t, j.IsBlank())
}

func TestCommitOldestTailBlocksLockingStopsAtHolder(t *testing.T) {
	var committed int
	commit := func(entries []layout.SlabJournalEntry) error {
		committed++
		return nil
	}
	j := NewJournal(1, commit)
	j.AddEntry(layout.SlabJournalEntry{SlabBlockNumber: 0, JournalSeqNumber: 1})
	j.AddEntry(layout.SlabJournalEntry{SlabBlockNumber: 1, JournalSeqNumber: 2})
	j.AddEntry(layout.SlabJournalEntry{SlabBlockNumber: 2, JournalSeqNumber: 3})
	require.Equal(t, 3, j.blocks.Len())

	require.NoError(t, j.CommitOldestTailBlocksLocking(2))
	require.Equal(t, 2, committed)
	require.Equal(t, 1, j.blocks.Len())
}

func TestCommitAllDrainsEveryBlock(t *testing.T) {
	var committed int
	commit := func(entries []layout.SlabJournalEntry) error {
		committed++
		return nil
	}
	j := NewJournal(1, commit)
	j.AddEntry(layout.SlabJournalEntry{JournalSeqNumber: 1})
	j.AddEntry(layout.SlabJournalEntry{JournalSeqNumber: 2})

	require.True(t, j.IsActive())
	require.NoError(t, j.CommitAll())
	require.False(t, j.IsActive())
	require.Equal(t, 2, committed)
}

func TestAdjustBlockReferenceDecrementsLockCount(t *testing.T) {
	j := NewJournal(4, nil)
	j.AddEntry(layout.SlabJournalEntry{JournalSeqNumber: 7})
	j.AdjustBlockReference(7, -1)
	require.NotContains(t, j.lockCounts, uint64(7))
}
