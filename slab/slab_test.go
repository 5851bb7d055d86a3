package slab

import (
	"testing"

	"github.com/narwhal-systems/dedupvol/adminstate"
	"github.com/narwhal-systems/dedupvol/layout"
	"github.com/stretchr/testify/require"
)

func TestSlabIncrementAndDecrement(t *testing.T) {
	s := New(0, 1000, 16, 4, nil, adminstate.New)
	require.NoError(t, s.Admin.Transition(adminstate.Loading))
	require.NoError(t, s.Admin.Transition(adminstate.NormalOperation))

	changed, err := s.ModifyReferenceCount(1000, layout.SlabJournalIncrement, layout.JournalPoint{SequenceNumber: 5})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, uint32(15), s.FreeBlockCount())

	changed, err = s.ModifyReferenceCount(1000, layout.SlabJournalDecrement, layout.JournalPoint{SequenceNumber: 5})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, uint32(16), s.FreeBlockCount())
}

func TestSlabModifyReferenceCountOutOfRange(t *testing.T) {
	s := New(0, 1000, 16, 4, nil, adminstate.New)
	_, err := s.ModifyReferenceCount(2000, layout.SlabJournalIncrement, layout.JournalPoint{})
	require.Error(t, err)
}

func TestSlabUnrecoveredPreservesRefCounts(t *testing.T) {
	s := New(0, 1000, 16, 4, nil, adminstate.New)
	s.MarkUnrecovered()

	changed, err := s.ModifyReferenceCount(1000, layout.SlabJournalIncrement, layout.JournalPoint{SequenceNumber: 5})
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, uint32(16), s.FreeBlockCount()) // untouched; scrubbing will fix it
}

func TestSlabAllocateNextFree(t *testing.T) {
	s := New(0, 1000, 4, 4, nil, adminstate.New)
	pbn, ok := s.AllocateNextFree()
	require.True(t, ok)
	require.Equal(t, uint64(1000), pbn)
	require.Equal(t, uint32(3), s.FreeBlockCount())
}

func TestSlabAcquireProvisionalReferenceRejectsDouble(t *testing.T) {
	s := New(0, 1000, 4, 4, nil, adminstate.New)
	require.NoError(t, s.AcquireProvisionalReference(1001))
	require.Error(t, s.AcquireProvisionalReference(1001))
}

func TestSlabCommitProvisionalAllocationLeavesOneReference(t *testing.T) {
	s := New(0, 1000, 4, 4, nil, adminstate.New)
	pbn, ok := s.AllocateNextFree()
	require.True(t, ok)
	require.Equal(t, uint32(3), s.FreeBlockCount())

	require.NoError(t, s.CommitProvisionalAllocation(pbn, layout.JournalPoint{SequenceNumber: 9}))
	require.Equal(t, uint32(3), s.FreeBlockCount())
	require.Equal(t, byte(1), s.RefCounts.Get(0))
}

func TestSlabCommitProvisionalAllocationRejectsNonProvisionalBlock(t *testing.T) {
	s := New(0, 1000, 4, 4, nil, adminstate.New)
	require.Error(t, s.CommitProvisionalAllocation(1000, layout.JournalPoint{}))
}

func TestSlabDrainCommitsJournalAndQuiesces(t *testing.T) {
	var committed [][]layout.SlabJournalEntry
	commit := func(entries []layout.SlabJournalEntry) error {
		committed = append(committed, entries)
		return nil
	}
	s := New(0, 1000, 16, 4, commit, adminstate.New)
	require.NoError(t, s.Admin.Transition(adminstate.Loading))
	require.NoError(t, s.Admin.Transition(adminstate.NormalOperation))

	_, err := s.ModifyReferenceCount(1000, layout.SlabJournalIncrement, layout.JournalPoint{SequenceNumber: 1})
	require.NoError(t, err)

	require.NoError(t, s.Drain())
	require.Equal(t, adminstate.Quiescent, s.Admin.Current())
	require.Len(t, committed, 1)
	require.False(t, s.Journal.IsActive())
}

func TestShouldSaveFullyBuiltSlab(t *testing.T) {
	s := New(0, 1000, 4, 4, nil, adminstate.New)
	require.False(t, s.ShouldSaveFullyBuiltSlab(false, 4))

	require.NoError(t, s.AcquireProvisionalReference(1000))
	require.True(t, s.ShouldSaveFullyBuiltSlab(false, 4))
}
