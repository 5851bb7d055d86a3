package adminstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeviceMachineLegalTransitions(t *testing.T) {
	m := NewDeviceMachine()
	require.Equal(t, NormalOperation, m.Current())
	require.NoError(t, m.Transition(Suspending))
	require.NoError(t, m.Transition(Saved))
	require.NoError(t, m.Transition(Resuming))
	require.NoError(t, m.Transition(NormalOperation))
}

func TestDeviceMachineRejectsIllegalTransition(t *testing.T) {
	m := NewDeviceMachine()
	err := m.Transition(Saved)
	require.Error(t, err)
	var tErr *ErrInvalidTransition
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, NormalOperation, m.Current())
}

func TestReadOnlyIsAlwaysReachableAndSticky(t *testing.T) {
	m := NewDeviceMachine()
	require.NoError(t, m.Transition(ReadOnly))
	require.True(t, m.IsReadOnly())
	err := m.Transition(NormalOperation)
	require.Error(t, err)
}

func TestOnEnterCallback(t *testing.T) {
	m := NewDeviceMachine()
	fired := false
	m.OnEnter(Suspending, func() { fired = true })
	require.NoError(t, m.Transition(Suspending))
	require.True(t, fired)
}

func TestSlabMachineScrubbingPath(t *testing.T) {
	m := NewSlabMachine(New)
	require.NoError(t, m.Transition(Loading))
	require.NoError(t, m.Transition(RequiresScrubbing))
	require.NoError(t, m.Transition(Scrubbing))
	require.NoError(t, m.Transition(NormalOperation))
	require.NoError(t, m.Transition(Draining))
	require.NoError(t, m.Transition(Quiescent))
}
