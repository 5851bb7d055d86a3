package packer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recordingFlush(t *testing.T) (FlushFunc, func() [][]Fragment) {
	var mu sync.Mutex
	var calls [][]Fragment
	fn := func(fragments []Fragment) (map[FragmentID]int, error) {
		mu.Lock()
		defer mu.Unlock()
		cp := append([]Fragment(nil), fragments...)
		calls = append(calls, cp)
		slots := make(map[FragmentID]int, len(fragments))
		for i, f := range fragments {
			slots[f.ID] = i
		}
		return slots, nil
	}
	return fn, func() [][]Fragment {
		mu.Lock()
		defer mu.Unlock()
		return append([][]Fragment(nil), calls...)
	}
}

func TestAddFragmentWaitsUntilBinFills(t *testing.T) {
	flush, calls := recordingFlush(t)
	p := New(4096, 2, 0, flush)

	slots, err := p.AddFragment(Fragment{ID: 1, Data: []byte("aaaa")})
	require.NoError(t, err)
	require.Nil(t, slots)
	require.Empty(t, calls())

	slots, err = p.AddFragment(Fragment{ID: 2, Data: []byte("bbbb")})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	require.Equal(t, 1, len(calls()))
}

func TestAddFragmentFlushesWhenByteCapacityExceeded(t *testing.T) {
	flush, calls := recordingFlush(t)
	p := New(10, 14, 0, flush)

	_, err := p.AddFragment(Fragment{ID: 1, Data: []byte("123456")})
	require.NoError(t, err)

	slots, err := p.AddFragment(Fragment{ID: 2, Data: []byte("123456")})
	require.NoError(t, err)
	require.Nil(t, slots) // first fragment's bin had to flush before this one could join

	got := calls()
	require.Len(t, got, 1)
	require.Equal(t, FragmentID(1), got[0][0].ID)
}

func TestFlushNowForcesPartialBin(t *testing.T) {
	flush, calls := recordingFlush(t)
	p := New(4096, 14, 0, flush)

	_, err := p.AddFragment(Fragment{ID: 1, Data: []byte("x")})
	require.NoError(t, err)
	require.Empty(t, calls())

	slots, err := p.FlushNow()
	require.NoError(t, err)
	require.Equal(t, map[FragmentID]int{1: 0}, slots)
}

func TestFlushTimerFiresOnIdleBin(t *testing.T) {
	flush, calls := recordingFlush(t)
	p := New(4096, 14, 10*time.Millisecond, flush)

	_, err := p.AddFragment(Fragment{ID: 1, Data: []byte("x")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(calls()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCancelCompressionFirstCancellerWins(t *testing.T) {
	flush, _ := recordingFlush(t)
	p := New(4096, 14, 0, flush)

	_, err := p.AddFragment(Fragment{ID: 1, Data: []byte("x")})
	require.NoError(t, err)

	first := p.CancelCompression(1)
	second := p.CancelCompression(1)

	require.True(t, first)
	require.False(t, second)
}

func TestCancelledFragmentExcludedFromFlush(t *testing.T) {
	flush, calls := recordingFlush(t)
	p := New(4096, 2, 0, flush)

	_, err := p.AddFragment(Fragment{ID: 1, Data: []byte("x")})
	require.NoError(t, err)
	require.True(t, p.CancelCompression(1))

	slots, err := p.FlushNow()
	require.NoError(t, err)
	require.Empty(t, slots)
	require.Empty(t, calls())
}

func TestCancelCompressionUnknownFragmentReturnsFalse(t *testing.T) {
	flush, _ := recordingFlush(t)
	p := New(4096, 14, 0, flush)

	require.False(t, p.CancelCompression(999))
}

func TestWaitReturnsAfterFlush(t *testing.T) {
	flush, _ := recordingFlush(t)
	p := New(4096, 14, 0, flush)

	_, err := p.AddFragment(Fragment{ID: 1, Data: []byte("x")})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Wait(ctx, 1, time.Millisecond) }()

	_, err = p.FlushNow()
	require.NoError(t, err)

	require.NoError(t, <-done)
}

func TestAddFragmentRejectsOversizedFragment(t *testing.T) {
	flush, _ := recordingFlush(t)
	p := New(4, 14, 0, flush)

	_, err := p.AddFragment(Fragment{ID: 1, Data: []byte("12345")})
	require.ErrorIs(t, err, ErrAlreadyFull)
}
