package zone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestZoneRunsCompletionsInFIFOOrder(t *testing.T) {
	z := New(TypeLogical, 0, 16)
	defer z.Close()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		z.Enqueue(Completion{Tag: "append", Run: func() {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
		}})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completions")
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestZoneCloseDrainsQueuedWork(t *testing.T) {
	z := New(TypePhysical, 1, 4)
	ran := make(chan int, 4)
	for i := 0; i < 4; i++ {
		i := i
		z.Enqueue(Completion{Tag: "t", Run: func() { ran <- i }})
	}
	z.Close()
	require.Len(t, ran, 4)
}

func TestTryEnqueueBackpressure(t *testing.T) {
	z := New(TypeJournal, 0, 1)
	defer z.Close()

	block := make(chan struct{})
	ok1 := z.TryEnqueue(Completion{Tag: "block", Run: func() { <-block }})
	require.True(t, ok1)

	// Give the zone goroutine a chance to pick up the blocking task.
	time.Sleep(10 * time.Millisecond)
	ok2 := z.TryEnqueue(Completion{Tag: "second", Run: func() {}})
	require.True(t, ok2) // buffered slot still free

	ok3 := z.TryEnqueue(Completion{Tag: "third", Run: func() {}})
	require.False(t, ok3) // inbox full, blocking task in flight

	close(block)
}

func TestSetConcurrentStartStop(t *testing.T) {
	var g errgroup.Group
	zones := make([]*Zone, 8)
	for i := range zones {
		i := i
		g.Go(func() error {
			zones[i] = New(TypeLogical, i, 4)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	set := NewSet(zones...)
	require.Equal(t, 8, set.Len())
	set.CloseAll()
}
