package datavio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/narwhal-systems/dedupvol/backend"
)

func TestPoolAcquireReturnsResetVIO(t *testing.T) {
	p := NewPool(2, 2)
	v, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, v.Buffer, backend.BlockSize)
	require.Equal(t, uint64(0), v.LBN)
	p.Release(v)
}

func TestPoolReuseCarriesStaleFieldsUntilReset(t *testing.T) {
	p := NewPool(1, 1)
	v1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	v1.LBN = 77
	p.Release(v1)

	v2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), v2.LBN, "Acquire must reset reused VIOs")
}

func TestPoolAcquireBlocksAtCapacity(t *testing.T) {
	p := NewPool(1, 1)
	v1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release(v1)
	v2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(v2)
}

func TestPoolDiscardSlotsAreIndependentOfWriteSlots(t *testing.T) {
	p := NewPool(1, 1)
	v, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(v)

	require.NoError(t, p.AcquireDiscard(context.Background()))
	p.ReleaseDiscard()
}

func TestIsZeroBlock(t *testing.T) {
	require.True(t, isZeroBlock(make([]byte, 16)))
	buf := make([]byte, 16)
	buf[15] = 1
	require.False(t, isZeroBlock(buf))
}
