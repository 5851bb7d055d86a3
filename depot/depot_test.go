package depot

import (
	"testing"

	"github.com/narwhal-systems/dedupvol/slab"
	"github.com/stretchr/testify/require"
)

func buildDepot(t *testing.T, slabCount int, blocksPerSlab uint32, zones uint32) *Depot {
	t.Helper()
	slabs := make([]*slab.Slab, slabCount)
	for i := 0; i < slabCount; i++ {
		slabs[i] = newTestSlab(uint32(i), uint64(i)*uint64(blocksPerSlab), blocksPerSlab)
	}
	return New(0, blocksPerSlab, zones, slabs, NewSlabSummary(uint32(slabCount), 0))
}

func TestDepotSlabNumberForPBN(t *testing.T) {
	d := buildDepot(t, 4, 16, 2)
	n, err := d.SlabNumberForPBN(20)
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)

	n, err = d.SlabNumberForPBN(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), n)
}

func TestDepotSlabNumberForPBNOutOfRange(t *testing.T) {
	d := buildDepot(t, 2, 16, 2)
	_, err := d.SlabNumberForPBN(1000)
	require.Error(t, err)
}

func TestDepotZoneForSlabRoundRobins(t *testing.T) {
	d := buildDepot(t, 4, 16, 2)
	require.Equal(t, uint32(0), d.ZoneForSlab(0))
	require.Equal(t, uint32(1), d.ZoneForSlab(1))
	require.Equal(t, uint32(0), d.ZoneForSlab(2))
	require.Equal(t, uint32(1), d.ZoneForSlab(3))
}

func TestDepotAllocateRoutesThroughCorrectZoneAllocator(t *testing.T) {
	d := buildDepot(t, 2, 4, 2)
	pbn, err := d.Allocator(d.ZoneForSlab(1)).TryAllocate()
	require.NoError(t, err)
	require.GreaterOrEqual(t, pbn, uint64(4))
}

func TestDepotReleaseNotifiesOwningAllocator(t *testing.T) {
	d := buildDepot(t, 1, 1, 1)
	pbn, err := d.Allocator(0).TryAllocate()
	require.NoError(t, err)

	_, err = d.Allocator(0).TryAllocate()
	require.ErrorIs(t, err, ErrOutOfSpace)

	require.NoError(t, d.Slab(0).ReleaseProvisionalReference(pbn))
	d.Release(0)

	_, err = d.Allocator(0).TryAllocate()
	require.NoError(t, err)
}
