package device

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/narwhal-systems/dedupvol/adminstate"
	"github.com/narwhal-systems/dedupvol/backend"
	"github.com/narwhal-systems/dedupvol/config"
	"github.com/narwhal-systems/dedupvol/dedupadvice"
)

func newTestDevice(t *testing.T) (*Device, backend.Device) {
	t.Helper()
	dev := backend.NewMemory()
	cfg := config.Default()
	cfg.SlabSizeBlocks = 64
	cfg.LogicalZones = 2
	cfg.PhysicalZones = 2
	cfg.ZoneInboxDepth = 8

	// journal (2048) + blockmap (2*64=128) + summary (16) + 2 slabs * 64
	d, err := New(cfg, dev, dedupadvice.NewMemoryAdvisor(64), 2048+128+16+2*64)
	require.NoError(t, err)
	require.NoError(t, d.Load(LoadNormal))
	d.PrepareToAllocate()
	t.Cleanup(d.Close)
	return d, dev
}

func block(b byte) []byte {
	return bytes.Repeat([]byte{b}, backend.BlockSize)
}

func TestDeviceWriteReadRoundTrips(t *testing.T) {
	d, _ := newTestDevice(t)
	ctx := context.Background()

	data := make([]byte, backend.BlockSize)
	for i := range data {
		data[i] = byte(i * 37)
	}
	require.NoError(t, d.Write(ctx, 5, data))

	got, err := d.Read(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDeviceReadUnmappedReturnsZeros(t *testing.T) {
	d, _ := newTestDevice(t)
	got, err := d.Read(context.Background(), 99)
	require.NoError(t, err)
	require.Equal(t, make([]byte, backend.BlockSize), got)
}

func TestDeviceDiscardUnmaps(t *testing.T) {
	d, _ := newTestDevice(t)
	ctx := context.Background()

	require.NoError(t, d.Write(ctx, 1, block(0xAB)))
	require.NoError(t, d.Discard(ctx, 1, 1))

	got, err := d.Read(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, make([]byte, backend.BlockSize), got)
}

func TestDeviceFlushSucceeds(t *testing.T) {
	d, _ := newTestDevice(t)
	ctx := context.Background()
	require.NoError(t, d.Write(ctx, 0, block(1)))
	require.NoError(t, d.Flush(ctx))
}

func TestDeviceStatsReportsFreeBlocks(t *testing.T) {
	d, _ := newTestDevice(t)
	ctx := context.Background()
	before := d.Stats()
	require.Equal(t, 2, before.SlabCount)
	require.Equal(t, uint64(2*64), before.TotalFreeBlocks)

	require.NoError(t, d.Write(ctx, 0, block(9)))
	after := d.Stats()
	require.Less(t, after.TotalFreeBlocks, before.TotalFreeBlocks)
}

func TestDeviceDrainThenResume(t *testing.T) {
	d, _ := newTestDevice(t)
	ctx := context.Background()
	require.NoError(t, d.Write(ctx, 2, block(7)))

	require.NoError(t, d.Drain(DrainSave))
	require.Equal(t, "SAVED", d.Admin.Current().String())

	require.NoError(t, d.Resume())
	require.Equal(t, "NORMAL_OPERATION", d.Admin.Current().String())

	got, err := d.Read(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, block(7), got)
}

func TestDeviceRejectsWritesAfterReadOnly(t *testing.T) {
	d, _ := newTestDevice(t)
	require.NoError(t, d.Admin.Transition(adminstate.ReadOnly))

	err := d.Write(context.Background(), 0, block(1))
	require.Error(t, err)

	_, err = d.Read(context.Background(), 0)
	require.NoError(t, err)
}

func TestPrepareToGrowIsUnsupported(t *testing.T) {
	d, _ := newTestDevice(t)
	require.Error(t, d.PrepareToGrow(1<<20))
	require.Error(t, d.UseNewSlabs())
	require.NoError(t, d.AbandonNewSlabs())
}
