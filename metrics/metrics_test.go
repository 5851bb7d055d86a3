package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/narwhal-systems/dedupvol/adminstate"
	"github.com/narwhal-systems/dedupvol/backend"
	"github.com/narwhal-systems/dedupvol/depot"
	"github.com/narwhal-systems/dedupvol/journal"
	"github.com/narwhal-systems/dedupvol/slab"
)

func TestCollectorsRegisterWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors()
	c.Register(reg)

	c.DedupeHits.Inc()
	c.DedupeMisses.Inc()
	c.LockNotifications.Inc()
	c.StageLatency.WithLabelValues(string(StageHash)).Observe(0.001)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func newTestDepot(t *testing.T, slabCount uint32) *depot.Depot {
	t.Helper()
	slabs := make([]*slab.Slab, slabCount)
	for i := uint32(0); i < slabCount; i++ {
		s := slab.New(i, uint64(i)*64, 64, 16, nil, adminstate.New)
		require.NoError(t, s.Admin.Transition(adminstate.Loading))
		require.NoError(t, s.Admin.Transition(adminstate.NormalOperation))
		slabs[i] = s
	}
	summary := depot.NewSlabSummary(slabCount, 0)
	return depot.New(0, 64, 2, slabs, summary)
}

func TestDepotCollectorReportsFreeBlocksPerSlab(t *testing.T) {
	dep := newTestDepot(t, 2)
	c := NewDepotCollector(dep, nil)

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "dedupvol_slab_free_blocks" {
			found = true
			require.Len(t, f.GetMetric(), 2)
			for _, m := range f.GetMetric() {
				require.Equal(t, float64(64), m.GetGauge().GetValue())
			}
		}
	}
	require.True(t, found, "expected dedupvol_slab_free_blocks metric family")
}

func TestDepotCollectorReportsJournalBlocksInUse(t *testing.T) {
	dep := newTestDepot(t, 1)
	dev := backend.NewMemory()
	jr := journal.New(dev, 10000, 32, 1, 1)

	c := NewDepotCollector(dep, jr)
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	families, err := reg.Gather()
	require.NoError(t, err)

	var got *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "dedupvol_recovery_journal_blocks_in_use" {
			got = f
		}
	}
	require.NotNil(t, got)
	require.Equal(t, float64(0), got.GetMetric()[0].GetGauge().GetValue())
}
