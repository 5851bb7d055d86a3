// Package metrics registers the Prometheus collectors that expose the
// pipeline's internal state, grounded on the one complete Prometheus
// exporter in the reference pack: a prometheus.Collector per subsystem
// with Desc fields built via prometheus.NewDesc/BuildFQName, values
// read live from the subsystem at scrape time rather than mirrored
// into a shadow copy.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/narwhal-systems/dedupvol/depot"
	"github.com/narwhal-systems/dedupvol/journal"
)

const namespace = "dedupvol"

// PipelineStage names the write-path step a duration was measured
// across, used as the "stage" label on StageLatency.
type PipelineStage string

const (
	StageHash       PipelineStage = "hash"
	StageHashLock   PipelineStage = "hash_lock"
	StageCompress   PipelineStage = "compress"
	StagePack       PipelineStage = "pack"
	StageJournal    PipelineStage = "journal"
	StageRefcount   PipelineStage = "refcount"
	StageBlockMap   PipelineStage = "block_map"
)

// Collectors holds the directly-instrumented metrics: ones a caller
// updates inline (Observe/Inc) rather than ones computed from live
// subsystem state at scrape time.
type Collectors struct {
	StageLatency      *prometheus.HistogramVec
	DedupeHits        prometheus.Counter
	DedupeMisses      prometheus.Counter
	LockNotifications prometheus.Counter
}

// NewCollectors builds the directly-instrumented metric set. Callers
// must still Register it with a prometheus.Registerer.
func NewCollectors() *Collectors {
	return &Collectors{
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_seconds",
			Help:      "Latency of each data VIO pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		DedupeHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedupe_hits_total",
			Help:      "Writes whose content matched an existing mapping after verification.",
		}),
		DedupeMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedupe_misses_total",
			Help:      "Writes that allocated a fresh physical block.",
		}),
		LockNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_counter_notifications_total",
			Help:      "Times the recovery journal's lock counter reached zero on a lock and fired its notification callback.",
		}),
	}
}

// Register adds every directly-instrumented collector to reg.
func (c *Collectors) Register(reg prometheus.Registerer) {
	reg.MustRegister(c.StageLatency, c.DedupeHits, c.DedupeMisses, c.LockNotifications)
}

// DepotCollector is a live prometheus.Collector over a slab depot and
// recovery journal: it holds no cached values, reading FreeBlockCount
// and the journal's sequence range fresh on every scrape.
type DepotCollector struct {
	depot   *depot.Depot
	journal *journal.Journal

	slabFreeBlocks     *prometheus.Desc
	journalBlocksInUse *prometheus.Desc
}

// NewDepotCollector returns a collector over d's slabs and j's
// sequence range. j may be nil if the journal isn't wired yet; the
// journal gauge is simply skipped in that case.
func NewDepotCollector(d *depot.Depot, j *journal.Journal) *DepotCollector {
	return &DepotCollector{
		depot:   d,
		journal: j,
		slabFreeBlocks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "slab_free_blocks"),
			"Free blocks remaining in a slab.",
			[]string{"slab", "zone"}, nil,
		),
		journalBlocksInUse: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "recovery_journal_blocks_in_use"),
			"Recovery journal blocks between the oldest unreclaimed sequence and the next to be opened.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *DepotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.slabFreeBlocks
	ch <- c.journalBlocksInUse
}

// Collect implements prometheus.Collector.
func (c *DepotCollector) Collect(ch chan<- prometheus.Metric) {
	for i := 0; i < c.depot.SlabCount(); i++ {
		slabNumber := uint32(i)
		s := c.depot.Slab(slabNumber)
		zoneID := c.depot.ZoneForSlab(slabNumber)
		ch <- prometheus.MustNewConstMetric(
			c.slabFreeBlocks, prometheus.GaugeValue, float64(s.FreeBlockCount()),
			strconv.FormatUint(uint64(slabNumber), 10), strconv.FormatUint(uint64(zoneID), 10),
		)
	}
	if c.journal != nil {
		inUse := c.journal.NextSequence() - c.journal.OldestSequence()
		ch <- prometheus.MustNewConstMetric(c.journalBlocksInUse, prometheus.GaugeValue, float64(inUse))
	}
}
