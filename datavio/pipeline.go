// Package datavio implements the data VIO pool and the end-to-end
// pipeline a single logical read, write, or discard traverses
// (spec.md §4.8): admission, logical locking, content hashing, hash
// lock join, dedupe verify-or-allocate, compression, packing,
// recovery-journal commit, reference-count commit, and block-map
// write-through.
package datavio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/narwhal-systems/dedupvol/backend"
	"github.com/narwhal-systems/dedupvol/blockmap"
	"github.com/narwhal-systems/dedupvol/compress"
	"github.com/narwhal-systems/dedupvol/contenthash"
	"github.com/narwhal-systems/dedupvol/dedupadvice"
	"github.com/narwhal-systems/dedupvol/depot"
	"github.com/narwhal-systems/dedupvol/hashlock"
	"github.com/narwhal-systems/dedupvol/journal"
	"github.com/narwhal-systems/dedupvol/layout"
	"github.com/narwhal-systems/dedupvol/packer"
	"github.com/narwhal-systems/dedupvol/zone"
)

// Config wires a Pipeline's collaborators together. Every field is
// required except PackerPhysicalZone, which defaults to zone 0;
// ZoneInboxDepth, which defaults to 16 when not positive; and
// PackerFlushInterval, where a value that is not positive disables the
// packer's flush timer.
type Config struct {
	Device  backend.Device
	Map     *blockmap.BlockMap
	Depot   *depot.Depot
	Journal *journal.Journal
	Advisor dedupadvice.Advisor

	LogicalZones  int
	PhysicalZones int

	// PackerPhysicalZone is the physical zone whose allocator supplies
	// the shared block a flushed packer bin is written to. The core
	// specification does not bind the packer's own output block to any
	// particular zone, so this implementation pins it to one
	// configurable zone rather than round-robining writers across
	// zones mid-flush.
	PackerPhysicalZone uint32

	MaxConcurrentWrites   int
	MaxConcurrentDiscards int
	PackerFlushInterval   time.Duration
	ZoneInboxDepth        int
}

// fragmentOutcome is delivered to a data VIO once its fragment's bin
// has been flushed (or has failed to flush).
type fragmentOutcome struct {
	pbn  uint64
	slot int
	err  error
}

// Pipeline is the fully wired read/write/discard path over one
// volume's metadata managers and zones.
type Pipeline struct {
	dev     backend.Device
	blocks  *blockmap.BlockMap
	depot   *depot.Depot
	journal *journal.Journal
	advisor dedupadvice.Advisor

	hasher    *contenthash.Hasher
	codec     *compress.Codec
	hashLocks *hashlock.Coordinator
	locks     *LogicalLocks
	pool      *Pool
	packer    *packer.Packer

	packerPhysicalZone uint32

	logicalZones  []*zone.Zone
	physicalZones []*zone.Zone
	hashLockZone  *zone.Zone
	packerZone    *zone.Zone
	cpuZone       *zone.Zone
	journalZone   *zone.Zone

	fragMu    sync.Mutex
	fragments map[packer.FragmentID]chan fragmentOutcome
}

// New constructs a Pipeline and starts its zones.
func New(cfg Config) *Pipeline {
	depth := cfg.ZoneInboxDepth
	if depth <= 0 {
		depth = 16
	}

	p := &Pipeline{
		dev:                cfg.Device,
		blocks:             cfg.Map,
		depot:              cfg.Depot,
		journal:            cfg.Journal,
		advisor:            cfg.Advisor,
		hasher:             contenthash.New(),
		codec:              compress.New(),
		hashLocks:          hashlock.New(),
		locks:              NewLogicalLocks(),
		pool:               NewPool(cfg.MaxConcurrentWrites, cfg.MaxConcurrentDiscards),
		packerPhysicalZone: cfg.PackerPhysicalZone,
		fragments:          make(map[packer.FragmentID]chan fragmentOutcome),
	}

	for i := 0; i < cfg.LogicalZones; i++ {
		p.logicalZones = append(p.logicalZones, zone.New(zone.TypeLogical, i, depth))
	}
	for i := 0; i < cfg.PhysicalZones; i++ {
		p.physicalZones = append(p.physicalZones, zone.New(zone.TypePhysical, i, depth))
	}
	p.hashLockZone = zone.New(zone.TypeHashLock, 0, depth)
	p.packerZone = zone.New(zone.TypePacker, 0, depth)
	p.cpuZone = zone.New(zone.TypeCPU, 0, depth)
	p.journalZone = zone.New(zone.TypeJournal, 0, depth)

	p.packer = packer.New(backend.BlockSize-layout.PackedBlockHeaderSize, layout.MaxCompressedSlots, cfg.PackerFlushInterval, p.flushBin)
	return p
}

// Close stops every zone the pipeline started.
func (p *Pipeline) Close() {
	for _, z := range p.logicalZones {
		z.Close()
	}
	for _, z := range p.physicalZones {
		z.Close()
	}
	p.hashLockZone.Close()
	p.packerZone.Close()
	p.cpuZone.Close()
	p.journalZone.Close()
}

// callOn runs fn on z's goroutine and returns its result to the
// caller, the mechanism by which a data VIO "moves between zones"
// (spec.md §5) without the calling goroutine itself running metadata
// logic that belongs to another zone.
func callOn[T any](z *zone.Zone, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	z.Enqueue(zone.Completion{
		Tag: "datavio",
		Run: func() {
			v, err := fn()
			done <- result{v, err}
		},
	})
	r := <-done
	return r.v, r.err
}

func callOnVoid(z *zone.Zone, fn func() error) error {
	_, err := callOn(z, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Read returns the current contents of lbn: a fresh zero block if
// unmapped, a direct device read if uncompressed, or a shared-block
// read plus LZ4 decompression of the indicated fragment slot if
// compressed (spec.md §4.8 read path).
func (p *Pipeline) Read(ctx context.Context, lbn uint64) ([]byte, error) {
	if err := p.locks.Acquire(ctx, lbn); err != nil {
		return nil, err
	}
	defer p.locks.Release(lbn)
	return p.readLocked(lbn)
}

func (p *Pipeline) readLocked(lbn uint64) ([]byte, error) {
	zoneIdx := p.blocks.ZoneForLBN(lbn)
	entry, err := callOn(p.logicalZones[zoneIdx], func() (layout.BlockMapEntry, error) {
		return p.blocks.Get(lbn)
	})
	if err != nil {
		return nil, err
	}
	return p.materialize(entry)
}

func (p *Pipeline) materialize(entry layout.BlockMapEntry) ([]byte, error) {
	switch {
	case !entry.IsMapped():
		return make([]byte, backend.BlockSize), nil
	case layout.IsCompressed(entry.State):
		block, err := p.dev.ReadBlock(entry.PBN)
		if err != nil {
			return nil, err
		}
		slot := layout.CompressedSlot(entry.State)
		fragment, err := layout.UnpackCompressedFragment(block, slot)
		if err != nil {
			return nil, err
		}
		out, ok := p.codec.Decompress(fragment, backend.BlockSize)
		if !ok {
			return nil, fmt.Errorf("datavio: invalid compressed fragment at pbn %d slot %d", entry.PBN, slot)
		}
		return out, nil
	default:
		return p.dev.ReadBlock(entry.PBN)
	}
}

// Write stores exactly one full block's worth of data at lbn.
func (p *Pipeline) Write(ctx context.Context, lbn uint64, data []byte) error {
	if len(data) != backend.BlockSize {
		return fmt.Errorf("datavio: write must be exactly %d bytes, got %d", backend.BlockSize, len(data))
	}
	if err := p.locks.Acquire(ctx, lbn); err != nil {
		return err
	}
	defer p.locks.Release(lbn)
	return p.writeLocked(ctx, lbn, data)
}

// WritePartial implements a sub-block write as a read-modify-write
// (spec.md §4.8: "partial block writes become read-modify-write using
// the VIO's owned buffer"), holding the logical lock continuously
// across the read and the write so no concurrent writer can observe
// or clobber the read in between.
func (p *Pipeline) WritePartial(ctx context.Context, lbn uint64, offset int, data []byte) error {
	if offset < 0 || offset+len(data) > backend.BlockSize {
		return fmt.Errorf("datavio: partial write [%d,%d) exceeds block size %d", offset, offset+len(data), backend.BlockSize)
	}
	if err := p.locks.Acquire(ctx, lbn); err != nil {
		return err
	}
	defer p.locks.Release(lbn)

	current, err := p.readLocked(lbn)
	if err != nil {
		return err
	}
	copy(current[offset:], data)
	return p.writeLocked(ctx, lbn, current)
}

// writeLocked runs the full 12-step write pipeline for lbn, assuming
// the caller already holds lbn's logical lock.
func (p *Pipeline) writeLocked(ctx context.Context, lbn uint64, data []byte) error {
	vio, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("datavio: acquire: %w", err)
	}
	defer p.pool.Release(vio)

	copy(vio.Buffer, data)
	vio.LBN = lbn
	vio.IsZeroBlock = isZeroBlock(vio.Buffer)

	logicalZoneIdx := p.blocks.ZoneForLBN(lbn)
	logicalZone := p.logicalZones[logicalZoneIdx]

	// Step 2 (lock already held by the caller) + read the current
	// mapping, needed later for the journal entry's old-mapping field.
	oldEntry, err := callOn(logicalZone, func() (layout.BlockMapEntry, error) {
		return p.blocks.Get(lbn)
	})
	if err != nil {
		return err
	}

	// An all-zero write never touches the allocator: it maps lbn to
	// UNMAPPED, the same outcome a discard produces, decrementing
	// whatever it replaced (spec.md §4.8 step 1, scenario S1: "no PBN
	// allocated, block-map entry UNMAPPED/zero-state").
	if vio.IsZeroBlock {
		return p.unmapLocked(lbn, oldEntry, logicalZoneIdx, logicalZone)
	}

	// Step 3: content hash.
	fp, err := callOn(p.cpuZone, func() (contenthash.Fingerprint, error) {
		return p.hasher.Sum(vio.Buffer), nil
	})
	if err != nil {
		return err
	}
	vio.Fingerprint = fp

	// Steps 4-6: hash lock join, dedupe verify-or-allocate.
	agent := hashlock.DefaultAgent(p.advisor,
		func(candidate dedupadvice.Mapping) (bool, error) {
			return p.verifyCandidate(candidate, vio.Buffer)
		},
		func() (uint64, error) {
			return p.allocatePhysical(ctx, fp)
		},
	)
	decision, err := callOn(p.hashLockZone, func() (hashlock.Decision, error) {
		return p.hashLocks.Resolve(fp, agent)
	})
	if err != nil {
		return err
	}

	// Steps 7-8: compress and, if compressible, pack.
	newEntry, err := p.placeBlock(ctx, vio, decision)
	if err != nil {
		return err
	}

	// Step 9: recovery-journal commit.
	point, err := callOn(p.journalZone, func() (layout.JournalPoint, error) {
		return p.journal.Append(layout.RecoveryJournalEntry{LBN: lbn, OldEntry: oldEntry, NewEntry: newEntry})
	})
	if err != nil {
		return err
	}

	newSlabNumber, err := p.depot.SlabNumberForPBN(newEntry.PBN)
	if err != nil {
		return err
	}
	newPhysicalZone := p.depot.ZoneForSlab(newSlabNumber)
	p.journal.AcquireZoneReferences(point, logicalZoneIdx, int(newPhysicalZone))

	// Step 10: slab reference-count commit for the new mapping. Whether
	// this write converts the block's provisional claim into its first
	// durable reference or adds an ordinary increment on top of one is
	// decided here, inside the physical zone's single goroutine, by
	// checking the block's actual current state rather than trusting a
	// flag computed before this call was scheduled — the zone serializes
	// these calls but not the order several writers sharing one freshly
	// allocated block (e.g. a packer bin's fragments) arrive in, so only
	// a check made at the moment of execution gets every one of them
	// counted.
	if err := callOnVoid(p.physicalZones[newPhysicalZone], func() error {
		provisional, err := p.depot.Slab(newSlabNumber).IsProvisionalAllocation(newEntry.PBN)
		if err != nil {
			return err
		}
		if provisional {
			return p.depot.Slab(newSlabNumber).CommitProvisionalAllocation(newEntry.PBN, point)
		}
		_, err = p.depot.Slab(newSlabNumber).ModifyReferenceCount(newEntry.PBN, layout.SlabJournalIncrement, point)
		return err
	}); err != nil {
		return err
	}

	// Decrement the old mapping's reference, if this write replaced one.
	if oldEntry.IsMapped() && oldEntry.PBN != newEntry.PBN {
		if oldSlabNumber, err := p.depot.SlabNumberForPBN(oldEntry.PBN); err == nil {
			oldPhysicalZone := p.depot.ZoneForSlab(oldSlabNumber)
			_ = callOnVoid(p.physicalZones[oldPhysicalZone], func() error {
				_, err := p.depot.Slab(oldSlabNumber).ModifyReferenceCount(oldEntry.PBN, layout.SlabJournalDecrement, point)
				if err == nil {
					p.depot.Release(oldSlabNumber)
				}
				return err
			})
		}
	}

	// Step 11: block-map write-through.
	if err := callOnVoid(logicalZone, func() error {
		_, err := p.blocks.Put(lbn, newEntry, point)
		return err
	}); err != nil {
		return err
	}

	// Step 12: release lock-counter references (the logical lock and
	// the hash lock are released by their own owners: the deferred
	// LogicalLocks.Release in Write/WritePartial, and singleflight's
	// own bookkeeping once Resolve returns to every waiter).
	p.journal.ReleaseZoneReferences(point, logicalZoneIdx, int(newPhysicalZone))
	return nil
}

// verifyCandidate byte-compares a dedupe candidate's on-disk contents
// against want, never trusting advice without verification (spec.md
// §4.7). Dedupe candidates are always uncompressed whole blocks: a
// shared compressed block is never itself posted as dedupe bait.
func (p *Pipeline) verifyCandidate(candidate dedupadvice.Mapping, want []byte) (bool, error) {
	got, err := p.dev.ReadBlock(candidate.PBN)
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, want), nil
}

// allocatePhysical picks a physical zone for a fresh allocation. The
// core specification leaves zone selection for a novel write
// unstated; this implementation spreads allocations across physical
// zones by the fingerprint's leading byte, rather than always
// hammering zone 0.
func (p *Pipeline) allocatePhysical(ctx context.Context, fp contenthash.Fingerprint) (uint64, error) {
	zoneIdx := uint32(fp[0]) % uint32(len(p.physicalZones))
	return p.depot.Allocator(zoneIdx).Allocate(ctx)
}

type compressOutcome struct {
	data []byte
	ok   bool
}

// placeBlock resolves where vio's new content will physically live:
// the verified dedupe candidate, a freshly written uncompressed block,
// or a fragment slot inside a packer-flushed shared block. vio's
// compression status advances alongside each step, per spec.md §4.8's
// PRE_COMPRESSOR -> COMPRESSING -> PACKING -> POST_PACKER progression.
func (p *Pipeline) placeBlock(ctx context.Context, vio *DataVIO, d hashlock.Decision) (layout.BlockMapEntry, error) {
	if d.Verified {
		vio.compression.Advance(PostPacker)
		return layout.BlockMapEntry{PBN: d.PBN, State: layout.MappingStateUncompressed}, nil
	}

	pbn := d.PBN
	slabNumber, err := p.depot.SlabNumberForPBN(pbn)
	if err != nil {
		return layout.BlockMapEntry{}, err
	}
	physicalZone := p.depot.ZoneForSlab(slabNumber)

	if !vio.compression.MayCompress() {
		return layout.BlockMapEntry{}, fmt.Errorf("datavio: vio for lbn %d is not eligible to compress", vio.LBN)
	}

	co, err := callOn(p.cpuZone, func() (compressOutcome, error) {
		out, ok := p.codec.Compress(vio.Buffer)
		return compressOutcome{data: out, ok: ok}, nil
	})
	if err != nil {
		return layout.BlockMapEntry{}, err
	}
	if err := vio.compression.Advance(Compressing); err != nil {
		return layout.BlockMapEntry{}, err
	}

	if !co.ok {
		vio.compression.Advance(PostPacker)
		if err := p.dev.WriteBlock(pbn, vio.Buffer); err != nil {
			return layout.BlockMapEntry{}, err
		}
		return layout.BlockMapEntry{PBN: pbn, State: layout.MappingStateUncompressed}, nil
	}

	// Compressible: the speculative uncompressed allocation above goes
	// unused — the packer allocates one shared block for however many
	// fragments land in its bin, so the provisional claim this write
	// made in step 6 is released back to free.
	if err := callOnVoid(p.physicalZones[physicalZone], func() error {
		return p.depot.Slab(slabNumber).ReleaseProvisionalReference(pbn)
	}); err != nil {
		return layout.BlockMapEntry{}, err
	}
	p.depot.Release(slabNumber)

	if !vio.compression.MayPack() {
		return layout.BlockMapEntry{}, fmt.Errorf("datavio: vio for lbn %d is not eligible to pack", vio.LBN)
	}
	if err := vio.compression.Advance(Packing); err != nil {
		return layout.BlockMapEntry{}, err
	}

	// A write holds its LBN's logical lock for the whole pipeline, so
	// at most one fragment per LBN is ever in flight; the LBN itself
	// is therefore a safe, unique packer fragment ID.
	fragID := packer.FragmentID(vio.LBN)
	outcomeCh := p.registerFragment(fragID)

	if _, err := callOn(p.packerZone, func() (struct{}, error) {
		_, err := p.packer.AddFragment(packer.Fragment{ID: fragID, Data: co.data})
		return struct{}{}, err
	}); err != nil {
		p.forgetFragment(fragID)
		return layout.BlockMapEntry{}, err
	}

	if !vio.compression.MayBlockInPacker() {
		return layout.BlockMapEntry{}, fmt.Errorf("datavio: vio for lbn %d is not eligible to wait in the packer", vio.LBN)
	}

	select {
	case outcome := <-outcomeCh:
		vio.compression.Advance(PostPacker)
		if outcome.err != nil {
			return layout.BlockMapEntry{}, outcome.err
		}
		return layout.BlockMapEntry{PBN: outcome.pbn, State: layout.CompressedState(outcome.slot)}, nil
	case <-ctx.Done():
		if p.packer.CancelCompression(fragID) {
			vio.compression.MarkCancelled()
			go func() { _, _ = p.packer.FlushNow() }()
		}
		vio.compression.Advance(PostPacker)
		return layout.BlockMapEntry{}, ctx.Err()
	}
}

func (p *Pipeline) registerFragment(id packer.FragmentID) chan fragmentOutcome {
	ch := make(chan fragmentOutcome, 1)
	p.fragMu.Lock()
	p.fragments[id] = ch
	p.fragMu.Unlock()
	return ch
}

func (p *Pipeline) forgetFragment(id packer.FragmentID) {
	p.fragMu.Lock()
	delete(p.fragments, id)
	p.fragMu.Unlock()
}

func (p *Pipeline) takeFragment(id packer.FragmentID) (chan fragmentOutcome, bool) {
	p.fragMu.Lock()
	defer p.fragMu.Unlock()
	ch, ok := p.fragments[id]
	if ok {
		delete(p.fragments, id)
	}
	return ch, ok
}

// flushBin is the packer's FlushFunc: it lays out every surviving
// fragment in the bin into one shared physical block, allocates and
// writes that block, and wakes each fragment's waiting write with its
// resolved (PBN, slot). Whichever waiter's own step 10 runs first on
// the shared block's physical zone converts its still-provisional
// claim into a durable reference; every other waiter sharing the same
// block finds it already committed and applies an ordinary increment
// (datavio/pipeline.go's writeLocked, Step 10).
func (p *Pipeline) flushBin(fragments []packer.Fragment) (map[packer.FragmentID]int, error) {
	datas := make([][]byte, len(fragments))
	for i, f := range fragments {
		datas[i] = f.Data
	}

	block, err := layout.PackCompressedBlock(backend.BlockSize, datas)
	if err != nil {
		p.failFragments(fragments, err)
		return nil, err
	}

	pbn, err := p.depot.Allocator(p.packerPhysicalZone).Allocate(context.Background())
	if err != nil {
		p.failFragments(fragments, err)
		return nil, err
	}
	if err := p.dev.WriteBlock(pbn, block); err != nil {
		p.failFragments(fragments, err)
		return nil, err
	}

	slots := make(map[packer.FragmentID]int, len(fragments))
	for i, f := range fragments {
		slots[f.ID] = i
		if ch, ok := p.takeFragment(f.ID); ok {
			ch <- fragmentOutcome{pbn: pbn, slot: i}
		}
	}
	return slots, nil
}

func (p *Pipeline) failFragments(fragments []packer.Fragment, err error) {
	for _, f := range fragments {
		if ch, ok := p.takeFragment(f.ID); ok {
			ch <- fragmentOutcome{err: err}
		}
	}
}

// Discard releases blockCount blocks starting at lbn. Each covered LBN
// is processed as its own chained sub-discard admitted through the
// pool's discard limiter, mirroring a multi-block discard that fans
// out into one VIO per block joined by a remaining-count (spec.md
// §4.8): the call as a whole only returns once every sub-discard has
// completed.
func (p *Pipeline) Discard(ctx context.Context, lbn uint64, blockCount uint64) error {
	if blockCount == 0 {
		return nil
	}
	for i := uint64(0); i < blockCount; i++ {
		if err := p.pool.AcquireDiscard(ctx); err != nil {
			return err
		}
		err := p.discardOne(ctx, lbn+i)
		p.pool.ReleaseDiscard()
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) discardOne(ctx context.Context, lbn uint64) error {
	if err := p.locks.Acquire(ctx, lbn); err != nil {
		return err
	}
	defer p.locks.Release(lbn)

	logicalZoneIdx := p.blocks.ZoneForLBN(lbn)
	logicalZone := p.logicalZones[logicalZoneIdx]

	oldEntry, err := callOn(logicalZone, func() (layout.BlockMapEntry, error) {
		return p.blocks.Get(lbn)
	})
	if err != nil {
		return err
	}
	return p.unmapLocked(lbn, oldEntry, logicalZoneIdx, logicalZone)
}

// unmapLocked drives lbn to UNMAPPED, decrementing whatever physical
// block oldEntry pointed at. It is a no-op if oldEntry is already
// unmapped. Shared by discardOne and writeLocked's all-zero write
// short-circuit, since both produce the same block-map and
// reference-count outcome; the caller must already hold lbn's logical
// lock.
func (p *Pipeline) unmapLocked(lbn uint64, oldEntry layout.BlockMapEntry, logicalZoneIdx int, logicalZone *zone.Zone) error {
	if !oldEntry.IsMapped() {
		return nil
	}

	newEntry := layout.BlockMapEntry{}
	point, err := callOn(p.journalZone, func() (layout.JournalPoint, error) {
		return p.journal.Append(layout.RecoveryJournalEntry{LBN: lbn, OldEntry: oldEntry, NewEntry: newEntry})
	})
	if err != nil {
		return err
	}

	oldSlabNumber, err := p.depot.SlabNumberForPBN(oldEntry.PBN)
	if err != nil {
		return err
	}
	oldPhysicalZone := p.depot.ZoneForSlab(oldSlabNumber)
	p.journal.AcquireZoneReferences(point, logicalZoneIdx, int(oldPhysicalZone))

	if err := callOnVoid(p.physicalZones[oldPhysicalZone], func() error {
		_, err := p.depot.Slab(oldSlabNumber).ModifyReferenceCount(oldEntry.PBN, layout.SlabJournalDecrement, point)
		if err == nil {
			p.depot.Release(oldSlabNumber)
		}
		return err
	}); err != nil {
		return err
	}

	if err := callOnVoid(logicalZone, func() error {
		_, err := p.blocks.Put(lbn, newEntry, point)
		return err
	}); err != nil {
		return err
	}

	p.journal.ReleaseZoneReferences(point, logicalZoneIdx, int(oldPhysicalZone))
	return nil
}
