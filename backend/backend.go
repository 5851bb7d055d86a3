// Package backend defines the external block-device shim the core
// consumes (spec.md §6): a byte-addressable device with 4 KiB logical
// blocks supporting read, write, discard, FUA, and pre-flush. The
// core never depends on a concrete backend, only this interface.
package backend

// BlockSize is the compile-time fixed block size the core operates
// on (spec.md §1 Non-goals: "supporting block sizes other than a
// single compile-time block size (fixed at 4 KiB)").
const BlockSize = 4096

// Device is the interface the data VIO pipeline and every metadata
// manager issue physical I/O through. All methods operate on whole
// 4 KiB blocks except metadata extent writes, which may span several
// contiguous blocks in one call.
type Device interface {
	// ReadBlock reads exactly BlockSize bytes starting at block pbn.
	ReadBlock(pbn uint64) ([]byte, error)
	// WriteBlock writes exactly BlockSize bytes of data at block pbn.
	WriteBlock(pbn uint64, data []byte) error
	// WriteExtent writes len(data)/BlockSize contiguous blocks
	// starting at pbn; used for multi-block metadata writes such as
	// the slab summary (spec.md §6).
	WriteExtent(pbn uint64, data []byte) error
	// Discard informs the backend that the given block range no
	// longer holds live data.
	Discard(pbn uint64, count uint64) error
	// Flush forces every write acknowledged before this call to be
	// durable (a pre-flush/FUA primitive).
	Flush() error
	// Close releases any resources held by the backend.
	Close() error
}
