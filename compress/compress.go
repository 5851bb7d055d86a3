// Package compress wraps the LZ4 compressor used to shrink a unique
// 4 KiB block before it is offered to the packer (spec.md §4.8 step
// 7). LZ4 is named as an external collaborator in the core
// specification; this package supplies one concrete, real
// implementation so compression is exercisable end-to-end.
package compress

import (
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses single blocks. It is stateless
// aside from a reusable scratch hash table, and is not safe for
// concurrent use by multiple goroutines without separate instances —
// matching spec.md §5's CPU worker pool, which gives each worker its
// own Codec.
type Codec struct {
	compressor lz4.Compressor
}

// New constructs a Codec.
func New() *Codec {
	return &Codec{}
}

// Compress compresses src into a freshly allocated buffer. It returns
// ok == false if the compressed form would not be smaller than src
// (the caller then marks the data VIO uncompressible per spec.md
// §4.8 step 7), matching the contract "if result < block size, enter
// packer; else mark uncompressible".
func (c *Codec) Compress(src []byte) (dst []byte, ok bool) {
	bound := lz4.CompressBlockBound(len(src))
	buf := make([]byte, bound)
	n, err := c.compressor.CompressBlock(src, buf)
	if err != nil || n == 0 || n >= len(src) {
		return nil, false
	}
	return buf[:n], true
}

// Decompress expands src (previously produced by Compress) into a
// buffer of exactly originalSize bytes. It returns
// ErrInvalidFragment-shaped information via the bool return when the
// compressed header is malformed, matching the INVALID_FRAGMENT error
// code's read-path contract.
func (c *Codec) Decompress(src []byte, originalSize int) (dst []byte, ok bool) {
	buf := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(src, buf)
	if err != nil || n != originalSize {
		return nil, false
	}
	return buf, true
}
