//go:build linux

package backend

import "golang.org/x/sys/unix"

// directIOFlag returns the open(2) flag requesting uncached,
// alignment-sensitive I/O on platforms that support it.
func directIOFlag() int {
	return unix.O_DIRECT
}
