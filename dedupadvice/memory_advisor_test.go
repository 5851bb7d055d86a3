package dedupadvice

import (
	"testing"

	"github.com/narwhal-systems/dedupvol/contenthash"
	"github.com/stretchr/testify/require"
)

func fp(b byte) contenthash.Fingerprint {
	var f contenthash.Fingerprint
	f[0] = b
	return f
}

func TestMemoryAdvisorPostQuery(t *testing.T) {
	a := NewMemoryAdvisor(2)
	_, ok := a.Query(fp(1))
	require.False(t, ok)

	a.Post(fp(1), Mapping{PBN: 100})
	m, ok := a.Query(fp(1))
	require.True(t, ok)
	require.Equal(t, uint64(100), m.PBN)
}

func TestMemoryAdvisorEvictsLeastRecentlyUsed(t *testing.T) {
	a := NewMemoryAdvisor(2)
	a.Post(fp(1), Mapping{PBN: 1})
	a.Post(fp(2), Mapping{PBN: 2})
	a.Post(fp(3), Mapping{PBN: 3}) // evicts fp(1), the least recently touched

	_, ok := a.Query(fp(1))
	require.False(t, ok)

	m2, ok := a.Query(fp(2))
	require.True(t, ok)
	require.Equal(t, uint64(2), m2.PBN)

	m3, ok := a.Query(fp(3))
	require.True(t, ok)
	require.Equal(t, uint64(3), m3.PBN)
}

func TestMemoryAdvisorQueryRefreshesRecency(t *testing.T) {
	a := NewMemoryAdvisor(2)
	a.Post(fp(1), Mapping{PBN: 1})
	a.Post(fp(2), Mapping{PBN: 2})

	_, ok := a.Query(fp(1)) // touch fp(1) so fp(2) becomes the LRU entry
	require.True(t, ok)

	a.Post(fp(3), Mapping{PBN: 3})

	_, ok = a.Query(fp(2))
	require.False(t, ok)
	_, ok = a.Query(fp(1))
	require.True(t, ok)
}

func TestMemoryAdvisorPostOverwritesExisting(t *testing.T) {
	a := NewMemoryAdvisor(2)
	a.Post(fp(1), Mapping{PBN: 1})
	a.Post(fp(1), Mapping{PBN: 99})

	m, ok := a.Query(fp(1))
	require.True(t, ok)
	require.Equal(t, uint64(99), m.PBN)
}
