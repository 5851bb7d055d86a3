package contenthash

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	h := New()
	buf := bytes.Repeat([]byte{0xab}, 4096)
	fp1 := h.Sum(buf)
	fp2 := h.Sum(buf)
	require.Equal(t, fp1, fp2)
}

func TestSumDistinguishesContent(t *testing.T) {
	h := New()
	a := bytes.Repeat([]byte{0xab}, 4096)
	b := bytes.Repeat([]byte{0xcd}, 4096)
	require.NotEqual(t, h.Sum(a), h.Sum(b))
}

func TestSumZeroBlock(t *testing.T) {
	h := New()
	zero := make([]byte, 4096)
	fp := h.Sum(zero)
	require.NotEqual(t, Fingerprint{}, fp, "murmur3 of an all-zero buffer is not the zero fingerprint")
}
