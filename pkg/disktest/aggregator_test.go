package disktest

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorGeometryMismatch(t *testing.T) {
	t.Parallel()

	agg := newStreamAgg(AlgChaCha20, []byte{1, 2, 3}, 0, false, 2, QuietNoWarn, io.Discard)
	defer agg.stop()

	// The 3 MiB chunk is no multiple of a 1000-byte sector.
	_, _, err := agg.activate(0, 1000)
	assert.ErrorIs(t, err, ErrGeometryMismatch)
}

func TestAggregatorOffsetRounding(t *testing.T) {
	t.Parallel()

	var warnings bytes.Buffer

	agg := newStreamAgg(AlgCRC, []byte{1, 2, 3}, 0, false, 2, QuietNormal, &warnings)
	defer agg.stop()

	chunkSize := agg.chunkSize()

	adjusted, gotChunkSize, err := agg.activate(chunkSize*3+100, 512)
	require.NoError(t, err)
	assert.Equal(t, chunkSize*3, adjusted)
	assert.Equal(t, chunkSize, gotChunkSize)
	assert.Contains(t, warnings.String(), "WARNING")

	// Aligned offsets do not warn.
	warnings.Reset()

	adjusted, _, err = agg.activate(chunkSize*2, 512)
	require.NoError(t, err)
	assert.Equal(t, chunkSize*2, adjusted)
	assert.Empty(t, warnings.String())
}

// collectChunks pulls n chunks off the aggregator and returns deep
// copies of their data.
func collectChunks(t *testing.T, agg *streamAgg, n int) [][]byte {
	t.Helper()

	out := make([][]byte, 0, n)

	for i := 0; i < n; i++ {
		chunk, err := agg.waitChunk()
		require.NoError(t, err)

		out = append(out, append([]byte(nil), chunk.Data()...))
		chunk.Release()
	}

	return out
}

func testAggregatorOffsets(t *testing.T, algorithm Algorithm) {
	t.Helper()

	const numThreads = 2

	for offset := uint64(0); offset < 5; offset++ {
		a := newStreamAgg(algorithm, []byte{1, 2, 3}, 0, false, numThreads, QuietNormal, io.Discard)
		_, _, err := a.activate(0, 512)
		require.NoError(t, err)

		b := newStreamAgg(algorithm, []byte{1, 2, 3}, 0, false, numThreads, QuietNormal, io.Discard)
		_, _, err = b.activate(b.chunkSize()*offset, 512)
		require.NoError(t, err)

		// The first `offset` chunks of a are skipped by b; after that
		// both aggregators deliver the identical global sequence.
		skipped := collectChunks(t, a, int(offset))
		bfirst := collectChunks(t, b, 1)[0]

		for _, chunk := range skipped {
			assert.NotEqual(t, chunk, bfirst)
		}

		achunks := collectChunks(t, a, 8)
		bchunks := append([][]byte{bfirst}, collectChunks(t, b, 7)...)
		assert.Equal(t, achunks, bchunks)

		a.stop()
		b.stop()
	}
}

func TestAggregatorOffsets(t *testing.T) {
	t.Parallel()

	for _, algorithm := range []Algorithm{AlgChaCha20, AlgCRC} {
		t.Run(algorithm.String(), func(t *testing.T) {
			t.Parallel()
			testAggregatorOffsets(t, algorithm)
		})
	}
}

func TestAggregatorDeterminism(t *testing.T) {
	t.Parallel()

	mk := func() *streamAgg {
		agg := newStreamAgg(AlgCRC, []byte{9, 9, 9}, 3, true, 3, QuietNormal, io.Discard)
		_, _, err := agg.activate(0, 512)
		require.NoError(t, err)

		return agg
	}

	a := mk()
	defer a.stop()

	b := mk()
	defer b.stop()

	if diff := cmp.Diff(collectChunks(t, a, 9), collectChunks(t, b, 9)); diff != "" {
		t.Errorf("aggregated streams diverge (-a +b):\n%s", diff)
	}
}

func TestAggregatorStreamsDiffer(t *testing.T) {
	t.Parallel()

	// Consecutive chunks come from different streams and must not
	// correlate.
	agg := newStreamAgg(AlgChaCha20, []byte{1, 2, 3}, 0, false, 2, QuietNormal, io.Discard)
	defer agg.stop()

	_, _, err := agg.activate(0, 512)
	require.NoError(t, err)

	chunks := collectChunks(t, agg, 2)

	equal := 0
	for i := range chunks[0] {
		if chunks[0][i] == chunks[1][i] {
			equal++
		}
	}

	// Random data agrees on roughly 1 in 256 bytes.
	assert.Less(t, equal, len(chunks[0])/100)
}
