package disktest

import (
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/disktest/pkg/disktest/rawio"
)

// memFile wraps an in-memory endpoint the way the driver expects:
// re-opening after a cache-dropping close resumes on the same buffer.
func memFile(mem *rawio.Mem, read, write bool) *File {
	return NewFile("mem", func() (rawio.Device, error) {
		mem.Reopen()

		return mem, nil
	}, read, write)
}

func newTestDisktest(t *testing.T, algorithm Algorithm, seed []byte, abort *atomic.Bool) *Disktest {
	t.Helper()

	dt := New(Config{
		Algorithm: algorithm,
		Seed:      seed,
		Threads:   2,
		Quiet:     QuietNoWarn,
		Abort:     abort,
		Out:       io.Discard,
		ErrOut:    io.Discard,
	})
	t.Cleanup(dt.Close)

	return dt
}

func testDriverRoundtrip(t *testing.T, algorithm Algorithm) {
	t.Helper()

	const numThreads = 2

	seed := []byte{42, 43, 44, 45}
	dt := newTestDisktest(t, algorithm, seed, nil)
	chunkSize := uint64(algorithm.baseSize() * algorithm.defaultChunkFactor())

	// Write a couple of bytes and verify them.
	{
		mem := rawio.NewMem(0)

		written, err := dt.Write(memFile(mem, false, true), 0, 1000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), written)

		verified, err := dt.Verify(memFile(mem, true, false), 0, Unlimited)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), verified)
	}

	// Write a couple of bytes and verify half of them.
	{
		mem := rawio.NewMem(0)

		written, err := dt.Write(memFile(mem, false, true), 0, 1000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), written)

		verified, err := dt.Verify(memFile(mem, true, false), 0, 500)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), verified)
	}

	// Write a region spanning all streams plus a partial chunk.
	{
		mem := rawio.NewMem(0)
		nrBytes := chunkSize*numThreads*2 + 100

		written, err := dt.Write(memFile(mem, false, true), 0, nrBytes)
		require.NoError(t, err)
		assert.Equal(t, nrBytes, written)

		verified, err := dt.Verify(memFile(mem, true, false), 0, Unlimited)
		require.NoError(t, err)
		assert.Equal(t, nrBytes, verified)
	}

	// Write rewinds the endpoint, whatever its current position.
	{
		mem := rawio.NewMem(0)
		require.NoError(t, mem.SetLen(100))
		_, err := mem.Seek(10)
		require.NoError(t, err)

		written, err := dt.Write(memFile(mem, false, true), 0, 1000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), written)

		verified, err := dt.Verify(memFile(mem, true, false), 0, Unlimited)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), verified)
	}

	// Modified data fails verification at the exact offset.
	{
		mem := rawio.NewMem(0)

		_, err := dt.Write(memFile(mem, false, true), 0, 1000)
		require.NoError(t, err)

		mem.Bytes()[10] ^= 0x45

		_, err = dt.Verify(memFile(mem, true, false), 0, 1000)

		var mismatch *MismatchError

		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, uint64(10), mismatch.Offset)
	}
}

func TestDriverRoundtrip(t *testing.T) {
	t.Parallel()

	for _, algorithm := range []Algorithm{AlgChaCha8, AlgChaCha12, AlgChaCha20, AlgCRC} {
		t.Run(algorithm.String(), func(t *testing.T) {
			t.Parallel()
			testDriverRoundtrip(t, algorithm)
		})
	}
}

func testDriverSeek(t *testing.T, algorithm Algorithm) {
	t.Helper()

	const numThreads = 2

	seed := []byte{42, 43, 44, 45}
	dt := newTestDisktest(t, algorithm, seed, nil)
	chunkSize := uint64(algorithm.baseSize() * algorithm.defaultChunkFactor())

	// Verify with seek offsets, aligned and unaligned.
	{
		mem := rawio.NewMem(0)
		nrBytes := chunkSize * numThreads * 3

		_, err := dt.Write(memFile(mem, false, true), 0, nrBytes)
		require.NoError(t, err)

		for offset := uint64(0); offset < nrBytes; offset += chunkSize / 2 * 3 {
			verified, err := dt.Verify(memFile(mem, true, false), offset, Unlimited)
			require.NoError(t, err)
			assert.Positive(t, verified)
			assert.LessOrEqual(t, verified, nrBytes)
		}
	}

	// Write with seek: two overlapping writes verify as one stream.
	{
		mem := rawio.NewMem(0)
		nrBytes := chunkSize * numThreads * 4
		offset := chunkSize * numThreads * 2

		written, err := dt.Write(memFile(mem, false, true), 0, nrBytes)
		require.NoError(t, err)
		assert.Equal(t, nrBytes, written)

		written, err = dt.Write(memFile(mem, false, true), offset, nrBytes)
		require.NoError(t, err)
		assert.Equal(t, nrBytes, written)

		verified, err := dt.Verify(memFile(mem, true, false), 0, Unlimited)
		require.NoError(t, err)
		assert.Equal(t, nrBytes+offset, verified)
	}
}

func TestDriverSeek(t *testing.T) {
	t.Parallel()

	for _, algorithm := range []Algorithm{AlgChaCha20, AlgCRC} {
		t.Run(algorithm.String(), func(t *testing.T) {
			t.Parallel()
			testDriverSeek(t, algorithm)
		})
	}
}

func TestDriverSeekEquivalence(t *testing.T) {
	t.Parallel()

	// Writing [0, n+m) in one go equals writing [0, n) and then
	// [n, n+m) in two runs, for chunk-aligned n.
	dt := newTestDisktest(t, AlgCRC, []byte{5, 6, 7}, nil)
	chunkSize := uint64(AlgCRC.baseSize() * AlgCRC.defaultChunkFactor())

	n := chunkSize * 3
	m := chunkSize * 2

	whole := rawio.NewMem(0)
	split := rawio.NewMem(0)

	_, err := dt.Write(memFile(whole, false, true), 0, n+m)
	require.NoError(t, err)

	_, err = dt.Write(memFile(split, false, true), 0, n)
	require.NoError(t, err)

	_, err = dt.Write(memFile(split, false, true), n, m)
	require.NoError(t, err)

	assert.Equal(t, whole.Bytes(), split.Bytes())
}

func TestDriverUnlimitedWriteFillsDevice(t *testing.T) {
	t.Parallel()

	dt := newTestDisktest(t, AlgCRC, []byte{1, 2, 3}, nil)
	chunkSize := uint64(AlgCRC.baseSize() * AlgCRC.defaultChunkFactor())

	// The device accepts two whole chunks, then reports out-of-space.
	mem := rawio.NewMem(chunkSize*2 + 100)

	written, err := dt.Write(memFile(mem, false, true), 0, Unlimited)
	require.NoError(t, err)
	assert.Equal(t, chunkSize*2, written)

	verified, err := dt.Verify(memFile(mem, true, false), 0, Unlimited)
	require.NoError(t, err)
	assert.Equal(t, chunkSize*2, verified)
}

func TestDriverBoundedWriteOutOfSpaceFails(t *testing.T) {
	t.Parallel()

	dt := newTestDisktest(t, AlgCRC, []byte{1, 2, 3}, nil)
	chunkSize := uint64(AlgCRC.baseSize() * AlgCRC.defaultChunkFactor())

	mem := rawio.NewMem(chunkSize)

	_, err := dt.Write(memFile(mem, false, true), 0, chunkSize*4)
	assert.ErrorIs(t, err, ErrOutOfSpace)
}

func TestDriverAbort(t *testing.T) {
	t.Parallel()

	abort := &atomic.Bool{}
	abort.Store(true)

	dt := newTestDisktest(t, AlgCRC, []byte{1, 2, 3}, abort)

	mem := rawio.NewMem(0)

	_, err := dt.Write(memFile(mem, false, true), 0, 1000)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestDriverInvertedStreamDiffers(t *testing.T) {
	t.Parallel()

	seed := []byte{7, 7, 7}

	plain := New(Config{
		Algorithm: AlgCRC, Seed: seed, Threads: 2,
		Quiet: QuietNoWarn, Out: io.Discard, ErrOut: io.Discard,
	})
	t.Cleanup(plain.Close)

	inverted := New(Config{
		Algorithm: AlgCRC, Seed: seed, Threads: 2, InvertPattern: true,
		Quiet: QuietNoWarn, Out: io.Discard, ErrOut: io.Discard,
	})
	t.Cleanup(inverted.Close)

	memA := rawio.NewMem(0)
	memB := rawio.NewMem(0)

	_, err := plain.Write(memFile(memA, false, true), 0, 1000)
	require.NoError(t, err)

	_, err = inverted.Write(memFile(memB, false, true), 0, 1000)
	require.NoError(t, err)

	a := memA.Bytes()
	b := memB.Bytes()
	require.Len(t, b, len(a))

	for i := range a {
		assert.Equal(t, a[i], b[i]^0xFF)
	}

	// An inverted write verifies against an inverted stream.
	verified, err := inverted.Verify(memFile(memB, true, false), 0, Unlimited)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), verified)
}

func TestDriverThreadCountChangesStream(t *testing.T) {
	t.Parallel()

	seed := []byte{1, 2, 3}

	one := New(Config{
		Algorithm: AlgCRC, Seed: seed, Threads: 1,
		Quiet: QuietNoWarn, Out: io.Discard, ErrOut: io.Discard,
	})
	t.Cleanup(one.Close)

	two := New(Config{
		Algorithm: AlgCRC, Seed: seed, Threads: 2,
		Quiet: QuietNoWarn, Out: io.Discard, ErrOut: io.Discard,
	})
	t.Cleanup(two.Close)

	memOne := rawio.NewMem(0)
	memTwo := rawio.NewMem(0)

	// One chunk per stream; past the first chunk the interleaving
	// differs between thread counts.
	chunkSize := uint64(AlgCRC.baseSize() * AlgCRC.defaultChunkFactor())
	nrBytes := chunkSize * 2

	_, err := one.Write(memFile(memOne, false, true), 0, nrBytes)
	require.NoError(t, err)

	_, err = two.Write(memFile(memTwo, false, true), 0, nrBytes)
	require.NoError(t, err)

	assert.Equal(t, memOne.Bytes()[:chunkSize], memTwo.Bytes()[:chunkSize])
	assert.NotEqual(t, memOne.Bytes()[chunkSize:], memTwo.Bytes()[chunkSize:])
}
