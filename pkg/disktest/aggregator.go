package disktest

import (
	"fmt"
	"io"
)

// aggChunk is a chunk of the global keystream handed out by the
// aggregator. Release must be called exactly once when the data is no
// longer needed; it returns the buffer to the producing stream's cache
// slot.
type aggChunk struct {
	data     []byte
	threadID uint32
	cache    *bufCache
	released bool
}

func (c *aggChunk) Data() []byte {
	if c.released {
		panic("aggChunk: data accessed after release")
	}

	return c.data
}

func (c *aggChunk) Release() {
	if c.released {
		return
	}

	c.released = true
	c.cache.push(c.threadID, c.data)
	c.data = nil
}

// streamAgg fans the keystream out over a set of worker streams and
// re-interleaves their chunks in a fixed round-robin.
//
// Stream i owns the global chunk indices i, i+T, i+2T, ...; pulling
// chunks round-robin starting at the activation cursor reproduces the
// global byte sequence exactly. The sequence therefore depends on the
// thread count: verification must use the same thread count as the
// write that produced the data.
type streamAgg struct {
	streams      []*stream
	cache        *bufCache
	currentIndex int
	active       bool
	quiet        QuietLevel
	errOut       io.Writer
}

func newStreamAgg(
	algorithm Algorithm,
	seed []byte,
	roundID uint64,
	invert bool,
	numThreads int,
	quiet QuietLevel,
	errOut io.Writer,
) *streamAgg {
	if numThreads < 1 || numThreads > 1<<16 {
		panic(fmt.Sprintf("streamAgg: invalid thread count %d", numThreads))
	}

	cache := newBufCache(quiet, errOut)

	streams := make([]*stream, numThreads)
	for i := range streams {
		streams[i] = newStream(algorithm, seed, roundID, invert, uint32(i), cache)
	}

	return &streamAgg{
		streams: streams,
		cache:   cache,
		quiet:   quiet,
		errOut:  errOut,
	}
}

// chunkSize is the byte size of one aggregated chunk.
func (a *streamAgg) chunkSize() uint64 {
	return uint64(a.streams[0].chunkSize())
}

// activate starts all streams so that the next waitChunk returns the
// global keystream beginning at byteOffset.
//
// The offset is rounded down to a chunk boundary if necessary (with a
// warning) and the adjusted offset is returned together with the
// negotiated chunk size. Activation fails with [ErrGeometryMismatch]
// when the chunk size is not a multiple of sectorSize.
func (a *streamAgg) activate(byteOffset uint64, sectorSize uint32) (uint64, uint64, error) {
	chunkSize := a.chunkSize()

	if chunkSize%uint64(sectorSize) != 0 {
		return 0, 0, fmt.Errorf("%w: chunk size %d, sector size %d",
			ErrGeometryMismatch, chunkSize, sectorSize)
	}

	if byteOffset%chunkSize != 0 {
		adjusted := byteOffset - byteOffset%chunkSize

		if a.quiet < QuietNoWarn {
			fmt.Fprintf(a.errOut,
				"WARNING: The seek offset %s is not a multiple of the chunk size %s. "+
					"The seek offset will be adjusted to %s.\n",
				Prettybytes(byteOffset, true, true, true),
				Prettybytes(chunkSize, true, true, true),
				Prettybytes(adjusted, true, true, true))
		}

		byteOffset = adjusted
	}

	numThreads := uint64(len(a.streams))
	chunkIndex := byteOffset / chunkSize
	a.currentIndex = int(chunkIndex % numThreads)

	// Stagger the per-stream offsets: streams before the cursor start
	// one iteration ahead, so the round-robin pull starting at the
	// cursor reproduces the global sequence.
	iteration := chunkIndex / numThreads

	for i, s := range a.streams {
		streamIter := iteration
		if i < a.currentIndex {
			streamIter++
		}

		if err := s.activate(streamIter * chunkSize); err != nil {
			return 0, 0, err
		}
	}

	a.active = true

	return byteOffset, chunkSize, nil
}

// waitChunk blocks until the next chunk of the global sequence is
// available and returns it.
func (a *streamAgg) waitChunk() (*aggChunk, error) {
	if !a.active {
		panic("waitChunk() called, but stream aggregator is stopped")
	}

	s := a.streams[a.currentIndex]

	chunk, err := s.take()
	if err != nil {
		return nil, err
	}

	a.currentIndex = (a.currentIndex + 1) % len(a.streams)

	return &aggChunk{
		data:     chunk.data,
		threadID: s.threadID,
		cache:    a.cache,
	}, nil
}

// stop halts all worker streams.
func (a *streamAgg) stop() {
	for _, s := range a.streams {
		s.stop()
	}

	a.active = false
}
