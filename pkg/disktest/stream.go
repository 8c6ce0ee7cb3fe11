package disktest

import (
	"sync"
	"sync/atomic"
)

const (
	// maxInFlight is the number of chunks a worker computes ahead of
	// the consumer before it goes to sleep.
	maxInFlight = 8
	// lowWatermark is the fill level at which a sleeping worker is
	// woken again.
	lowWatermark = 4
)

// streamChunk is one computed chunk travelling from a worker to the
// aggregator. Indices are strictly ascending per stream.
type streamChunk struct {
	index uint64
	data  []byte
}

// stream is one generator worker plus its bounded queue to the
// aggregator.
//
// A stream is either idle or running. activate derives the round key,
// seeks the generator and spawns the worker; stop tears the worker
// down. Activating a running stream restarts it.
type stream struct {
	algorithm Algorithm
	seed      []byte
	roundID   uint64
	invert    bool
	threadID  uint32
	cache     *bufCache

	chunkFactor int

	out    chan streamChunk
	level  atomic.Int32
	abort  atomic.Bool
	active bool

	wakeMu sync.Mutex
	wake   *sync.Cond

	done chan struct{}
}

func newStream(
	algorithm Algorithm,
	seed []byte,
	roundID uint64,
	invert bool,
	threadID uint32,
	cache *bufCache,
) *stream {
	s := &stream{
		algorithm:   algorithm,
		seed:        seed,
		roundID:     roundID,
		invert:      invert,
		threadID:    threadID,
		cache:       cache,
		chunkFactor: algorithm.defaultChunkFactor(),
	}
	s.wake = sync.NewCond(&s.wakeMu)

	return s
}

// chunkSize is the byte size of one chunk produced by this stream.
func (s *stream) chunkSize() int {
	return s.algorithm.baseSize() * s.chunkFactor
}

// activate (re)starts the worker so that its first chunk begins at
// byteOffset of this stream's keystream.
func (s *stream) activate(byteOffset uint64) error {
	s.stop()

	key := kdf(s.seed, s.threadID, s.roundID)

	gen := newGenerator(s.algorithm, key)
	if err := gen.seek(byteOffset); err != nil {
		return err
	}

	cons := s.cache.newConsumer(s.threadID)

	s.abort.Store(false)
	s.level.Store(0)
	s.out = make(chan streamChunk, maxInFlight)
	s.done = make(chan struct{})

	go s.worker(gen, cons, s.out, s.done)

	s.active = true

	return nil
}

// worker computes chunks until the abort flag is raised.
func (s *stream) worker(gen generator, cons *bufCacheCons, out chan<- streamChunk, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	size := gen.baseSize() * s.chunkFactor

	var index uint64

	for !s.abort.Load() {
		if s.level.Load() >= maxInFlight {
			s.sleep()

			continue
		}

		buf := cons.pull(size)
		gen.next(buf, s.chunkFactor)

		if s.invert {
			for i := range buf {
				buf[i] ^= 0xFF
			}
		}

		// The level guard above keeps at most maxInFlight chunks in
		// flight, so this send never blocks on the buffered channel.
		out <- streamChunk{index: index, data: buf}
		s.level.Add(1)
		index++
	}
}

// sleep blocks the worker until the consumer signals that the queue
// drained to the low watermark, or the stream is stopped.
func (s *stream) sleep() {
	s.wakeMu.Lock()

	for s.level.Load() > lowWatermark && !s.abort.Load() {
		s.wake.Wait()
	}

	s.wakeMu.Unlock()
}

// wakeWorker wakes a sleeping worker.
func (s *stream) wakeWorker() {
	s.wakeMu.Lock()
	s.wake.Broadcast()
	s.wakeMu.Unlock()
}

// take removes one chunk from the queue, blocking until the worker
// delivers. It returns [ErrGeneratorStopped] when the worker is gone.
func (s *stream) take() (streamChunk, error) {
	if !s.active {
		return streamChunk{}, ErrGeneratorStopped
	}

	chunk, ok := <-s.out
	if !ok {
		return streamChunk{}, ErrGeneratorStopped
	}

	if s.level.Add(-1) <= lowWatermark {
		s.wakeWorker()
	}

	return chunk, nil
}

// stop halts the worker and drops the queue. Idempotent.
func (s *stream) stop() {
	if !s.active {
		return
	}

	s.abort.Store(true)
	s.wakeWorker()
	<-s.done

	// Release in-flight buffers; they are re-allocated on restart.
	for range s.out {
	}

	s.active = false
}
