// Package disktest implements the disktest core: a deterministic,
// seekable, multi-threaded pseudo-random keystream engine coordinated
// with a raw block-I/O layer.
//
// A write pass streams the keystream derived from a user seed onto a
// target file or device; a verify pass regenerates the same keystream
// and compares it byte for byte against what the medium returns. Any
// difference means the medium (or the path to it) corrupted data.
//
// The keystream is partitioned across worker threads by chunk index,
// so the byte sequence depends on the thread count: verify with the
// same thread count as the write that produced the data.
package disktest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/calvinalkan/disktest/pkg/disktest/rawio"
)

// Unlimited as max_bytes means "until the device is full"; running out
// of space is success then.
const Unlimited uint64 = math.MaxUint64

// Progress log throttling: at most one line per logSecThres seconds,
// checked only every logByteThres processed bytes.
const (
	logByteThres uint64 = 1024 * 1024
	logSecThres         = 10 * time.Second
)

// Config parameterises a [Disktest] instance.
type Config struct {
	// Algorithm selects the keystream generator. The zero value is
	// ChaCha20.
	Algorithm Algorithm

	// Seed is the non-empty master seed. It is never stored on the
	// target.
	Seed []byte

	// RoundID selects the per-round key material.
	RoundID uint64

	// InvertPattern XORs 0xFF over every keystream byte.
	InvertPattern bool

	// Threads is the number of generator workers. 0 means one per CPU.
	Threads int

	// Quiet controls the verbosity of progress and warnings.
	Quiet QuietLevel

	// Abort is an externally managed abort flag, checked between
	// chunks. May be nil.
	Abort *atomic.Bool

	// Out and ErrOut receive progress and diagnostics. Defaulted to
	// stdout/stderr.
	Out    io.Writer
	ErrOut io.Writer
}

// Disktest drives write and verify passes over one target endpoint.
type Disktest struct {
	agg   *streamAgg
	abort *atomic.Bool

	logCount  uint64
	logTime   time.Time
	beginTime time.Time

	quiet  QuietLevel
	out    io.Writer
	errOut io.Writer
}

// New creates a Disktest instance. Call [Disktest.Close] when done to
// stop the generator workers.
func New(cfg Config) *Disktest {
	if len(cfg.Seed) == 0 {
		panic("disktest: empty seed")
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	errOut := cfg.ErrOut
	if errOut == nil {
		errOut = os.Stderr
	}

	return &Disktest{
		agg: newStreamAgg(
			cfg.Algorithm, cfg.Seed, cfg.RoundID, cfg.InvertPattern,
			threads, cfg.Quiet, errOut,
		),
		abort:  cfg.Abort,
		quiet:  cfg.Quiet,
		out:    out,
		errOut: errOut,
	}
}

// Close stops all generator workers. The instance must not be used
// afterwards.
func (dt *Disktest) Close() {
	dt.agg.stop()
}

func (dt *Disktest) abortRequested() bool {
	return dt.abort != nil && dt.abort.Load()
}

func (dt *Disktest) logReset() {
	dt.logCount = 0
	dt.logTime = time.Now()
	dt.beginTime = dt.logTime
}

// log prints a throttled progress line.
func (dt *Disktest) log(prefix string, incProcessed int, absProcessed uint64, finalStep bool) {
	if dt.quiet >= QuietNoInfo {
		return
	}

	// Cheap byte-count gate first; only then consult the clock.
	dt.logCount += uint64(incProcessed)

	if !(dt.logCount >= logByteThres && dt.quiet == QuietNormal) && !finalStep {
		return
	}

	now := time.Now()
	expired := now.Sub(dt.logTime) >= logSecThres

	if (expired && dt.quiet == QuietNormal) || finalStep {
		elapsed := now.Sub(dt.beginTime)

		rate := ""
		if secs := uint64(elapsed.Seconds()); secs > 0 {
			rate = fmt.Sprintf(" @ %s/s", Prettybytes(absProcessed/secs, true, false, false))
		}

		suffix := " ..."
		if finalStep {
			suffix = "."
		}

		fmt.Fprintf(dt.out, "%s%s%s (%s)%s\n",
			prefix, Prettybytes(absProcessed, true, true, finalStep),
			rate, formatDuration(elapsed), suffix)

		dt.logTime = now
	}

	dt.logCount = 0
}

// init prepares one write or verify pass: it resets progress counters,
// negotiates the chunk size against the device geometry, activates the
// stream aggregator and seeks the endpoint.
func (dt *Disktest) init(file *File, prefix string, seek, maxBytes uint64) (uint64, error) {
	dt.logReset()

	sectorSize, err := file.sectorSize()
	if err != nil {
		return 0, err
	}

	if dt.quiet < QuietNoInfo {
		sectorStr := ""
		if sectorSize != 0 {
			sectorStr = fmt.Sprintf(" (%s sectors)", Prettybytes(uint64(sectorSize), true, false, false))
		}

		fmt.Fprintf(dt.out, "%s %s%s, starting at position %s...\n",
			prefix, file.Path(), sectorStr, Prettybytes(seek, true, true, false))
	}

	activateSector := sectorSize
	if activateSector == 0 {
		activateSector = rawio.DefaultSectorSize
	}

	adjusted, chunkSize, err := dt.agg.activate(seek, activateSector)
	if err != nil {
		return 0, err
	}

	if _, err := file.seek(adjusted); err != nil {
		return 0, fmt.Errorf("file seek to %d failed: %w", seek, err)
	}

	if sectorSize != 0 && maxBytes != Unlimited && maxBytes%uint64(sectorSize) != 0 &&
		dt.quiet < QuietNoWarn {
		fmt.Fprintf(dt.errOut,
			"WARNING: The desired byte count of %s is not a multiple of the sector size %s. "+
				"This might result in a write or read error at the very end.\n",
			Prettybytes(maxBytes, true, true, true),
			Prettybytes(uint64(sectorSize), true, true, true))
	}

	return chunkSize, nil
}

// writeFinalize syncs, logs the totals and drops the OS caches.
func (dt *Disktest) writeFinalize(file *File, success bool, bytesWritten uint64) error {
	if dt.quiet < QuietNoInfo {
		fmt.Fprintln(dt.out, "Writing stopped. Syncing...")
	}

	if err := file.sync(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	prefix := "Wrote "
	if success {
		prefix = "Done. Wrote "
	}

	dt.log(prefix, 0, bytesWritten, true)

	// A failed cache eviction only weakens a subsequent verify; it
	// does not invalidate the written data.
	if err := file.close(); err != nil {
		if !errors.Is(err, errDropCaches) {
			return fmt.Errorf("failed to close device: %w", err)
		}

		if dt.quiet < QuietNoWarn {
			fmt.Fprintf(dt.errOut, "WARNING: %v\n", err)
		}
	} else if success && dt.quiet < QuietNoInfo {
		fmt.Fprintln(dt.out, "Successfully dropped file caches.")
	}

	return nil
}

// Write streams maxBytes of keystream onto file, starting at the seek
// byte offset. It returns the number of bytes written.
//
// With maxBytes set to [Unlimited] the write fills the device; running
// out of space is success then, otherwise it is an error.
func (dt *Disktest) Write(file *File, seek, maxBytes uint64) (uint64, error) {
	bytesLeft := maxBytes

	var bytesWritten uint64

	chunkSize, err := dt.init(file, "Writing", seek, maxBytes)
	if err != nil {
		return 0, err
	}

	for {
		if dt.abortRequested() {
			_ = dt.writeFinalize(file, false, bytesWritten)

			return bytesWritten, ErrAborted
		}

		chunk, err := dt.agg.waitChunk()
		if err != nil {
			_ = dt.writeFinalize(file, false, bytesWritten)

			return bytesWritten, err
		}

		writeLen := min(chunkSize, bytesLeft)

		res, err := file.writeChunk(chunk.Data()[:writeLen])
		chunk.Release()

		switch {
		case err != nil:
			_ = dt.writeFinalize(file, false, bytesWritten)

			return bytesWritten, err

		case res.Enospc:
			if maxBytes == Unlimited {
				// End of device. That is what was asked for.
				if err := dt.writeFinalize(file, true, bytesWritten); err != nil {
					return bytesWritten, err
				}

				return bytesWritten, nil
			}

			_ = dt.writeFinalize(file, false, bytesWritten)

			return bytesWritten, ErrOutOfSpace
		}

		bytesWritten += writeLen
		bytesLeft -= writeLen

		if bytesLeft == 0 {
			if err := dt.writeFinalize(file, true, bytesWritten); err != nil {
				return bytesWritten, err
			}

			return bytesWritten, nil
		}

		dt.log("Wrote ", int(writeLen), bytesWritten, false)
	}
}

// verifyFinalize logs the totals and closes the endpoint.
func (dt *Disktest) verifyFinalize(file *File, success bool, bytesRead uint64) error {
	prefix := "Verified "
	if success {
		prefix = "Done. Verified "
	}

	dt.log(prefix, 0, bytesRead, true)

	if err := file.close(); err != nil {
		return fmt.Errorf("failed to close device: %w", err)
	}

	return nil
}

// verifyFailed locates the first mismatching byte and builds the
// mismatch error.
func (dt *Disktest) verifyFailed(file *File, readCount int, bytesRead uint64, buffer, expected []byte) error {
	if err := dt.verifyFinalize(file, false, bytesRead); err != nil && dt.quiet < QuietNoWarn {
		fmt.Fprintln(dt.errOut, err)
	}

	for i := 0; i < readCount; i++ {
		if buffer[i] != expected[i] {
			return &MismatchError{Offset: bytesRead + uint64(i)}
		}
	}

	panic("internal error: verifyFailed() without mismatch")
}

// Verify reads maxBytes back from file starting at the seek byte
// offset and compares against the expected keystream. It returns the
// number of verified bytes.
//
// A short read at the end of the device is success for the bytes that
// did match. The first mismatching byte fails with [MismatchError]; no
// resynchronisation is attempted.
func (dt *Disktest) Verify(file *File, seek, maxBytes uint64) (uint64, error) {
	bytesLeft := maxBytes

	var bytesRead uint64

	chunkSize, err := dt.init(file, "Verifying", seek, maxBytes)
	if err != nil {
		return 0, err
	}

	readbufLen := chunkSize
	buffer := make([]byte, readbufLen)
	readCount := 0
	readLen := int(min(readbufLen, bytesLeft))

	for {
		if dt.abortRequested() {
			_ = dt.verifyFinalize(file, false, bytesRead)

			return bytesRead, ErrAborted
		}

		res, err := file.readChunk(buffer[readCount:readLen])
		if err != nil {
			_ = dt.verifyFinalize(file, false, bytesRead)

			return bytesRead, fmt.Errorf("read error at %s: %w",
				Prettybytes(bytesRead, true, true, true), err)
		}

		n := res.Count
		readCount += n

		// Compare once the buffer is full, or at the end of the disk.
		if readCount == readLen || (readCount > 0 && n == 0) {
			chunk, err := dt.agg.waitChunk()
			if err != nil {
				_ = dt.verifyFinalize(file, false, bytesRead)

				return bytesRead, err
			}

			if !bytes.Equal(buffer[:readCount], chunk.Data()[:readCount]) {
				err := dt.verifyFailed(file, readCount, bytesRead, buffer, chunk.Data())
				chunk.Release()

				return bytesRead, err
			}

			chunk.Release()

			bytesRead += uint64(readCount)
			bytesLeft -= uint64(readCount)

			if bytesLeft == 0 {
				if err := dt.verifyFinalize(file, true, bytesRead); err != nil {
					return bytesRead, err
				}

				return bytesRead, nil
			}

			dt.log("Verified ", readCount, bytesRead, false)

			readCount = 0
			readLen = int(min(readbufLen, bytesLeft))
		}

		// End of the disk?
		if n == 0 {
			if err := dt.verifyFinalize(file, true, bytesRead); err != nil {
				return bytesRead, err
			}

			return bytesRead, nil
		}
	}
}
