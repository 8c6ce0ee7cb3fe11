//go:build linux

package rawio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Raw implements [Device] on top of a Linux file or block device.
type Raw struct {
	path       string
	file       *os.File
	readMode   bool
	writeMode  bool
	isBlk      bool
	isChr      bool
	sectorSize uint32
}

var _ Device = (*Raw)(nil)

// Open opens a file or device at path.
//
// Paths under /dev/ are never created implicitly, even with create set.
// This does not catch every possible device path, only the common ones.
func Open(path string, create, read, write bool) (*Raw, error) {
	if strings.HasPrefix(path, "/dev/") {
		create = false
	}

	flag := 0

	switch {
	case read && write:
		flag = os.O_RDWR
	case write:
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}

	if create {
		flag |= os.O_CREATE
	}

	file, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", path, err)
	}

	r := &Raw{
		path:      path,
		file:      file,
		readMode:  read,
		writeMode: write,
	}

	if err := r.readDiskGeometry(); err != nil {
		_ = r.Close()

		return nil, err
	}

	return r, nil
}

// readDiskGeometry detects raw devices and queries the physical sector
// size of block devices via ioctl(BLKPBSZGET).
func (r *Raw) readDiskGeometry() error {
	info, err := os.Stat(r.path)
	if err == nil {
		mode := info.Mode()
		r.isBlk = mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0
		r.isChr = mode&os.ModeDevice != 0 && mode&os.ModeCharDevice != 0
	}

	if !r.isBlk {
		r.sectorSize = 0

		return nil
	}

	size, err := unix.IoctlGetUint32(int(r.file.Fd()), unix.BLKPBSZGET)
	if err != nil {
		return fmt.Errorf("get device block size: ioctl(BLKPBSZGET) failed: %w", err)
	}

	if size == 0 {
		return errors.New("get device block size: ioctl(BLKPBSZGET) returned invalid size")
	}

	r.sectorSize = size

	return nil
}

// SectorSize returns the physical sector size, or 0 for regular files.
func (r *Raw) SectorSize() uint32 {
	return r.sectorSize
}

// Seek repositions to offset from the start of the file.
func (r *Raw) Seek(offset uint64) (uint64, error) {
	if r.file == nil {
		return 0, ErrNotOpen
	}

	pos, err := r.file.Seek(int64(offset), io.SeekStart)
	if err != nil {
		return 0, fmt.Errorf("seek to %d failed: %w", offset, err)
	}

	return uint64(pos), nil
}

// Read reads into buf. A short read at the end of the device is
// reported via Result.Count, not as an error.
func (r *Raw) Read(buf []byte) (Result, error) {
	if !r.readMode {
		return Result{}, ErrWriteOnly
	}

	if r.file == nil {
		return Result{}, ErrNotOpen
	}

	n, err := r.file.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return Result{}, fmt.Errorf("read error: %w", err)
	}

	return Result{Count: n}, nil
}

// Write writes buf fully. Out-of-space is reported through
// Result.Enospc instead of an error.
func (r *Raw) Write(buf []byte) (Result, error) {
	if !r.writeMode {
		return Result{}, ErrReadOnly
	}

	if r.file == nil {
		return Result{}, ErrNotOpen
	}

	if _, err := r.file.Write(buf); err != nil {
		if errors.Is(err, unix.ENOSPC) {
			return Result{Enospc: true}, nil
		}

		return Result{}, fmt.Errorf("write error: %w", err)
	}

	return Result{Count: len(buf)}, nil
}

// Sync flushes kernel buffers. Character devices and read-only handles
// are not flushed.
func (r *Raw) Sync() error {
	if !r.writeMode || r.isChr {
		return nil
	}

	if r.file == nil {
		return ErrNotOpen
	}

	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// DropCaches flushes written data and tries to evict the byte range
// [offset, offset+size) from the page cache. The endpoint is closed
// afterwards.
//
// posix_fadvise(DONTNEED) is tried first. If the kernel refuses, the
// global /proc/sys/vm/drop_caches toggle is written as a fallback,
// which needs elevated privileges.
func (r *Raw) DropCaches(offset, size uint64) error {
	file := r.file
	if file == nil {
		return nil
	}

	r.file = nil

	if r.isChr {
		// Character device. Nothing is cached, don't flush.
		return file.Close()
	}

	if r.writeMode {
		if err := file.Sync(); err != nil {
			_ = file.Close()

			return fmt.Errorf("failed to flush: %w", err)
		}
	}

	fadviseErr := unix.Fadvise(int(file.Fd()), int64(offset), int64(size), unix.FADV_DONTNEED)

	if err := file.Close(); err != nil {
		return err
	}

	if fadviseErr == nil {
		return nil
	}

	// Fall back to the global drop_caches toggle.
	proc, err := os.OpenFile("/proc/sys/vm/drop_caches", os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if _, err := proc.Write([]byte("3\n")); err != nil {
		_ = proc.Close()

		return err
	}

	return proc.Close()
}

// SetLen truncates or extends a regular file. Refused for raw devices.
func (r *Raw) SetLen(size uint64) error {
	if !r.writeMode {
		return ErrReadOnly
	}

	if r.isBlk || r.isChr {
		return ErrRawDevice
	}

	if r.file == nil {
		return ErrNotOpen
	}

	return r.file.Truncate(int64(size))
}

// Close flushes and releases the file handle.
func (r *Raw) Close() error {
	file := r.file
	if file == nil {
		return nil
	}

	r.file = nil

	if r.writeMode && !r.isChr {
		if err := file.Sync(); err != nil {
			_ = file.Close()

			return fmt.Errorf("failed to flush: %w", err)
		}
	}

	return file.Close()
}
