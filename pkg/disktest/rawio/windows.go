//go:build windows

package rawio

import (
	"errors"
	"fmt"
	"regexp"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Control codes and geometry layout used below. x/sys/windows does not
// export the disk ioctls, so they are spelled out here.
const (
	ioctlDiskGetDriveGeometry = 0x00070000
	fsctlLockVolume           = 0x00090018
	fsctlUnlockVolume         = 0x0009001c
)

// diskGeometry mirrors the DISK_GEOMETRY structure.
type diskGeometry struct {
	Cylinders         int64
	MediaType         uint32
	TracksPerCylinder uint32
	SectorsPerTrack   uint32
	BytesPerSector    uint32
}

// Raw device path patterns: \\.\X: and \\.\PhysicalDriveN.
// Deliberately conservative; a false negative falls back to the slower
// but still correct regular-file path.
var (
	reDrive    = regexp.MustCompile(`^\\\\\.\\[a-zA-Z]:$`)
	rePhysical = regexp.MustCompile(`^\\\\\.\\(?i:PhysicalDrive)\d+$`)
)

// Raw implements [Device] on top of a Windows file, volume or physical
// drive handle.
type Raw struct {
	path         string
	handle       windows.Handle
	readMode     bool
	writeMode    bool
	isRaw        bool
	volumeLocked bool
	sectorSize   uint32
	diskSize     uint64
	curOffset    uint64
}

var _ Device = (*Raw)(nil)

// Open opens a file, volume or physical drive at path.
//
// Raw device paths are never created. Volumes and physical drives are
// locked for the duration of the handle.
func Open(path string, create, read, write bool) (*Raw, error) {
	isRaw := isRawDev(path)

	var access uint32

	if read {
		access |= windows.GENERIC_READ
	}

	if write {
		access |= windows.GENERIC_WRITE
	}

	createMode := uint32(windows.OPEN_EXISTING)
	if create && !isRaw {
		createMode = windows.OPEN_ALWAYS
	}

	pathp, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("failed to convert file name: %w", err)
	}

	share := uint32(windows.FILE_SHARE_READ | windows.FILE_SHARE_WRITE | windows.FILE_SHARE_DELETE)

	handle, err := windows.CreateFile(pathp, access, share, nil, createMode, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", path, err)
	}

	r := &Raw{
		path:      path,
		handle:    handle,
		readMode:  read,
		writeMode: write,
		isRaw:     isRaw,
	}

	if isRaw {
		if err := r.ioctl(fsctlLockVolume, nil, 0); err != nil {
			_ = windows.CloseHandle(handle)

			return nil, fmt.Errorf("failed to lock the raw volume: %w", err)
		}

		r.volumeLocked = true
	}

	if err := r.readDiskGeometry(); err != nil {
		_ = r.Close()

		return nil, err
	}

	return r, nil
}

func isRawDev(path string) bool {
	return reDrive.MatchString(path) || rePhysical.MatchString(path)
}

func (r *Raw) ioctl(code uint32, out unsafe.Pointer, outSize uint32) error {
	var returned uint32

	return windows.DeviceIoControl(r.handle, code, nil, 0, (*byte)(out), outSize, &returned, nil)
}

func (r *Raw) readDiskGeometry() error {
	if !r.isRaw {
		r.diskSize = ^uint64(0)
		r.sectorSize = 0

		return nil
	}

	var dg diskGeometry

	if err := r.ioctl(ioctlDiskGetDriveGeometry, unsafe.Pointer(&dg), uint32(unsafe.Sizeof(dg))); err != nil {
		return fmt.Errorf("failed to get drive geometry: %w", err)
	}

	r.diskSize = uint64(dg.BytesPerSector) *
		uint64(dg.SectorsPerTrack) *
		uint64(dg.TracksPerCylinder) *
		uint64(dg.Cylinders)
	r.sectorSize = dg.BytesPerSector

	return nil
}

// SectorSize returns the physical sector size, or 0 for regular files.
func (r *Raw) SectorSize() uint32 {
	return r.sectorSize
}

// Seek repositions to offset from the start of the file.
func (r *Raw) Seek(offset uint64) (uint64, error) {
	if r.handle == windows.InvalidHandle {
		return 0, ErrNotOpen
	}

	pos, err := windows.Seek(r.handle, int64(offset), windows.FILE_BEGIN)
	if err != nil {
		return 0, fmt.Errorf("seek to %d failed: %w", offset, err)
	}

	r.curOffset = uint64(pos)

	return uint64(pos), nil
}

// Read reads into buf. A short read at the end of the device is
// reported via Result.Count, not as an error.
func (r *Raw) Read(buf []byte) (Result, error) {
	if !r.readMode {
		return Result{}, ErrWriteOnly
	}

	if r.handle == windows.InvalidHandle {
		return Result{}, ErrNotOpen
	}

	if len(buf) == 0 {
		return Result{}, nil
	}

	var n uint32

	err := windows.ReadFile(r.handle, buf, &n, nil)
	if err != nil {
		// Reading past the end of a raw device fails instead of
		// returning a short read.
		if r.isRaw && r.curOffset+uint64(len(buf)) >= r.diskSize {
			return Result{Count: int(n)}, nil
		}

		if errors.Is(err, windows.ERROR_HANDLE_EOF) {
			return Result{Count: int(n)}, nil
		}

		return Result{}, fmt.Errorf("read error: %w", err)
	}

	r.curOffset += uint64(n)

	return Result{Count: int(n)}, nil
}

// Write writes buf fully. Out-of-space is reported through
// Result.Enospc: when the system says the disk is full, when a failed
// write would reach the known disk size, or when fewer bytes than
// len(buf) were written.
func (r *Raw) Write(buf []byte) (Result, error) {
	if !r.writeMode {
		return Result{}, ErrReadOnly
	}

	if r.handle == windows.InvalidHandle {
		return Result{}, ErrNotOpen
	}

	var n uint32

	err := windows.WriteFile(r.handle, buf, &n, nil)
	if err != nil {
		if errors.Is(err, windows.ERROR_DISK_FULL) || r.curOffset+uint64(len(buf)) >= r.diskSize {
			return Result{Enospc: true}, nil
		}

		return Result{}, fmt.Errorf("write error: %w", err)
	}

	r.curOffset += uint64(n)

	if n != uint32(len(buf)) {
		return Result{Enospc: true}, nil
	}

	return Result{Count: int(n)}, nil
}

// Sync flushes the file buffers of writable handles.
func (r *Raw) Sync() error {
	if r.handle == windows.InvalidHandle {
		return ErrNotOpen
	}

	if !r.writeMode {
		return nil
	}

	if err := windows.FlushFileBuffers(r.handle); err != nil {
		return fmt.Errorf("failed to flush file buffers: %w", err)
	}

	return nil
}

// DropCaches flushes, closes and re-opens the file with
// FILE_FLAG_NO_BUFFERING, which evicts its cached pages.
func (r *Raw) DropCaches(_, _ uint64) error {
	if r.handle == windows.InvalidHandle {
		return nil
	}

	if err := r.Close(); err != nil {
		return err
	}

	pathp, err := windows.UTF16PtrFromString(r.path)
	if err != nil {
		return fmt.Errorf("failed to convert file name: %w", err)
	}

	share := uint32(windows.FILE_SHARE_READ | windows.FILE_SHARE_WRITE | windows.FILE_SHARE_DELETE)

	handle, err := windows.CreateFile(
		pathp, windows.GENERIC_READ, share, nil,
		windows.OPEN_EXISTING, windows.FILE_FLAG_NO_BUFFERING, 0,
	)
	if err != nil {
		return fmt.Errorf("failed to acquire file handle: %w", err)
	}

	return windows.CloseHandle(handle)
}

// SetLen truncates or extends a regular file. Refused for raw devices.
func (r *Raw) SetLen(size uint64) error {
	if !r.writeMode {
		return ErrReadOnly
	}

	if r.isRaw {
		return ErrRawDevice
	}

	if r.handle == windows.InvalidHandle {
		return ErrNotOpen
	}

	if _, err := r.Seek(size); err != nil {
		return err
	}

	if err := windows.SetEndOfFile(r.handle); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}

	return nil
}

// Close flushes, unlocks a locked volume and releases the handle.
func (r *Raw) Close() error {
	if r.handle == windows.InvalidHandle {
		return nil
	}

	syncErr := r.Sync()

	if r.volumeLocked {
		// Unlock failure is not fatal; the lock dies with the handle.
		_ = r.ioctl(fsctlUnlockVolume, nil, 0)
		r.volumeLocked = false
	}

	err := windows.CloseHandle(r.handle)
	r.handle = windows.InvalidHandle

	if syncErr != nil {
		return syncErr
	}

	if err != nil {
		return fmt.Errorf("failed to close file handle: %w", err)
	}

	return nil
}
