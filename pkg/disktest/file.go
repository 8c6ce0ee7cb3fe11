package disktest

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/disktest/pkg/disktest/rawio"
)

// errDropCaches marks a failed cache eviction. Not fatal for a run;
// the driver downgrades it to a warning.
var errDropCaches = errors.New("cache drop error")

// File is the driver's view of a target endpoint.
//
// It opens the underlying device lazily, tracks the byte range written
// since the last flush so the OS caches for exactly that range can be
// dropped, and re-opens transparently after a cache-dropping close.
type File struct {
	path      string
	open      func() (rawio.Device, error)
	dev       rawio.Device
	readMode  bool
	writeMode bool

	dropOffset uint64
	dropCount  uint64
}

// OpenFile prepares path for use by the disktest core. The underlying
// file or device is not touched until the first operation.
func OpenFile(path string, read, write bool) *File {
	return &File{
		path: path,
		open: func() (rawio.Device, error) {
			// Only write mode may create; device paths are never
			// created by the backend.
			return rawio.Open(path, write, read, write)
		},
		readMode:  read,
		writeMode: write,
	}
}

// NewFile wraps a custom endpoint. The open callback is invoked for
// the initial open and after every cache-dropping close; it must
// return an endpoint positioned at offset zero.
func NewFile(path string, open func() (rawio.Device, error), read, write bool) *File {
	return &File{
		path:      path,
		open:      open,
		readMode:  read,
		writeMode: write,
	}
}

func (f *File) doOpen() error {
	if f.dev != nil {
		return nil
	}

	dev, err := f.open()
	if err != nil {
		return err
	}

	f.dev = dev
	f.dropOffset = 0
	f.dropCount = 0

	return nil
}

// close releases the endpoint. If bytes were written since the last
// flush, the OS caches for the written range are dropped so a
// subsequent verify reads from the medium instead of RAM.
func (f *File) close() error {
	dropOffset := f.dropOffset
	dropCount := f.dropCount

	f.dropOffset += dropCount
	f.dropCount = 0

	dev := f.dev
	if dev == nil {
		return nil
	}

	f.dev = nil

	if dropCount > 0 {
		if err := dev.DropCaches(dropOffset, dropCount); err != nil {
			return fmt.Errorf("%w: %w", errDropCaches, err)
		}

		return nil
	}

	return dev.Close()
}

// sectorSize queries the device's physical sector size; 0 when
// unknown.
func (f *File) sectorSize() (uint32, error) {
	if err := f.doOpen(); err != nil {
		return 0, err
	}

	return f.dev.SectorSize(), nil
}

// seek flushes pending written data, then repositions the endpoint.
func (f *File) seek(offset uint64) (uint64, error) {
	if f.dropCount > 0 {
		if err := f.close(); err != nil {
			return 0, err
		}
	}

	if err := f.doOpen(); err != nil {
		return 0, err
	}

	pos, err := f.dev.Seek(offset)
	if err != nil {
		return 0, err
	}

	f.dropOffset = offset
	f.dropCount = 0

	return pos, nil
}

// sync flushes all written data to the medium.
func (f *File) sync() error {
	if f.dev == nil {
		return nil
	}

	return f.dev.Sync()
}

func (f *File) readChunk(buf []byte) (rawio.Result, error) {
	if err := f.doOpen(); err != nil {
		return rawio.Result{}, err
	}

	return f.dev.Read(buf)
}

func (f *File) writeChunk(buf []byte) (rawio.Result, error) {
	if err := f.doOpen(); err != nil {
		return rawio.Result{}, err
	}

	res, err := f.dev.Write(buf)
	if err == nil && !res.Enospc {
		f.dropCount += uint64(len(buf))
	}

	return res, err
}

// Path returns the path this File was opened with.
func (f *File) Path() string {
	return f.path
}
