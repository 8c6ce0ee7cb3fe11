package rawio

// Mem is an in-memory [Device].
//
// It grows on demand up to an optional capacity and reports
// out-of-space once the capacity is reached, which makes it suitable
// for exercising the end-of-device paths of the disktest driver
// without real hardware. A Mem survives Close and can be re-opened
// with [Mem.Reopen]; its contents persist across the cycle.
type Mem struct {
	buf      []byte
	capacity uint64
	offset   uint64
	closed   bool
}

var _ Device = (*Mem)(nil)

// NewMem returns an empty in-memory endpoint. A capacity of 0 means
// unbounded.
func NewMem(capacity uint64) *Mem {
	return &Mem{capacity: capacity}
}

// Reopen makes a closed endpoint usable again, positioned at offset 0.
func (m *Mem) Reopen() {
	m.closed = false
	m.offset = 0
}

// Bytes returns the current contents. The slice aliases the internal
// buffer; mutating it mutates the device.
func (m *Mem) Bytes() []byte {
	return m.buf
}

// SectorSize always returns 0; a memory buffer has no sector geometry.
func (m *Mem) SectorSize() uint32 {
	return 0
}

// Seek repositions to offset. Seeking beyond the end is allowed; the
// gap is zero-filled on the next write.
func (m *Mem) Seek(offset uint64) (uint64, error) {
	if m.closed {
		return 0, ErrNotOpen
	}

	m.offset = offset

	return offset, nil
}

// Read reads from the current position. Reads at or past the end
// return a count of 0.
func (m *Mem) Read(buf []byte) (Result, error) {
	if m.closed {
		return Result{}, ErrNotOpen
	}

	if m.offset >= uint64(len(m.buf)) {
		return Result{}, nil
	}

	n := copy(buf, m.buf[m.offset:])
	m.offset += uint64(n)

	return Result{Count: n}, nil
}

// Write writes at the current position, growing the buffer as needed.
// Writing past the capacity reports out-of-space without a partial
// write.
func (m *Mem) Write(buf []byte) (Result, error) {
	if m.closed {
		return Result{}, ErrNotOpen
	}

	end := m.offset + uint64(len(buf))

	if m.capacity > 0 && end > m.capacity {
		return Result{Enospc: true}, nil
	}

	if end > uint64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}

	copy(m.buf[m.offset:end], buf)
	m.offset = end

	return Result{Count: len(buf)}, nil
}

// Sync is a no-op.
func (m *Mem) Sync() error {
	if m.closed {
		return ErrNotOpen
	}

	return nil
}

// DropCaches closes the endpoint; there are no OS caches to evict.
func (m *Mem) DropCaches(_, _ uint64) error {
	m.closed = true

	return nil
}

// SetLen truncates or extends the buffer.
func (m *Mem) SetLen(size uint64) error {
	if m.closed {
		return ErrNotOpen
	}

	if size <= uint64(len(m.buf)) {
		m.buf = m.buf[:size]

		return nil
	}

	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown

	return nil
}

// Close marks the endpoint closed. The contents are kept for Reopen.
func (m *Mem) Close() error {
	m.closed = true

	return nil
}
