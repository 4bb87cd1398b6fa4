package store

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/blockvirt/go-vdev/internal/interfaces"
)

// Mem is a RAM-backed store. It stands in for a host file in tests and in
// the CLI exerciser; trimmed ranges read back as zeroes.
type Mem struct {
	mu   sync.RWMutex
	data []byte
	size int64
}

// NewMem creates a memory store of the given size.
func NewMem(size int64) *Mem {
	return &Mem{
		data: make([]byte, size),
		size: size,
	}
}

// ReadAt implements the Store interface.
func (m *Mem) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return 0, unix.ENXIO
	}
	if off >= m.size {
		return 0, nil
	}

	if avail := m.size - off; int64(len(p)) > avail {
		p = p[:avail]
	}
	return copy(p, m.data[off:off+int64(len(p))]), nil
}

// WriteAt implements the Store interface.
func (m *Mem) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return 0, unix.ENXIO
	}
	if off >= m.size {
		return 0, unix.ENOSPC
	}

	if avail := m.size - off; int64(len(p)) > avail {
		p = p[:avail]
	}
	return copy(m.data[off:off+int64(len(p))], p), nil
}

// Flush implements the Store interface. Memory needs no write-back.
func (m *Mem) Flush() error {
	return nil
}

// Trim zeroes the range, mirroring a hole punch on a file store.
func (m *Mem) Trim(off, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return unix.ENXIO
	}
	if off >= m.size {
		return nil
	}

	end := off + length
	if end > m.size {
		end = m.size
	}
	for i := off; i < end; i++ {
		m.data[i] = 0
	}
	return nil
}

// Size implements the Store interface.
func (m *Mem) Size() int64 {
	return m.size
}

// Refresh implements the Refresher interface.
func (m *Mem) Refresh() (int64, error) {
	return m.size, nil
}

// Close releases the backing slice.
func (m *Mem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = nil
	return nil
}

// Compile-time interface checks
var (
	_ interfaces.Store     = (*Mem)(nil)
	_ interfaces.Refresher = (*Mem)(nil)
)
