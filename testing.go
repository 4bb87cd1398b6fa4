package vdev

import (
	"sync"

	"github.com/blockvirt/go-vdev/internal/interfaces"
)

// MockStore is an in-memory Store with call tracking and fault injection.
// It is useful for unit testing the request life cycle without a host file:
// short transfers and host errors can be forced per operation kind.
type MockStore struct {
	mu   sync.Mutex
	data []byte
	size int64

	// Fault injection. A non-nil error is returned by the matching
	// operation; ShortWriteBy/ShortReadBy shave bytes off the transfer
	// count while reporting no error (a short transfer).
	FailRead     error
	FailWrite    error
	FailFlush    error
	FailTrim     error
	FailRefresh  error
	ShortReadBy  int
	ShortWriteBy int

	// Method call tracking
	readCalls  int
	writeCalls int
	flushCalls int
	trimCalls  int
	closeCalls int
}

// NewMockStore creates a mock store of the given size.
func NewMockStore(size int64) *MockStore {
	return &MockStore{
		data: make([]byte, size),
		size: size,
	}
}

// ReadAt implements the Store interface
func (m *MockStore) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	if m.FailRead != nil {
		return 0, m.FailRead
	}

	if off >= m.size {
		return 0, nil
	}
	if avail := m.size - off; int64(len(p)) > avail {
		p = p[:avail]
	}
	n := copy(p, m.data[off:off+int64(len(p))])

	if m.ShortReadBy > 0 {
		n -= m.ShortReadBy
		if n < 0 {
			n = 0
		}
	}
	return n, nil
}

// WriteAt implements the Store interface
func (m *MockStore) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	if m.FailWrite != nil {
		return 0, m.FailWrite
	}

	if m.ShortWriteBy > 0 {
		short := len(p) - m.ShortWriteBy
		if short < 0 {
			short = 0
		}
		p = p[:short]
	}

	if off >= m.size {
		return 0, nil
	}
	if avail := m.size - off; int64(len(p)) > avail {
		p = p[:avail]
	}
	return copy(m.data[off:off+int64(len(p))], p), nil
}

// Flush implements the Store interface
func (m *MockStore) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushCalls++
	return m.FailFlush
}

// Trim implements the Store interface
func (m *MockStore) Trim(off, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trimCalls++
	if m.FailTrim != nil {
		return m.FailTrim
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

// Size implements the Store interface
func (m *MockStore) Size() int64 {
	return m.size
}

// Refresh implements the Refresher interface
func (m *MockStore) Refresh() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailRefresh != nil {
		return 0, m.FailRefresh
	}
	return m.size, nil
}

// SetSize changes the reported size (exercises the reopen refresh path).
func (m *MockStore) SetSize(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size > int64(len(m.data)) {
		grown := make([]byte, size)
		copy(grown, m.data)
		m.data = grown
	}
	m.size = size
}

// Close implements the Store interface
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	return nil
}

// CallCounts returns the number of times each method has been called
func (m *MockStore) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]int{
		"read":  m.readCalls,
		"write": m.writeCalls,
		"flush": m.flushCalls,
		"trim":  m.trimCalls,
		"close": m.closeCalls,
	}
}

// Reset resets call counters and fault injection
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls = 0
	m.writeCalls = 0
	m.flushCalls = 0
	m.trimCalls = 0
	m.closeCalls = 0
	m.FailRead = nil
	m.FailWrite = nil
	m.FailFlush = nil
	m.FailTrim = nil
	m.FailRefresh = nil
	m.ShortReadBy = 0
	m.ShortWriteBy = 0
}

// Compile-time interface checks
var (
	_ Store                = (*MockStore)(nil)
	_ interfaces.Refresher = (*MockStore)(nil)
)
