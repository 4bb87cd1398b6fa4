package taskq

import "sync"

// Staging buffers for the read/write strategy. Reads land in a staged
// buffer and are copied out to the caller; writes are copied in before the
// host call so workers never touch a caller buffer after completion fires.
// Size-bucketed pools with power-of-2 sizes (4KB to 1MB) keep hot-path
// allocations off the I/O path.
//
// Uses the *[]byte pattern to avoid sync.Pool interface allocation overhead.

// Buffer size thresholds
const (
	size4k   = 4 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
)

var stagingPool = struct {
	pool4k   sync.Pool
	pool64k  sync.Pool
	pool256k sync.Pool
	pool1m   sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// GetBuffer returns a pooled buffer of exactly the requested length.
// Requests larger than 1MB get a one-off allocation that is never pooled.
// Caller must call PutBuffer when done.
func GetBuffer(size int) []byte {
	switch {
	case size <= size4k:
		return (*stagingPool.pool4k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*stagingPool.pool64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*stagingPool.pool256k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*stagingPool.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutBuffer returns a buffer to its pool. The buffer's capacity determines
// which pool it goes to; non-standard capacities are left to the GC.
func PutBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		stagingPool.pool4k.Put(&buf)
	case size64k:
		stagingPool.pool64k.Put(&buf)
	case size256k:
		stagingPool.pool256k.Put(&buf)
	case size1m:
		stagingPool.pool1m.Put(&buf)
	}
}
