package vdev

import (
	"sync/atomic"
	"time"
)

// Op is the operation kind of an I/O request.
type Op int

const (
	// OpRead is a positioned read from the backing store
	OpRead Op = iota
	// OpWrite is a positioned write to the backing store
	OpWrite
	// OpIoctl is a synchronous control request; only the flush-cache
	// sub-command is recognized
	OpIoctl
	// OpTrim is a best-effort deallocation hint for a byte range
	OpTrim
)

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpIoctl:
		return "ioctl"
	case OpTrim:
		return "trim"
	default:
		return "unknown"
	}
}

// IoctlCmd is the sub-command code of an OpIoctl request.
type IoctlCmd int

// IoctlFlushWriteCache forces durable write-back of the device's backing
// store. It is the only recognized ioctl sub-command; all others complete
// with CodeNotSupported.
const IoctlFlushWriteCache IoctlCmd = 1

// CompletionFunc is invoked exactly once when a request reaches its
// terminal state, synchronously from the executing thread. Context travels
// in the closure.
type CompletionFunc func(*Request)

// Request is one read, write, ioctl, or trim operation issued against a
// device. The caller owns the request for its whole lifetime; this layer
// never frees or reuses it.
type Request struct {
	// Op is the operation kind.
	Op Op

	// Cmd is the ioctl sub-command (OpIoctl only).
	Cmd IoctlCmd

	// Offset and Length delimit the byte range of the operation.
	Offset int64
	Length int64

	// Data is the caller's buffer. It must hold at least Length bytes
	// for read and write requests. Workers stage transfers through
	// pooled buffers and never retain Data past completion.
	Data []byte

	// Delay postpones execution on the worker (fault injection and
	// testing). Not a cancellable timer.
	Delay time.Duration

	// Err holds the terminal result, nil on success.
	Err error

	// Residual is the byte count left untransferred when a short
	// transfer is classified as out-of-space.
	Residual int64

	// OnComplete delivers the completion signal. May be nil.
	OnComplete CompletionFunc

	completed atomic.Bool
}

// Completed reports whether the request has reached its terminal state.
func (r *Request) Completed() bool {
	return r.completed.Load()
}

// complete records the result and fires the completion callback.
// Re-entrant completion is a programming error, not an operational failure.
func (r *Request) complete(err error) {
	if !r.completed.CompareAndSwap(false, true) {
		panic("vdev: request completed twice")
	}
	r.Err = err
	if r.OnComplete != nil {
		r.OnComplete(r)
	}
}
