// Package vdev implements a file-backed virtual block device: a host file
// or device node stands in for a physical disk, I/O requests are validated
// and dispatched to a worker pool, executed against the backing store, and
// completed back to the caller exactly once.
package vdev

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/blockvirt/go-vdev/internal/constants"
	"github.com/blockvirt/go-vdev/internal/interfaces"
	"github.com/blockvirt/go-vdev/internal/logging"
	"github.com/blockvirt/go-vdev/internal/taskq"
	"github.com/blockvirt/go-vdev/store"
)

// Store is the capability set a backing store implements. Any store will
// do: a host file, a raw device, or an in-memory fake.
type Store = interfaces.Store

// Mode describes the read/write capability flags a device is opened with.
type Mode = interfaces.Mode

// Open mode capability flags
const (
	ModeRead  = interfaces.ModeRead
	ModeWrite = interfaces.ModeWrite
)

// SectorShift is the fixed minimum block-alignment shift reported by every
// device (512-byte sectors).
const SectorShift = constants.SectorShift

// Options contains optional device configuration.
type Options struct {
	// Logger for debug/info messages (if nil, uses the default logger)
	Logger *logging.Logger

	// Observer for metrics collection (if nil, records to the device's
	// built-in Metrics)
	Observer Observer

	// DirectIO opens the backing file with O_DIRECT
	DirectIO bool
}

// Device represents one file-backed virtual device. The device owns its
// backing store exclusively once opened; companion objects hold lookup-only
// references to the Device itself.
//
// The mutex guards lifecycle state (store binding, size, readability), not
// the I/O path: positioned reads and writes run concurrently on the shared
// handle, which must itself be safe for that.
type Device struct {
	id     uuid.UUID
	path   string
	mode   Mode
	direct bool

	mu         sync.Mutex
	store      Store
	size       int64
	blockShift uint
	reopening  bool
	readable   bool

	q        *taskq.Queue
	logger   *logging.Logger
	metrics  *Metrics
	observer Observer
}

// Open opens a file-backed device. The path must be absolute; the dispatch
// queue is created by the process-wide orchestrator and passed in, never
// looked up globally.
func Open(path string, mode Mode, q *taskq.Queue, opts *Options) (*Device, error) {
	d := newDevice(path, mode, q, opts)
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDevice attaches an already-opened backing store. Used for in-memory
// stores and tests; the device takes ownership of the store.
func NewDevice(st Store, q *taskq.Queue, opts *Options) *Device {
	if st == nil {
		panic("vdev: nil store")
	}
	d := newDevice("", 0, q, opts)
	d.store = st
	d.size = st.Size()
	d.readable = true
	return d
}

func newDevice(path string, mode Mode, q *taskq.Queue, opts *Options) *Device {
	if q == nil {
		panic("vdev: nil dispatch queue")
	}
	if opts == nil {
		opts = &Options{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	id := uuid.New()
	return &Device{
		id:         id,
		path:       path,
		mode:       mode,
		direct:     opts.DirectIO,
		blockShift: constants.SectorShift,
		q:          q,
		logger:     logger.WithDevice(id.String()),
		metrics:    metrics,
		observer:   observer,
	}
}

// open creates the backing handle, or refreshes the size on the reopen
// path. Opening a device that already has a live handle outside a reopen is
// a programming-contract violation.
func (d *Device) open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.store != nil {
		if !d.reopening {
			panic("vdev: device opened twice")
		}
		// Reopen: the existing handle is rebound, only size is refreshed.
		// A failed revalidation leaves the device unreadable; its reported
		// size can no longer be trusted.
		if r, ok := d.store.(interfaces.Refresher); ok {
			size, err := r.Refresh()
			if err != nil {
				d.readable = false
				return &Error{
					Op: "reopen", Device: d.Name(), Code: CodeOpenFailed,
					Msg: "size refresh failed", Inner: err,
				}
			}
			d.size = size
		}
		d.readable = true
		return nil
	}

	var fileOpts []store.Option
	if d.direct {
		fileOpts = append(fileOpts, store.WithDirectIO())
	}

	st, err := store.OpenFile(d.path, d.mode, fileOpts...)
	if err != nil {
		return classifyOpenError(d.path, err)
	}

	d.store = st
	d.size = st.Size()
	d.blockShift = st.BlockShift()
	d.readable = true

	d.logger.Info("device opened",
		"path", d.path,
		"size", d.size,
		"block_shift", d.blockShift)
	return nil
}

func classifyOpenError(path string, err error) error {
	code := CodeOpenFailed
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EINVAL:
			code = CodeInvalidArgument
		case syscall.ENODEV:
			code = CodeNoDevice
		}
	}
	return &Error{
		Op:     "open",
		Device: path,
		Code:   code,
		Errno:  errno,
		Msg:    "open backing store",
		Inner:  err,
	}
}

// Close releases the backing store. During a reopen sequence it preserves
// the handle and returns immediately; otherwise it releases resources
// unconditionally and clears the handle reference.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.reopening || d.store == nil {
		d.mu.Unlock()
		return nil
	}
	st := d.store
	d.store = nil
	d.readable = false
	d.mu.Unlock()

	err := st.Close()
	d.metrics.Stop()
	d.logger.Info("device closed", "path", d.path)
	return err
}

// Reopen re-validates the existing handle and refreshes the reported size.
// The handle struct is rebound, not freed.
func (d *Device) Reopen() error {
	d.mu.Lock()
	if d.store == nil {
		d.mu.Unlock()
		return NewDeviceError("reopen", d.Name(), CodeNoSuchDevice, "device not open")
	}
	d.reopening = true
	d.mu.Unlock()

	d.Close() // handle preserved while reopening
	err := d.open()

	d.mu.Lock()
	d.reopening = false
	d.mu.Unlock()
	return err
}

// Submit validates and routes one I/O request. Ioctl and trim requests
// execute synchronously on the calling thread; read and write requests are
// handed to the dispatch queue, which may block the caller while the pool
// is saturated. Completion fires exactly once, from the executing thread.
func (d *Device) Submit(r *Request) {
	if r == nil {
		panic("vdev: nil request")
	}

	d.mu.Lock()
	st := d.store
	size := d.size
	readable := d.readable
	d.mu.Unlock()

	if !readable || st == nil {
		r.complete(NewDeviceError("submit", d.Name(), CodeNoSuchDevice,
			"device not readable"))
		return
	}

	switch r.Op {
	case OpIoctl:
		d.ioctl(st, r)
	case OpTrim:
		d.trim(st, r)
	case OpRead, OpWrite:
		if r.Length <= 0 || r.Offset < 0 || r.Offset > size || r.Length > size-r.Offset {
			// Out-of-range requests are rejected outright, never
			// shortened to fit. Compared by subtraction so a huge
			// offset cannot wrap the end-of-range arithmetic.
			r.complete(NewDeviceError(r.Op.String(), d.Name(),
				CodeInvalidArgument,
				fmt.Sprintf("range [%d,%d) exceeds device size %d",
					r.Offset, r.Offset+r.Length, size)))
			return
		}
		if int64(len(r.Data)) < r.Length {
			panic("vdev: request buffer shorter than request length")
		}
		d.observer.ObserveBacklog(d.q.Backlog())
		d.q.Submit(func() {
			d.strategy(st, r)
		})
	default:
		r.complete(NewDeviceError("submit", d.Name(), CodeNotSupported,
			fmt.Sprintf("operation %d", int(r.Op))))
	}
}

// ioctl executes a control request synchronously. Only the flush-cache
// sub-command is recognized.
func (d *Device) ioctl(st Store, r *Request) {
	switch r.Cmd {
	case IoctlFlushWriteCache:
		start := time.Now()
		err := st.Flush()
		d.observer.ObserveFlush(uint64(time.Since(start).Nanoseconds()), err == nil)
		if err != nil {
			r.complete(&Error{
				Op: "flush", Device: d.Name(), Code: CodeIOError,
				Errno: errnoOf(err), Msg: "flush write cache", Inner: err,
			})
			return
		}
		r.complete(nil)
	default:
		r.complete(NewDeviceError("ioctl", d.Name(), CodeNotSupported,
			fmt.Sprintf("ioctl sub-command %d", int(r.Cmd))))
	}
}

// trim executes a deallocation hint synchronously. A zero-length trim is a
// precondition violation and never reaches the host.
func (d *Device) trim(st Store, r *Request) {
	if r.Length == 0 {
		r.complete(NewDeviceError("trim", d.Name(), CodeInvalidArgument,
			"zero-length trim"))
		return
	}

	start := time.Now()
	err := st.Trim(r.Offset, r.Length)
	d.observer.ObserveTrim(uint64(r.Length),
		uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		// Unsupported trims propagate as-is, never rewritten to success.
		r.complete(WrapError("trim", err))
		return
	}
	r.complete(nil)
}

// strategy runs on a worker thread. Transfers are staged through pooled
// buffers so a caller buffer is never touched after completion fires.
func (d *Device) strategy(st Store, r *Request) {
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}

	start := time.Now()
	buf := taskq.GetBuffer(int(r.Length))

	var (
		n   int
		err error
	)
	if r.Op == OpRead {
		n, err = st.ReadAt(buf, r.Offset)
		if err == nil {
			copy(r.Data[:n], buf[:n])
		}
	} else {
		copy(buf, r.Data[:r.Length])
		n, err = st.WriteAt(buf, r.Offset)
	}
	taskq.PutBuffer(buf)

	latency := uint64(time.Since(start).Nanoseconds())

	var result error
	if err != nil {
		result = &Error{
			Op:     r.Op.String(),
			Device: d.Name(),
			Code:   CodeIOError,
			Errno:  errnoOf(err),
			Msg:    "host I/O failed",
			Inner:  err,
		}
	} else if int64(n) != r.Length {
		// A short transfer is not a partial success.
		r.Residual = r.Length - int64(n)
		result = NewDeviceError(r.Op.String(), d.Name(), CodeOutOfSpace,
			fmt.Sprintf("short transfer: %d of %d bytes", n, r.Length))
	}

	if r.Op == OpRead {
		d.observer.ObserveRead(uint64(n), latency, result == nil)
	} else {
		d.observer.ObserveWrite(uint64(n), latency, result == nil)
	}

	if result != nil {
		d.logger.WithRequest(r.Op.String(), r.Offset, r.Length).
			WithError(result).Debug("request failed")
	}

	r.complete(result)
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	errors.As(err, &errno)
	return errno
}

// ID returns the device's attach-time identity.
func (d *Device) ID() uuid.UUID {
	return d.id
}

// Path returns the backing path ("" for store-attached devices).
func (d *Device) Path() string {
	return d.path
}

// Name returns the path when present, otherwise the device ID.
func (d *Device) Name() string {
	if d.path != "" {
		return d.path
	}
	return d.id.String()
}

// Size returns the device's reported size in bytes.
func (d *Device) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// BlockShift returns the minimum block-alignment shift.
func (d *Device) BlockShift() uint {
	return d.blockShift
}

// Readable reports whether the device accepts requests.
func (d *Device) Readable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readable && d.store != nil
}

// Metrics returns the device's built-in metrics.
func (d *Device) Metrics() *Metrics {
	return d.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of device metrics.
func (d *Device) MetricsSnapshot() MetricsSnapshot {
	return d.metrics.Snapshot()
}

// Info contains a summary of one device.
type Info struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	BlockShift uint   `json:"block_shift"`
	Readable   bool   `json:"readable"`
}

// Info returns a summary of the device.
func (d *Device) Info() Info {
	return Info{
		ID:         d.id.String(),
		Path:       d.path,
		Size:       d.Size(),
		BlockShift: d.blockShift,
		Readable:   d.Readable(),
	}
}
