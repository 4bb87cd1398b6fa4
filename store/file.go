// Package store provides backing-store implementations for virtual devices.
package store

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/ncw/directio"
	"golang.org/x/sys/unix"

	"github.com/blockvirt/go-vdev/internal/constants"
	"github.com/blockvirt/go-vdev/internal/interfaces"
)

// File backs a virtual device with a regular host file or device node.
//
// It is a thin system-call proxy: no buffering, no caching, no retries.
// Durability and ordering are the storage engine's responsibility. The
// single file handle is shared read-and-write across all worker threads;
// positioned I/O on a unix fd is safe for concurrent use.
type File struct {
	f    *os.File
	path string
	size atomic.Int64
}

// Option configures OpenFile.
type Option func(*openOptions)

type openOptions struct {
	direct bool
}

// WithDirectIO opens the backing file with O_DIRECT. Callers take on the
// host's alignment requirements for buffers, offsets and lengths.
func WithDirectIO() Option {
	return func(o *openOptions) {
		o.direct = true
	}
}

// OpenFile opens the host object backing one virtual device.
//
// The path must be non-empty and absolute; violations fail with EINVAL
// before any host call is made. The opened object must be a regular file or
// a device node, otherwise ENODEV. Errors are raw errnos; classification
// into the public error taxonomy happens in the device layer.
func OpenFile(path string, mode interfaces.Mode, opts ...Option) (*File, error) {
	if path == "" || path[0] != '/' {
		return nil, unix.EINVAL
	}

	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		f   *os.File
		err error
	)
	if o.direct {
		f, err = directio.OpenFile(path, openFlags(mode), 0)
	} else {
		f, err = os.OpenFile(path, openFlags(mode), 0)
	}
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, unix.ENODEV
	}
	if !fi.Mode().IsRegular() && fi.Mode()&os.ModeDevice == 0 {
		f.Close()
		return nil, unix.ENODEV
	}

	file := &File{
		f:    f,
		path: path,
	}

	size := fi.Size()
	if size == 0 && fi.Mode()&os.ModeDevice != 0 {
		// Device nodes report zero in stat; probe the end instead.
		if size, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, err
		}
	}
	file.size.Store(size)

	return file, nil
}

// openFlags maps the device capability flags to host open flags.
func openFlags(mode interfaces.Mode) int {
	switch {
	case mode.CanRead() && mode.CanWrite():
		return os.O_RDWR
	case mode.CanWrite():
		return os.O_WRONLY
	default:
		return os.O_RDONLY
	}
}

// ReadAt performs a positioned read on the shared handle.
func (s *File) ReadAt(p []byte, off int64) (int, error) {
	return unix.Pread(int(s.f.Fd()), p, off)
}

// WriteAt performs a positioned write on the shared handle.
func (s *File) WriteAt(p []byte, off int64) (int, error) {
	return unix.Pwrite(int(s.f.Fd()), p, off)
}

// Flush forces durable write-back of written data.
func (s *File) Flush() error {
	return unix.Fsync(int(s.f.Fd()))
}

// Trim deallocates the byte range as a best-effort hint. Filesystems
// without hole-punch support return their own errno, which propagates
// unchanged.
func (s *File) Trim(off, length int64) error {
	return unix.Fallocate(int(s.f.Fd()),
		unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length)
}

// Size returns the size reported at open or the last Refresh.
func (s *File) Size() int64 {
	return s.size.Load()
}

// Refresh re-probes the host object and updates the reported size. Used on
// the reopen path, where the handle itself is kept.
func (s *File) Refresh() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	size := fi.Size()
	if size == 0 && fi.Mode()&os.ModeDevice != 0 {
		if size, err = s.f.Seek(0, io.SeekEnd); err != nil {
			return 0, err
		}
	}
	s.size.Store(size)
	return size, nil
}

// Path returns the absolute path the store was opened with.
func (s *File) Path() string {
	return s.path
}

// BlockShift returns the minimum block-alignment shift of the store.
func (s *File) BlockShift() uint {
	return constants.SectorShift
}

// Close releases the host file handle.
func (s *File) Close() error {
	return s.f.Close()
}

// Compile-time interface checks
var (
	_ interfaces.Store     = (*File)(nil)
	_ interfaces.Refresher = (*File)(nil)
)
