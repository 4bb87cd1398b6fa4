package interfaces

// Store is the single capability set the request life-cycle controller needs
// from a backing store. It is intentionally close to io.ReaderAt/io.WriterAt
// so that a host file, a raw device, or an in-memory fake can stand in for a
// physical disk interchangeably.
//
// Implementations must be safe for concurrent positioned ReadAt/WriteAt from
// multiple worker threads; the controller performs no locking around the
// handle.
type Store interface {
	// ReadAt reads len(p) bytes into p starting at offset off. It returns
	// the number of bytes read (0 <= n <= len(p)) and any error
	// encountered. A short read with a nil error is reported as-is; the
	// caller classifies the residual.
	//
	// Implementations must not retain p.
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes len(p) bytes from p at offset off, symmetric with
	// ReadAt. Short writes with a nil error are reported as-is.
	//
	// Implementations must not retain p.
	WriteAt(p []byte, off int64) (n int, err error)

	// Flush forces durable write-back of previously written data. Host
	// failures propagate directly; this layer never retries.
	Flush() error

	// Trim hints that the byte range [off, off+length) is no longer in
	// use and may be reclaimed. Best effort; an unsupported-operation
	// error from the host propagates as-is.
	Trim(off, length int64) error

	// Size returns the store's reported size in bytes.
	Size() int64

	// Close releases the underlying resources. After Close, no other
	// methods may be called.
	Close() error
}

// Refresher is an optional interface for stores whose size can be
// re-probed in place. It is used on the reopen path, where the existing
// handle is kept and only the reported size is refreshed.
type Refresher interface {
	Store

	// Refresh re-probes the store and returns its current size.
	Refresh() (int64, error)
}

// Mode describes the capability flags a device is opened with.
type Mode uint8

const (
	// ModeRead requests read access to the backing store
	ModeRead Mode = 1 << iota
	// ModeWrite requests write access to the backing store
	ModeWrite
)

// CanRead reports whether the mode includes read access.
func (m Mode) CanRead() bool { return m&ModeRead != 0 }

// CanWrite reports whether the mode includes write access.
func (m Mode) CanWrite() bool { return m&ModeWrite != 0 }
