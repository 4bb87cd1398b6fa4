// Package volume presents a device as a block-addressed volume: callers
// speak in 512-byte logical blocks and the package translates to byte
// ranges on the underlying device, tracks open handles, and reports the
// identity strings a storage stack expects from a disk.
package volume

import (
	"fmt"
	"sync"

	vdev "github.com/blockvirt/go-vdev"
	"github.com/blockvirt/go-vdev/internal/constants"
	"github.com/blockvirt/go-vdev/internal/logging"
)

// Default identity strings reported when Params leaves them empty.
const (
	DefaultVendor   = "BLOCKVIRT"
	DefaultProduct  = "Virtual Disk"
	DefaultRevision = "1.0"
)

// Params configures the presented identity of a volume.
type Params struct {
	Vendor         string
	Product        string
	Revision       string
	WriteProtected bool

	// Logger for open/close events (if nil, uses the default logger)
	Logger *logging.Logger
}

// Extent names a block run for Unmap.
type Extent struct {
	Block uint64
	Count uint64
}

// Capacity describes one supported format capacity.
type Capacity struct {
	BlockCount uint64
	BlockSize  uint64
}

// Volume wraps a device in block-addressed clothing. All block arithmetic
// happens here; the device below only sees byte ranges.
type Volume struct {
	dev    *vdev.Device
	params Params
	logger *logging.Logger

	mu      sync.Mutex
	opens   int
	writers int
}

// New presents the given device as a volume. The volume borrows the device;
// closing the volume does not close the device.
func New(dev *vdev.Device, params Params) *Volume {
	if dev == nil {
		panic("volume: nil device")
	}
	if params.Vendor == "" {
		params.Vendor = DefaultVendor
	}
	if params.Product == "" {
		params.Product = DefaultProduct
	}
	if params.Revision == "" {
		params.Revision = DefaultRevision
	}

	logger := params.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Volume{
		dev:    dev,
		params: params,
		logger: logger.WithDevice(dev.ID().String()),
	}
}

// Open registers a client handle. The first open verifies the device is
// live; later opens only bump the count. A writable open on a
// write-protected volume is rejected.
func (v *Volume) Open(writable bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.opens == 0 && !v.dev.Readable() {
		return vdev.NewDeviceError("open", v.dev.Name(),
			vdev.CodeNoSuchDevice, "device not readable")
	}
	if writable && v.params.WriteProtected {
		return vdev.NewDeviceError("open", v.dev.Name(),
			vdev.CodeNotSupported, "volume is write protected")
	}

	v.opens++
	if writable {
		v.writers++
	}
	v.logger.Debug("volume opened", "opens", v.opens, "writers", v.writers)
	return nil
}

// Close drops a client handle. Closing an unopened volume is an error.
func (v *Volume) Close(writable bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.opens == 0 || (writable && v.writers == 0) {
		return vdev.NewDeviceError("close", v.dev.Name(),
			vdev.CodeInvalidArgument, "volume not open")
	}

	v.opens--
	if writable {
		v.writers--
	}
	v.logger.Debug("volume closed", "opens", v.opens, "writers", v.writers)
	return nil
}

// OpenCount returns the number of live client handles.
func (v *Volume) OpenCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.opens
}

// WriterCount returns the number of live writable client handles.
func (v *Volume) WriterCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.writers
}

// checkRange validates a block run against the volume capacity. The run
// length is compared by subtraction so a huge nblks cannot wrap the
// end-of-run arithmetic.
func (v *Volume) checkRange(op string, block, nblks uint64) error {
	count := v.BlockCount()
	if nblks == 0 || block >= count || nblks > count-block {
		return vdev.NewDeviceError(op, v.dev.Name(),
			vdev.CodeInvalidArgument,
			fmt.Sprintf("blocks [%d,%d) exceed capacity %d",
				block, block+nblks, count))
	}
	return nil
}

// submitWait issues a request against the device and blocks for completion.
func (v *Volume) submitWait(r *vdev.Request) error {
	done := make(chan struct{})
	r.OnComplete = func(*vdev.Request) { close(done) }
	v.dev.Submit(r)
	<-done
	return r.Err
}

// ReadBlocks reads nblks logical blocks starting at block into buf, which
// must hold at least nblks*512 bytes. It returns the byte count actually
// transferred.
func (v *Volume) ReadBlocks(buf []byte, block, nblks uint64) (int64, error) {
	if err := v.checkRange("read", block, nblks); err != nil {
		return 0, err
	}

	length := int64(nblks) * constants.VolumeBlockSize
	if int64(len(buf)) < length {
		return 0, vdev.NewDeviceError("read", v.dev.Name(),
			vdev.CodeInvalidArgument,
			fmt.Sprintf("buffer %d bytes, need %d", len(buf), length))
	}

	r := &vdev.Request{
		Op:     vdev.OpRead,
		Offset: int64(block) * constants.VolumeBlockSize,
		Length: length,
		Data:   buf[:length],
	}
	err := v.submitWait(r)
	return length - r.Residual, err
}

// WriteBlocks writes nblks logical blocks starting at block from buf. It
// returns the byte count actually transferred.
func (v *Volume) WriteBlocks(buf []byte, block, nblks uint64) (int64, error) {
	if v.params.WriteProtected {
		return 0, vdev.NewDeviceError("write", v.dev.Name(),
			vdev.CodeNotSupported, "volume is write protected")
	}
	if err := v.checkRange("write", block, nblks); err != nil {
		return 0, err
	}

	length := int64(nblks) * constants.VolumeBlockSize
	if int64(len(buf)) < length {
		return 0, vdev.NewDeviceError("write", v.dev.Name(),
			vdev.CodeInvalidArgument,
			fmt.Sprintf("buffer %d bytes, need %d", len(buf), length))
	}

	r := &vdev.Request{
		Op:     vdev.OpWrite,
		Offset: int64(block) * constants.VolumeBlockSize,
		Length: length,
		Data:   buf[:length],
	}
	err := v.submitWait(r)
	return length - r.Residual, err
}

// Discard hints that a block run no longer holds useful data.
func (v *Volume) Discard(block, nblks uint64) error {
	if err := v.checkRange("discard", block, nblks); err != nil {
		return err
	}

	return v.submitWait(&vdev.Request{
		Op:     vdev.OpTrim,
		Offset: int64(block) * constants.VolumeBlockSize,
		Length: int64(nblks) * constants.VolumeBlockSize,
	})
}

// Unmap discards a list of extents. Option flags are not supported; an
// empty extent list is rejected the same way.
func (v *Volume) Unmap(extents []Extent, options uint32) error {
	if options != 0 || len(extents) == 0 {
		return vdev.NewDeviceError("unmap", v.dev.Name(),
			vdev.CodeNotSupported, "unsupported unmap options")
	}

	for _, e := range extents {
		if err := v.Discard(e.Block, e.Count); err != nil {
			return err
		}
	}
	return nil
}

// SynchronizeCache forces durable write-back of everything written so far.
func (v *Volume) SynchronizeCache() error {
	return v.submitWait(&vdev.Request{
		Op:  vdev.OpIoctl,
		Cmd: vdev.IoctlFlushWriteCache,
	})
}

// BlockSize returns the logical block size in bytes.
func (v *Volume) BlockSize() uint64 {
	return constants.VolumeBlockSize
}

// BlockCount returns the volume capacity in logical blocks.
func (v *Volume) BlockCount() uint64 {
	return uint64(v.dev.Size()) / constants.VolumeBlockSize
}

// MaxValidBlock returns the highest addressable logical block.
func (v *Volume) MaxValidBlock() uint64 {
	count := v.BlockCount()
	if count == 0 {
		return 0
	}
	return count - 1
}

// FormatCapacities reports the supported format capacities. There is
// exactly one: the current geometry.
func (v *Volume) FormatCapacities() []Capacity {
	return []Capacity{{
		BlockCount: v.BlockCount(),
		BlockSize:  constants.VolumeBlockSize,
	}}
}

// Vendor returns the presented vendor identification string.
func (v *Volume) Vendor() string { return v.params.Vendor }

// Product returns the presented product identification string.
func (v *Volume) Product() string { return v.params.Product }

// Revision returns the presented product revision level.
func (v *Volume) Revision() string { return v.params.Revision }

// WriteProtected reports whether the volume rejects writes.
func (v *Volume) WriteProtected() bool { return v.params.WriteProtected }

// Removable reports whether the media can be removed. It cannot.
func (v *Volume) Removable() bool { return false }

// Ejectable reports whether the media can be ejected. It cannot.
func (v *Volume) Ejectable() bool { return false }

// Device returns the wrapped device.
func (v *Volume) Device() *vdev.Device { return v.dev }
