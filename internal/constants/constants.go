package constants

// Device geometry constants
const (
	// SectorShift is the fixed minimum block-alignment shift reported by
	// every file-backed device (512-byte sectors)
	SectorShift = 9

	// SectorSize is the minimum addressable block size in bytes
	SectorSize = 1 << SectorShift

	// VolumeBlockSize is the logical block size exposed by the volume
	// presentation layer
	VolumeBlockSize = 512
)

// Dispatch queue constants
const (
	// DefaultBacklog is the bounded task backlog of the worker pool.
	// Submission blocks once the backlog is full; tasks are never dropped.
	DefaultBacklog = 128

	// MaxStagingBuffer is the largest transfer staged through the pooled
	// buffers (1MB); larger transfers fall back to a one-off allocation
	MaxStagingBuffer = 1 << 20
)
