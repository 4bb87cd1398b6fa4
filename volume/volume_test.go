package volume

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vdev "github.com/blockvirt/go-vdev"
	"github.com/blockvirt/go-vdev/internal/logging"
	"github.com/blockvirt/go-vdev/internal/taskq"
)

func newVolume(t *testing.T, size int64, params Params) (*Volume, *vdev.MockStore) {
	t.Helper()

	q := taskq.New(taskq.Config{Workers: 2, Backlog: 8})
	q.Start()
	t.Cleanup(q.Stop)

	logger := logging.NewLogger(&logging.Config{
		Level:  logging.LevelError,
		Format: "json",
		Output: io.Discard,
		Sync:   true,
	})
	params.Logger = logger

	st := vdev.NewMockStore(size)
	dev := vdev.NewDevice(st, q, &vdev.Options{Logger: logger})
	t.Cleanup(func() { dev.Close() })

	return New(dev, params), st
}

func TestGeometry(t *testing.T) {
	v, _ := newVolume(t, 1<<20, Params{})

	assert.Equal(t, uint64(512), v.BlockSize())
	assert.Equal(t, uint64(2048), v.BlockCount())
	assert.Equal(t, uint64(2047), v.MaxValidBlock())

	caps := v.FormatCapacities()
	require.Len(t, caps, 1)
	assert.Equal(t, uint64(2048), caps[0].BlockCount)
	assert.Equal(t, uint64(512), caps[0].BlockSize)
}

func TestIdentityDefaults(t *testing.T) {
	v, _ := newVolume(t, 1<<20, Params{})

	assert.Equal(t, DefaultVendor, v.Vendor())
	assert.Equal(t, DefaultProduct, v.Product())
	assert.Equal(t, DefaultRevision, v.Revision())
	assert.False(t, v.WriteProtected())
	assert.False(t, v.Removable())
	assert.False(t, v.Ejectable())
}

func TestIdentityOverride(t *testing.T) {
	v, _ := newVolume(t, 1<<20, Params{
		Vendor:   "ACME",
		Product:  "Rocket Disk",
		Revision: "2.3",
	})

	assert.Equal(t, "ACME", v.Vendor())
	assert.Equal(t, "Rocket Disk", v.Product())
	assert.Equal(t, "2.3", v.Revision())
}

func TestReadWriteBlocksRoundTrip(t *testing.T) {
	v, _ := newVolume(t, 1<<20, Params{})

	pattern := bytes.Repeat([]byte{0x5A}, 4*512)
	n, err := v.WriteBlocks(pattern, 16, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4*512), n)

	got := make([]byte, 4*512)
	n, err = v.ReadBlocks(got, 16, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4*512), n)
	assert.Equal(t, pattern, got)
}

func TestRangeValidation(t *testing.T) {
	v, st := newVolume(t, 1<<20, Params{}) // 2048 blocks

	tests := []struct {
		name  string
		block uint64
		nblks uint64
	}{
		{"zero blocks", 0, 0},
		{"start past capacity", 2048, 1},
		{"run past capacity", 2040, 16},
		{"run wraps end arithmetic", 1, math.MaxUint64},
		{"start and run wrap", math.MaxUint64, 2},
	}

	buf := make([]byte, 16*512)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ReadBlocks(buf, tt.block, tt.nblks)
			assert.True(t, vdev.IsCode(err, vdev.CodeInvalidArgument),
				"ReadBlocks err = %v", err)

			_, err = v.WriteBlocks(buf, tt.block, tt.nblks)
			assert.True(t, vdev.IsCode(err, vdev.CodeInvalidArgument),
				"WriteBlocks err = %v", err)

			err = v.Discard(tt.block, tt.nblks)
			assert.True(t, vdev.IsCode(err, vdev.CodeInvalidArgument),
				"Discard err = %v", err)
		})
	}

	counts := st.CallCounts()
	assert.Zero(t, counts["read"], "rejected reads reached the store")
	assert.Zero(t, counts["write"], "rejected writes reached the store")
	assert.Zero(t, counts["trim"], "rejected discards reached the store")
}

func TestShortBufferRejected(t *testing.T) {
	v, _ := newVolume(t, 1<<20, Params{})

	buf := make([]byte, 512)
	_, err := v.ReadBlocks(buf, 0, 4)
	assert.True(t, vdev.IsCode(err, vdev.CodeInvalidArgument))

	_, err = v.WriteBlocks(buf, 0, 4)
	assert.True(t, vdev.IsCode(err, vdev.CodeInvalidArgument))
}

func TestWriteProtected(t *testing.T) {
	v, st := newVolume(t, 1<<20, Params{WriteProtected: true})

	_, err := v.WriteBlocks(make([]byte, 512), 0, 1)
	assert.True(t, vdev.IsCode(err, vdev.CodeNotSupported))
	assert.Zero(t, st.CallCounts()["write"])

	// Reads still work.
	_, err = v.ReadBlocks(make([]byte, 512), 0, 1)
	assert.NoError(t, err)
}

func TestDiscardZeroesRange(t *testing.T) {
	v, st := newVolume(t, 1<<20, Params{})

	_, err := st.WriteAt(bytes.Repeat([]byte{0xFF}, 8*512), 0)
	require.NoError(t, err)

	require.NoError(t, v.Discard(2, 4))
	assert.Equal(t, 1, st.CallCounts()["trim"])

	got := make([]byte, 8*512)
	_, err = st.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 2*512), got[:2*512])
	assert.Equal(t, make([]byte, 4*512), got[2*512:6*512])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 2*512), got[6*512:])
}

func TestUnmap(t *testing.T) {
	v, st := newVolume(t, 1<<20, Params{})

	err := v.Unmap([]Extent{{Block: 0, Count: 4}, {Block: 64, Count: 8}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CallCounts()["trim"])

	err = v.Unmap([]Extent{{Block: 0, Count: 4}}, 1)
	assert.True(t, vdev.IsCode(err, vdev.CodeNotSupported),
		"option flags must be rejected")

	err = v.Unmap(nil, 0)
	assert.True(t, vdev.IsCode(err, vdev.CodeNotSupported),
		"empty extent list must be rejected")
}

func TestUnmapStopsOnBadExtent(t *testing.T) {
	v, st := newVolume(t, 1<<20, Params{})

	err := v.Unmap([]Extent{{Block: 0, Count: 4}, {Block: 4096, Count: 4}}, 0)
	assert.True(t, vdev.IsCode(err, vdev.CodeInvalidArgument))
	assert.Equal(t, 1, st.CallCounts()["trim"])
}

func TestSynchronizeCache(t *testing.T) {
	v, st := newVolume(t, 1<<20, Params{})

	require.NoError(t, v.SynchronizeCache())
	assert.Equal(t, 1, st.CallCounts()["flush"])
}

func TestOpenCloseTracking(t *testing.T) {
	v, _ := newVolume(t, 1<<20, Params{})

	require.NoError(t, v.Open(false))
	require.NoError(t, v.Open(true))
	assert.Equal(t, 2, v.OpenCount())
	assert.Equal(t, 1, v.WriterCount())

	require.NoError(t, v.Close(true))
	require.NoError(t, v.Close(false))
	assert.Zero(t, v.OpenCount())
	assert.Zero(t, v.WriterCount())

	err := v.Close(false)
	assert.True(t, vdev.IsCode(err, vdev.CodeInvalidArgument),
		"closing an unopened volume must fail")
}

func TestWritableOpenOnProtectedVolume(t *testing.T) {
	v, _ := newVolume(t, 1<<20, Params{WriteProtected: true})

	require.NoError(t, v.Open(false))
	err := v.Open(true)
	assert.True(t, vdev.IsCode(err, vdev.CodeNotSupported))
	assert.Equal(t, 1, v.OpenCount())
}

func TestCloseWriterWithoutWritableOpen(t *testing.T) {
	v, _ := newVolume(t, 1<<20, Params{})

	require.NoError(t, v.Open(false))
	err := v.Close(true)
	assert.True(t, vdev.IsCode(err, vdev.CodeInvalidArgument))
	assert.Equal(t, 1, v.OpenCount())
}

func TestOpenAfterDeviceClose(t *testing.T) {
	v, _ := newVolume(t, 1<<20, Params{})

	require.NoError(t, v.Device().Close())
	err := v.Open(false)
	assert.True(t, vdev.IsCode(err, vdev.CodeNoSuchDevice))
}
