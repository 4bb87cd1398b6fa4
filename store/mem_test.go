package store

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestNewMem(t *testing.T) {
	size := int64(1024)
	m := NewMem(size)

	if m.Size() != size {
		t.Errorf("Size() = %d, want %d", m.Size(), size)
	}
}

func TestMemReadWrite(t *testing.T) {
	m := NewMem(1024)
	defer m.Close()

	testData := []byte("hello, vdev")
	n, err := m.WriteAt(testData, 0)
	if err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if n != len(testData) {
		t.Errorf("WriteAt wrote %d bytes, want %d", n, len(testData))
	}

	readBuf := make([]byte, len(testData))
	n, err = m.ReadAt(readBuf, 0)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if n != len(testData) {
		t.Errorf("ReadAt read %d bytes, want %d", n, len(testData))
	}
	if string(readBuf) != string(testData) {
		t.Errorf("ReadAt got %q, want %q", readBuf, testData)
	}
}

func TestMemBoundaryConditions(t *testing.T) {
	m := NewMem(100)
	defer m.Close()

	// Short read at the boundary
	buf := make([]byte, 50)
	n, err := m.ReadAt(buf, 80)
	if err != nil {
		t.Errorf("ReadAt at boundary failed: %v", err)
	}
	if n != 20 {
		t.Errorf("ReadAt at boundary read %d bytes, want 20", n)
	}

	// Short write at the boundary
	n, err = m.WriteAt(buf, 80)
	if err != nil {
		t.Errorf("WriteAt at boundary failed: %v", err)
	}
	if n != 20 {
		t.Errorf("WriteAt at boundary wrote %d bytes, want 20", n)
	}

	// Write past the end
	if _, err := m.WriteAt(buf, 200); !errors.Is(err, unix.ENOSPC) {
		t.Errorf("WriteAt past end = %v, want ENOSPC", err)
	}
}

func TestMemTrimZeroes(t *testing.T) {
	m := NewMem(256)
	defer m.Close()

	if _, err := m.WriteAt(bytes.Repeat([]byte{0xBB}, 256), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := m.Trim(64, 64); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}

	got := make([]byte, 256)
	if _, err := m.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	for i := 0; i < 256; i++ {
		want := byte(0xBB)
		if i >= 64 && i < 128 {
			want = 0
		}
		if got[i] != want {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want)
		}
	}
}

func TestMemClosedAccess(t *testing.T) {
	m := NewMem(64)
	m.Close()

	if _, err := m.ReadAt(make([]byte, 8), 0); !errors.Is(err, unix.ENXIO) {
		t.Errorf("ReadAt after close = %v, want ENXIO", err)
	}
	if _, err := m.WriteAt(make([]byte, 8), 0); !errors.Is(err, unix.ENXIO) {
		t.Errorf("WriteAt after close = %v, want ENXIO", err)
	}
}
