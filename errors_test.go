package vdev

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "full context",
			err: &Error{
				Op: "write", Device: "/srv/pool/backing.img",
				Code: CodeIOError, Errno: syscall.EIO,
				Msg: "host I/O failed",
			},
			want: "vdev: host I/O failed (op=write, device=/srv/pool/backing.img, errno=5)",
		},
		{
			name: "op only",
			err:  NewError("open", CodeInvalidArgument, "path must be absolute"),
			want: "vdev: path must be absolute (op=open)",
		},
		{
			name: "message falls back to code",
			err:  &Error{Op: "trim", Code: CodeNotSupported},
			want: "vdev: not supported (op=trim)",
		},
		{
			name: "bare code",
			err:  &Error{Code: CodeOutOfSpace},
			want: "vdev: out of space",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewDeviceError("read", "/srv/a.img", CodeIOError, "host I/O failed")
	other := NewDeviceError("write", "/srv/b.img", CodeIOError, "different message")

	if !errors.Is(err, other) {
		t.Error("errors with the same code should match")
	}
	if errors.Is(err, NewError("read", CodeOutOfSpace, "")) {
		t.Error("errors with different codes should not match")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("pread: %w", syscall.EIO)
	err := WrapError("read", inner)

	if !errors.Is(err, syscall.EIO) {
		t.Error("wrapped errno should be reachable through Unwrap")
	}
	if err.Inner != inner {
		t.Error("Inner should hold the original error")
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("read", nil) != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapErrorPreservesStructured(t *testing.T) {
	orig := &Error{
		Op: "write", Device: "/srv/a.img",
		Code: CodeOutOfSpace, Errno: syscall.ENOSPC,
		Msg: "short transfer",
	}
	wrapped := WrapError("trim", orig)

	if wrapped.Op != "trim" {
		t.Errorf("Op = %q, want trim", wrapped.Op)
	}
	if wrapped.Code != CodeOutOfSpace || wrapped.Errno != syscall.ENOSPC {
		t.Error("wrapping should preserve code and errno")
	}
	if wrapped.Device != "/srv/a.img" {
		t.Error("wrapping should preserve device context")
	}
}

func TestErrnoClassification(t *testing.T) {
	tests := []struct {
		errno syscall.Errno
		want  Code
	}{
		{syscall.EINVAL, CodeInvalidArgument},
		{syscall.E2BIG, CodeInvalidArgument},
		{syscall.ENODEV, CodeNoDevice},
		{syscall.ENXIO, CodeNoSuchDevice},
		{syscall.ENOTSUP, CodeNotSupported},
		{syscall.ENOSYS, CodeNotSupported},
		{syscall.ENOSPC, CodeOutOfSpace},
		{syscall.EDQUOT, CodeOutOfSpace},
		{syscall.EIO, CodeIOError},
		{syscall.EACCES, CodeIOError},
	}

	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			err := WrapError("op", tt.errno)
			if err.Code != tt.want {
				t.Errorf("WrapError(%v).Code = %q, want %q", tt.errno, err.Code, tt.want)
			}
			if !IsErrno(err, tt.errno) {
				t.Errorf("IsErrno(%v) = false, want true", tt.errno)
			}
		})
	}
}

func TestWrapErrorPlain(t *testing.T) {
	err := WrapError("flush", errors.New("disk fell out"))
	if err.Code != CodeIOError {
		t.Errorf("Code = %q, want %q", err.Code, CodeIOError)
	}
	if err.Errno != 0 {
		t.Errorf("Errno = %d, want 0", int(err.Errno))
	}
}

func TestIsCodeHelpers(t *testing.T) {
	err := fmt.Errorf("outer: %w",
		NewError("read", CodeInvalidArgument, "bad range"))

	if !IsCode(err, CodeInvalidArgument) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if IsCode(err, CodeIOError) {
		t.Error("IsCode matched the wrong category")
	}
	if IsCode(nil, CodeIOError) {
		t.Error("IsCode(nil) should be false")
	}
	if IsCode(errors.New("plain"), CodeIOError) {
		t.Error("IsCode on an unstructured error should be false")
	}
	if IsErrno(nil, syscall.EIO) {
		t.Error("IsErrno(nil) should be false")
	}
}
