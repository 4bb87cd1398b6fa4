package vdev

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error is a structured device error with operation context and errno
// mapping. All errors are terminal for the individual request; retry policy
// belongs to the caller.
type Error struct {
	Op     string        // Operation that failed (e.g., "open", "write")
	Device string        // Device path or ID ("" if not applicable)
	Code   Code          // High-level error category
	Errno  syscall.Errno // Host errno (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Code represents the high-level error categories surfaced to the caller.
type Code string

const (
	// CodeInvalidArgument marks precondition violations: bad path,
	// zero-length trim, out-of-range read/write. Rejected before any host
	// call or queueing.
	CodeInvalidArgument Code = "invalid argument"

	// CodeOpenFailed marks a failed host open call.
	CodeOpenFailed Code = "open failed"

	// CodeNoDevice marks an opened object that is not a usable
	// file-like object.
	CodeNoDevice Code = "no device"

	// CodeNoSuchDevice marks requests arriving while the device is not
	// readable; they are rejected before dispatch.
	CodeNoSuchDevice Code = "no such device"

	// CodeNotSupported marks an unrecognized ioctl sub-command or an
	// unsupported trim.
	CodeNotSupported Code = "not supported"

	// CodeIOError marks a failed host I/O call.
	CodeIOError Code = "I/O error"

	// CodeOutOfSpace marks a short transfer with no explicit host error.
	CodeOutOfSpace Code = "out of space"
)

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", int(e.Errno)))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("vdev: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("vdev: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches two structured errors by category
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a new structured error
func NewError(op string, code Code, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewDeviceError creates a new device-specific error
func NewDeviceError(op, device string, code Code, msg string) *Error {
	return &Error{
		Op:     op,
		Device: device,
		Code:   code,
		Msg:    msg,
	}
}

// WrapError wraps a host error, classifying its errno into an error
// category. A nil inner error returns nil.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ve, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Device: ve.Device,
			Code:   ve.Code,
			Errno:  ve.Errno,
			Msg:    ve.Msg,
			Inner:  ve.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  CodeIOError,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps a host errno to an error category
func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidArgument
	case syscall.ENODEV:
		return CodeNoDevice
	case syscall.ENXIO:
		return CodeNoSuchDevice
	case syscall.ENOTSUP, syscall.ENOSYS:
		return CodeNotSupported
	case syscall.ENOSPC, syscall.EDQUOT:
		return CodeOutOfSpace
	default:
		return CodeIOError
	}
}

// IsCode checks if an error matches a specific error category
func IsCode(err error, code Code) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific host errno
func IsErrno(err error, errno syscall.Errno) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Errno == errno
	}
	return false
}
