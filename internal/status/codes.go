package status

import (
	"errors"
	"syscall"
)

const (
	CodeOK      = 0
	CodeGeneric = -1
)

var (
	CodeIO      = int(syscall.EIO)
	CodeInvalid = int(syscall.EINVAL)
	CodeNoMem   = int(syscall.ENOMEM)
	CodeTimeout = int(syscall.ETIMEDOUT)
)

// Error is an error value that carries its own status code.
type Error struct {
	code int
	msg  string
}

func NewError(code int, msg string) *Error {
	return &Error{code: code, msg: msg}
}

func (e *Error) Error() string   { return e.msg }
func (e *Error) StatusCode() int { return e.code }

type coder interface {
	StatusCode() int
}

type timeouter interface {
	Timeout() bool
}

// CodeOf derives the status code for err.
//
// Errors carrying a code of their own win over timeouts, timeouts win over
// errno values found in the chain, and everything else maps to CodeGeneric.
func CodeOf(err error) int {
	if err == nil {
		return CodeOK
	}
	var c coder
	if errors.As(err, &c) {
		return c.StatusCode()
	}
	var t timeouter
	if errors.As(err, &t) && t.Timeout() {
		return CodeTimeout
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return CodeGeneric
}
