package rpc

import (
	"errors"
	"fmt"

	"github.com/reqrep/reqrep/internal/status"
)

var (
	ErrNotConfigured  = status.NewError(status.CodeGeneric, "not configured")
	ErrInvalidBuffer  = status.NewError(status.CodeInvalid, "invalid buffer")
	ErrBufferTooSmall = status.NewError(status.CodeGeneric, "buffer not large enough")
	ErrPeerMismatch   = status.NewError(status.CodeGeneric, "received message from some other source")
)

// MessageTooLargeError describes a message whose declared or actual length
// exceeds the receiving side's buffer.
type MessageTooLargeError struct {
	Length   int64
	Capacity int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("%s: message length %d exceeds capacity %d", ErrBufferTooSmall, e.Length, e.Capacity)
}

func (e *MessageTooLargeError) Unwrap() error { return ErrBufferTooSmall }

type timeoutSentinel struct{}

func (timeoutSentinel) Error() string   { return "reply timeout" }
func (timeoutSentinel) Timeout() bool   { return true }
func (timeoutSentinel) StatusCode() int { return status.CodeTimeout }

// ErrTimeout is matched by errors returned from WrapTimeout.
var ErrTimeout error = timeoutSentinel{}

type timeoutError struct {
	err error
}

func (e *timeoutError) Error() string   { return e.err.Error() }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Unwrap() []error { return []error{e.err, ErrTimeout} }
func (e *timeoutError) StatusCode() int { return status.CodeTimeout }

// WrapTimeout makes a timeout error match ErrTimeout with errors.Is.
// Other errors are returned unchanged.
func WrapTimeout(err error) error {
	if err == nil || !IsTimeout(err) || errors.Is(err, ErrTimeout) {
		return err
	}
	return &timeoutError{err}
}

type timeouter interface {
	Timeout() bool
}

// IsTimeout reports whether err was caused by a reply or I/O timeout.
func IsTimeout(err error) bool {
	var t timeouter
	return errors.As(err, &t) && t.Timeout()
}
