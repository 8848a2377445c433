// Package frameconn implements the length-prefixed framing used on stream
// connections and the bounded-retry exact transfers it is built on.
//
// A frame is a 4-byte length L in the host's byte order followed by L bytes
// of payload. Both ends must share a byte order; it is not normalized.
package frameconn

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/status"
	"github.com/reqrep/reqrep/internal/util/envconst"
)

// HeaderLen is the size of the length prefix in front of every frame.
const HeaderLen = 4

// MaxAttempts bounds the number of underlying read or write calls an exact
// transfer may issue before giving up on a stuck peer.
var MaxAttempts = envconst.Int("REQREP_FRAMECONN_MAX_ATTEMPTS", 3)

// ErrShortRead and ErrShortWrite are wrapped by every *TransferError,
// depending on its direction.
var (
	ErrShortRead  = status.NewError(status.CodeIO, "short read")
	ErrShortWrite = status.NewError(status.CodeIO, "short write")
)

// TransferError is returned by the exact transfer functions if fewer than the
// requested number of bytes could be transferred.
type TransferError struct {
	Op       string // "read" or "write"
	N        int64
	Want     int64
	Attempts int
	Err      error // last error of the underlying reader or writer, may be nil
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("short %s: %d of %d bytes after %d attempt(s)", e.Op, e.N, e.Want, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() []error {
	sentinel := error(ErrShortRead)
	if e.Op == "write" {
		sentinel = ErrShortWrite
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{e.Err, sentinel}
}

func (e *TransferError) Timeout() bool {
	return e.Err != nil && rpc.IsTimeout(e.Err)
}

func (e *TransferError) StatusCode() int {
	if e.Timeout() {
		return status.CodeTimeout
	}
	if code := status.CodeOf(e.Err); e.Err != nil && code != status.CodeGeneric {
		return code
	}
	return status.CodeIO
}

// an attempt that made progress but was cut short by a deadline may be retried
func retryable(progress int64, err error) bool {
	return progress > 0 && rpc.IsTimeout(err)
}

// ReadExact reads exactly len(p) bytes from r.
//
// Each attempt asks r for all remaining bytes and only returns early on an
// error. At most MaxAttempts attempts are made; an attempt that yields no
// bytes aborts the transfer immediately. If r is at EOF before the first
// byte, ReadExact returns 0, io.EOF. Any other shortfall is a *TransferError.
func ReadExact(r io.Reader, p []byte) (n int, err error) {
	attempts := 0
	for n < len(p) && attempts < MaxAttempts {
		attempts++
		var cur int
		cur, err = io.ReadFull(r, p[n:])
		n += cur
		if err == nil {
			return n, nil
		}
		if !retryable(int64(cur), err) {
			break
		}
	}
	if n == len(p) {
		return n, nil
	}
	if n == 0 && err == io.EOF {
		return 0, io.EOF
	}
	return n, &TransferError{Op: "read", N: int64(n), Want: int64(len(p)), Attempts: attempts, Err: err}
}

// WriteExact writes all of p to w, following the same attempt rules as ReadExact.
func WriteExact(w io.Writer, p []byte) (n int, err error) {
	attempts := 0
	for n < len(p) && attempts < MaxAttempts {
		attempts++
		var cur int
		cur, err = w.Write(p[n:])
		n += cur
		if n == len(p) {
			return n, nil
		}
		if cur == 0 || (err != nil && !retryable(int64(cur), err)) {
			break
		}
	}
	if n == len(p) {
		return n, nil
	}
	return n, &TransferError{Op: "write", N: int64(n), Want: int64(len(p)), Attempts: attempts, Err: err}
}

// Discard reads and drops up to n bytes from r, best-effort, with the same
// attempt rules as ReadExact.
func Discard(r io.Reader, n int64) (discarded int64, err error) {
	attempts := 0
	for discarded < n && attempts < MaxAttempts {
		attempts++
		var cur int64
		cur, err = io.CopyN(io.Discard, r, n-discarded)
		discarded += cur
		if err == nil {
			return discarded, nil
		}
		if !retryable(cur, err) {
			break
		}
	}
	if discarded == n {
		return discarded, nil
	}
	return discarded, &TransferError{Op: "read", N: discarded, Want: n, Attempts: attempts, Err: err}
}

func EncodeHeader(buf []byte, length uint32) {
	binary.NativeEndian.PutUint32(buf[:HeaderLen], length)
}

func DecodeHeader(buf []byte) uint32 {
	return binary.NativeEndian.Uint32(buf[:HeaderLen])
}

// ReadHeader reads one length prefix.
func ReadHeader(r io.Reader) (uint32, error) {
	var buf [HeaderLen]byte
	if _, err := ReadExact(r, buf[:]); err != nil {
		return 0, err
	}
	return DecodeHeader(buf[:]), nil
}

// ReadFrame reads one frame into buf, which must have room for the header
// followed by the largest acceptable payload. The returned payload aliases buf.
//
// If the declared length does not fit, a *rpc.MessageTooLargeError is
// returned and the payload is left unread on r.
func ReadFrame(r io.Reader, buf []byte) (payload []byte, err error) {
	if len(buf) < HeaderLen {
		panic("frameconn: buffer cannot hold frame header")
	}
	if _, err := ReadExact(r, buf[:HeaderLen]); err != nil {
		return nil, err
	}
	length := DecodeHeader(buf)
	capacity := len(buf) - HeaderLen
	if int64(length) > int64(capacity) {
		return nil, &rpc.MessageTooLargeError{Length: int64(length), Capacity: capacity}
	}
	payload = buf[HeaderLen : HeaderLen+int(length)]
	if _, err := ReadExact(r, payload); err != nil {
		return nil, errors.Wrap(err, "read payload")
	}
	return payload, nil
}

// WriteFrame writes the length prefix and the payload as two separate exact writes.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return &rpc.MessageTooLargeError{Length: int64(len(payload)), Capacity: math.MaxUint32}
	}
	var hdr [HeaderLen]byte
	EncodeHeader(hdr[:], uint32(len(payload)))
	if _, err := WriteExact(w, hdr[:]); err != nil {
		return errors.Wrap(err, "write header")
	}
	if _, err := WriteExact(w, payload); err != nil {
		return errors.Wrap(err, "write payload")
	}
	return nil
}
