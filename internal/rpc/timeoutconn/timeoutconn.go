// Package timeoutconn wraps a net.Conn to provide per-call idle timeouts
// based on Set{Read,Write}Deadline.
//
// Unlike a plain deadline, the timeout is renewed before every Read and
// Write, so it bounds how long a single underlying call may make no
// progress rather than the duration of a whole exchange. Retrying after a
// timeout is left to the caller (see package frameconn).
package timeoutconn

import (
	"errors"
	"net"
	"sync/atomic"
	"syscall"
	"time"
)

type Conn struct {
	net.Conn
	readTimeout  atomic.Int64 // time.Duration, 0 = none
	writeTimeout atomic.Int64
	disabled     atomic.Bool
}

// Wrap returns a Conn that applies readTimeout and writeTimeout to each
// Read and Write call. A zero timeout leaves that direction without a deadline.
func Wrap(conn net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	c := &Conn{Conn: conn}
	c.SetTimeouts(readTimeout, writeTimeout)
	return c
}

func (c *Conn) SetTimeouts(readTimeout, writeTimeout time.Duration) {
	c.readTimeout.Store(int64(readTimeout))
	c.writeTimeout.Store(int64(writeTimeout))
}

func (c *Conn) Timeouts() (read, write time.Duration) {
	return time.Duration(c.readTimeout.Load()), time.Duration(c.writeTimeout.Load())
}

// DisableTimeouts stops renewing deadlines.
// Existing deadlines are cleared iff the call is the first call to this method.
func (c *Conn) DisableTimeouts() error {
	if c.disabled.CompareAndSwap(false, true) {
		return c.ClearDeadlines()
	}
	return nil
}

// ClearDeadlines removes any deadline left behind by the previous call.
// Timeouts stay enabled and are applied again on the next Read or Write.
func (c *Conn) ClearDeadlines() error {
	return c.Conn.SetDeadline(time.Time{})
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func (c *Conn) renewReadDeadline() error {
	if c.disabled.Load() {
		return nil
	}
	return c.Conn.SetReadDeadline(deadline(time.Duration(c.readTimeout.Load())))
}

func (c *Conn) renewWriteDeadline() error {
	if c.disabled.Load() {
		return nil
	}
	return c.Conn.SetWriteDeadline(deadline(time.Duration(c.writeTimeout.Load())))
}

func (c *Conn) Read(p []byte) (n int, err error) {
	if err := c.renewReadDeadline(); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *Conn) Write(p []byte) (n int, err error) {
	if err := c.renewWriteDeadline(); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

var SyscallConnNotSupported = errors.New("SyscallConn not supported")

// SyscallConner is implemented by connections that expose their file descriptor.
// Go's *net.TCPConn, *net.UDPConn and *net.UnixConn all do.
type SyscallConner interface {
	// The sentinel error value SyscallConnNotSupported can be returned
	// if the support for SyscallConn depends on runtime conditions and
	// that runtime condition is not met.
	SyscallConn() (syscall.RawConn, error)
}

var _ SyscallConner = (*net.TCPConn)(nil)

// SyscallConn exposes the wrapped connection's descriptor for readiness
// polling and liveness checks.
func (c *Conn) SyscallConn() (syscall.RawConn, error) {
	sc, ok := c.Conn.(SyscallConner)
	if !ok {
		return nil, SyscallConnNotSupported
	}
	return sc.SyscallConn()
}
