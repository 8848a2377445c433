// Package socketpair creates connected pairs of stream sockets for tests.
package socketpair

import (
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

type fileConn struct {
	net.Conn // net.FileConn
	f        *os.File
}

func (c fileConn) Close() error {
	if err := c.Conn.Close(); err != nil {
		return err
	}
	return c.f.Close()
}

func (c fileConn) SyscallConn() (syscall.RawConn, error) {
	return c.Conn.(syscall.Conn).SyscallConn()
}

// SocketPair returns both ends of an AF_UNIX stream socket pair.
// net.Pipe is not used because it is unbuffered and lacks deadlines on
// partial transfers, which the framing tests rely on.
func SocketPair() (a, b net.Conn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	toConn := func(fd int) (net.Conn, error) {
		f := os.NewFile(uintptr(fd), "socketpair")
		c, err := net.FileConn(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return fileConn{Conn: c, f: f}, nil
	}
	if a, err = toConn(fds[0]); err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	if b, err = toConn(fds[1]); err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}
