// Package sockopt opens the listening, dialing and datagram sockets used by
// the transports, applying socket options before bind or connect.
package sockopt

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type Options struct {
	ReuseAddr bool
	// NoDelay disables Nagle's algorithm on stream connections.
	NoDelay bool
	// BufferSize sets both SO_SNDBUF and SO_RCVBUF if > 0.
	BufferSize int
	// FreeBind allows binding to addresses not (yet) configured on the host.
	FreeBind bool
	// Backlog is the listen(2) queue length. 0 uses the runtime's default
	// (the kernel's somaxconn).
	Backlog int
}

// BufferSizeFromBDP converts a bandwidth-delay product in KiB to a socket
// buffer size in bytes.
func BufferSizeFromBDP(kib int) int {
	return kib * 1024
}

func setInt(fd int, level, opt int, name string, value int) error {
	if err := unix.SetsockoptInt(fd, level, opt, value); err != nil {
		return os.NewSyscallError("setsockopt("+name+")", err)
	}
	return nil
}

func (o Options) control(network, address string, c syscall.RawConn) error {
	var sockerr error
	err := c.Control(func(fd uintptr) {
		s := int(fd)
		if o.ReuseAddr {
			if sockerr = setInt(s, unix.SOL_SOCKET, unix.SO_REUSEADDR, "SO_REUSEADDR", 1); sockerr != nil {
				return
			}
		}
		if o.BufferSize > 0 {
			if sockerr = setInt(s, unix.SOL_SOCKET, unix.SO_SNDBUF, "SO_SNDBUF", o.BufferSize); sockerr != nil {
				return
			}
			if sockerr = setInt(s, unix.SOL_SOCKET, unix.SO_RCVBUF, "SO_RCVBUF", o.BufferSize); sockerr != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if sockerr != nil {
		return sockerr
	}
	if o.FreeBind {
		return freeBind(network, address, c)
	}
	return nil
}

func portAddress(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}

// Listen opens a TCP listener on all interfaces.
func Listen(ctx context.Context, port int, o Options) (*net.TCPListener, error) {
	if o.Backlog > 0 {
		return listenBacklog(port, o)
	}
	lc := net.ListenConfig{Control: o.control}
	l, err := lc.Listen(ctx, "tcp", portAddress(port))
	if err != nil {
		return nil, err
	}
	return l.(*net.TCPListener), nil
}

// ListenAddress opens a TCP listener on a host:port address.
func ListenAddress(ctx context.Context, address string, o Options) (net.Listener, error) {
	lc := net.ListenConfig{Control: o.control}
	return lc.Listen(ctx, "tcp", address)
}

// ListenPacket opens a UDP socket bound to port on all interfaces.
// Port 0 binds an ephemeral port, which is what clients use.
func ListenPacket(ctx context.Context, port int, o Options) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: o.control}
	c, err := lc.ListenPacket(ctx, "udp", portAddress(port))
	if err != nil {
		return nil, err
	}
	return c.(*net.UDPConn), nil
}

// Dial connects to address over TCP.
func Dial(ctx context.Context, address string, timeout time.Duration, o Options) (*net.TCPConn, error) {
	d := net.Dialer{Timeout: timeout, Control: o.control}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	tc := c.(*net.TCPConn)
	if err := tc.SetNoDelay(o.NoDelay); err != nil {
		tc.Close()
		return nil, fmt.Errorf("set TCP_NODELAY: %w", err)
	}
	return tc, nil
}

// GetInt reads an integer socket option from conn.
func GetInt(conn syscall.Conn, level, opt int) (value int, err error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var sockerr error
	err = rc.Control(func(fd uintptr) {
		value, sockerr = unix.GetsockoptInt(int(fd), level, opt)
	})
	if err != nil {
		return 0, err
	}
	return value, os.NewSyscallError("getsockopt", sockerr)
}

// listenBacklog does by hand what net.ListenConfig does, because the runtime
// offers no way to choose the backlog.
func listenBacklog(port int, o Options) (*net.TCPListener, error) {
	fd, sa, err := wildcardSocket(port)
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "tcp-listener")
	defer f.Close() // net.FileListener dups the descriptor

	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	if err := o.control("tcp", portAddress(port), rc); err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, o.Backlog); err != nil {
		return nil, os.NewSyscallError("listen", err)
	}
	l, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	return l.(*net.TCPListener), nil
}

// wildcardSocket prefers a dual-stack IPv6 socket and falls back to IPv4.
func wildcardSocket(port int) (fd int, sa unix.Sockaddr, err error) {
	fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
	if err == nil {
		if err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err == nil {
			unix.CloseOnExec(fd)
			return fd, &unix.SockaddrInet6{Port: port}, nil
		}
		unix.Close(fd)
	}
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	return fd, &unix.SockaddrInet4{Port: port}, nil
}
