//go:build linux

package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func freeBind(network, address string, c syscall.RawConn) error {
	var sockerr error
	err := c.Control(func(fd uintptr) {
		// works for both IPv4 and IPv6
		sockerr = setInt(int(fd), unix.SOL_IP, unix.IP_FREEBIND, "IP_FREEBIND", 1)
	})
	if err != nil {
		return err
	}
	return sockerr
}
