//go:build freebsd

package sockopt

import (
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

func freeBind(network, address string, c syscall.RawConn) error {
	var sockerr error
	err := c.Control(func(fd uintptr) {
		switch {
		case strings.HasSuffix(network, "6"):
			sockerr = setInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_BINDANY, "IPV6_BINDANY", 1)
		case strings.HasSuffix(network, "4"):
			sockerr = setInt(int(fd), unix.IPPROTO_IP, unix.IP_BINDANY, "IP_BINDANY", 1)
		default:
			sockerr = fmt.Errorf("expecting IPv4 or IPv6 network, got %q", network)
		}
	})
	if err != nil {
		return err
	}
	return sockerr
}
