package upstream

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// dialHost opens a raw, connected, blocking-at-connect-time TCP socket
// to host. The caller is responsible for switching it to non-blocking
// mode afterward; connect(2) itself is done synchronously so pool
// population and recycle sweeps have a plain success/failure result.
func dialHost(host Host) (fd int, addr string, err error) {
	ips, err := net.LookupIP(host.Name)
	if err != nil {
		return -1, "", fmt.Errorf("upstream: resolve %s: %w", host.Name, err)
	}
	if len(ips) == 0 {
		return -1, "", fmt.Errorf("upstream: no addresses for %s", host.Name)
	}

	var lastErr error
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil {
			continue // IPv6 out of scope
		}

		s, sockErr := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if sockErr != nil {
			lastErr = sockErr
			continue
		}

		sa := &unix.SockaddrInet4{Port: host.Port}
		copy(sa.Addr[:], v4)

		if connErr := unix.Connect(s, sa); connErr != nil {
			_ = unix.Close(s)
			lastErr = connErr
			continue
		}

		return s, net.JoinHostPort(ip.String(), strconv.Itoa(host.Port)), nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no usable IPv4 address for %s", host.Name)
	}
	return -1, "", fmt.Errorf("upstream: connect %s:%d: %w", host.Name, host.Port, lastErr)
}
