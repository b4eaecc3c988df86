package dispatcher

import (
	"fmt"
	"net"
	"strconv"

	"github.com/springsnail/tcplb/internal/netpoll"

	"golang.org/x/sys/unix"
)

// NewListener creates and binds a non-blocking, raw listening socket
// for addr ("ip:port"), backlog 5 (the original's constant). Workers
// accept directly from the returned fd; no net.Listener wraps it,
// since accept4 needs to happen from whichever worker goroutine is
// notified, not from a Go-runtime-managed listener.
func NewListener(addr string) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return -1, fmt.Errorf("dispatcher: invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, fmt.Errorf("dispatcher: invalid listen port %q: %w", portStr, err)
	}

	var ip net.IP
	if host == "" {
		ip = net.IPv4zero
	} else {
		ip = net.ParseIP(host)
		if ip == nil {
			return -1, fmt.Errorf("dispatcher: invalid listen ip %q", host)
		}
	}
	v4 := ip.To4()
	if v4 == nil {
		return -1, fmt.Errorf("dispatcher: only IPv4 listen addresses are supported, got %q", host)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("dispatcher: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("dispatcher: setsockopt SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], v4)
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("dispatcher: bind %s: %w", addr, err)
	}
	const backlog = 5
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("dispatcher: listen %s: %w", addr, err)
	}
	if err := netpoll.SetNonblocking(fd); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("dispatcher: set nonblocking: %w", err)
	}
	return fd, nil
}
