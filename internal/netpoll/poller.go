// Package netpoll wraps a Linux epoll instance as an edge-triggered
// readiness multiplexer. It tracks no buffers and no connection state of
// its own; callers register file descriptors for read and/or write
// interest and drain them on each readiness notification until the
// underlying syscall returns EAGAIN.
package netpoll

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Event is a readiness notification for one file descriptor.
type Event struct {
	Fd        int
	Readable  bool
	Writable  bool
	HangupErr bool // EPOLLHUP or EPOLLERR was set
}

// Poller owns one epoll instance.
type Poller struct {
	epfd int
}

// New creates a Poller backed by a fresh epoll instance.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("netpoll: epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd}, nil
}

// Close releases the epoll instance. It does not close any registered fds.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

// SetNonblocking puts fd into non-blocking mode. Every fd handed to a
// Poller must be non-blocking; edge-triggered readiness on a blocking fd
// will stall the event loop on the first short read.
func SetNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

func eventsFor(read, write bool) uint32 {
	ev := uint32(unix.EPOLLET)
	if read {
		ev |= unix.EPOLLIN
	}
	if write {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// RegisterRead registers fd for edge-triggered read readiness.
func (p *Poller) RegisterRead(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, eventsFor(true, false))
}

// RegisterWrite registers fd for edge-triggered write readiness.
func (p *Poller) RegisterWrite(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, eventsFor(false, true))
}

// RegisterReadWrite registers fd for both read and write readiness.
func (p *Poller) RegisterReadWrite(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, eventsFor(true, true))
}

// Modify replaces fd's registered interest. It never ORs with the
// previous interest set; callers pass the full desired interest.
func (p *Poller) Modify(fd int, read, write bool) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, eventsFor(read, write))
}

// Unregister removes fd from the poller without closing it.
func (p *Poller) Unregister(fd int) error {
	return p.ctl(unix.EPOLL_CTL_DEL, fd, 0)
}

// UnregisterAndClose removes fd from the poller and closes it. The
// EPOLL_CTL_DEL is attempted even if it fails, since close(2) implicitly
// drops epoll registration on Linux; this just keeps state explicit.
func (p *Poller) UnregisterAndClose(fd int) error {
	_ = p.ctl(unix.EPOLL_CTL_DEL, fd, 0)
	return unix.Close(fd)
}

func (p *Poller) ctl(op int, fd int, events uint32) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, ev); err != nil {
		return fmt.Errorf("netpoll: epoll_ctl(op=%d, fd=%d): %w", op, fd, err)
	}
	return nil
}

// Wait blocks until at least one registered fd is ready, timeoutMillis
// elapses, or an interrupting signal arrives. A negative timeout blocks
// indefinitely; zero events with a nil error means the timeout expired.
func (p *Poller) Wait(timeoutMillis int, buf []Event) ([]Event, error) {
	raw := make([]unix.EpollEvent, len(buf))
	if len(raw) == 0 {
		raw = make([]unix.EpollEvent, 64)
	}

	n, err := unix.EpollWait(p.epfd, raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return buf[:0], nil
		}
		return nil, fmt.Errorf("netpoll: epoll_wait: %w", err)
	}

	out := buf[:0]
	for i := 0; i < n; i++ {
		e := raw[i]
		out = append(out, Event{
			Fd:        int(e.Fd),
			Readable:  e.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable:  e.Events&unix.EPOLLOUT != 0,
			HangupErr: e.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return out, nil
}
