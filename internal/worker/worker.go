// Package worker implements the per-upstream event loop: it owns one
// upstream.Manager and one netpoll.Poller, accepts clients handed to it
// by the dispatcher, and drives every relay.Pair it is responsible for
// until they're torn down.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/springsnail/tcplb/internal/helpers"
	"github.com/springsnail/tcplb/internal/netpoll"
	"github.com/springsnail/tcplb/internal/pool"
	"github.com/springsnail/tcplb/internal/stats"
	"github.com/springsnail/tcplb/internal/upstream"

	"golang.org/x/sys/unix"
)

const ctrlReadSize = 64

// ctrlBufPool hands out scratch buffers for draining the control pipe,
// avoiding a fresh allocation on every readiness wakeup.
var ctrlBufPool = pool.New(func() []byte { return make([]byte, ctrlReadSize) })

// Config configures a single Worker.
type Config struct {
	ID              int
	Host            upstream.Host
	BufSize         int
	RecycleInterval time.Duration
	ListenerFD      int // shared listening socket, accepted on only when notified
	Logger          *slog.Logger
	Stats           *stats.Relay
	// Utilization receives this worker's used-connection count, clamped
	// to a byte, every time it changes. Sends are non-blocking: a
	// dispatcher that falls behind simply sees a stale-by-one reading
	// rather than stalling this worker's event loop.
	Utilization chan<- uint8
}

// Worker runs one upstream host's connection pool and event loop. A
// Worker is not safe for concurrent use; only its own Run goroutine
// touches its Manager and Poller.
type Worker struct {
	cfg Config

	poller  *netpoll.Poller
	mgr     *upstream.Manager
	ctrlR   int
	ctrlW   int
	logger  *slog.Logger
	lastUse int
}

// New builds a Worker, opens its control pipe, and creates its upstream
// pool manager without dialing any connection yet; Run opens the pool
// and starts the event loop.
func New(cfg Config) (*Worker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RecycleInterval <= 0 {
		cfg.RecycleInterval = 5 * time.Second
	}

	poller, err := netpoll.New()
	if err != nil {
		return nil, fmt.Errorf("worker[%d]: %w", cfg.ID, err)
	}

	ctrlR, ctrlW, err := selfPipe()
	if err != nil {
		poller.Close()
		return nil, fmt.Errorf("worker[%d]: %w", cfg.ID, err)
	}
	if err := poller.RegisterRead(ctrlR); err != nil {
		poller.Close()
		_ = unix.Close(ctrlR)
		_ = unix.Close(ctrlW)
		return nil, fmt.Errorf("worker[%d]: register control pipe: %w", cfg.ID, err)
	}

	mgr := upstream.NewManager(cfg.Host, cfg.BufSize, poller, cfg.Stats, cfg.Logger.With("worker", cfg.ID, "host", cfg.Host.String()))

	return &Worker{
		cfg:    cfg,
		poller: poller,
		mgr:    mgr,
		ctrlR:  ctrlR,
		ctrlW:  ctrlW,
		logger: cfg.Logger.With("worker", cfg.ID, "host", cfg.Host.String()),
	}, nil
}

// selfPipe opens a non-blocking pipe pair, the same primitive a
// self-pipe signal handler writes to; here the dispatcher writes the
// "accept now" sentinel instead of a signal handler writing a signal
// number.
func selfPipe() (read, write int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return -1, -1, fmt.Errorf("pipe2: %w", err)
	}
	return fds[0], fds[1], nil
}

// Notify signals this worker to attempt an accept on the shared
// listener. Called by the dispatcher from its own goroutine; the write
// is a single byte on a pipe, safe to call concurrently with the
// worker's own Run loop.
func (w *Worker) Notify() error {
	_, err := unix.Write(w.ctrlW, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("worker[%d]: notify: %w", w.cfg.ID, err)
	}
	return nil
}

// UsedCount returns how many connections this worker currently has in
// use. Only meaningful when called from the worker's own goroutine;
// cross-goroutine utilization tracking goes through the Utilization
// channel instead.
func (w *Worker) UsedCount() int { return w.mgr.UsedCount() }

// Run opens the upstream pool and drives the event loop until ctx is
// cancelled. It always returns nil; errors during the loop are logged
// and treated as recoverable per-event failures, matching the
// isolation guarantee a single bad connection pair must not bring the
// whole worker down.
func (w *Worker) Run(ctx context.Context) error {
	w.mgr.Open()
	defer w.closeAll()

	events := make([]netpoll.Event, 0, 128)
	timeoutMillis := int(w.cfg.RecycleInterval / time.Millisecond)

	for {
		if ctx.Err() != nil {
			return nil
		}

		var err error
		events, err = w.poller.Wait(timeoutMillis, events[:0])
		if err != nil {
			w.logger.Error("poller wait failed", "err", err)
			return nil
		}

		if len(events) == 0 {
			w.mgr.Recycle()
			continue
		}

		for _, ev := range events {
			w.handleEvent(ev)
		}
		w.reportUtilization()
	}
}

func (w *Worker) handleEvent(ev netpoll.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("recovered panic handling event", "fd", ev.Fd, "panic", r)
		}
	}()

	if ev.Fd == w.ctrlR {
		w.drainControl()
		return
	}
	if p, ok := w.mgr.ByClientFD(ev.Fd); ok {
		_ = p
		w.mgr.Process(ev.Fd, upstream.ClientSide, ev.Readable, ev.Writable)
		return
	}
	if p, ok := w.mgr.ByUpstreamFD(ev.Fd); ok {
		_ = p
		w.mgr.Process(ev.Fd, upstream.UpstreamSide, ev.Readable, ev.Writable)
		return
	}
	w.logger.Warn("event for unknown fd", "fd", ev.Fd)
}

// drainControl reads every queued sentinel byte and attempts one accept
// per byte, since edge-triggered readiness can coalesce several
// dispatcher notifications into a single wakeup.
func (w *Worker) drainControl() {
	buf := ctrlBufPool.Get()
	defer ctrlBufPool.Put(buf)
	for {
		n, err := unix.Read(w.ctrlR, buf)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				w.logger.Error("control pipe read failed", "err", err)
			}
			return
		}
		if n == 0 {
			return
		}
		for range n {
			w.acceptOne()
		}
	}
}

func (w *Worker) acceptOne() {
	fd, sa, err := unix.Accept4(w.cfg.ListenerFD, unix.SOCK_NONBLOCK)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			// The dispatcher believed the listener was readable, but by
			// the time this worker got to it, another accept already
			// drained it. Not an error: just nothing to do.
			w.logger.Debug("accept would block, skipping")
			return
		}
		w.logger.Error("accept failed", "err", err)
		return
	}

	addr := peerAddrString(sa)
	p, err := w.mgr.Pick(fd, addr)
	if err != nil {
		w.logger.Warn("no idle upstream connection, dropping client", "client_addr", addr)
		if w.cfg.Stats != nil {
			w.cfg.Stats.RecordPickFailure()
		}
		_ = unix.Close(fd)
		return
	}

	p.ID = uuid.New().String()[:8]
	if w.cfg.Stats != nil {
		w.cfg.Stats.RecordAccepted()
	}
	w.logger.Debug("bound client to upstream", "pair", p.ID, "client_addr", p.ClientAddr, "upstream_addr", p.UpstreamAddr)
}

func (w *Worker) reportUtilization() {
	used := w.mgr.UsedCount()
	if used == w.lastUse || w.cfg.Utilization == nil {
		w.lastUse = used
		return
	}
	w.lastUse = used

	select {
	case w.cfg.Utilization <- helpers.ClampUint32ToUint8(helpers.ClampIntToUint32(used)):
	default:
		// Dispatcher hasn't drained the previous report yet; the next
		// change will carry a fresher value, so dropping this one is fine.
	}
}

func (w *Worker) closeAll() {
	_ = w.poller.UnregisterAndClose(w.ctrlR)
	_ = unix.Close(w.ctrlW)
	_ = w.poller.Close()
}

func peerAddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	default:
		return "unknown"
	}
}
