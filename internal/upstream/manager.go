// Package upstream manages one worker's pool of connections to its
// assigned upstream host: which are idle and ready to hand to a new
// client, which are currently relaying traffic for a client, and which
// were dropped and are waiting to be reconnected.
package upstream

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/springsnail/tcplb/internal/netpoll"
	"github.com/springsnail/tcplb/internal/relay"
	"github.com/springsnail/tcplb/internal/stats"

	"golang.org/x/sys/unix"
)

// ErrNoIdleConnection is returned by Pick when every upstream
// connection is either in use or awaiting repair.
var ErrNoIdleConnection = errors.New("upstream: no idle connection available")

// Host describes the upstream server a Manager dials.
type Host struct {
	Name  string
	Port  int
	Conns int // desired pool size
}

func (h Host) String() string {
	return fmt.Sprintf("%s:%d", h.Name, h.Port)
}

// Manager is confined to a single goroutine: the worker event loop that
// owns it. It holds no internal lock; concurrent access from another
// goroutine is a programming error, not a race the package guards against.
type Manager struct {
	host    Host
	bufSize int
	poller  *netpoll.Poller
	logger  *slog.Logger
	stats   *stats.Relay

	idle            map[int]*relay.Pair // keyed by upstream fd, unbound to any client
	inUseByClient   map[int]*relay.Pair
	inUseByUpstream map[int]*relay.Pair
	awaitingRepair  []*relay.Pair // upstream fd already closed (-1), needs reconnect
}

// NewManager creates a Manager for host. Call Open to populate the
// initial pool before handing the Manager to a worker event loop.
// relayStats may be nil, in which case counters are simply not recorded.
func NewManager(host Host, bufSize int, poller *netpoll.Poller, relayStats *stats.Relay, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		host:            host,
		bufSize:         bufSize,
		poller:          poller,
		logger:          logger,
		stats:           relayStats,
		idle:            make(map[int]*relay.Pair, host.Conns),
		inUseByClient:   make(map[int]*relay.Pair, host.Conns),
		inUseByUpstream: make(map[int]*relay.Pair, host.Conns),
	}
}

// Open dials host.Conns connections, tolerating individual failures: a
// worker can start with a partially populated pool, and later recycle
// sweeps will keep trying to fill the gap.
func (m *Manager) Open() {
	for range m.host.Conns {
		p, err := m.dial()
		if err != nil {
			m.logger.Warn("upstream dial failed at startup", "host", m.host, "err", err)
			continue
		}
		m.idle[p.UpstreamFD] = p
	}
	m.logger.Info("upstream pool opened", "host", m.host, "idle", len(m.idle), "wanted", m.host.Conns)
}

func (m *Manager) dial() (*relay.Pair, error) {
	fd, addr, err := dialHost(m.host)
	if err != nil {
		return nil, err
	}
	if err := netpoll.SetNonblocking(fd); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	p := relay.NewPair(m.bufSize)
	p.BindUpstream(fd, addr)
	return p, nil
}

// UsedCount returns the number of connections currently relaying
// traffic for a client. This is the quantity the dispatcher uses to
// pick the least-busy worker.
func (m *Manager) UsedCount() int { return len(m.inUseByUpstream) }

// IdleCount returns the number of connections ready for Pick.
func (m *Manager) IdleCount() int { return len(m.idle) }

// AwaitingRepairCount returns the number of dropped connections waiting
// on the next Recycle sweep to reconnect.
func (m *Manager) AwaitingRepairCount() int { return len(m.awaitingRepair) }

// Pick removes one idle connection and binds it to a newly accepted
// client fd, registering both fds for read readiness. It returns
// ErrNoIdleConnection if the pool has nothing free.
//
// The upstream fd's read interest is registered here, before the
// client side of the pair is fully initialized by the caller — see
// DESIGN.md's resolution of the init-after-pick open question: safe
// because this worker's own event loop is the only goroutine that will
// ever observe readiness on these fds, and it cannot do so until this
// call returns.
func (m *Manager) Pick(clientFD int, clientAddr string) (*relay.Pair, error) {
	var p *relay.Pair
	for _, cand := range m.idle {
		p = cand
		break
	}
	if p == nil {
		return nil, ErrNoIdleConnection
	}
	delete(m.idle, p.UpstreamFD)

	p.BindClient(clientFD, clientAddr)
	m.inUseByClient[clientFD] = p
	m.inUseByUpstream[p.UpstreamFD] = p

	if err := m.poller.RegisterRead(p.UpstreamFD); err != nil {
		return nil, fmt.Errorf("upstream: register upstream fd: %w", err)
	}
	if err := m.poller.RegisterRead(clientFD); err != nil {
		return nil, fmt.Errorf("upstream: register client fd: %w", err)
	}
	return p, nil
}

// ByClientFD looks up the in-use pair bound to a given client fd.
func (m *Manager) ByClientFD(fd int) (*relay.Pair, bool) {
	p, ok := m.inUseByClient[fd]
	return p, ok
}

// ByUpstreamFD looks up the in-use pair bound to a given upstream fd.
func (m *Manager) ByUpstreamFD(fd int) (*relay.Pair, bool) {
	p, ok := m.inUseByUpstream[fd]
	return p, ok
}

// Release tears a pair down completely: both fds are unregistered and
// closed, the pair is reset, and it is queued for reconnect on the next
// Recycle sweep. A pair is never handed straight back to idle — every
// release goes through repair, since there is no cheap way to know the
// connection is still in a clean protocol state after an error.
func (m *Manager) Release(p *relay.Pair) {
	if p.ClientFD >= 0 {
		delete(m.inUseByClient, p.ClientFD)
		_ = m.poller.UnregisterAndClose(p.ClientFD)
	}
	if p.UpstreamFD >= 0 {
		delete(m.inUseByUpstream, p.UpstreamFD)
		_ = m.poller.UnregisterAndClose(p.UpstreamFD)
	}
	p.Reset()
	m.awaitingRepair = append(m.awaitingRepair, p)
	if m.stats != nil {
		m.stats.RecordClosed()
	}
}

// Recycle attempts to reconnect every connection awaiting repair.
// Successes move into the idle set; failures stay queued for the next
// sweep. Called by the worker event loop on an epoll_wait timeout with
// zero events.
func (m *Manager) Recycle() {
	if len(m.awaitingRepair) == 0 {
		return
	}
	remaining := m.awaitingRepair[:0]
	for _, p := range m.awaitingRepair {
		fd, addr, err := dialHost(m.host)
		if err != nil {
			remaining = append(remaining, p)
			continue
		}
		if err := netpoll.SetNonblocking(fd); err != nil {
			_ = unix.Close(fd)
			remaining = append(remaining, p)
			continue
		}
		p.BindUpstream(fd, addr)
		m.idle[fd] = p
	}
	recovered := len(m.awaitingRepair) - len(remaining)
	m.awaitingRepair = remaining
	if recovered > 0 {
		m.logger.Debug("upstream recycle", "host", m.host, "recovered", recovered, "still_broken", len(remaining))
	}
}
