package upstream

import (
	"net"
	"testing"
	"time"

	"github.com/springsnail/tcplb/internal/netpoll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// startEchoListener starts a loopback TCP listener that echoes whatever
// it receives back to the sender, for exercising a Manager against a
// real upstream.
func startEchoListener(t *testing.T) Host {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(c)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Host{Name: "127.0.0.1", Port: addr.Port, Conns: 3}
}

func TestManagerOpenPopulatesIdlePool(t *testing.T) {
	host := startEchoListener(t)
	p, err := netpoll.New()
	require.NoError(t, err)
	defer p.Close()

	m := NewManager(host, 64, p, nil, nil)
	m.Open()

	assert.Equal(t, 3, m.IdleCount())
	assert.Equal(t, 0, m.UsedCount())
}

func TestManagerPickAndRelease(t *testing.T) {
	host := startEchoListener(t)
	poller, err := netpoll.New()
	require.NoError(t, err)
	defer poller.Close()

	m := NewManager(host, 64, poller, nil, nil)
	m.Open()
	require.Equal(t, 3, m.IdleCount())

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, netpoll.SetNonblocking(fds[0]))
	clientFD, clientPeer := fds[0], fds[1]
	t.Cleanup(func() { _ = unix.Close(clientPeer) })

	pair, err := m.Pick(clientFD, "test-client")
	require.NoError(t, err)
	assert.Equal(t, 2, m.IdleCount())
	assert.Equal(t, 1, m.UsedCount())

	got, ok := m.ByClientFD(clientFD)
	require.True(t, ok)
	assert.Same(t, pair, got)

	m.Release(pair)
	assert.Equal(t, 0, m.UsedCount())
	assert.Equal(t, 1, m.AwaitingRepairCount())
}

func TestManagerPickFailsWhenPoolExhausted(t *testing.T) {
	host := Host{Name: "127.0.0.1", Port: 1, Conns: 0}
	poller, err := netpoll.New()
	require.NoError(t, err)
	defer poller.Close()

	m := NewManager(host, 64, poller, nil, nil)
	_, err = m.Pick(3, "peer")
	assert.ErrorIs(t, err, ErrNoIdleConnection)
}

func TestManagerRecycleReconnectsAfterRelease(t *testing.T) {
	host := startEchoListener(t)
	poller, err := netpoll.New()
	require.NoError(t, err)
	defer poller.Close()

	m := NewManager(host, 64, poller, nil, nil)
	m.Open()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, netpoll.SetNonblocking(fds[0]))
	t.Cleanup(func() { _ = unix.Close(fds[1]) })

	pair, err := m.Pick(fds[0], "peer")
	require.NoError(t, err)
	m.Release(pair)
	require.Equal(t, 1, m.AwaitingRepairCount())

	m.Recycle()
	assert.Equal(t, 0, m.AwaitingRepairCount())
	assert.Equal(t, 3, m.IdleCount())
}

func TestProcessRelaysClientBytesThroughEcho(t *testing.T) {
	host := startEchoListener(t)
	poller, err := netpoll.New()
	require.NoError(t, err)
	defer poller.Close()

	m := NewManager(host, 256, poller, nil, nil)
	m.Open()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, netpoll.SetNonblocking(fds[0]))
	require.NoError(t, netpoll.SetNonblocking(fds[1]))
	clientFD, testPeer := fds[0], fds[1]
	t.Cleanup(func() { _ = unix.Close(testPeer) })

	_, err = m.Pick(clientFD, "peer")
	require.NoError(t, err)

	_, err = unix.Write(testPeer, []byte("ping"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var gotEcho []byte
	for time.Now().Before(deadline) {
		events, werr := poller.Wait(200, make([]netpoll.Event, 0, 8))
		require.NoError(t, werr)
		for _, ev := range events {
			if cp, ok := m.ByClientFD(ev.Fd); ok {
				m.Process(ev.Fd, ClientSide, ev.Readable, ev.Writable)
				_ = cp
				continue
			}
			if up, ok := m.ByUpstreamFD(ev.Fd); ok {
				m.Process(ev.Fd, UpstreamSide, ev.Readable, ev.Writable)
				_ = up
			}
		}

		buf := make([]byte, 64)
		n, rerr := unix.Read(testPeer, buf)
		if rerr == nil && n > 0 {
			gotEcho = buf[:n]
			break
		}
		if rerr != nil && rerr != unix.EAGAIN && rerr != unix.EWOULDBLOCK {
			require.NoError(t, rerr)
		}
	}

	assert.Equal(t, "ping", string(gotEcho))
}
