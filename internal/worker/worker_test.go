package worker

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/springsnail/tcplb/internal/stats"
	"github.com/springsnail/tcplb/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startEchoHost(t *testing.T) upstream.Host {
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
	return upstream.Host{Name: "127.0.0.1", Port: addr.Port, Conns: 2}
}

func rawListenerFD(t *testing.T) (fd int, port int) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1))
	require.NoError(t, unix.Bind(fd, &unix.SockaddrInet4{Port: 0}))
	require.NoError(t, unix.Listen(fd, 16))

	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	sa4 := sa.(*unix.SockaddrInet4)
	t.Cleanup(func() { _ = unix.Close(fd) })
	return fd, sa4.Port
}

func TestWorkerAcceptsAndRelays(t *testing.T) {
	host := startEchoHost(t)
	lfd, port := rawListenerFD(t)

	util := make(chan uint8, 8)
	w, err := New(Config{
		ID:              1,
		Host:            host,
		BufSize:         256,
		RecycleInterval: 100 * time.Millisecond,
		ListenerFD:      lfd,
		Stats:           stats.NewRelay(),
		Utilization:     util,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, w.Notify())

	require.NoError(t, conn.SetDeadline(time.Now().Add(3*time.Second)))
	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	select {
	case u := <-util:
		assert.Equal(t, uint8(1), u)
	case <-time.After(time.Second):
		t.Fatal("expected a utilization report")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
