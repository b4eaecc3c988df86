package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPairRelaysClientToUpstream(t *testing.T) {
	clientLocal, clientRemote := socketpair(t)
	upstreamLocal, upstreamRemote := socketpair(t)

	p := NewPair(64)
	p.BindClient(clientLocal, "client-peer")
	p.BindUpstream(upstreamLocal, "upstream-peer")

	_, err := unix.Write(clientRemote, []byte("hello"))
	require.NoError(t, err)

	res, err := p.ReadFromClient()
	require.NoError(t, err)
	assert.Equal(t, OK, res)
	assert.True(t, p.ClientPending())

	res, err = p.WriteToUpstream()
	require.NoError(t, err)
	assert.Equal(t, OK, res)
	assert.False(t, p.ClientPending())

	buf := make([]byte, 16)
	n, err := unix.Read(upstreamRemote, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReadFromClientReturnsNothingOnNoData(t *testing.T) {
	clientLocal, _ := socketpair(t)
	p := NewPair(64)
	p.BindClient(clientLocal, "peer")
	p.BindUpstream(-1, "")

	res, err := p.ReadFromClient()
	require.NoError(t, err)
	assert.Equal(t, Nothing, res)
}

func TestReadFromClientReturnsClosedOnEOF(t *testing.T) {
	clientLocal, clientRemote := socketpair(t)
	require.NoError(t, unix.Close(clientRemote))

	p := NewPair(64)
	p.BindClient(clientLocal, "peer")

	res, err := p.ReadFromClient()
	require.NoError(t, err)
	assert.Equal(t, Closed, res)
}

func TestReadFromClientReturnsBufferFullWhenCapacityExhausted(t *testing.T) {
	clientLocal, clientRemote := socketpair(t)
	p := NewPair(4)
	p.BindClient(clientLocal, "peer")

	_, err := unix.Write(clientRemote, []byte("abcdefgh"))
	require.NoError(t, err)

	res, err := p.ReadFromClient()
	require.NoError(t, err)
	assert.Equal(t, BufferFull, res)
}

func TestWriteToUpstreamReturnsBufferEmptyAndResetsIndices(t *testing.T) {
	_, upstreamRemote := socketpair(t)
	p := NewPair(64)
	p.BindUpstream(upstreamRemote, "peer")

	res, err := p.WriteToUpstream()
	require.NoError(t, err)
	assert.Equal(t, BufferEmpty, res)
	assert.False(t, p.ClientPending())
}

func TestResetClearsFdsAndBuffers(t *testing.T) {
	p := NewPair(64)
	p.BindClient(5, "c")
	p.BindUpstream(7, "u")
	p.UpstreamClosed = true

	p.Reset()

	assert.Equal(t, -1, p.ClientFD)
	assert.Equal(t, -1, p.UpstreamFD)
	assert.False(t, p.UpstreamClosed)
	assert.False(t, p.ClientPending())
	assert.False(t, p.UpstreamPending())
}

func TestResultStringValues(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "BUFFER_FULL", BufferFull.String())
	assert.Equal(t, "BUFFER_EMPTY", BufferEmpty.String())
	assert.Equal(t, "TRY_AGAIN", TryAgain.String())
	assert.Equal(t, "IOERR", IOErr.String())
	assert.Equal(t, "CLOSED", Closed.String())
	assert.Equal(t, "NOTHING", Nothing.String())
}
