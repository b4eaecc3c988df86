package sigfunnel

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunnelDeliversSIGTERM(t *testing.T) {
	f := New()
	defer f.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case sig := <-f.C():
		assert.True(t, IsShutdown(sig))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SIGTERM")
	}
}

func TestIsShutdownOnlyMatchesTermAndInt(t *testing.T) {
	assert.True(t, IsShutdown(syscall.SIGTERM))
	assert.True(t, IsShutdown(syscall.SIGINT))
	assert.False(t, IsShutdown(syscall.SIGCHLD))
}
