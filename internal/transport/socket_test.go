//go:build unix

package transport

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortSocketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sgh")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestListenAndDial(t *testing.T) {
	path := SocketPath(shortSocketDir(t), "p")
	l, err := Listen(path)
	require.NoError(t, err)
	defer l.Close()

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, path)
	require.NoError(t, err)
	defer c.Close()

	srv := <-accepted
	defer srv.Close()
	assert.IsType(t, &net.UnixConn{}, srv)
	require.NoError(t, CheckPeerIdentity(srv))
}

func TestListen_ManyConnectionsKeepPeerCheck(t *testing.T) {
	path := SocketPath(shortSocketDir(t), "p")
	l, err := Listen(path)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for range 3 {
		c, err := Dial(ctx, path)
		require.NoError(t, err)
		defer c.Close()

		srv, err := l.Accept()
		require.NoError(t, err)
		defer srv.Close()
		_, isUnix := srv.(*net.UnixConn)
		assert.True(t, isUnix, "accepted %T", srv)
		require.NoError(t, CheckPeerIdentity(srv))
	}
}

func TestListen_RemovesStaleSocket(t *testing.T) {
	path := SocketPath(shortSocketDir(t), "p")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, l.Close())

	_, err = os.Stat(path)
	require.NoError(t, err, "stale socket file should still exist")

	l2, err := Listen(path)
	require.NoError(t, err)
	require.NoError(t, l2.Close())
}

func TestListen_RefusesLiveSocket(t *testing.T) {
	path := SocketPath(shortSocketDir(t), "p")
	l, err := Listen(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = Listen(path)
	require.Error(t, err)
}

func TestListen_RefusesRegularFile(t *testing.T) {
	path := SocketPath(shortSocketDir(t), "p")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err := Listen(path)
	require.Error(t, err)
}

func TestDial_TimesOutWithoutServer(t *testing.T) {
	path := SocketPath(shortSocketDir(t), "absent")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := Dial(ctx, path)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
