//go:build unix

package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.server.lock")

	first, err := TryLock(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), HolderPID(path))

	_, err = TryLock(path)
	require.ErrorIs(t, err, ErrLocked)

	locked, known := IsLocked(path)
	assert.True(t, known)
	assert.True(t, locked)

	require.NoError(t, first.Unlock())
	locked, known = IsLocked(path)
	assert.True(t, known)
	assert.False(t, locked)

	second, err := TryLock(path)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
	require.NoError(t, second.Unlock())
}

func TestAcquireLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.client")
	held, err := TryLock(path)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l, err := AcquireLock(ctx, path, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())
	require.NoError(t, l.Unlock())
}

func TestAcquireLock_TimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.client")
	held, err := TryLock(path)
	require.NoError(t, err)
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = AcquireLock(ctx, path, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrLocked)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryLock_MissingDirectory(t *testing.T) {
	_, err := TryLock(filepath.Join(t.TempDir(), "missing", "x.lock"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)

	locked, known := IsLocked(filepath.Join(t.TempDir(), "missing", "x.lock"))
	assert.False(t, locked)
	assert.False(t, known)
}
