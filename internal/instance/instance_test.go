package instance

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketInTemp(t *testing.T) string {
	t.Helper()
	// Keep the path short: unix socket paths are length-limited.
	dir, err := os.MkdirTemp("", "lampd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "i.sock")
}

func TestAcquireAndRelease(t *testing.T) {
	path := socketInTemp(t)

	guard, err := Acquire(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = guard.Serve(ctx)
	}()

	cancel()
	<-done

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket file should be removed on shutdown")
}

func TestSecondInstanceIsRefusedAndActivatesFirst(t *testing.T) {
	path := socketInTemp(t)

	guard, err := Acquire(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = guard.Serve(ctx) }()

	// Give the accept loop a moment to start.
	waitDialable(t, path)

	_, err = Acquire(path, nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStaleSocketIsReclaimed(t *testing.T) {
	path := socketInTemp(t)

	// Simulate a crashed instance: socket file exists, nobody listens.
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	// Closing removes the file on some platforms; recreate it plainly.
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		require.NoError(t, os.WriteFile(path, nil, 0o600))
	}

	guard, err := Acquire(path, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = guard.Serve(ctx)
}

func waitDialable(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("instance socket never became dialable")
}
