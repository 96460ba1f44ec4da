//go:build unix

package buildserver

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/protocol"
	"git.home.luguber.info/inful/srcgenhost/internal/transport"
)

const testHash = "0123abcd"

type recordingListener struct {
	mu         sync.Mutex
	received   int
	completed  int
	keepAlives []time.Duration
	rude       int
	reached    int
	outcomes   []transport.CompletionReason
}

func (l *recordingListener) UpdateKeepAlive(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keepAlives = append(l.keepAlives, d)
}

func (l *recordingListener) ConnectionListening() {}

func (l *recordingListener) ConnectionReceived() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received++
}

func (l *recordingListener) ConnectionCompleted(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed += n
}

func (l *recordingListener) ConnectionRudelyEnded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rude++
}

func (l *recordingListener) KeepAliveReached() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reached++
}

func (l *recordingListener) ConnectionOutcome(r transport.CompletionReason, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, r)
}

type listenerSnapshot struct {
	received   int
	completed  int
	keepAlives []time.Duration
	rude       int
	reached    int
	outcomes   []transport.CompletionReason
}

func (l *recordingListener) snapshot() listenerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return listenerSnapshot{
		received:   l.received,
		completed:  l.completed,
		keepAlives: append([]time.Duration(nil), l.keepAlives...),
		rude:       l.rude,
		reached:    l.reached,
		outcomes:   append([]transport.CompletionReason(nil), l.outcomes...),
	}
}

func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sgh")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

type running struct {
	ctrl *Controller
	done chan error
}

func startController(t *testing.T, dir string, h transport.Handler, keepAlive time.Duration, l DiagnosticListener) running {
	t.Helper()
	ctrl := NewController(h, Options{
		PipeName:          "pipe",
		TempDir:           dir,
		KeepAlive:         keepAlive,
		PollInterval:      10 * time.Millisecond,
		CompatibilityHash: testHash,
		Listener:          l,
	})
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	select {
	case <-ctrl.Ready():
	case err := <-done:
		t.Fatalf("controller exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not start listening")
	}
	return running{ctrl: ctrl, done: done}
}

func (r running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
		return nil
	}
}

func dial(t *testing.T, ctrl *Controller) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, ctrl.SocketPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req *protocol.Request) protocol.Response {
	t.Helper()
	_, err := req.WriteTo(conn)
	require.NoError(t, err)
	resp, err := protocol.ReadResponse(conn)
	require.NoError(t, err)
	return resp
}

func generationRequest(keepAlive string) *protocol.Request {
	return protocol.NewGenerationRequest("/work", "/tmp", testHash, []string{"env.yaml", "out.txt", "log.bin"}, keepAlive)
}

func completed() transport.Handler {
	return transport.HandlerFunc(func(context.Context, *protocol.Request) protocol.Response {
		return protocol.CompletedResponse{UTF8Output: true, Output: "done"}
	})
}

func TestController_SingleInstance(t *testing.T) {
	dir := socketDir(t)
	first := startController(t, dir, completed(), KeepAliveInfinite, nil)
	require.Eventually(t, func() bool { return first.ctrl.State() == StateListening }, 2*time.Second, 5*time.Millisecond)

	second := NewController(completed(), Options{PipeName: "pipe", TempDir: dir, CompatibilityHash: testHash})
	err := second.Run(context.Background())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryLifecycle))
	assert.Equal(t, ferrors.ExitServerAlreadyRunning, ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
	assert.Equal(t, StateStopped, second.State())

	// The loser never touched the socket: the first server still answers.
	resp := roundTrip(t, dial(t, first.ctrl), protocol.NewShutdownRequest(testHash))
	require.IsType(t, protocol.ShutdownResponse{}, resp)
	assert.Equal(t, int32(os.Getpid()), resp.(protocol.ShutdownResponse).ServerPID)
	require.NoError(t, first.wait(t))

	_, err = os.Stat(first.ctrl.SocketPath())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestController_ZeroKeepAliveServesOneRequest(t *testing.T) {
	l := &recordingListener{}
	r := startController(t, socketDir(t), completed(), 0, l)

	resp := roundTrip(t, dial(t, r.ctrl), generationRequest(""))
	assert.Equal(t, protocol.CompletedResponse{UTF8Output: true, Output: "done"}, resp)
	require.NoError(t, r.wait(t))

	snap := l.snapshot()
	assert.Equal(t, 1, snap.received)
	assert.Equal(t, 1, snap.completed)
	assert.Equal(t, []transport.CompletionReason{transport.CompilationCompleted}, snap.outcomes)
	assert.Zero(t, snap.reached)
}

func TestController_KeepAliveElapses(t *testing.T) {
	l := &recordingListener{}
	r := startController(t, socketDir(t), completed(), 50*time.Millisecond, l)

	require.NoError(t, r.wait(t))
	assert.Equal(t, 1, l.snapshot().reached)
	assert.Zero(t, l.snapshot().received)
}

func TestController_RequestKeepAliveReplacesTimeout(t *testing.T) {
	l := &recordingListener{}
	r := startController(t, socketDir(t), completed(), KeepAliveInfinite, l)

	roundTrip(t, dial(t, r.ctrl), generationRequest("0"))
	require.NoError(t, r.wait(t))

	assert.Equal(t, []time.Duration{0}, l.snapshot().keepAlives)
	assert.Equal(t, time.Duration(0), r.ctrl.KeepAlive())
}

func TestController_RequestKeepAliveExtendsTimeout(t *testing.T) {
	l := &recordingListener{}
	r := startController(t, socketDir(t), completed(), 0, l)

	roundTrip(t, dial(t, r.ctrl), generationRequest("600"))
	require.Eventually(t, func() bool { return r.ctrl.State() == StateIdleCountdown }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 10*time.Minute, r.ctrl.KeepAlive())

	roundTrip(t, dial(t, r.ctrl), protocol.NewShutdownRequest(testHash))
	require.NoError(t, r.wait(t))
}

func TestController_DisconnectDuringGeneration(t *testing.T) {
	canceled := make(chan struct{})
	started := make(chan struct{})
	h := transport.HandlerFunc(func(ctx context.Context, _ *protocol.Request) protocol.Response {
		close(started)
		<-ctx.Done()
		close(canceled)
		return protocol.CompletedResponse{}
	})
	l := &recordingListener{}
	r := startController(t, socketDir(t), h, KeepAliveInfinite, l)

	conn := dial(t, r.ctrl)
	_, err := generationRequest("").WriteTo(conn)
	require.NoError(t, err)
	<-started
	require.NoError(t, conn.Close())

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("generation was not canceled")
	}
	require.Eventually(t, func() bool { return l.snapshot().completed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []transport.CompletionReason{transport.ClientDisconnect}, l.snapshot().outcomes)

	// The server keeps serving.
	resp := roundTrip(t, dial(t, r.ctrl), protocol.NewShutdownRequest(testHash))
	require.IsType(t, protocol.ShutdownResponse{}, resp)
	require.NoError(t, r.wait(t))
}

func TestController_RejectsAfterShutdownStarted(t *testing.T) {
	release := make(chan struct{})
	var calls sync.WaitGroup
	h := transport.HandlerFunc(func(context.Context, *protocol.Request) protocol.Response {
		calls.Done()
		<-release
		return protocol.CompletedResponse{Output: "slow"}
	})
	l := &recordingListener{}
	r := startController(t, socketDir(t), h, KeepAliveInfinite, l)

	calls.Add(1)
	slow := dial(t, r.ctrl)
	_, err := generationRequest("").WriteTo(slow)
	require.NoError(t, err)
	calls.Wait()

	idle := dial(t, r.ctrl)
	require.Eventually(t, func() bool { return l.snapshot().received == 2 }, 2*time.Second, 5*time.Millisecond)

	// Shutdown does not queue behind the running generation.
	resp := roundTrip(t, dial(t, r.ctrl), protocol.NewShutdownRequest(testHash))
	require.IsType(t, protocol.ShutdownResponse{}, resp)
	require.Eventually(t, r.ctrl.stopping.Load, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, protocol.RejectedResponse{}, roundTrip(t, idle, generationRequest("")))

	close(release)
	resp, err = protocol.ReadResponse(slow)
	require.NoError(t, err)
	assert.Equal(t, protocol.CompletedResponse{Output: "slow"}, resp)
	require.NoError(t, r.wait(t))
	assert.Equal(t, 3, l.snapshot().completed)
}

func TestController_HandlerPanicShutsDown(t *testing.T) {
	h := transport.HandlerFunc(func(context.Context, *protocol.Request) protocol.Response {
		panic("boom")
	})
	l := &recordingListener{}
	r := startController(t, socketDir(t), h, KeepAliveInfinite, l)

	conn := dial(t, r.ctrl)
	_, err := generationRequest("").WriteTo(conn)
	require.NoError(t, err)
	require.NoError(t, r.wait(t))

	snap := l.snapshot()
	assert.Equal(t, 1, snap.rude)
	assert.Equal(t, []transport.CompletionReason{transport.ClientException}, snap.outcomes)
}

func TestController_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := NewController(completed(), Options{
		PipeName: "pipe", TempDir: socketDir(t), KeepAlive: KeepAliveInfinite, CompatibilityHash: testHash,
	})
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	<-ctrl.Ready()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
	assert.Equal(t, StateStopped, ctrl.State())
}

func TestController_MismatchedHash(t *testing.T) {
	r := startController(t, socketDir(t), completed(), KeepAliveInfinite, nil)
	req := protocol.NewGenerationRequest("/w", "/t", "other", nil, "")
	assert.Equal(t, protocol.IncorrectHashResponse{}, roundTrip(t, dial(t, r.ctrl), req))

	roundTrip(t, dial(t, r.ctrl), protocol.NewShutdownRequest(testHash))
	require.NoError(t, r.wait(t))
}

func TestObservingListener_TracksActive(t *testing.T) {
	l := NewObservingListener(nil, nil)
	l.ConnectionReceived()
	l.ConnectionReceived()
	assert.Equal(t, 2, l.Active())
	l.ConnectionCompleted(1)
	l.ConnectionOutcome(transport.CompilationCompleted, time.Millisecond)
	assert.Equal(t, 1, l.Active())
	l.ConnectionCompleted(5)
	assert.Equal(t, 0, l.Active())
}

func TestController_ConnectionCapRejectsWithoutQueueing(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	h := transport.HandlerFunc(func(context.Context, *protocol.Request) protocol.Response {
		started <- struct{}{}
		<-release
		return protocol.CompletedResponse{Output: "slow"}
	})
	dir := socketDir(t)
	ctrl := NewController(h, Options{
		PipeName:          "pipe",
		TempDir:           dir,
		KeepAlive:         KeepAliveInfinite,
		PollInterval:      10 * time.Millisecond,
		MaxConnections:    1,
		CompatibilityHash: testHash,
	})
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	<-ctrl.Ready()
	r := running{ctrl: ctrl, done: done}

	slow := dial(t, ctrl)
	_, err := generationRequest("").WriteTo(slow)
	require.NoError(t, err)
	<-started

	// A second generation is over the cap and is turned away at once.
	assert.Equal(t, protocol.RejectedResponse{}, roundTrip(t, dial(t, ctrl), generationRequest("")))

	// A shutdown request is still answered while the slot is taken.
	shutdown := dial(t, ctrl)
	require.NoError(t, shutdown.SetDeadline(time.Now().Add(2*time.Second)))
	resp := roundTrip(t, shutdown, protocol.NewShutdownRequest(testHash))
	require.IsType(t, protocol.ShutdownResponse{}, resp)

	close(release)
	resp, err = protocol.ReadResponse(slow)
	require.NoError(t, err)
	assert.Equal(t, protocol.CompletedResponse{Output: "slow"}, resp)
	require.NoError(t, r.wait(t))
}

func TestController_AcquireBeforeServe(t *testing.T) {
	dir := socketDir(t)
	first := NewController(completed(), Options{PipeName: "pipe", TempDir: dir, CompatibilityHash: testHash})
	require.NoError(t, first.Acquire(context.Background()))

	second := NewController(completed(), Options{PipeName: "pipe", TempDir: dir, CompatibilityHash: testHash})
	err := second.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryLifecycle))
	err = second.Serve(context.Background())
	require.Error(t, err, "serving without the lock must fail")
	_, statErr := os.Stat(second.SocketPath())
	assert.ErrorIs(t, statErr, os.ErrNotExist)

	first.Release()
	require.NoError(t, second.Acquire(context.Background()))
	second.Release()
}
