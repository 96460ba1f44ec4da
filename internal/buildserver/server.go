// Package buildserver runs the persistent generation server: a
// single-instance controller accepting connections on a Unix socket and
// a host handler running the generation engine for each request.
package buildserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/observability"
	"git.home.luguber.info/inful/srcgenhost/internal/protocol"
	"git.home.luguber.info/inful/srcgenhost/internal/transport"
)

// KeepAliveInfinite disables the idle timeout.
const KeepAliveInfinite time.Duration = -1

const (
	maxAcceptDelay  = time.Second
	lockRetryWindow = 250 * time.Millisecond
)

// State is the controller's keep-alive state.
type State int32

const (
	StateStarting State = iota
	StateListening
	StateServing
	StateIdleCountdown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateServing:
		return "serving"
	case StateIdleCountdown:
		return "idle_countdown"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Controller.
type Options struct {
	PipeName string
	// TempDir holds the socket and the lock file. Defaults to os.TempDir().
	TempDir string
	// KeepAlive is the idle timeout after the last connection completes.
	// Zero serves exactly one request; KeepAliveInfinite never times out.
	KeepAlive    time.Duration
	PollInterval time.Duration
	// MaxConnections caps concurrently running requests. Requests over
	// the cap are answered with Rejected; shutdown and handshake replies
	// are never held back. Zero means no cap.
	MaxConnections    int
	CompatibilityHash string
	Listener          DiagnosticListener
	Logger            *slog.Logger
	// VerifyPeer overrides the transport's peer identity check.
	VerifyPeer func(net.Conn) error
}

// Controller owns the single-instance lock, the listening socket and the
// keep-alive countdown.
type Controller struct {
	opts     Options
	handler  transport.Handler
	listener DiagnosticListener
	logger   *slog.Logger

	state    atomic.Int32
	stopping atomic.Bool
	ready    chan struct{}
	slots    *semaphore.Weighted

	lock *transport.Lock

	mu        sync.Mutex
	keepAlive time.Duration
	ln        net.Listener
	quit      chan struct{}
	closeOnce sync.Once
}

type connResult struct {
	res      transport.Result
	duration time.Duration
}

// NewController returns a controller dispatching requests to handler.
func NewController(handler transport.Handler, opts Options) *Controller {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = transport.DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	l := opts.Listener
	if l == nil {
		l = NoopListener{}
	}
	var slots *semaphore.Weighted
	if opts.MaxConnections > 0 {
		slots = semaphore.NewWeighted(int64(opts.MaxConnections))
	}
	return &Controller{
		opts:      opts,
		handler:   handler,
		listener:  l,
		logger:    opts.Logger.With(logfields.PipeName(opts.PipeName)),
		ready:     make(chan struct{}),
		keepAlive: opts.KeepAlive,
		quit:      make(chan struct{}),
		slots:     slots,
	}
}

// State returns the current keep-alive state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Ready is closed once the socket accepts connections.
func (c *Controller) Ready() <-chan struct{} { return c.ready }

// KeepAlive returns the current idle timeout.
func (c *Controller) KeepAlive() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive
}

// SocketPath returns the socket the controller listens on.
func (c *Controller) SocketPath() string {
	return transport.SocketPath(c.opts.TempDir, c.opts.PipeName)
}

func (c *Controller) setState(s State) { c.state.Store(int32(s)) }

// Run acquires the server lock and serves until the keep-alive elapses,
// a shutdown request arrives or ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	return c.Serve(ctx)
}

// Acquire takes the single-instance lock. A held lock yields a lifecycle
// error.
func (c *Controller) Acquire(ctx context.Context) error {
	lockPath := transport.ServerLockPath(c.opts.TempDir, c.opts.PipeName)
	// Clients hold the lock briefly while checking it, so a held lock is
	// retried for a short window before giving up.
	lockCtx, cancel := context.WithTimeout(ctx, lockRetryWindow)
	lock, err := transport.AcquireLock(lockCtx, lockPath, 10*time.Millisecond)
	cancel()
	switch {
	case errors.Is(err, transport.ErrLocked):
		c.setState(StateStopped)
		return ferrors.LifecycleError("a build server is already running").
			WithContext("pipe", c.opts.PipeName).
			WithContext("pid", transport.HolderPID(lockPath)).Build()
	case err != nil:
		c.setState(StateStopped)
		return ferrors.LifecycleError("cannot create the server mutex").
			WithCause(err).WithContext("path", lockPath).Fallback().Build()
	}
	c.mu.Lock()
	c.lock = lock
	c.mu.Unlock()
	return nil
}

// Release gives up the lock without serving. Serve releases it itself.
func (c *Controller) Release() {
	c.mu.Lock()
	lock := c.lock
	c.lock = nil
	c.mu.Unlock()
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		c.logger.Debug("Failed to release server lock", logfields.Error(err))
	}
}

// Serve listens on the socket and runs the connection loop. Acquire must
// have succeeded first; the lock is released on return.
func (c *Controller) Serve(ctx context.Context) error {
	defer c.setState(StateStopped)
	c.mu.Lock()
	held := c.lock != nil
	c.mu.Unlock()
	if !held {
		return ferrors.LifecycleError("server lock is not held").
			WithContext("pipe", c.opts.PipeName).Build()
	}
	defer c.Release()

	path, err := transport.ResolveSocketPath(c.opts.TempDir, c.opts.PipeName)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryTransport, "invalid pipe name").Fallback().Build()
	}
	ln, err := transport.Listen(path)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryTransport, "cannot listen on pipe").
			WithContext("path", path).Fallback().Build()
	}
	c.mu.Lock()
	c.ln = ln
	c.mu.Unlock()
	defer func() {
		c.closeListener()
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("Failed to remove socket", logfields.Path(path), logfields.Error(err))
		}
	}()

	c.logger.Info("Build server listening", logfields.Path(path), logfields.PID(os.Getpid()),
		logfields.KeepAlive(c.opts.KeepAlive))
	close(c.ready)
	return c.loop(ctx, ln)
}

func (c *Controller) loop(ctx context.Context, ln net.Listener) error {
	conns := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	go c.accept(ln, conns, acceptErr)

	results := make(chan connResult)
	active := 0
	done := ctx.Done()

	var timer *time.Timer
	var timeout <-chan time.Time
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timeout = nil, nil
	}
	arm := func() {
		disarm()
		if d := c.KeepAlive(); d > 0 {
			timer = time.NewTimer(d)
			timeout = timer.C
			c.setState(StateIdleCountdown)
			return
		}
		c.setState(StateListening)
	}
	defer disarm()

	arm()
	c.listener.ConnectionListening()

	for {
		select {
		case conn := <-conns:
			disarm()
			active++
			c.setState(StateServing)
			c.listener.ConnectionReceived()
			go c.serve(ctx, conn, results)

		case r := <-results:
			active--
			c.listener.ConnectionCompleted(1)
			if ol, ok := c.listener.(OutcomeListener); ok {
				ol.ConnectionOutcome(r.res.Reason, r.duration)
			}
			if r.res.HasKeepAlive {
				c.mu.Lock()
				c.keepAlive = r.res.KeepAlive
				c.mu.Unlock()
				c.listener.UpdateKeepAlive(r.res.KeepAlive)
			}
			switch r.res.Reason {
			case transport.ClientShutdownRequest:
				c.logger.Info("Shutdown requested")
				c.beginShutdown()
			case transport.ClientException:
				c.listener.ConnectionRudelyEnded()
				c.beginShutdown()
			}
			if active > 0 {
				continue
			}
			if c.stopping.Load() {
				return nil
			}
			if c.KeepAlive() == 0 {
				c.logger.Info("Single request served, shutting down")
				c.beginShutdown()
				return nil
			}
			arm()
			c.listener.ConnectionListening()

		case <-timeout:
			timer, timeout = nil, nil
			if active == 0 {
				c.listener.KeepAliveReached()
				c.beginShutdown()
				return nil
			}

		case err := <-acceptErr:
			acceptErr = nil
			c.beginShutdown()
			if active == 0 {
				return err
			}
			c.logger.Error("Accept loop failed, draining connections", logfields.Error(err))

		case <-done:
			done = nil
			c.logger.Info("Build server stopping", logfields.Count(active))
			c.beginShutdown()
			if active == 0 {
				return nil
			}
		}
	}
}

// accept hands connections to the loop until the listener closes.
// Transient failures back off up to maxAcceptDelay.
func (c *Controller) accept(ln net.Listener, conns chan<- net.Conn, errs chan<- error) {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || c.stopping.Load() {
				return
			}
			if !temporaryAcceptError(err) {
				errs <- ferrors.WrapError(err, ferrors.CategoryTransport, "accept failed").Build()
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(delay*2, maxAcceptDelay)
			}
			c.logger.Warn("Accept failed, retrying", logfields.Error(err), logfields.Duration(delay))
			select {
			case <-time.After(delay):
				continue
			case <-c.quit:
				return
			}
		}
		delay = 0
		select {
		case conns <- conn:
		case <-c.quit:
			_ = conn.Close()
			return
		}
	}
}

func temporaryAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM)
}

func (c *Controller) serve(ctx context.Context, conn net.Conn, results chan<- connResult) {
	start := time.Now()
	id := uuid.NewString()
	ctx = observability.WithConnectionID(ctx, id)
	ctx, span := observability.StartConnectionSpan(ctx, id)

	handler := transport.HandlerFunc(func(ctx context.Context, req *protocol.Request) protocol.Response {
		if c.stopping.Load() {
			return protocol.RejectedResponse{}
		}
		if c.slots != nil {
			if !c.slots.TryAcquire(1) {
				c.logger.Warn("Too many concurrent requests, rejecting",
					logfields.Count(c.opts.MaxConnections))
				return protocol.RejectedResponse{}
			}
			defer c.slots.Release(1)
		}
		return c.handler.Handle(ctx, req)
	})
	res := transport.NewConnection(id, conn, handler, transport.ConnectionOptions{
		CompatibilityHash: c.opts.CompatibilityHash,
		PollInterval:      c.opts.PollInterval,
		Logger:            c.logger,
		VerifyPeer:        c.opts.VerifyPeer,
	}).Serve(ctx, !c.stopping.Load())
	observability.EndSpan(span, nil)

	results <- connResult{res: res, duration: time.Since(start)}
}

// beginShutdown stops accepting connections. New requests on already
// accepted connections are rejected.
func (c *Controller) beginShutdown() {
	c.stopping.Store(true)
	c.closeListener()
}

func (c *Controller) closeListener() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.mu.Lock()
		ln := c.ln
		c.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}
	})
}
