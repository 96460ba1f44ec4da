package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/protocol"
)

// DefaultPollInterval is how often a dispatching connection checks its peer.
const DefaultPollInterval = 100 * time.Millisecond

// CompletionReason describes how a connection ended.
type CompletionReason int

const (
	CompilationNotStarted CompletionReason = iota
	CompilationCompleted
	ClientDisconnect
	ClientException
	ClientShutdownRequest
)

func (r CompletionReason) String() string {
	switch r {
	case CompilationNotStarted:
		return "not_started"
	case CompilationCompleted:
		return "completed"
	case ClientDisconnect:
		return "client_disconnect"
	case ClientException:
		return "client_exception"
	case ClientShutdownRequest:
		return "client_shutdown_request"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// SessionState is the lifecycle phase of a connection.
type SessionState int32

const (
	StateReading SessionState = iota
	StateDispatching
	StateWritingResponse
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateWritingResponse:
		return "writing_response"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler runs a generation request and produces its response.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) protocol.Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *protocol.Request) protocol.Response {
	return f(ctx, req)
}

// Result is the outcome of serving one connection.
type Result struct {
	Reason CompletionReason
	// KeepAlive is set when the request asked for a new idle timeout.
	KeepAlive    time.Duration
	HasKeepAlive bool
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	// CompatibilityHash is compared case-insensitively with the request hash.
	CompatibilityHash string
	PollInterval      time.Duration
	Logger            *slog.Logger
	// VerifyPeer runs before the request is dispatched. Defaults to CheckPeerIdentity.
	VerifyPeer func(net.Conn) error
}

// Connection serves exactly one exchange and owns its channel.
type Connection struct {
	id      string
	conn    net.Conn
	handler Handler
	opts    ConnectionOptions
	state   atomic.Int32
}

// NewConnection wraps an accepted channel.
func NewConnection(id string, conn net.Conn, handler Handler, opts ConnectionOptions) *Connection {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.VerifyPeer == nil {
		opts.VerifyPeer = CheckPeerIdentity
	}
	opts.Logger = opts.Logger.With(logfields.ConnectionID(id))
	return &Connection{id: id, conn: conn, handler: handler, opts: opts}
}

// ID returns the logging identifier of the connection.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle phase.
func (c *Connection) State() SessionState { return SessionState(c.state.Load()) }

func (c *Connection) setState(s SessionState) { c.state.Store(int32(s)) }

// Serve reads one request and answers it. When allowGeneration is false the
// request is answered with Rejected. The channel is closed on every path.
func (c *Connection) Serve(ctx context.Context, allowGeneration bool) (res Result) {
	log := c.opts.Logger
	defer func() {
		if r := recover(); r != nil {
			log.Error("Connection panicked", slog.Any("panic", r))
			res = Result{Reason: ClientException}
		}
		c.close()
	}()

	c.setState(StateReading)
	log.Debug("Begin reading request")
	req, err := protocol.ReadRequest(c.conn)
	if err == nil {
		err = c.opts.VerifyPeer(c.conn)
	}
	if err != nil {
		log.Error("Error reading generation request", logfields.Error(err))
		return Result{Reason: CompilationNotStarted}
	}
	log.Debug("End reading request")

	switch {
	case req.ProtocolVersion != protocol.ProtocolVersion:
		log.Warn("Rejecting request with mismatched protocol version",
			slog.Uint64("version", uint64(req.ProtocolVersion)))
		return c.reply(protocol.MismatchedVersionResponse{}, CompilationNotStarted)
	case !req.HashMatches(c.opts.CompatibilityHash):
		log.Warn("Rejecting request with incorrect compatibility hash",
			slog.String("hash", req.CompatibilityHash))
		return c.reply(protocol.IncorrectHashResponse{}, CompilationNotStarted)
	case req.IsShutdown():
		return c.reply(protocol.ShutdownResponse{ServerPID: int32(os.Getpid())}, ClientShutdownRequest)
	case !allowGeneration:
		return c.reply(protocol.RejectedResponse{}, CompilationNotStarted)
	}

	return c.dispatch(ctx, req)
}

func (c *Connection) reply(resp protocol.Response, reason CompletionReason) Result {
	c.setState(StateWritingResponse)
	if err := protocol.WriteResponse(c.conn, resp); err != nil {
		c.opts.Logger.Debug("Failed to write response", slog.String("type", resp.Type().String()), logfields.Error(err))
	}
	return Result{Reason: reason}
}

type handled struct {
	resp     protocol.Response
	panicked any
}

func (c *Connection) dispatch(ctx context.Context, req *protocol.Request) Result {
	log := c.opts.Logger
	res := Result{}
	res.KeepAlive, res.HasKeepAlive = req.KeepAlive()

	c.setState(StateDispatching)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan handled, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handled{panicked: r}
			}
		}()
		log.Debug("Begin generation")
		done <- handled{resp: c.handler.Handle(runCtx, req)}
	}()

	monitorCtx, stopMonitor := context.WithCancel(runCtx)
	disconnected := make(chan struct{})
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		if c.monitorDisconnect(monitorCtx) {
			close(disconnected)
		}
	}()

	select {
	case h := <-done:
		stopMonitor()
		<-monitorDone
		if h.panicked != nil {
			log.Error("Generation panicked", slog.Any("panic", h.panicked))
			res.Reason = ClientException
			return res
		}
		log.Debug("End generation")
		c.setState(StateWritingResponse)
		if err := protocol.WriteResponse(c.conn, h.resp); err != nil {
			log.Debug("Client went away before the response was written", logfields.Error(err))
			res.Reason = ClientDisconnect
			return res
		}
		res.Reason = CompilationCompleted
	case <-disconnected:
		log.Info("Client disconnected during generation")
		cancel()
		res.Reason = ClientDisconnect
	}
	return res
}

// monitorDisconnect polls the channel every poll interval until the peer
// goes away (true) or ctx ends (false). The client never writes after its
// request, so any read result other than a timeout means it is gone.
func (c *Connection) monitorDisconnect(ctx context.Context) bool {
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var buf [1]byte
	for {
		if ctx.Err() != nil {
			return false
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PollInterval))
		n, err := c.conn.Read(buf[:])
		if ctx.Err() != nil {
			return false
		}
		var ne net.Error
		switch {
		case err == nil && n > 0:
			c.opts.Logger.Debug("Unexpected data from client during generation")
		case errors.As(err, &ne) && ne.Timeout():
		case err != nil:
			return true
		}
	}
}

func (c *Connection) close() {
	c.setState(StateClosed)
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.opts.Logger.Debug("Error closing connection", logfields.Error(err))
	}
}
