package buildserver

import (
	"log/slog"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/metrics"
	"git.home.luguber.info/inful/srcgenhost/internal/transport"
)

// DiagnosticListener observes the controller's lifecycle. Every hook is
// called from the controller loop and must not block.
type DiagnosticListener interface {
	// UpdateKeepAlive is called when a request changes the idle timeout.
	UpdateKeepAlive(d time.Duration)
	// ConnectionListening is called each time the server waits for connections.
	ConnectionListening()
	// ConnectionReceived is called when a client connects.
	ConnectionReceived()
	// ConnectionCompleted is called when count connections finished.
	ConnectionCompleted(count int)
	// ConnectionRudelyEnded is called when a connection failed badly enough
	// that the server shuts down.
	ConnectionRudelyEnded()
	// KeepAliveReached is called when the idle timeout elapsed.
	KeepAliveReached()
}

// OutcomeListener is optionally implemented by a DiagnosticListener that
// wants the reason and duration of each finished connection.
type OutcomeListener interface {
	ConnectionOutcome(reason transport.CompletionReason, d time.Duration)
}

// NoopListener ignores every hook.
type NoopListener struct{}

func (NoopListener) UpdateKeepAlive(time.Duration) {}
func (NoopListener) ConnectionListening()          {}
func (NoopListener) ConnectionReceived()           {}
func (NoopListener) ConnectionCompleted(int)       {}
func (NoopListener) ConnectionRudelyEnded()        {}
func (NoopListener) KeepAliveReached()             {}

// ObservingListener turns the hooks into structured logs and metrics.
type ObservingListener struct {
	logger   *slog.Logger
	recorder metrics.Recorder
	active   atomic.Int64
}

// NewObservingListener returns a listener logging to logger and recording
// into recorder. Either may be nil.
func NewObservingListener(logger *slog.Logger, recorder metrics.Recorder) *ObservingListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObservingListener{logger: logger, recorder: metrics.OrNoop(recorder)}
}

func (l *ObservingListener) UpdateKeepAlive(d time.Duration) {
	l.logger.Info("Keep-alive updated", logfields.KeepAlive(d))
}

func (l *ObservingListener) ConnectionListening() {
	l.logger.Debug("Waiting for connections")
}

func (l *ObservingListener) ConnectionReceived() {
	n := l.active.Add(1)
	l.recorder.SetActiveConnections(int(n))
	l.logger.Debug("Connection received", logfields.Count(int(n)))
}

func (l *ObservingListener) ConnectionCompleted(count int) {
	n := l.active.Add(-int64(count))
	if n < 0 {
		l.active.Store(0)
		n = 0
	}
	l.recorder.SetActiveConnections(int(n))
}

func (l *ObservingListener) ConnectionRudelyEnded() {
	l.logger.Warn("Connection ended rudely, shutting down")
}

func (l *ObservingListener) KeepAliveReached() {
	l.logger.Info("Keep-alive reached, shutting down")
}

// ConnectionOutcome implements OutcomeListener.
func (l *ObservingListener) ConnectionOutcome(reason transport.CompletionReason, d time.Duration) {
	l.recorder.IncConnectionOutcome(reason.String())
	l.recorder.ObserveConnectionDuration(d)
	l.logger.Debug("Connection completed", logfields.Reason(reason.String()), logfields.Duration(d))
}

// Active returns the number of connections in flight.
func (l *ObservingListener) Active() int { return int(l.active.Load()) }
