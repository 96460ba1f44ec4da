package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/srcgenhost/internal/buildserver"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/metrics"
	"git.home.luguber.info/inful/srcgenhost/internal/observability"
	"git.home.luguber.info/inful/srcgenhost/internal/protocol"
	"git.home.luguber.info/inful/srcgenhost/internal/transport"
	"git.home.luguber.info/inful/srcgenhost/internal/version"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	PipeName string `name:"pipename" required:"" help:"Pipe name the server listens on"`
	Shutdown bool   `help:"Stop the server on the pipe instead of starting one"`
}

func (s *ServeCmd) Run(g *Global) error {
	if s.Shutdown {
		return shutdownServer(g, s.PipeName)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunServer(ctx, g, s.PipeName)
}

// RunServer serves pipeName until the keep-alive elapses, a shutdown
// request arrives or ctx ends. The single-instance lock is taken before
// anything else, so a losing contender leaves no trace.
func RunServer(ctx context.Context, g *Global, pipeName string) error {
	cfg := g.Config
	logger := g.Logger.With(logfields.PipeName(pipeName))

	reg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)

	var host *buildserver.Host
	ctrl := buildserver.NewController(transport.HandlerFunc(func(ctx context.Context, req *protocol.Request) protocol.Response {
		return host.Handle(ctx, req)
	}), buildserver.Options{
		PipeName:          pipeName,
		KeepAlive:         cfg.Server.KeepAlive.Std(),
		PollInterval:      cfg.Server.PollInterval.Std(),
		MaxConnections:    cfg.Server.MaxConnections,
		CompatibilityHash: version.CompatibilityHash(),
		Listener:          buildserver.NewObservingListener(logger, recorder),
		Logger:            logger,
	})
	if err := ctrl.Acquire(ctx); err != nil {
		return err
	}
	defer ctrl.Release()

	shutdownTracing, err := observability.SetupTracing(cfg.Tracing.Exporter, g.Err)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Debug("Tracer shutdown failed", logfields.Error(err))
		}
	}()

	registry, err := Registry()
	if err != nil {
		return err
	}
	host, err = buildserver.NewHost(buildserver.HostConfig{
		Config:   cfg,
		Registry: registry,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := host.Close(context.Background()); err != nil {
			logger.Warn("Failed to release host resources", logfields.Error(err))
		}
	}()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	host.Start(serveCtx)

	if addr := cfg.Server.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(serveCtx, addr, reg); err != nil {
				logger.Warn("Metrics endpoint stopped", logfields.Error(err))
			}
		}()
	}

	janitor, err := buildserver.NewJanitor(serveCtx, cfg.Isolation.JanitorEvery.Std(), host, logger)
	if err != nil {
		return err
	}
	janitor.Start()
	defer func() {
		if err := janitor.Stop(); err != nil {
			logger.Debug("Janitor shutdown failed", logfields.Error(err))
		}
	}()

	return ctrl.Serve(serveCtx)
}

// ShutdownCmd implements the 'shutdown' command.
type ShutdownCmd struct {
	PipeName string `name:"pipename" required:"" help:"Pipe name of the server to stop"`
}

func (s *ShutdownCmd) Run(g *Global) error {
	return shutdownServer(g, s.PipeName)
}

func shutdownServer(g *Global, pipeName string) error {
	pid, err := requestShutdown(context.Background(), g, pipeName)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.Out, "Build server %d stopped\n", pid)
	return nil
}
