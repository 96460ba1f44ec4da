package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	"git.home.luguber.info/inful/srcgenhost/internal/buildserver"
	"git.home.luguber.info/inful/srcgenhost/internal/engine"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/observability"
)

// GenerateCmd implements the single-use 'generate' command.
type GenerateCmd struct {
	Response string `arg:"" help:"Response file holding the build environment" type:"path"`
	Output   string `arg:"" help:"File receiving the ';'-joined generated paths" type:"path"`
	BinLog   string `arg:"" optional:"" help:"Binary log file, written when the environment enables it" type:"path"`
	Console  bool   `help:"Print generation failures to the console"`
}

func (c *GenerateCmd) Run(g *Global) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := buildenv.Load(c.Response)
	if err != nil {
		return err
	}
	logger := g.Logger
	if c.BinLog != "" && env.BinLogEnabled {
		f, err := openBinLog(c.BinLog)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		logger = slog.New(observability.TeeHandler(
			g.Logger.Handler(),
			slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}),
		))
	}

	shutdownTracing, err := observability.SetupTracing(g.Config.Tracing.Exporter, g.Err)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Debug("Tracer shutdown failed", logfields.Error(err))
		}
	}()

	reg, err := Registry()
	if err != nil {
		return err
	}
	host, err := buildserver.NewHost(buildserver.HostConfig{Config: g.Config, Registry: reg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := host.Close(context.Background()); err != nil {
			logger.Warn("Failed to release host resources", logfields.Error(err))
		}
	}()

	res, err := host.Generate(ctx, c.Response, c.Output)
	if err != nil {
		if c.Console {
			_, _ = fmt.Fprintln(g.Err, engine.Message(err))
		}
		return err
	}
	logger.Info("Generation completed", logfields.Count(len(res.Paths)), logfields.Path(c.Output))
	return nil
}

func openBinLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create binary log directory").
			WithContext("path", path).Build()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create binary log").
			WithContext("path", path).Build()
	}
	return f, nil
}
