package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	"git.home.luguber.info/inful/srcgenhost/internal/buildserver"
	"git.home.luguber.info/inful/srcgenhost/internal/client"
	"git.home.luguber.info/inful/srcgenhost/internal/engine"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
)

// RunCmd implements the 'run' command: the client side of the build server.
type RunCmd struct {
	Response  string        `arg:"" help:"Response file holding the build environment" type:"path"`
	PipeName  string        `name:"pipename" help:"Pipe name override; derived from the environment when empty"`
	KeepAlive time.Duration `help:"Idle timeout requested from the server"`
	NoServer  bool          `help:"Generate in this process without contacting a server"`
}

func (r *RunCmd) Run(root *CLI, g *Global) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := buildenv.Load(r.Response)
	if err != nil {
		return err
	}
	local := &localHost{g: g}
	if r.NoServer {
		return local.run(ctx, env, g)
	}

	opts := client.Options{
		PipeName: r.PipeName,
		Local:    local,
		Logger:   g.Logger,
	}
	if r.KeepAlive > 0 {
		opts.KeepAlive = strconv.Itoa(int(r.KeepAlive / time.Second))
	}
	if root.Config != "" {
		opts.ServerArgs = []string{"--config=" + root.Config}
	}
	res, err := client.Run(ctx, env, opts)
	if err != nil {
		return err
	}
	g.Logger.Debug("Generation finished", logfields.PipeName(res.PipeName), logfields.Count(len(res.Paths)))
	for _, p := range res.Paths {
		_, _ = fmt.Fprintln(g.Out, p)
	}
	return nil
}

// localHost builds a host on demand for the in-process fallback.
type localHost struct {
	g *Global
}

func (l *localHost) Generate(ctx context.Context, responseFile, outputFile string) (*engine.Result, error) {
	reg, err := Registry()
	if err != nil {
		return nil, err
	}
	host, err := buildserver.NewHost(buildserver.HostConfig{Config: l.g.Config, Registry: reg, Logger: l.g.Logger})
	if err != nil {
		return nil, err
	}
	defer func() { _ = host.Close(context.Background()) }()
	return host.Generate(ctx, responseFile, outputFile)
}

func (l *localHost) run(ctx context.Context, env buildenv.Environment, g *Global) error {
	work, err := os.MkdirTemp("", "srcgenhost-local-")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create exchange directory").Build()
	}
	defer os.RemoveAll(work)
	response := filepath.Join(work, "environment.yaml")
	output := filepath.Join(work, "output.txt")
	if err := buildenv.Write(response, env); err != nil {
		return err
	}
	res, err := l.Generate(ctx, response, output)
	if err != nil {
		return err
	}
	for _, p := range res.Paths {
		_, _ = fmt.Fprintln(g.Out, p)
	}
	return nil
}

func requestShutdown(ctx context.Context, g *Global, pipeName string) (int, error) {
	pid, err := client.Shutdown(ctx, pipeName, client.Options{Logger: g.Logger})
	if errors.Is(err, client.ErrServerNotRunning) {
		return 0, ferrors.WrapError(err, ferrors.CategoryNotFound, "no build server is running").
			WithContext("pipe", pipeName).Build()
	}
	return pid, err
}
