// Package client runs a generation through the persistent build server,
// starting one when none is running, and falls back to generating in
// process when the server path is unavailable.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	"git.home.luguber.info/inful/srcgenhost/internal/engine"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/protocol"
	"git.home.luguber.info/inful/srcgenhost/internal/retry"
	"git.home.luguber.info/inful/srcgenhost/internal/transport"
	"git.home.luguber.info/inful/srcgenhost/internal/version"
)

const (
	// ExistingServerTimeout bounds connecting to a server known to run.
	ExistingServerTimeout = time.Second
	// NewServerTimeout bounds starting a server and connecting to it.
	NewServerTimeout = 20 * time.Second
)

// ErrServerNotRunning is returned by Shutdown when no server holds the pipe.
var ErrServerNotRunning = errors.New("client: no build server is running")

// LocalGenerator runs a generation in the current process.
type LocalGenerator interface {
	Generate(ctx context.Context, responseFile, outputFile string) (*engine.Result, error)
}

// SpawnFunc starts a detached server process for pipeName.
type SpawnFunc func(ctx context.Context, pipeName string) error

// Options configures Run and Shutdown.
type Options struct {
	// HostDir is the directory of the host binary. Defaults to the
	// directory of the running executable.
	HostDir string
	// TempDir holds the socket, the locks and the exchange files.
	TempDir string
	// PipeName overrides the name derived from ServerIdentity.
	PipeName string
	// KeepAlive is forwarded to the server in seconds when set.
	KeepAlive         string
	CompatibilityHash string
	ExistingTimeout   time.Duration
	NewTimeout        time.Duration
	// Spawn starts the server. Defaults to re-executing this binary.
	Spawn SpawnFunc
	// ServerArgs are appended to the default spawn command line.
	ServerArgs []string
	// Local runs the fallback generation. Without it a failed server
	// attempt is an error.
	Local  LocalGenerator
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.HostDir == "" {
		if exe, err := os.Executable(); err == nil {
			o.HostDir = filepath.Dir(exe)
		}
	}
	if o.CompatibilityHash == "" {
		o.CompatibilityHash = version.CompatibilityHash()
	}
	if o.ExistingTimeout <= 0 {
		o.ExistingTimeout = ExistingServerTimeout
	}
	if o.NewTimeout <= 0 {
		o.NewTimeout = NewServerTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Spawn == nil {
		o.Spawn = ExecSpawner("", o.TempDir, o.ServerArgs...)
	}
	return o
}

// Result is the outcome of Run.
type Result struct {
	Paths []string
	// Server is true when the build server produced the result.
	Server   bool
	PipeName string
}

// ServerIdentity returns the string hashed into the pipe name: one server
// per host, project, configuration, target framework and generator set.
func ServerIdentity(hostDir string, env buildenv.Environment) string {
	return hostDir + env.ProjectFile + env.Configuration + env.TargetFramework +
		strings.Join(env.SourceGenerators, ",")
}

// Run generates env through the build server, falling back to opts.Local
// when the server is unavailable or rejects the request.
func Run(ctx context.Context, env buildenv.Environment, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	work, err := os.MkdirTemp(opts.TempDir, "srcgenhost-run-")
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create exchange directory").Build()
	}
	defer os.RemoveAll(work)
	responseFile := filepath.Join(work, "environment.yaml")
	outputFile := filepath.Join(work, "output.txt")
	binlogFile := filepath.Join(work, "generation.binlog")
	if err := buildenv.Write(responseFile, env); err != nil {
		return nil, err
	}

	pipeName := opts.PipeName
	if pipeName == "" {
		pipeName, err = transport.PipeName(ServerIdentity(opts.HostDir, env))
	}
	switch {
	case err != nil:
		log.Debug("No pipe name, generating in process", logfields.Error(err))
	case transport.IsPipePathTooLong(pipeName, opts.TempDir):
		log.Debug("Pipe path too long, generating in process", logfields.PipeName(pipeName))
	default:
		log = log.With(logfields.PipeName(pipeName))
		resp, err := request(ctx, pipeName, opts, log, []string{responseFile, outputFile, binlogFile})
		if err == nil {
			if c, ok := resp.(protocol.CompletedResponse); ok {
				log.Debug("Server generation completed", slog.String("output", c.Output))
				paths, err := ReadOutputFile(outputFile)
				if err != nil {
					return nil, err
				}
				return &Result{Paths: paths, Server: true, PipeName: pipeName}, nil
			}
			log.Info("Build server did not complete the request, generating in process",
				slog.String("response", resp.Type().String()))
		} else {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Info("Build server unavailable, generating in process", logfields.Error(err))
		}
	}

	if opts.Local == nil {
		return nil, ferrors.TransportError("build server unavailable and no local generator configured").
			WithContext("pipe", pipeName).Build()
	}
	if _, err := opts.Local.Generate(ctx, responseFile, outputFile); err != nil {
		return nil, err
	}
	paths, err := ReadOutputFile(outputFile)
	if err != nil {
		return nil, err
	}
	return &Result{Paths: paths, PipeName: pipeName}, nil
}

// ReadOutputFile reads a ";"-joined list of generated paths.
func ReadOutputFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read generated file list").
			WithContext("path", path).Build()
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, ";"), nil
}

// request connects to (or starts) the server and exchanges one request.
func request(ctx context.Context, pipeName string, opts Options, log *slog.Logger, args []string) (protocol.Response, error) {
	conn, err := connect(ctx, pipeName, opts, log)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	cwd, _ := os.Getwd()
	req := protocol.NewGenerationRequest(cwd, opts.TempDir, opts.CompatibilityHash, args, opts.KeepAlive)
	return exchange(ctx, conn, req, log)
}

func exchange(ctx context.Context, conn net.Conn, req *protocol.Request, log *slog.Logger) (protocol.Response, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log.Debug("Begin writing request")
	if _, err := req.WriteTo(conn); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "write request").Build()
	}
	log.Debug("Begin reading response")
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		// A closed channel before a response means the server went away.
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "read response").Build()
	}
	return resp, nil
}

// connect dials a running server within the existing-server timeout, or
// starts one under the client lock and dials it within the new-server
// timeout.
func connect(ctx context.Context, pipeName string, opts Options, log *slog.Logger) (net.Conn, error) {
	socket := transport.SocketPath(opts.TempDir, pipeName)
	serverLock := transport.ServerLockPath(opts.TempDir, pipeName)

	if serverRunning(serverLock, socket) {
		conn, err := dialWithin(ctx, socket, opts.ExistingTimeout)
		if err == nil {
			return conn, nil
		}
		log.Debug("Running server did not answer", logfields.Error(err))
	}

	startCtx, cancel := context.WithTimeout(ctx, opts.NewTimeout)
	defer cancel()

	clientLock, err := transport.AcquireLock(startCtx, transport.ClientLockPath(opts.TempDir, pipeName), 25*time.Millisecond)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryLifecycle, "acquire client mutex").Fallback().Build()
	}
	defer func() { _ = clientLock.Unlock() }()

	// Another client may have started the server while we waited.
	if _, known := transport.IsLocked(serverLock); !known {
		return nil, ferrors.LifecycleError("server mutex unsupported").Fallback().Build()
	}
	if serverRunning(serverLock, socket) {
		return dialWithin(ctx, socket, opts.ExistingTimeout)
	}

	log.Info("Starting build server")
	if err := opts.Spawn(startCtx, pipeName); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryLifecycle, "start build server").Fallback().Build()
	}

	policy := retry.NewPolicy(retry.BackoffExponential, 20*time.Millisecond, 500*time.Millisecond, -1)
	var conn net.Conn
	err = policy.Do(startCtx, func(int) error {
		attemptCtx, cancel := context.WithTimeout(startCtx, opts.ExistingTimeout)
		defer cancel()
		c, err := transport.Dial(attemptCtx, socket)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "connect to new build server").
			WithContext("socket", socket).Build()
	}
	return conn, nil
}

// serverRunning reports whether a server holds the lock and has bound its
// socket. A lock held only by another client's check has no socket.
func serverRunning(lockPath, socket string) bool {
	if running, _ := transport.IsLocked(lockPath); !running {
		return false
	}
	fi, err := os.Stat(socket)
	return err == nil && fi.Mode()&os.ModeSocket != 0
}

func dialWithin(ctx context.Context, socket string, d time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	conn, err := transport.Dial(dialCtx, socket)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "connect to build server").
			WithContext("socket", socket).Build()
	}
	return conn, nil
}

// Shutdown asks the server on pipeName to stop and returns its PID.
func Shutdown(ctx context.Context, pipeName string, opts Options) (int, error) {
	opts = opts.withDefaults()
	socket := transport.SocketPath(opts.TempDir, pipeName)
	if !serverRunning(transport.ServerLockPath(opts.TempDir, pipeName), socket) {
		return 0, ErrServerNotRunning
	}
	conn, err := dialWithin(ctx, socket, opts.ExistingTimeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	resp, err := exchange(ctx, conn, protocol.NewShutdownRequest(opts.CompatibilityHash), opts.Logger)
	if err != nil {
		return 0, err
	}
	s, ok := resp.(protocol.ShutdownResponse)
	if !ok {
		return 0, ferrors.ProtocolError(fmt.Sprintf("unexpected %s response to shutdown", resp.Type())).Build()
	}
	return int(s.ServerPID), nil
}
