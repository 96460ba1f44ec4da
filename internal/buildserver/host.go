package buildserver

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	"git.home.luguber.info/inful/srcgenhost/internal/config"
	"git.home.luguber.info/inful/srcgenhost/internal/engine"
	"git.home.luguber.info/inful/srcgenhost/internal/events"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/generator"
	"git.home.luguber.info/inful/srcgenhost/internal/isolation"
	"git.home.luguber.info/inful/srcgenhost/internal/journal"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/metrics"
	"git.home.luguber.info/inful/srcgenhost/internal/project"
	"git.home.luguber.info/inful/srcgenhost/internal/protocol"
)

// ConsoleFlag is the optional fourth positional argument of a generation
// request.
const ConsoleFlag = "-console"

// HostConfig wires a Host.
type HostConfig struct {
	Config   *config.Config
	Registry *generator.Registry
	Recorder metrics.Recorder
	Logger   *slog.Logger
	// Observers are notified after every run, after the journal and events.
	Observers []engine.Observer
}

// Host owns the long-lived generation state: the project cache, the
// isolation pool and the engine. It answers generation requests and
// serves the single-use path.
type Host struct {
	engine   *engine.Engine
	projects *project.Cache
	pool     *isolation.Pool
	watcher  *project.Watcher
	journal  *journal.Store
	events   *events.Publisher
	logger   *slog.Logger
}

// NewHost builds a host from hc. The run journal and the event publisher
// are enabled by their config sections. An unreachable NATS server only
// disables events.
func NewHost(hc HostConfig) (*Host, error) {
	cfg := hc.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := hc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := hc.Registry
	if registry == nil {
		registry = generator.NewRegistry()
	}
	recorder := metrics.OrNoop(hc.Recorder)
	h := &Host{logger: logger}

	cacheOpts := []project.CacheOption{project.WithRecorder(recorder), project.WithLogger(logger)}
	if cfg.ProjectCache.Watch {
		cacheOpts = append(cacheOpts, project.WithLoadHook(func(p *project.Project) {
			if h.watcher != nil {
				h.watcher.Track(p)
			}
		}))
	}
	h.projects = project.NewCache(project.DefaultCacheSize, cacheOpts...)
	if cfg.ProjectCache.Watch {
		w, err := project.NewWatcher(h.projects, logger)
		if err != nil {
			logger.Warn("Project file watching disabled", logfields.Error(err))
		} else {
			h.watcher = w
		}
	}

	h.pool = isolation.NewPool(
		isolation.NewFactory(registry, cfg.Isolation.WasmEnabled, logger),
		isolation.WithRecorder(recorder),
		isolation.WithLogger(logger),
		isolation.WithIdleEvictAfter(cfg.Isolation.IdleEvictAfter.Std()),
	)

	engineOpts := []engine.Option{
		engine.WithProjectCache(h.projects),
		engine.WithRecorder(recorder),
		engine.WithLogger(logger),
		engine.WithSourceExtension(cfg.Engine.SourceExtension),
		engine.WithMaxParallel(cfg.Engine.MaxParallel),
	}
	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			_ = h.closeResources(context.Background())
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "open run journal").
				WithContext("path", cfg.Journal.Path).Build()
		}
		h.journal = store
		engineOpts = append(engineOpts, engine.WithObserver(JournalObserver(store, logger)))
	}
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			logger.Warn("Generation events disabled", logfields.Error(err))
		} else {
			h.events = pub
			engineOpts = append(engineOpts, engine.WithObserver(EventsObserver(pub, logger)))
		}
	}
	for _, o := range hc.Observers {
		engineOpts = append(engineOpts, engine.WithObserver(o))
	}
	h.engine = engine.New(h.pool, engineOpts...)
	return h, nil
}

// Start begins watching project files when enabled.
func (h *Host) Start(ctx context.Context) {
	if h.watcher != nil {
		h.watcher.Start(ctx)
	}
}

// Engine returns the host's engine.
func (h *Host) Engine() *engine.Engine { return h.engine }

// Journal returns the run journal, or nil when disabled.
func (h *Host) Journal() *journal.Store { return h.journal }

// Generate loads the response file, runs the engine and writes the
// ";"-joined generated paths to outputFile.
func (h *Host) Generate(ctx context.Context, responseFile, outputFile string) (*engine.Result, error) {
	env, err := buildenv.Load(responseFile)
	if err != nil {
		return nil, err
	}
	h.logger.Info("Generating files", logfields.Path(outputFile), logfields.Project(env.ProjectFile))
	res, err := h.engine.Generate(ctx, env)
	if err != nil {
		return nil, err
	}
	if err := WriteOutputFile(outputFile, res.Paths); err != nil {
		return nil, err
	}
	return res, nil
}

// WriteOutputFile writes paths joined by ";".
func WriteOutputFile(path string, paths []string) error {
	if err := os.WriteFile(path, []byte(strings.Join(paths, ";")), 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write generated file list").
			WithContext("path", path).Build()
	}
	return nil
}

// Handle implements transport.Handler. Arguments are the response file,
// the output file, the binlog file and an optional console flag.
func (h *Host) Handle(ctx context.Context, req *protocol.Request) protocol.Response {
	log := h.logger
	cwd := req.CurrentDirectory()
	args := req.CommandLineArguments()
	log.Debug("Generation request", slog.String("current_directory", cwd), slog.Any("arguments", args))

	if req.TempDirectory() == "" {
		log.Debug("Rejecting build due to missing temp directory")
		return protocol.RejectedResponse{}
	}
	if len(args) < 2 || args[0] == "" || args[1] == "" {
		log.Debug("Rejecting build with missing arguments", logfields.Count(len(args)))
		return protocol.RejectedResponse{}
	}
	responseFile := resolveIn(cwd, args[0])
	outputFile := resolveIn(cwd, args[1])
	console := len(args) > 3 && strings.EqualFold(args[3], ConsoleFlag)
	if len(args) > 2 && args[2] != "" {
		log.Debug("Binary log requested", logfields.Path(resolveIn(cwd, args[2])))
	}

	if _, err := h.Generate(ctx, responseFile, outputFile); err != nil {
		if console {
			log.Info("Generation failed", slog.String("message", engine.Message(err)))
		}
		if errors.Is(err, context.Canceled) {
			log.Debug("Generation canceled", logfields.Error(err))
		} else {
			log.Error("Generation failed", logfields.Error(err))
		}
		return protocol.RejectedResponse{}
	}
	return protocol.CompletedResponse{ReturnCode: 0, UTF8Output: true, Output: "empty output"}
}

// Sweep drops stale project evaluations and idle or outdated isolation
// environments.
func (h *Host) Sweep(ctx context.Context) (projects, envs int) {
	return h.projects.Sweep(), h.pool.Sweep(ctx)
}

// Close releases every resource the host owns.
func (h *Host) Close(ctx context.Context) error {
	return h.closeResources(ctx)
}

func (h *Host) closeResources(ctx context.Context) error {
	var errs []error
	if h.watcher != nil {
		errs = append(errs, h.watcher.Stop())
	}
	if h.pool != nil {
		errs = append(errs, h.pool.Close(ctx))
	}
	if h.journal != nil {
		errs = append(errs, h.journal.Close())
	}
	h.events.Close()
	return errors.Join(errs...)
}

func resolveIn(dir, p string) string {
	if dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// JournalObserver records every run in store.
func JournalObserver(store *journal.Store, logger *slog.Logger) engine.Observer {
	return func(ctx context.Context, r engine.Report) {
		err := store.Record(ctx, journal.Run{
			ID:            r.RunID,
			Project:       r.Project,
			Configuration: r.Configuration,
			Status:        r.Status,
			Started:       r.Started,
			Duration:      r.Duration,
			Paths:         r.Paths,
			Written:       r.Written,
			Unchanged:     r.Unchanged,
			Error:         r.Error,
		})
		if err != nil {
			logger.Warn("Failed to record run", logfields.RunID(r.RunID), logfields.Error(err))
		}
	}
}

// EventsObserver publishes a completed or failed event for every run.
func EventsObserver(pub *events.Publisher, logger *slog.Logger) engine.Observer {
	return func(ctx context.Context, r engine.Report) {
		typ := events.TypeCompleted
		if r.Status != engine.StatusSucceeded {
			typ = events.TypeFailed
		}
		err := pub.Publish(ctx, events.Event{
			Type:          typ,
			RunID:         r.RunID,
			Project:       r.Project,
			Configuration: r.Configuration,
			Status:        r.Status,
			DurationMS:    r.Duration.Milliseconds(),
			Paths:         r.Paths,
			Error:         r.Error,
		})
		if err != nil {
			logger.Warn("Failed to publish generation event", logfields.RunID(r.RunID), logfields.Error(err))
		}
	}
}
