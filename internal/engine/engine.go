// Package engine runs the generators of a project in dependency order.
// Each scheduling level runs concurrently against an immutable compilation
// snapshot; the artifacts of one level are compiled in before the next.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	"git.home.luguber.info/inful/srcgenhost/internal/compilation"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/generator"
	"git.home.luguber.info/inful/srcgenhost/internal/isolation"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/metrics"
	"git.home.luguber.info/inful/srcgenhost/internal/observability"
	"git.home.luguber.info/inful/srcgenhost/internal/project"
	"git.home.luguber.info/inful/srcgenhost/internal/scheduler"
)

// DefaultSourceExtension is the extension of generated files.
const DefaultSourceExtension = "go"

// Run statuses reported to observers.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Result describes a successful run.
type Result struct {
	RunID string
	// Paths lists every generated file, written or unchanged, in the
	// order the artifacts were produced.
	Paths          []string
	Groups         int
	Recompilations int
	Written        int
	Unchanged      int
	Duration       time.Duration
}

// Report is handed to observers after every run, successful or not.
type Report struct {
	RunID         string
	Project       string
	Configuration string
	Status        string
	Started       time.Time
	Duration      time.Duration
	Paths         []string
	Written       int
	Unchanged     int
	Error         string
}

// Observer is notified when a run finishes.
type Observer func(ctx context.Context, r Report)

// Engine runs generators. It is safe for concurrent use.
type Engine struct {
	projects    *project.Cache
	pool        *isolation.Pool
	provider    *compilation.Provider
	recorder    metrics.Recorder
	logger      *slog.Logger
	observers   []Observer
	extension   string
	maxParallel int
}

// Option configures an Engine.
type Option func(*Engine)

// WithProjectCache shares a project cache with the engine.
func WithProjectCache(c *project.Cache) Option {
	return func(e *Engine) { e.projects = c }
}

// WithParser sets the parser used for compilation snapshots.
func WithParser(p compilation.Parser) Option {
	return func(e *Engine) { e.provider = compilation.NewProvider(p) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = metrics.OrNoop(r) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver adds a run observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithSourceExtension sets the generated file extension.
func WithSourceExtension(ext string) Option {
	return func(e *Engine) {
		if ext = strings.TrimPrefix(strings.TrimSpace(ext), "."); ext != "" {
			e.extension = ext
		}
	}
}

// WithMaxParallel bounds the generators running at once within a group.
// Zero means GOMAXPROCS.
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.maxParallel = n }
}

// New creates an engine that obtains its isolation environments from pool.
func New(pool *isolation.Pool, opts ...Option) *Engine {
	e := &Engine{
		pool:      pool,
		recorder:  metrics.NoopRecorder{},
		logger:    slog.Default(),
		extension: DefaultSourceExtension,
	}
	for _, o := range opts {
		o(e)
	}
	if e.projects == nil {
		e.projects = project.NewCache(0, project.WithRecorder(e.recorder), project.WithLogger(e.logger))
	}
	if e.provider == nil {
		e.provider = compilation.NewProvider(compilation.DefaultParser())
	}
	if e.maxParallel <= 0 {
		e.maxParallel = runtime.GOMAXPROCS(0)
	}
	return e
}

// Generate runs every generator of the project described by env and
// returns the generated file paths.
func (e *Engine) Generate(ctx context.Context, env buildenv.Environment) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	logger := observability.Logger(ctx, e.logger)

	ctx, span := observability.StartRunSpan(ctx, runID, env.ProjectFile, env.EffectiveConfiguration())
	res, err := e.generate(ctx, logger, env)
	observability.EndSpan(span, err)

	d := time.Since(start)
	report := Report{
		RunID:         runID,
		Project:       env.ProjectFile,
		Configuration: env.EffectiveConfiguration(),
		Started:       start,
		Duration:      d,
	}
	switch {
	case err == nil:
		res.RunID = runID
		res.Duration = d
		report.Status = StatusSucceeded
		report.Paths = res.Paths
		report.Written = res.Written
		report.Unchanged = res.Unchanged
		e.recorder.ObserveRunDuration(d, metrics.ResultSuccess)
		logger.Info("Code generation completed", logfields.Count(len(res.Paths)), logfields.Duration(d))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		report.Status = StatusCanceled
		report.Error = err.Error()
		e.recorder.ObserveRunDuration(d, metrics.ResultCanceled)
		logger.Warn("Code generation canceled", logfields.Duration(d))
	default:
		report.Status = StatusFailed
		report.Error = Message(err)
		e.recorder.ObserveRunDuration(d, metrics.ResultFailed)
		logger.Error("Code generation failed", logfields.Error(err), logfields.Duration(d))
	}
	for _, o := range e.observers {
		o(context.WithoutCancel(ctx), report)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) generate(ctx context.Context, logger *slog.Logger, env buildenv.Environment) (*Result, error) {
	proj, _, err := e.projects.Get(ctx, env, nil)
	if err != nil {
		return nil, err
	}
	logger = logger.With(logfields.Project(proj.Path), logfields.Configuration(proj.Configuration))

	spec := isolation.Spec{
		Project:    proj.Path,
		Platform:   env.Platform,
		Generators: mergeGenerators(proj.Generators, env.SourceGenerators),
	}
	envr, err := e.pool.Acquire(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer envr.Release(context.WithoutCancel(ctx))
	descs, err := envr.Descriptors(ctx)
	if err != nil {
		return nil, err
	}
	if len(descs) == 0 {
		logger.Info("No generators were found")
		return &Result{}, nil
	}

	groups, err := scheduler.Plan(descs, logger)
	if err != nil {
		logger.Error("Generators have a cyclic ordering", logfields.Error(err))
		return nil, err
	}
	if len(groups) > 1 {
		plan := make([]string, len(groups))
		for i, g := range groups {
			plan[i] = strings.Join(g.Names(), ", ")
		}
		logger.Info("Generators execution plan", slog.String("plan", strings.Join(plan, " | ")))
	}

	outDir := env.OutputPath
	if outDir == "" {
		outDir = proj.IntermediateOutputPath
	}
	if outDir, err = filepath.Abs(outDir); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "cannot resolve output path").
			WithContext("path", env.OutputPath).Build()
	}

	options := BuildOptions(proj)
	comp, err := e.provider.Open(ctx, proj.SourceFiles, proj.References, options)
	if err != nil {
		return nil, err
	}
	comp = comp.RemoveDocuments(func(p string) bool { return within(outDir, p) })

	input := generator.Input{
		Items:       proj.Items,
		Options:     options,
		Properties:  proj.Properties,
		Environment: env,
	}
	w := &writer{recorder: e.recorder, logger: logger}
	res := &Result{Groups: len(groups)}
	var previous []compilation.Document

	for i, group := range groups {
		if len(previous) > 0 {
			comp = comp.AddDocuments(previous...)
			res.Recompilations++
		}
		input.Compilation = comp

		start := time.Now()
		artifacts, err := e.runGroup(ctx, logger, i, group, envr, input)
		e.recorder.ObserveGroupDuration(i, time.Since(start))
		if err != nil {
			return nil, err
		}

		previous = nil
		for _, a := range artifacts {
			path := OutputFile(outDir, a.Generator, a.HintName, e.extension)
			written, err := w.write(ctx, path, a.Text)
			if err != nil {
				return nil, err
			}
			if written {
				res.Written++
			} else {
				res.Unchanged++
			}
			res.Paths = append(res.Paths, path)
			previous = append(previous, compilation.Document{Path: path, Text: a.Text})
		}
	}
	return res, nil
}

// runGroup runs a group concurrently. Artifacts come back in the group's
// name order. The first failure cancels the rest of the group.
func (e *Engine) runGroup(ctx context.Context, logger *slog.Logger, index int, group scheduler.Group, envr isolation.Environment, input generator.Input) ([]generator.Artifact, error) {
	ctx, span := observability.StartGroupSpan(ctx, index, group.Names())
	logger.Debug("Running generators concurrently", logfields.Group(index), slog.Any("generators", group.Names()))

	results := make([][]generator.Artifact, len(group))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)
	for i, desc := range group {
		g.Go(func() error {
			arts, err := e.runGenerator(gctx, logger, desc.Name, envr, input)
			results[i] = arts
			return err
		})
	}
	err := g.Wait()
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

func (e *Engine) runGenerator(ctx context.Context, logger *slog.Logger, name string, envr isolation.Environment, input generator.Input) (arts []generator.Artifact, err error) {
	ctx = observability.WithGenerator(ctx, name)
	ctx, span := observability.StartGeneratorSpan(ctx, name)
	start := time.Now()
	gctx := generator.NewContext(ctx, name, input, logger)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			label := metrics.ResultFailed
			if ctx.Err() != nil {
				label = metrics.ResultCanceled
			}
			e.recorder.IncGeneratorResult(name, label)
			err = ferrors.GeneratorError(fmt.Sprintf("Generation failed for %s. %v", name, err)).
				WithCause(err).
				WithContext("generator", name).Build()
			arts = nil
		} else {
			e.recorder.IncGeneratorResult(name, metrics.ResultSuccess)
			arts = gctx.Artifacts()
			logger.Debug("Generator completed", logfields.Generator(name),
				logfields.Count(len(arts)), logfields.Duration(time.Since(start)))
		}
		observability.EndSpan(span, err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, envr.Invoke(ctx, name, gctx)
}

// BuildOptions exposes the project properties as build options keyed
// build_property.<Name>.
func BuildOptions(p *project.Project) map[string]string {
	out := make(map[string]string, len(p.Properties))
	for k, v := range p.Properties {
		out["build_property."+k] = v
	}
	return out
}

func mergeGenerators(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, g := range l {
			if g = strings.TrimSpace(g); g == "" {
				continue
			}
			if !slices.ContainsFunc(out, func(o string) bool { return strings.EqualFold(o, g) }) {
				out = append(out, g)
			}
		}
	}
	return out
}

func within(dir, path string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.FromSlash(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Message returns the user-facing text of an engine error: the classified
// message without category decoration.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := ferrors.AsClassified(err); ok {
		return c.Message()
	}
	return err.Error()
}
