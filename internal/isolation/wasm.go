package isolation

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/generator"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
)

// Commands understood by WebAssembly generator modules. A module is run as
// a WASI command with the command as its first argument.
const (
	commandDescribe = "describe"
	commandGenerate = "generate"
)

// Wasm runs generators compiled to WASI modules. Each module is compiled
// once and instantiated per invocation, so invocations share no state.
type Wasm struct {
	runtime wazero.Runtime
	modules map[string]*wasmModule
	descs   []generator.Descriptor
	logger  *slog.Logger
	closed  atomic.Bool
}

type wasmModule struct {
	path     string
	compiled wazero.CompiledModule
}

// WasmInput is written to a module's stdin for the generate command.
type WasmInput struct {
	Generator  string            `json:"generator"`
	Documents  []WasmDocument    `json:"documents"`
	Symbols    []WasmSymbol      `json:"symbols,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Items      []WasmItem        `json:"items,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

// WasmDocument is one compilation document.
type WasmDocument struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// WasmSymbol is one top-level symbol of the compilation.
type WasmSymbol struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Document string `json:"document"`
}

// WasmItem is one project item with its per-file options.
type WasmItem struct {
	Type     string            `json:"type"`
	Include  string            `json:"include"`
	FullPath string            `json:"full_path,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// WasmOutput is read from a module's stdout after generate.
type WasmOutput struct {
	Artifacts []WasmArtifact `json:"artifacts"`
	Logs      []WasmLog      `json:"logs,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// WasmArtifact is one emitted source.
type WasmArtifact struct {
	HintName string `json:"hint_name"`
	Text     string `json:"text"`
}

// WasmLog is one message logged by a module.
type WasmLog struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// NewWasm compiles every module in paths and asks each for its descriptors.
func NewWasm(ctx context.Context, paths []string, logger *slog.Logger) (*Wasm, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, ferrors.WrapError(err, ferrors.CategoryIsolation, "instantiate WASI").Build()
	}
	w := &Wasm{
		runtime: rt,
		modules: make(map[string]*wasmModule),
		logger:  logger,
	}
	for _, path := range paths {
		if err := w.load(ctx, path); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
	}
	return w, nil
}

func (w *Wasm) load(ctx context.Context, path string) error {
	bin, err := os.ReadFile(path)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryIsolation, "read generator module").
			WithContext("path", path).Build()
	}
	compiled, err := w.runtime.CompileModule(ctx, bin)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryIsolation, "compile generator module").
			WithContext("path", path).Build()
	}
	mod := &wasmModule{path: path, compiled: compiled}

	out, err := w.run(ctx, mod, nil, commandDescribe)
	if err != nil {
		return err
	}
	var descs []generator.Descriptor
	if err := json.Unmarshal(out, &descs); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryIsolation, "generator module returned an invalid descriptor list").
			WithContext("path", path).Build()
	}
	if len(descs) == 0 {
		return ferrors.IsolationError("generator module describes no generators").
			WithContext("path", path).Build()
	}
	for _, d := range descs {
		key := generatorKey(d.Name)
		if key == "" {
			return ferrors.IsolationError("generator module describes a generator without a name").
				WithContext("path", path).Build()
		}
		if _, dup := w.modules[key]; dup {
			return ferrors.IsolationError("generator provided twice").
				WithContext("generator", d.Name).Build()
		}
		w.modules[key] = mod
		w.descs = append(w.descs, d)
	}
	w.logger.Debug("Loaded generator module", logfields.Path(path), logfields.Count(len(descs)))
	return nil
}

// run instantiates mod once with args and returns its stdout.
func (w *Wasm) run(ctx context.Context, mod *wasmModule, stdin []byte, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{filepath.Base(mod.path)}, args...)...).
		WithStdin(bytes.NewReader(stdin)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	inst, err := w.runtime.InstantiateModule(ctx, mod.compiled, cfg)
	if inst != nil {
		_ = inst.Close(ctx)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		b := ferrors.WrapError(err, ferrors.CategoryIsolation, "generator module failed").
			WithContext("path", mod.path).
			WithContext("command", args[0])
		var exit *sys.ExitError
		if errors.As(err, &exit) {
			b = b.WithContext("exit_code", exit.ExitCode())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			b = b.WithContext("stderr", msg)
		}
		return nil, b.Build()
	}
	return stdout.Bytes(), nil
}

// Descriptors implements Environment.
func (w *Wasm) Descriptors(context.Context) ([]generator.Descriptor, error) {
	out := make([]generator.Descriptor, len(w.descs))
	copy(out, w.descs)
	return out, nil
}

// Ping implements Environment.
func (w *Wasm) Ping(context.Context) error {
	if w.closed.Load() {
		return ferrors.IsolationError("runtime is closed").Build()
	}
	return nil
}

// Invoke implements Environment.
func (w *Wasm) Invoke(ctx context.Context, name string, gctx *generator.Context) error {
	mod, ok := w.modules[generatorKey(name)]
	if !ok {
		return ferrors.IsolationError("unknown generator").WithContext("generator", name).Build()
	}
	stdin, err := json.Marshal(NewWasmInput(name, gctx))
	if err != nil {
		return fmt.Errorf("encode generator input: %w", err)
	}
	out, err := w.run(ctx, mod, stdin, commandGenerate, name)
	if err != nil {
		return err
	}
	var result WasmOutput
	if err := json.Unmarshal(out, &result); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryIsolation, "generator module returned invalid output").
			WithContext("generator", name).Build()
	}
	return ApplyWasmOutput(gctx, result)
}

// Teardown implements Environment.
func (w *Wasm) Teardown(ctx context.Context) error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	return w.runtime.Close(ctx)
}

// NewWasmInput captures what gctx exposes in the module input format.
func NewWasmInput(name string, gctx *generator.Context) WasmInput {
	in := WasmInput{
		Generator:  name,
		Properties: gctx.Properties(),
		Options:    gctx.Options(),
	}
	if comp := gctx.Compilation(); comp != nil {
		for _, d := range comp.Documents() {
			in.Documents = append(in.Documents, WasmDocument{Path: d.Path, Text: d.Text})
		}
		for _, s := range comp.Symbols() {
			in.Symbols = append(in.Symbols, WasmSymbol{Name: s.Name, Kind: s.Kind, Document: s.Document})
		}
	}
	for _, it := range gctx.Items("") {
		in.Items = append(in.Items, WasmItem{
			Type:     it.Type,
			Include:  it.Include,
			FullPath: it.FullPath,
			Options:  generator.FileOptions(it),
		})
	}
	return in
}

// ApplyWasmOutput replays a module's logs and artifacts into gctx.
func ApplyWasmOutput(gctx *generator.Context, out WasmOutput) error {
	for _, l := range out.Logs {
		var cause error
		if l.Cause != "" {
			cause = errors.New(l.Cause)
		}
		switch strings.ToLower(l.Level) {
		case "debug":
			gctx.Debug(l.Message, cause)
		case "warn", "warning":
			gctx.Warn(l.Message, cause)
		case "error":
			gctx.Error(l.Message, cause)
		default:
			gctx.Info(l.Message, cause)
		}
	}
	for _, a := range out.Artifacts {
		if err := gctx.AddSource(a.HintName, a.Text); err != nil {
			return err
		}
	}
	if out.Error != "" {
		return errors.New(out.Error)
	}
	return nil
}

func generatorKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
