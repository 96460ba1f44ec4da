package generator

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	"git.home.luguber.info/inful/srcgenhost/internal/compilation"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/project"
)

// FileOptionPrefix prefixes per-file options derived from item metadata.
const FileOptionPrefix = "build_metadata."

// Input is what every generator in a run can read.
type Input struct {
	Compilation *compilation.Compilation
	Items       []project.Item
	Options     map[string]string
	Properties  map[string]string
	Environment buildenv.Environment
}

// Level is the severity of a generator log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// LogEntry is a message logged by a generator.
type LogEntry struct {
	Level   Level
	Message string
	Cause   error
}

// Context is handed to a single generator invocation. Artifacts added here
// are invisible to every other invocation until the engine recompiles.
type Context struct {
	ctx    context.Context
	name   string
	input  Input
	logger *slog.Logger

	mu        sync.Mutex
	artifacts []Artifact
	hints     map[string]bool
	logs      []LogEntry
}

// NewContext creates the context for the generator called name.
func NewContext(ctx context.Context, name string, input Input, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		ctx:    ctx,
		name:   name,
		input:  input,
		logger: logger,
		hints:  make(map[string]bool),
	}
}

// Context returns the cancellation signal for this invocation.
func (c *Context) Context() context.Context { return c.ctx }

// Name returns the generator name.
func (c *Context) Name() string { return c.name }

// Compilation returns the snapshot the generator runs against.
func (c *Context) Compilation() *compilation.Compilation { return c.input.Compilation }

// Environment returns the build environment.
func (c *Context) Environment() buildenv.Environment { return c.input.Environment }

// Input returns everything the invocation can read.
func (c *Context) Input() Input { return c.input }

// AddSource emits a source artifact. Hint names must be unique per
// invocation, ignoring case.
func (c *Context) AddSource(hintName, text string) error {
	hint := strings.TrimSpace(hintName)
	if hint == "" {
		return ferrors.GeneratorError("hint name is required").
			WithContext("generator", c.name).Build()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := strings.ToLower(hint)
	if c.hints[key] {
		return ferrors.GeneratorError("hint name was already added").
			WithContext("generator", c.name).
			WithContext("hint", hint).Build()
	}
	c.hints[key] = true
	c.artifacts = append(c.artifacts, Artifact{Generator: c.name, HintName: hint, Text: text})
	return nil
}

// Artifacts returns the artifacts emitted so far, in order.
func (c *Context) Artifacts() []Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Artifact, len(c.artifacts))
	copy(out, c.artifacts)
	return out
}

// Debug logs at debug level. cause may be nil.
func (c *Context) Debug(msg string, cause error) { c.log(LevelDebug, msg, cause) }

// Info logs at info level. cause may be nil.
func (c *Context) Info(msg string, cause error) { c.log(LevelInfo, msg, cause) }

// Warn logs at warning level. cause may be nil.
func (c *Context) Warn(msg string, cause error) { c.log(LevelWarn, msg, cause) }

// Error logs at error level. cause may be nil.
func (c *Context) Error(msg string, cause error) { c.log(LevelError, msg, cause) }

func (c *Context) log(level Level, msg string, cause error) {
	c.mu.Lock()
	c.logs = append(c.logs, LogEntry{Level: level, Message: msg, Cause: cause})
	c.mu.Unlock()

	attrs := []slog.Attr{logfields.Generator(c.name)}
	if cause != nil {
		attrs = append(attrs, logfields.Error(cause))
	}
	c.logger.LogAttrs(c.ctx, level.slog(), msg, attrs...)
}

// Logs returns the entries logged so far.
func (c *Context) Logs() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// Items returns the project items of itemType, or every item when
// itemType is empty.
func (c *Context) Items(itemType string) []project.Item {
	var out []project.Item
	for _, it := range c.input.Items {
		if itemType == "" || strings.EqualFold(it.Type, itemType) {
			out = append(out, it)
		}
	}
	return out
}

// Option returns a global build option.
func (c *Context) Option(key string) (string, bool) {
	v, ok := c.input.Options[key]
	return v, ok
}

// Options returns a copy of the global build options.
func (c *Context) Options() map[string]string {
	return maps.Clone(c.input.Options)
}

// Property returns a project property, matching names case-insensitively.
func (c *Context) Property(name string) string {
	if v, ok := c.input.Properties[name]; ok {
		return v
	}
	for k, v := range c.input.Properties {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Properties returns a copy of the project properties.
func (c *Context) Properties() map[string]string {
	return maps.Clone(c.input.Properties)
}

// FileOptions returns the per-file options of item, keyed
// build_metadata.<ItemType>.<Name>.
func FileOptions(item project.Item) map[string]string {
	out := make(map[string]string, len(item.Metadata))
	for k, v := range item.Metadata {
		out[FileOptionKey(item.Type, k)] = v
	}
	return out
}

// FileOptionKey returns the option key for one metadata name of an item type.
func FileOptionKey(itemType, name string) string {
	return FileOptionPrefix + itemType + "." + name
}

// FileOption looks up a per-file option by its full key or by bare
// metadata name.
func (c *Context) FileOption(item project.Item, key string) (string, bool) {
	name := key
	if prefix := FileOptionPrefix + item.Type + "."; len(key) > len(prefix) && strings.EqualFold(key[:len(prefix)], prefix) {
		name = key[len(prefix):]
	}
	if v, ok := item.Metadata[name]; ok {
		return v, true
	}
	for k, v := range item.Metadata {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
