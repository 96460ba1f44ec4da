package isolation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/generator"
)

// composite routes each generator to the environment that described it.
type composite struct {
	envs []Environment

	mu     sync.Mutex
	owners map[string]Environment
}

func (c *composite) Descriptors(ctx context.Context) ([]generator.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.describe(ctx)
}

func (c *composite) describe(ctx context.Context) ([]generator.Descriptor, error) {
	owners := make(map[string]Environment)
	var out []generator.Descriptor
	for _, env := range c.envs {
		descs, err := env.Descriptors(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range descs {
			if _, dup := owners[generatorKey(d.Name)]; dup {
				return nil, ferrors.IsolationError("generator provided twice").
					WithContext("generator", d.Name).Build()
			}
			owners[generatorKey(d.Name)] = env
			out = append(out, d)
		}
	}
	c.owners = owners
	return out, nil
}

func (c *composite) Ping(ctx context.Context) error {
	for _, env := range c.envs {
		if err := env.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *composite) Invoke(ctx context.Context, name string, gctx *generator.Context) error {
	c.mu.Lock()
	if c.owners == nil {
		if _, err := c.describe(ctx); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	env, ok := c.owners[generatorKey(name)]
	c.mu.Unlock()
	if !ok {
		return ferrors.IsolationError("unknown generator").WithContext("generator", name).Build()
	}
	return env.Invoke(ctx, name, gctx)
}

func (c *composite) Teardown(ctx context.Context) error {
	var errs []error
	for _, env := range c.envs {
		errs = append(errs, env.Teardown(ctx))
	}
	return errors.Join(errs...)
}

// NewFactory returns a factory that serves registry names in process and,
// when wasm is enabled, .wasm references through wazero.
func NewFactory(registry *generator.Registry, wasm bool, logger *slog.Logger) Factory {
	return func(ctx context.Context, spec Spec) (Environment, error) {
		names := spec.Names()
		modules := spec.ModulePaths()
		if len(modules) > 0 && !wasm {
			return nil, ferrors.IsolationError("WebAssembly generators are disabled").
				WithContext("modules", modules).
				UserAction().Build()
		}
		// An explicit module list without names does not pull in the whole registry.
		var envs []Environment
		if len(names) > 0 || len(modules) == 0 {
			envs = append(envs, NewInProcess(registry, names))
		}
		if len(modules) > 0 {
			w, err := NewWasm(ctx, modules, logger)
			if err != nil {
				return nil, err
			}
			envs = append(envs, w)
		}
		if len(envs) == 1 {
			return envs[0], nil
		}
		return &composite{envs: envs}, nil
	}
}

