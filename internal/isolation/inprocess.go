package isolation

import (
	"context"
	"strings"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/generator"
)

// InProcess runs registered generators in the host process.
type InProcess struct {
	registry *generator.Registry
	names    []string
}

// NewInProcess selects names from registry. No names selects everything.
func NewInProcess(registry *generator.Registry, names []string) *InProcess {
	return &InProcess{registry: registry, names: names}
}

// Descriptors implements Environment. Names that are not registered fail.
func (e *InProcess) Descriptors(context.Context) ([]generator.Descriptor, error) {
	found, missing := e.registry.Select(e.names)
	if len(missing) > 0 {
		return nil, ferrors.IsolationError("unknown generators: "+strings.Join(missing, ", ")).
			WithContext("generators", missing).
			UserAction().Build()
	}
	return found, nil
}

// Ping implements Environment.
func (e *InProcess) Ping(context.Context) error { return nil }

// Invoke implements Environment.
func (e *InProcess) Invoke(_ context.Context, name string, gctx *generator.Context) error {
	_, factory, ok := e.registry.Lookup(name)
	if !ok {
		return ferrors.IsolationError("unknown generator").WithContext("generator", name).Build()
	}
	return factory().Execute(gctx)
}

// Teardown implements Environment.
func (e *InProcess) Teardown(context.Context) error { return nil }
