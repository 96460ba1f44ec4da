// Package isolation runs generators inside reusable environments. An
// environment is created per (project, platform, generator set) and kept in
// a Pool until its inputs change or it sits idle.
package isolation

import (
	"context"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"git.home.luguber.info/inful/srcgenhost/internal/generator"
)

// Environment hosts a set of generators.
type Environment interface {
	// Descriptors lists the generators this environment can run.
	Descriptors(ctx context.Context) ([]generator.Descriptor, error)
	// Ping reports whether the environment is still usable.
	Ping(ctx context.Context) error
	// Invoke runs the generator called name against gctx.
	Invoke(ctx context.Context, name string, gctx *generator.Context) error
	// Teardown releases everything the environment holds.
	Teardown(ctx context.Context) error
}

// Spec identifies what an environment is created for.
type Spec struct {
	Project  string
	Platform string
	// Generators are registry names or paths to .wasm modules. Empty
	// selects every registered generator.
	Generators []string
}

// Key returns the pool key for s. Generator order does not matter.
func (s Spec) Key() string {
	gens := slices.Clone(s.Generators)
	for i, g := range gens {
		gens[i] = strings.ToLower(g)
	}
	slices.Sort(gens)
	gens = slices.Compact(gens)

	h := xxhash.New()
	_, _ = h.WriteString(s.Project)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(s.Platform)
	for _, g := range gens {
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(g)
	}
	var sum [8]byte
	v := h.Sum64()
	for i := range sum {
		sum[i] = byte(v >> (56 - 8*i))
	}
	return hex.EncodeToString(sum[:])
}

// ModulePaths returns the generator entries that name WebAssembly modules.
func (s Spec) ModulePaths() []string {
	var out []string
	for _, g := range s.Generators {
		if IsModulePath(g) {
			out = append(out, g)
		}
	}
	return out
}

// Names returns the generator entries that name registered generators.
func (s Spec) Names() []string {
	var out []string
	for _, g := range s.Generators {
		if !IsModulePath(g) {
			out = append(out, g)
		}
	}
	return out
}

// IsModulePath reports whether ref names a WebAssembly module file.
func IsModulePath(ref string) bool {
	return strings.EqualFold(pathExt(ref), ".wasm")
}

func pathExt(p string) string {
	i := strings.LastIndexAny(p, "./\\")
	if i < 0 || p[i] != '.' {
		return ""
	}
	return p[i:]
}

// Factory creates an environment for spec.
type Factory func(ctx context.Context, spec Spec) (Environment, error)
