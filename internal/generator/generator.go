// Package generator defines the contract between the engine and source
// generators: descriptors, the explicit registry, and the per-invocation
// Context through which a generator reads the compilation and emits sources.
package generator

import "strings"

// Descriptor identifies a generator and its advisory ordering hints.
type Descriptor struct {
	// Name is the generator type name. It names the output directory and
	// attributes failures.
	Name string `json:"name"`

	// After lists generators this one should run after.
	After []string `json:"after,omitempty"`

	// Before lists generators this one should run before.
	Before []string `json:"before,omitempty"`

	Description string `json:"description,omitempty"`
}

// Generator inspects a compilation snapshot and emits new sources.
type Generator interface {
	Execute(ctx *Context) error
}

// Func adapts a function to Generator.
type Func func(ctx *Context) error

// Execute calls f.
func (f Func) Execute(ctx *Context) error { return f(ctx) }

// Factory creates a fresh generator for one invocation.
type Factory func() Generator

// Artifact is one named unit of generated text.
type Artifact struct {
	Generator string `json:"generator"`
	HintName  string `json:"hint_name"`
	Text      string `json:"text"`
}

// SameName compares generator names the way the registry and the
// scheduler do.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
