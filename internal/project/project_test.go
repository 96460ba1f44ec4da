package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// touch bumps the modification time so the change is visible even on
// filesystems with coarse timestamps.
func touch(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

func fixture(t *testing.T) (string, buildenv.Environment) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "common.yaml"), `
properties:
  Company: Acme
  Product: fromimport
compile:
  - shared/*.go
items:
  - type: EmbeddedResource
    include: res/logo.txt
`)
	writeFile(t, filepath.Join(dir, "app.yaml"), `
name: demo
imports: [common.yaml]
properties:
  Product: Widget
  Full: $(Company)-$(Product)-$(Configuration)
compile:
  - src/**/*.go
references: [lib/ref.a]
items:
  - type: AdditionalFiles
    include: data/a.txt
    metadata:
      MyOption: yes
generators: [ProjectInfoGenerator]
up_to_date_inputs: [extra.txt]
`)
	writeFile(t, filepath.Join(dir, "src", "main.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "src", "nested", "util.go"), "package nested\n")
	writeFile(t, filepath.Join(dir, "src", "README.md"), "docs\n")
	writeFile(t, filepath.Join(dir, "shared", "s.go"), "package shared\n")
	writeFile(t, filepath.Join(dir, "res", "logo.txt"), "logo\n")
	writeFile(t, filepath.Join(dir, "data", "a.txt"), "a\n")
	writeFile(t, filepath.Join(dir, "extra.txt"), "x\n")
	return dir, buildenv.Environment{
		ProjectFile:     filepath.Join(dir, "app.yaml"),
		Configuration:   "Release",
		Platform:        "x64",
		TargetFramework: "go1.24",
		ReferencePath:   []string{"/opt/ref.b"},
	}
}

func TestLoad(t *testing.T) {
	dir, env := fixture(t)
	p, err := Load(context.Background(), env, map[string]string{"Extra": "1"})
	require.NoError(t, err)

	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, "Release", p.Configuration)
	assert.Equal(t, "Widget", p.Property("product"), "the project's own value wins over imports")
	assert.Equal(t, "Acme-Widget-Release", p.Property("Full"))
	assert.Equal(t, "true", p.Property("BuildingProject"))
	assert.Equal(t, "go1.24", p.Property("TargetFramework"))
	assert.Equal(t, "1", p.Property("Extra"))

	assert.Equal(t, []string{
		filepath.Join(dir, "src", "main.go"),
		filepath.Join(dir, "src", "nested", "util.go"),
		filepath.Join(dir, "shared", "s.go"),
	}, p.SourceFiles)
	assert.Equal(t, []string{filepath.Join(dir, "lib", "ref.a"), "/opt/ref.b"}, p.References)
	assert.Equal(t, []string{filepath.Join(dir, "common.yaml")}, p.Imports)
	assert.Equal(t, filepath.Join(dir, "obj", "Release"), p.IntermediateOutputPath)
	assert.Equal(t, []string{"ProjectInfoGenerator"}, p.Generators)

	add := p.ItemsOfType(ItemAdditionalFiles)
	require.Len(t, add, 1)
	assert.Equal(t, "yes", add[0].Metadata["MyOption"])
	assert.Equal(t, filepath.Join(dir, "data", "a.txt"), add[0].FullPath)

	tracked := p.TrackedInputs()
	for _, f := range []string{"app.yaml", "common.yaml", "src/main.go", "res/logo.txt", "extra.txt"} {
		assert.Contains(t, tracked, filepath.Join(dir, f))
	}
	assert.NotContains(t, tracked, filepath.Join(dir, "data", "a.txt"))
	assert.False(t, p.HasChanged())
}

func TestHasChanged(t *testing.T) {
	for _, f := range []string{"app.yaml", "common.yaml", "src/main.go", "res/logo.txt", "extra.txt"} {
		t.Run(f, func(t *testing.T) {
			dir, env := fixture(t)
			p, err := Load(context.Background(), env, nil)
			require.NoError(t, err)
			touch(t, filepath.Join(dir, f))
			assert.True(t, p.HasChanged())
		})
	}
}

func TestHasChanged_RemovedInput(t *testing.T) {
	dir, env := fixture(t)
	p, err := Load(context.Background(), env, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "extra.txt")))
	assert.True(t, p.HasChanged())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(context.Background(), buildenv.Environment{ProjectFile: filepath.Join(t.TempDir(), "none.yaml")}, nil)
	require.Error(t, err)
	assert.Equal(t, ferrors.CategoryProject, ferrors.GetCategory(err))

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.yaml"), "compile: {")
	_, err = Load(context.Background(), buildenv.Environment{ProjectFile: filepath.Join(dir, "bad.yaml")}, nil)
	require.Error(t, err)
}

func TestLoad_CyclicImportsAreVisitedOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "imports: [b.yaml]\nproperties: {A: a}\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "imports: [a.yaml]\nproperties: {B: b}\n")
	p, err := Load(context.Background(), buildenv.Environment{ProjectFile: filepath.Join(dir, "a.yaml")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", p.Property("A"))
	assert.Equal(t, "b", p.Property("B"))
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, p.Imports)
}
