package buildenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
)

func TestParse_YAML(t *testing.T) {
	env, err := Parse([]byte(`
configuration: Release
platform: AnyCPU
project_file: app/project.yaml
output_path: obj/g
binlog_enabled: true
source_generators: [ProjectInfoGenerator, gens/custom.wasm]
`))
	require.NoError(t, err)
	assert.Equal(t, "Release", env.Configuration)
	assert.Equal(t, "app/project.yaml", env.ProjectFile)
	assert.True(t, env.BinLogEnabled)
	assert.Equal(t, []string{"ProjectInfoGenerator", "gens/custom.wasm"}, env.SourceGenerators)
}

func TestParse_JSON(t *testing.T) {
	env, err := Parse([]byte(`{"project_file": "p.yaml", "reference_path": ["a", "b"]}`))
	require.NoError(t, err)
	assert.Equal(t, "p.yaml", env.ProjectFile)
	assert.Equal(t, []string{"a", "b"}, env.ReferencePath)
	assert.Equal(t, DefaultConfiguration, env.EffectiveConfiguration())
}

func TestParse_SchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing project": `configuration: Debug`,
		"unknown field":   "project_file: p.yaml\nbogus: 1\n",
		"wrong type":      "project_file: p.yaml\nbinlog_enabled: sometimes\n",
		"empty generator": "project_file: p.yaml\nsource_generators: ['']\n",
		"empty document":  ``,
		"not a mapping":   `- a`,
		"malformed yaml":  "project_file: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.Equal(t, ferrors.CategoryValidation, ferrors.GetCategory(err))
		})
	}
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project_file: proj.yaml\noutput_path: out\nsource_generators: [Named, g/x.wasm]\n"), 0o600))

	env, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "proj.yaml"), env.ProjectFile)
	assert.Equal(t, filepath.Join(dir, "out"), env.OutputPath)
	assert.Equal(t, []string{"Named", filepath.Join(dir, "g/x.wasm")}, env.SourceGenerators)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ferrors.CategoryValidation, ferrors.GetCategory(err))
}

func TestWriteLoadRoundTrip(t *testing.T) {
	env := Environment{
		Configuration:    "Debug",
		ProjectFile:      "/abs/p.yaml",
		OutputPath:       "/abs/out",
		TargetFramework:  "net8",
		SourceGenerators: []string{"A"},
	}
	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, Write(path, env))
	got, err := Load(path)
	require.NoError(t, err)
	assert.True(t, env.Equal(got))
}

func TestKeyAndEqual(t *testing.T) {
	a := Environment{ProjectFile: "p", SourceGenerators: []string{"A", "B"}}
	b := a.Clone()
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())

	b.SourceGenerators[1] = "C"
	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, "B", a.SourceGenerators[1], "Clone must not share slices")

	// List boundaries are part of the key.
	x := Environment{AdditionalAssemblies: []string{"a"}}
	y := Environment{SourceGenerators: []string{"a"}}
	assert.NotEqual(t, x.Key(), y.Key())
}
