package buildenv

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
)

//go:embed schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("buildenv.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("buildenv.schema.json")
})

// Load reads and validates a response file. YAML and JSON are accepted.
// Relative paths are resolved against the response file's directory.
func Load(path string) (Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Environment{}, ferrors.WrapError(err, ferrors.CategoryValidation, "read response file").
			WithContext("path", path).UserAction().Build()
	}
	env, err := Parse(data)
	if err != nil {
		return Environment{}, err
	}
	return env.Resolve(filepath.Dir(path)), nil
}

// Parse decodes and validates a serialized environment.
func Parse(data []byte) (Environment, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Environment{}, ferrors.WrapError(err, ferrors.CategoryValidation, "decode build environment").UserAction().Build()
	}
	if err := validateSchema(raw); err != nil {
		return Environment{}, err
	}
	var env Environment
	if err := yaml.Unmarshal(data, &env); err != nil {
		return Environment{}, ferrors.WrapError(err, ferrors.CategoryValidation, "decode build environment").UserAction().Build()
	}
	return env, nil
}

func validateSchema(raw any) error {
	schema, err := compiledSchema()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "compile build environment schema").Build()
	}
	if raw == nil {
		return ferrors.ValidationError("build environment is empty").Build()
	}
	// Round-trip through encoding/json so numbers and maps have the shapes
	// the validator expects.
	buf, err := json.Marshal(raw)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "normalize build environment").UserAction().Build()
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(buf))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "normalize build environment").UserAction().Build()
	}
	if err := schema.Validate(doc); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "build environment does not match schema").UserAction().Build()
	}
	return nil
}

// Resolve returns a copy with relative paths made absolute against base.
func (e Environment) Resolve(base string) Environment {
	out := e.Clone()
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	out.ProjectFile = abs(out.ProjectFile)
	out.OutputPath = abs(out.OutputPath)
	out.BinLogOutputPath = abs(out.BinLogOutputPath)
	for i, g := range out.SourceGenerators {
		if strings.HasSuffix(strings.ToLower(g), ".wasm") {
			out.SourceGenerators[i] = abs(g)
		}
	}
	for i, r := range out.ReferencePath {
		out.ReferencePath[i] = abs(r)
	}
	for i, a := range out.AdditionalAssemblies {
		out.AdditionalAssemblies[i] = abs(a)
	}
	return out
}

// Write serializes env as YAML to path.
func Write(path string, env Environment) error {
	data, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode build environment: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write response file").WithContext("path", path).Build()
	}
	return nil
}
