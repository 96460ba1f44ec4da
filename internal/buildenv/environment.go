// Package buildenv describes what to generate: the serialized build
// environment a client writes into the response file.
package buildenv

import (
	"encoding/hex"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Environment is the build descriptor. Treat values as immutable; Equal and
// Key define identity for server and pool reuse.
type Environment struct {
	Configuration           string   `yaml:"configuration,omitempty" json:"configuration,omitempty"`
	Platform                string   `yaml:"platform,omitempty" json:"platform,omitempty"`
	ProjectFile             string   `yaml:"project_file" json:"project_file"`
	OutputPath              string   `yaml:"output_path,omitempty" json:"output_path,omitempty"`
	TargetFramework         string   `yaml:"target_framework,omitempty" json:"target_framework,omitempty"`
	VisualStudioVersion     string   `yaml:"visual_studio_version,omitempty" json:"visual_studio_version,omitempty"`
	TargetFrameworkRootPath string   `yaml:"target_framework_root_path,omitempty" json:"target_framework_root_path,omitempty"`
	BinLogOutputPath        string   `yaml:"binlog_output_path,omitempty" json:"binlog_output_path,omitempty"`
	BinLogEnabled           bool     `yaml:"binlog_enabled,omitempty" json:"binlog_enabled,omitempty"`
	MSBuildBinPath          string   `yaml:"msbuild_bin_path,omitempty" json:"msbuild_bin_path,omitempty"`
	AdditionalAssemblies    []string `yaml:"additional_assemblies,omitempty" json:"additional_assemblies,omitempty"`
	SourceGenerators        []string `yaml:"source_generators,omitempty" json:"source_generators,omitempty"`
	ReferencePath           []string `yaml:"reference_path,omitempty" json:"reference_path,omitempty"`
}

// DefaultConfiguration is used when the environment leaves Configuration empty.
const DefaultConfiguration = "Debug"

// Clone returns a deep copy.
func (e Environment) Clone() Environment {
	e.AdditionalAssemblies = slices.Clone(e.AdditionalAssemblies)
	e.SourceGenerators = slices.Clone(e.SourceGenerators)
	e.ReferencePath = slices.Clone(e.ReferencePath)
	return e
}

// Equal reports value equality.
func (e Environment) Equal(o Environment) bool {
	return e.Configuration == o.Configuration &&
		e.Platform == o.Platform &&
		e.ProjectFile == o.ProjectFile &&
		e.OutputPath == o.OutputPath &&
		e.TargetFramework == o.TargetFramework &&
		e.VisualStudioVersion == o.VisualStudioVersion &&
		e.TargetFrameworkRootPath == o.TargetFrameworkRootPath &&
		e.BinLogOutputPath == o.BinLogOutputPath &&
		e.BinLogEnabled == o.BinLogEnabled &&
		e.MSBuildBinPath == o.MSBuildBinPath &&
		slices.Equal(e.AdditionalAssemblies, o.AdditionalAssemblies) &&
		slices.Equal(e.SourceGenerators, o.SourceGenerators) &&
		slices.Equal(e.ReferencePath, o.ReferencePath)
}

// Key is a stable hash of the environment; equal environments share a key.
func (e Environment) Key() string {
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	for _, s := range []string{
		e.Configuration, e.Platform, e.ProjectFile, e.OutputPath, e.TargetFramework,
		e.VisualStudioVersion, e.TargetFrameworkRootPath, e.BinLogOutputPath, e.MSBuildBinPath,
	} {
		write(s)
	}
	if e.BinLogEnabled {
		write("1")
	} else {
		write("0")
	}
	for _, list := range [][]string{e.AdditionalAssemblies, e.SourceGenerators, e.ReferencePath} {
		for _, s := range list {
			write(s)
		}
		write("\x1e")
	}
	var b [8]byte
	return hex.EncodeToString(d.Sum(b[:0]))
}

// EffectiveConfiguration returns Configuration or DefaultConfiguration.
func (e Environment) EffectiveConfiguration() string {
	if e.Configuration == "" {
		return DefaultConfiguration
	}
	return e.Configuration
}
