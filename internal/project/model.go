// Package project loads YAML project files into the model consumed by the
// generation engine, and caches loaded models across runs.
package project

import (
	"maps"
	"os"
	"slices"
	"strings"
	"time"
)

// Item is a project item such as an additional file or an embedded resource.
type Item struct {
	Type     string            `yaml:"type"`
	Include  string            `yaml:"include"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
	// FullPath is Include resolved against the project directory.
	FullPath string `yaml:"-"`
}

// Well-known item types.
const (
	ItemCompile          = "Compile"
	ItemEmbeddedResource = "EmbeddedResource"
	ItemUpToDateInput    = "UpToDateCheckInput"
	ItemAdditionalFiles  = "AdditionalFiles"
)

// File is the on-disk project document.
type File struct {
	Name                   string            `yaml:"name,omitempty"`
	Properties             map[string]string `yaml:"properties,omitempty"`
	Imports                []string          `yaml:"imports,omitempty"`
	Compile                []string          `yaml:"compile,omitempty"`
	References             []string          `yaml:"references,omitempty"`
	Items                  []Item            `yaml:"items,omitempty"`
	Generators             []string          `yaml:"generators,omitempty"`
	IntermediateOutputPath string            `yaml:"intermediate_output_path,omitempty"`
	UpToDateInputs         []string          `yaml:"up_to_date_inputs,omitempty"`
}

// Project is an evaluated project.
type Project struct {
	Path          string
	Dir           string
	Name          string
	Configuration string
	Platform      string
	Properties    map[string]string
	// Imports are the absolute paths of every imported project file.
	Imports                []string
	SourceFiles            []string
	References             []string
	Items                  []Item
	Generators             []string
	IntermediateOutputPath string
	UpToDateInputs         []string

	stamps map[string]time.Time
}

// Property returns a property value, matching names case-insensitively.
func (p *Project) Property(name string) string {
	if v, ok := p.Properties[name]; ok {
		return v
	}
	for k, v := range p.Properties {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ItemsOfType returns the items with the given type.
func (p *Project) ItemsOfType(itemType string) []Item {
	var out []Item
	for _, it := range p.Items {
		if strings.EqualFold(it.Type, itemType) {
			out = append(out, it)
		}
	}
	return out
}

// TrackedInputs returns the files whose timestamps decide cache reuse.
func (p *Project) TrackedInputs() []string {
	return slices.Sorted(maps.Keys(p.stamps))
}

// HasChanged reports whether any tracked input was modified, created or
// removed since the project was loaded.
func (p *Project) HasChanged() bool {
	for path, stamp := range p.stamps {
		if modTime(path) != stamp {
			return true
		}
	}
	return false
}

func (p *Project) track(path string) {
	if p.stamps == nil {
		p.stamps = make(map[string]time.Time)
	}
	p.stamps[path] = modTime(path)
}

// modTime returns the zero time for missing files.
func modTime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
