// Package generators contains the generators built into the host.
package generators

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"git.home.luguber.info/inful/srcgenhost/internal/generator"
)

// Names of the built-in generators.
const (
	ProjectInfoName     = "ProjectInfoGenerator"
	AdditionalFilesName = "AdditionalFilesGenerator"
	MarkdownDocsName    = "MarkdownDocsGenerator"
	SymbolIndexName     = "SymbolIndexGenerator"
)

// Register adds every built-in generator to reg.
func Register(reg *generator.Registry) error {
	builtins := []struct {
		desc    generator.Descriptor
		factory generator.Factory
	}{
		{
			desc:    generator.Descriptor{Name: ProjectInfoName, Description: "project path and build properties"},
			factory: func() generator.Generator { return ProjectInfo{} },
		},
		{
			desc:    generator.Descriptor{Name: AdditionalFilesName, Description: "AdditionalFiles items with their MyOption metadata"},
			factory: func() generator.Generator { return AdditionalFiles{} },
		},
		{
			desc:    generator.Descriptor{Name: MarkdownDocsName, Description: "Markdown items rendered to HTML constants"},
			factory: func() generator.Generator { return MarkdownDocs{} },
		},
		{
			desc: generator.Descriptor{
				Name:        SymbolIndexName,
				After:       []string{ProjectInfoName},
				Description: "index of the top-level symbols of the compilation",
			},
			factory: func() generator.Generator { return SymbolIndex{} },
		},
	}
	for _, b := range builtins {
		if err := reg.Register(b.desc, b.factory); err != nil {
			return err
		}
	}
	return nil
}

// source accumulates a generated Go file.
type source struct {
	b strings.Builder
}

func newSource(pkg string) *source {
	s := &source{}
	s.printf("// Code generated by srcgenhost. DO NOT EDIT.\n\npackage %s\n", pkg)
	return s
}

func (s *source) printf(format string, args ...any) {
	fmt.Fprintf(&s.b, format, args...)
}

func (s *source) stringMap(name, doc string, m map[string]string) {
	s.printf("\n// %s %s\nvar %s = map[string]string{\n", name, doc, name)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		s.printf("\t%s: %s,\n", strconv.Quote(k), strconv.Quote(m[k]))
	}
	s.printf("}\n")
}

func (s *source) String() string { return s.b.String() }

// packageName picks the package clause for generated files: the
// RootNamespace property when it is usable, otherwise "generated".
func packageName(c *generator.Context) string {
	name := strings.ToLower(identifier(c.Property("RootNamespace")))
	if name == "" {
		return "generated"
	}
	return name
}

// identifier turns s into a Go identifier by dropping invalid runes and
// capitalizing each word.
func identifier(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if b.Len() == 0 && unicode.IsDigit(r) {
			b.WriteByte('X')
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
