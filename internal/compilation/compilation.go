// Package compilation provides immutable snapshots of a project's source
// documents together with their parsed symbols and syntax diagnostics.
package compilation

import (
	"maps"
	"slices"
	"sort"
	"strings"
)

// Document is one source file in a snapshot.
type Document struct {
	Path string
	Text string
}

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a problem reported by the parser.
type Diagnostic struct {
	Document string
	Line     int
	Column   int
	Severity Severity
	Message  string
}

// Symbol is a top-level declaration.
type Symbol struct {
	Name     string
	Kind     string
	Language string
	Document string
	Line     int
}

// Unit is the parse result of one document.
type Unit struct {
	Document    Document
	Language    string
	Symbols     []Symbol
	Diagnostics []Diagnostic
}

// Parser turns a document into a unit. Implementations must be safe for
// concurrent use.
type Parser interface {
	Parse(doc Document) *Unit
}

// Compilation is an immutable snapshot. Adding documents yields a new
// snapshot that shares the parsed units of unchanged documents.
type Compilation struct {
	parser     Parser
	units      []*Unit
	index      map[string]int
	references []string
	options    map[string]string
	generation int
}

// New parses docs and returns the initial snapshot.
func New(parser Parser, docs []Document, references []string, options map[string]string) *Compilation {
	if parser == nil {
		parser = DefaultParser()
	}
	units := make([]*Unit, len(docs))
	for i, d := range docs {
		units[i] = parser.Parse(d)
	}
	return fromUnits(parser, units, references, options)
}

func fromUnits(parser Parser, units []*Unit, references []string, options map[string]string) *Compilation {
	c := &Compilation{
		parser:     parser,
		index:      make(map[string]int, len(units)),
		references: slices.Clone(references),
		options:    maps.Clone(options),
	}
	for _, u := range units {
		c.put(u)
	}
	return c
}

func (c *Compilation) put(u *Unit) {
	key := normalizePath(u.Document.Path)
	if i, ok := c.index[key]; ok {
		c.units[i] = u
		return
	}
	c.index[key] = len(c.units)
	c.units = append(c.units, u)
}

func (c *Compilation) clone() *Compilation {
	return &Compilation{
		parser:     c.parser,
		units:      slices.Clone(c.units),
		index:      maps.Clone(c.index),
		references: c.references,
		options:    c.options,
		generation: c.generation,
	}
}

// AddDocuments returns a new snapshot with docs added. A document whose path
// already exists replaces the previous one.
func (c *Compilation) AddDocuments(docs ...Document) *Compilation {
	next := c.clone()
	next.generation++
	for _, d := range docs {
		next.put(c.parser.Parse(d))
	}
	return next
}

// RemoveDocuments returns a new snapshot without the documents for which
// drop returns true.
func (c *Compilation) RemoveDocuments(drop func(path string) bool) *Compilation {
	next := &Compilation{
		parser:     c.parser,
		index:      make(map[string]int, len(c.units)),
		references: c.references,
		options:    c.options,
		generation: c.generation,
	}
	for _, u := range c.units {
		if !drop(u.Document.Path) {
			next.put(u)
		}
	}
	return next
}

// Generation counts the AddDocuments calls that led to this snapshot.
func (c *Compilation) Generation() int { return c.generation }

// Documents returns the documents in insertion order.
func (c *Compilation) Documents() []Document {
	out := make([]Document, len(c.units))
	for i, u := range c.units {
		out[i] = u.Document
	}
	return out
}

// Document returns the document at path.
func (c *Compilation) Document(path string) (Document, bool) {
	i, ok := c.index[normalizePath(path)]
	if !ok {
		return Document{}, false
	}
	return c.units[i].Document, true
}

// Units returns the parsed units in insertion order.
func (c *Compilation) Units() []*Unit { return slices.Clone(c.units) }

// References returns the reference paths.
func (c *Compilation) References() []string { return slices.Clone(c.references) }

// Options returns a copy of the compilation options.
func (c *Compilation) Options() map[string]string { return maps.Clone(c.options) }

// Symbols returns all top-level symbols across units.
func (c *Compilation) Symbols() []Symbol {
	var out []Symbol
	for _, u := range c.units {
		out = append(out, u.Symbols...)
	}
	return out
}

// LookupSymbol returns the first symbol with the given name.
func (c *Compilation) LookupSymbol(name string) (Symbol, bool) {
	for _, u := range c.units {
		for _, s := range u.Symbols {
			if s.Name == name {
				return s, true
			}
		}
	}
	return Symbol{}, false
}

// Diagnostics returns all diagnostics sorted by document and position.
func (c *Compilation) Diagnostics() []Diagnostic {
	var out []Diagnostic
	for _, u := range c.units {
		out = append(out, u.Diagnostics...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Document != out[j].Document {
			return out[i].Document < out[j].Document
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out
}

// HasErrors reports whether any unit has an error diagnostic.
func (c *Compilation) HasErrors() bool {
	for _, u := range c.units {
		for _, d := range u.Diagnostics {
			if d.Severity == SeverityError {
				return true
			}
		}
	}
	return false
}

func normalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
