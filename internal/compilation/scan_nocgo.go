//go:build !cgo

package compilation

import (
	"regexp"
	"strings"
)

// lineScanner recognizes top-level Go declarations line by line. It is used
// when the tree-sitter grammars cannot be linked.
type lineScanner struct{}

var goDecl = regexp.MustCompile(`^(func|type|const|var)\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`)

// DefaultParser returns the line scanner.
func DefaultParser() Parser { return lineScanner{} }

func (lineScanner) Parse(doc Document) *Unit {
	lang := DetectLanguage(doc.Path)
	unit := &Unit{Document: doc, Language: lang}
	if lang != LanguageGo {
		return unit
	}
	for i, line := range strings.Split(doc.Text, "\n") {
		m := goDecl.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		kind := m[1]
		if kind == "func" && strings.HasPrefix(strings.TrimSpace(line[len("func"):]), "(") {
			kind = "method"
		}
		unit.Symbols = append(unit.Symbols, Symbol{
			Name: m[2], Kind: kind, Language: lang, Document: doc.Path, Line: i + 1,
		})
	}
	return unit
}
