//go:build cgo

package compilation

import (
	"fmt"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_bash "github.com/tree-sitter/tree-sitter-bash/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// TreeSitterParser parses Go, Python, TypeScript and Bash sources.
type TreeSitterParser struct {
	languages map[string]unsafe.Pointer
}

// NewTreeSitterParser returns a parser for the supported grammars.
func NewTreeSitterParser() *TreeSitterParser {
	return &TreeSitterParser{
		languages: map[string]unsafe.Pointer{
			LanguageGo:         tree_sitter_go.Language(),
			LanguagePython:     tree_sitter_python.Language(),
			LanguageTypeScript: tree_sitter_typescript.LanguageTypescript(),
			LanguageBash:       tree_sitter_bash.Language(),
		},
	}
}

// DefaultParser returns the tree-sitter parser.
func DefaultParser() Parser { return NewTreeSitterParser() }

// Parse implements Parser. Documents in unknown languages yield an empty unit.
func (p *TreeSitterParser) Parse(doc Document) *Unit {
	lang := DetectLanguage(doc.Path)
	unit := &Unit{Document: doc, Language: lang}
	grammar, ok := p.languages[lang]
	if !ok || doc.Text == "" {
		return unit
	}

	// Parsers are not safe for concurrent use, so each call gets its own.
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(tree_sitter.NewLanguage(grammar)); err != nil {
		unit.Diagnostics = append(unit.Diagnostics, Diagnostic{
			Document: doc.Path, Line: 1, Column: 1, Severity: SeverityError,
			Message: fmt.Sprintf("set parser language: %v", err),
		})
		return unit
	}
	src := []byte(doc.Text)
	tree := parser.Parse(src, nil)
	if tree == nil {
		unit.Diagnostics = append(unit.Diagnostics, Diagnostic{
			Document: doc.Path, Line: 1, Column: 1, Severity: SeverityError,
			Message: "parser returned no tree",
		})
		return unit
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		unit.Diagnostics = collectDiagnostics(root, src, doc.Path)
	}
	unit.Symbols = collectSymbols(lang, root, src, doc.Path)
	return unit
}

func collectDiagnostics(n *tree_sitter.Node, src []byte, path string) []Diagnostic {
	var out []Diagnostic
	var walk func(*tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if n == nil {
			return
		}
		pos := n.StartPosition()
		switch {
		case n.IsMissing():
			out = append(out, Diagnostic{
				Document: path, Line: int(pos.Row) + 1, Column: int(pos.Column) + 1,
				Severity: SeverityError, Message: fmt.Sprintf("missing %s", n.Kind()),
			})
			return
		case n.IsError():
			text := n.Utf8Text(src)
			if len(text) > 40 {
				text = text[:40] + "..."
			}
			out = append(out, Diagnostic{
				Document: path, Line: int(pos.Row) + 1, Column: int(pos.Column) + 1,
				Severity: SeverityError, Message: fmt.Sprintf("syntax error near %q", text),
			})
		}
		if !n.HasError() {
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(n)
	return out
}

func collectSymbols(lang string, root *tree_sitter.Node, src []byte, path string) []Symbol {
	var out []Symbol
	add := func(name *tree_sitter.Node, kind string) {
		if name == nil {
			return
		}
		out = append(out, Symbol{
			Name:     name.Utf8Text(src),
			Kind:     kind,
			Language: lang,
			Document: path,
			Line:     int(name.StartPosition().Row) + 1,
		})
	}
	for i := uint(0); i < root.NamedChildCount(); i++ {
		n := root.NamedChild(i)
		switch lang {
		case LanguageGo:
			goSymbols(n, add)
		case LanguagePython:
			pythonSymbols(n, add)
		case LanguageTypeScript:
			typeScriptSymbols(n, add)
		case LanguageBash:
			bashSymbols(n, add)
		}
	}
	return out
}

type addFunc func(name *tree_sitter.Node, kind string)

func goSymbols(n *tree_sitter.Node, add addFunc) {
	switch n.Kind() {
	case "function_declaration":
		add(n.ChildByFieldName("name"), "func")
	case "method_declaration":
		add(n.ChildByFieldName("name"), "method")
	case "type_declaration":
		eachNamed(n, "type_spec", func(spec *tree_sitter.Node) { add(spec.ChildByFieldName("name"), "type") })
		eachNamed(n, "type_alias", func(spec *tree_sitter.Node) { add(spec.ChildByFieldName("name"), "type") })
	case "const_declaration":
		eachNamed(n, "const_spec", func(spec *tree_sitter.Node) { add(spec.ChildByFieldName("name"), "const") })
	case "var_declaration":
		eachNamed(n, "var_spec", func(spec *tree_sitter.Node) { add(spec.ChildByFieldName("name"), "var") })
		eachNamed(n, "var_spec_list", func(list *tree_sitter.Node) {
			eachNamed(list, "var_spec", func(spec *tree_sitter.Node) { add(spec.ChildByFieldName("name"), "var") })
		})
	}
}

func pythonSymbols(n *tree_sitter.Node, add addFunc) {
	switch n.Kind() {
	case "function_definition":
		add(n.ChildByFieldName("name"), "func")
	case "class_definition":
		add(n.ChildByFieldName("name"), "class")
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			pythonSymbols(def, add)
		}
	case "expression_statement":
		eachNamed(n, "assignment", func(a *tree_sitter.Node) {
			if left := a.ChildByFieldName("left"); left != nil && left.Kind() == "identifier" {
				add(left, "var")
			}
		})
	}
}

func typeScriptSymbols(n *tree_sitter.Node, add addFunc) {
	switch n.Kind() {
	case "function_declaration", "generator_function_declaration":
		add(n.ChildByFieldName("name"), "func")
	case "class_declaration", "abstract_class_declaration":
		add(n.ChildByFieldName("name"), "class")
	case "interface_declaration", "type_alias_declaration":
		add(n.ChildByFieldName("name"), "type")
	case "enum_declaration":
		add(n.ChildByFieldName("name"), "enum")
	case "lexical_declaration", "variable_declaration":
		eachNamed(n, "variable_declarator", func(d *tree_sitter.Node) {
			if name := d.ChildByFieldName("name"); name != nil && name.Kind() == "identifier" {
				add(name, "var")
			}
		})
	case "export_statement":
		if decl := n.ChildByFieldName("declaration"); decl != nil {
			typeScriptSymbols(decl, add)
		}
	}
}

func bashSymbols(n *tree_sitter.Node, add addFunc) {
	switch n.Kind() {
	case "function_definition":
		add(n.ChildByFieldName("name"), "func")
	case "variable_assignment":
		add(n.ChildByFieldName("name"), "var")
	case "declaration_command":
		eachNamed(n, "variable_assignment", func(a *tree_sitter.Node) { add(a.ChildByFieldName("name"), "var") })
	}
}

func eachNamed(n *tree_sitter.Node, kind string, fn func(*tree_sitter.Node)) {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if c := n.NamedChild(i); c != nil && c.Kind() == kind {
			fn(c)
		}
	}
}
