package generators

import (
	"strconv"

	"git.home.luguber.info/inful/srcgenhost/internal/compilation"
	"git.home.luguber.info/inful/srcgenhost/internal/generator"
)

// SymbolIndex emits every top-level symbol of the compilation it runs
// against, including those generated by earlier groups.
type SymbolIndex struct{}

// Execute implements generator.Generator.
func (SymbolIndex) Execute(c *generator.Context) error {
	syms := c.Compilation().Symbols()
	src := newSource(packageName(c))
	src.printf("\n// Symbol is one indexed declaration.\ntype Symbol struct {\n\tName     string\n\tKind     string\n\tDocument string\n}\n")
	src.printf("\n// Symbols lists the top-level declarations known when this file was generated.\nvar Symbols = []Symbol{\n")
	for _, s := range syms {
		src.printf("\t{Name: %s, Kind: %s, Document: %s},\n",
			strconv.Quote(s.Name), strconv.Quote(s.Kind), strconv.Quote(s.Document))
	}
	src.printf("}\n")

	if diags := errorsOf(c.Compilation()); len(diags) > 0 {
		c.Warn("Compilation has syntax errors; the index may be incomplete", nil)
	}
	return c.AddSource("SymbolIndex", src.String())
}

func errorsOf(comp *compilation.Compilation) []compilation.Diagnostic {
	var out []compilation.Diagnostic
	for _, d := range comp.Diagnostics() {
		if d.Severity == compilation.SeverityError {
			out = append(out, d)
		}
	}
	return out
}
