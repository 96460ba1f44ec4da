package generators

import (
	"strconv"

	"git.home.luguber.info/inful/srcgenhost/internal/generator"
)

// ProjectInfo emits the project path and the evaluated build properties.
type ProjectInfo struct{}

// Execute implements generator.Generator.
func (ProjectInfo) Execute(c *generator.Context) error {
	env := c.Environment()
	c.Debug(ProjectInfoName+": collecting project information", nil)

	if syms := c.Compilation().Symbols(); len(syms) > 0 {
		first := syms[0]
		c.Info("First compiled symbol is "+first.Name+" in "+first.Document, nil)
	}

	src := newSource(packageName(c))
	src.printf("\n// ProjectPath is the project file this package was generated from.\nconst ProjectPath = %s\n", strconv.Quote(env.ProjectFile))
	src.printf("\n// Configuration is the build configuration.\nconst Configuration = %s\n", strconv.Quote(env.EffectiveConfiguration()))
	src.stringMap("BuildProperties", "holds the evaluated build properties.", c.Properties())
	return c.AddSource("ProjectInfo", src.String())
}
