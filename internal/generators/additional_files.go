package generators

import (
	"os"
	"strings"

	"git.home.luguber.info/inful/srcgenhost/internal/generator"
	"git.home.luguber.info/inful/srcgenhost/internal/project"
)

// MyOptionKey is the per-file option AdditionalFiles reports.
var MyOptionKey = generator.FileOptionKey(project.ItemAdditionalFiles, "MyOption")

// AdditionalFiles emits every AdditionalFiles item with its text and its
// MyOption metadata.
type AdditionalFiles struct{}

// Execute implements generator.Generator.
func (AdditionalFiles) Execute(c *generator.Context) error {
	items := c.Items(project.ItemAdditionalFiles)
	files := make(map[string]string, len(items))
	for _, it := range items {
		if err := c.Context().Err(); err != nil {
			return err
		}
		text, err := os.ReadFile(it.FullPath)
		if err != nil {
			c.Warn("Cannot read additional file "+it.FullPath, err)
		}
		opt, ok := c.FileOption(it, MyOptionKey)
		if !ok {
			opt = "Not found :("
		}
		files[it.FullPath] = strings.TrimRight(string(text), "\r\n") + " -- MyOption: " + opt
	}

	src := newSource(packageName(c))
	src.printf("\n// AdditionalFilesCount is the number of additional files.\nconst AdditionalFilesCount = %d\n", len(items))
	src.stringMap("AdditionalFilesInfo", "maps each additional file to its text and MyOption value.", files)
	return c.AddSource("AdditionalFiles", src.String())
}
