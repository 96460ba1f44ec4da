package generators

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/generator"
	"git.home.luguber.info/inful/srcgenhost/internal/project"
)

// ItemMarkdown is the item type MarkdownDocs renders.
const ItemMarkdown = "Markdown"

// MarkdownDocs renders Markdown items to HTML string constants.
type MarkdownDocs struct{}

type renderedDoc struct {
	ident string
	title string
	path  string
	html  string
}

// Execute implements generator.Generator.
func (MarkdownDocs) Execute(c *generator.Context) error {
	items := c.Items(ItemMarkdown)
	if len(items) == 0 {
		c.Debug(MarkdownDocsName+": no Markdown items", nil)
		return nil
	}
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	docs := make([]renderedDoc, 0, len(items))
	used := make(map[string]int)
	for _, it := range items {
		if err := c.Context().Err(); err != nil {
			return err
		}
		doc, err := renderMarkdown(md, it)
		if err != nil {
			return err
		}
		// Files with the same base name get numbered identifiers.
		if n := used[doc.ident]; n > 0 {
			used[doc.ident] = n + 1
			doc.ident += strconv.Itoa(n + 1)
		} else {
			used[doc.ident] = 1
		}
		docs = append(docs, doc)
	}
	slices.SortFunc(docs, func(a, b renderedDoc) int { return strings.Compare(a.ident, b.ident) })

	src := newSource(packageName(c))
	for _, d := range docs {
		src.printf("\n// %s is the rendered HTML of %s.\n", d.ident, filepath.Base(d.path))
		if d.title != "" {
			src.printf("// Title: %s\n", d.title)
		}
		src.printf("const %s = %s\n", d.ident, strconv.Quote(d.html))
	}
	return c.AddSource("MarkdownDocs", src.String())
}

func renderMarkdown(md goldmark.Markdown, it project.Item) (renderedDoc, error) {
	body, err := readItem(it)
	if err != nil {
		return renderedDoc{}, err
	}
	root := md.Parser().Parse(text.NewReader(body))
	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, body, root); err != nil {
		return renderedDoc{}, err
	}
	base := strings.TrimSuffix(filepath.Base(it.FullPath), filepath.Ext(it.FullPath))
	return renderedDoc{
		ident: "Doc" + identifier(base),
		title: firstHeading(root, body),
		path:  it.FullPath,
		html:  buf.String(),
	}, nil
}

func firstHeading(root gmast.Node, src []byte) string {
	var title string
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		if h, ok := n.(*gmast.Heading); ok {
			var b strings.Builder
			for c := h.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*gmast.Text); ok {
					b.Write(t.Segment.Value(src))
				}
			}
			title = b.String()
			return gmast.WalkStop, nil
		}
		return gmast.WalkContinue, nil
	})
	return title
}

func readItem(it project.Item) ([]byte, error) {
	data, err := os.ReadFile(it.FullPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read item").
			WithContext("path", it.FullPath).Build()
	}
	return data, nil
}
