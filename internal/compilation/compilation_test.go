package compilation

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSource = `package demo

type Widget struct{}

func NewWidget() *Widget { return &Widget{} }

func (w *Widget) Spin() {}

const Answer = 42

var Registry = map[string]int{}
`

func symbolNames(syms []Symbol) []string {
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		out = append(out, s.Name)
	}
	return out
}

func TestNew_GoSymbols(t *testing.T) {
	c := New(nil, []Document{{Path: "demo.go", Text: goSource}}, []string{"ref.a"}, map[string]string{"k": "v"})

	assert.ElementsMatch(t, []string{"Widget", "NewWidget", "Spin", "Answer", "Registry"}, symbolNames(c.Symbols()))
	s, ok := c.LookupSymbol("Spin")
	require.True(t, ok)
	assert.Equal(t, "method", s.Kind)
	assert.Equal(t, "demo.go", s.Document)
	assert.Equal(t, []string{"ref.a"}, c.References())
	assert.Equal(t, "v", c.Options()["k"])
	assert.Zero(t, c.Generation())
}

func TestAddDocuments_IsImmutable(t *testing.T) {
	base := New(nil, []Document{{Path: "a.go", Text: "package a\nfunc A() {}\n"}}, nil, nil)
	next := base.AddDocuments(Document{Path: "b.go", Text: "package a\nfunc B() {}\n"})

	assert.Len(t, base.Documents(), 1)
	assert.Len(t, next.Documents(), 2)
	_, ok := base.LookupSymbol("B")
	assert.False(t, ok, "the original snapshot must not see added documents")
	_, ok = next.LookupSymbol("B")
	assert.True(t, ok)
	assert.Equal(t, 1, next.Generation())

	// Shared units are reused, not reparsed.
	assert.Same(t, base.Units()[0], next.Units()[0])
}

func TestAddDocuments_ReplacesSamePath(t *testing.T) {
	base := New(nil, []Document{{Path: "a.go", Text: "package a\nfunc Old() {}\n"}}, nil, nil)
	next := base.AddDocuments(Document{Path: "a.go", Text: "package a\nfunc New() {}\n"})

	require.Len(t, next.Documents(), 1)
	_, ok := next.LookupSymbol("Old")
	assert.False(t, ok)
	_, ok = next.LookupSymbol("New")
	assert.True(t, ok)
}

func TestRemoveDocuments(t *testing.T) {
	c := New(nil, []Document{
		{Path: "src/a.go", Text: "package a\n"},
		{Path: "obj/g/Gen/x.g.go", Text: "package a\n"},
	}, nil, nil)
	stripped := c.RemoveDocuments(func(p string) bool { return filepath.Dir(p) == "obj/g/Gen" })

	assert.Len(t, c.Documents(), 2)
	require.Len(t, stripped.Documents(), 1)
	assert.Equal(t, "src/a.go", stripped.Documents()[0].Path)
	_, ok := stripped.Document("obj/g/Gen/x.g.go")
	assert.False(t, ok)
}

func TestProvider_Open(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.go")
	b := filepath.Join(dir, "b.go")
	require.NoError(t, os.WriteFile(a, []byte("package x\nfunc A() {}\n"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("package x\nfunc B() {}\n"), 0o600))

	c, err := NewProvider(nil).Open(context.Background(), []string{a, b}, nil, nil)
	require.NoError(t, err)
	docs := c.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, a, docs[0].Path)
	assert.Equal(t, b, docs[1].Path)
	assert.ElementsMatch(t, []string{"A", "B"}, symbolNames(c.Symbols()))
}

// rendezvousParser blocks each Parse until want calls are in flight at once.
type rendezvousParser struct {
	want    int
	mu      sync.Mutex
	waiting int
	met     chan struct{}
}

func (p *rendezvousParser) Parse(doc Document) *Unit {
	p.mu.Lock()
	p.waiting++
	if p.waiting == p.want {
		close(p.met)
	}
	p.mu.Unlock()
	select {
	case <-p.met:
	case <-time.After(2 * time.Second):
	}
	return &Unit{Document: doc, Language: DetectLanguage(doc.Path)}
}

func TestProvider_OpenParsesConcurrently(t *testing.T) {
	if runtime.GOMAXPROCS(0) < 2 {
		t.Skip("needs at least two procs")
	}
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "a.go"), filepath.Join(dir, "b.go")}
	for _, f := range files {
		require.NoError(t, os.WriteFile(f, []byte("package x\n"), 0o600))
	}
	parser := &rendezvousParser{want: 2, met: make(chan struct{})}

	c, err := NewProvider(parser).Open(context.Background(), files, nil, nil)
	require.NoError(t, err)
	select {
	case <-parser.met:
	default:
		t.Fatal("documents were parsed one at a time")
	}
	require.Len(t, c.Documents(), 2)
	assert.Equal(t, files[0], c.Documents()[0].Path)
}

func TestProvider_OpenMissingFile(t *testing.T) {
	_, err := NewProvider(nil).Open(context.Background(), []string{filepath.Join(t.TempDir(), "nope.go")}, nil, nil)
	require.Error(t, err)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, LanguageGo, DetectLanguage("x/y.go"))
	assert.Equal(t, LanguagePython, DetectLanguage("y.PY"))
	assert.Equal(t, LanguageTypeScript, DetectLanguage("y.ts"))
	assert.Equal(t, LanguageBash, DetectLanguage("y.sh"))
	assert.Empty(t, DetectLanguage("README.md"))
}
