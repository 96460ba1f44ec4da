package generator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/project"
)

func noop() Generator { return Func(func(*Context) error { return nil }) }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "GenA"}, noop))
	require.NoError(t, r.Register(Descriptor{Name: "GenB", After: []string{"GenA"}}, noop))

	err := r.Register(Descriptor{Name: "gena"}, noop)
	require.Error(t, err)
	assert.Equal(t, ferrors.CategoryValidation, ferrors.GetCategory(err))

	require.Error(t, r.Register(Descriptor{Name: "  "}, noop))
	require.Error(t, r.Register(Descriptor{Name: "GenC"}, nil))
	assert.Equal(t, 2, r.Len())

	d, f, ok := r.Lookup("GENB")
	require.True(t, ok)
	assert.Equal(t, "GenB", d.Name)
	assert.Equal(t, []string{"GenA"}, d.After)
	assert.NotNil(t, f())
	assert.False(t, r.Has("GenC"))

	names := []string{}
	for _, d := range r.Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"GenA", "GenB"}, names)
}

func TestRegistry_Select(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Descriptor{Name: "GenA"}, noop)
	r.MustRegister(Descriptor{Name: "GenB"}, noop)

	found, missing := r.Select([]string{"genb", "Unknown", "GENB"})
	require.Len(t, found, 1)
	assert.Equal(t, "GenB", found[0].Name)
	assert.Equal(t, []string{"Unknown"}, missing)

	all, missing := r.Select(nil)
	assert.Len(t, all, 2)
	assert.Empty(t, missing)

	assert.Panics(t, func() { r.MustRegister(Descriptor{Name: "GenA"}, noop) })
}

func TestContext_AddSource(t *testing.T) {
	c := NewContext(context.Background(), "GenA", Input{}, nil)
	require.NoError(t, c.AddSource("X", "A"))
	require.NoError(t, c.AddSource("Y", "B"))
	require.Error(t, c.AddSource("x", "again"))
	require.Error(t, c.AddSource("", "empty"))

	arts := c.Artifacts()
	require.Len(t, arts, 2)
	assert.Equal(t, Artifact{Generator: "GenA", HintName: "X", Text: "A"}, arts[0])
	assert.Equal(t, "Y", arts[1].HintName)
}

func TestContext_AddSourceConcurrently(t *testing.T) {
	c := NewContext(context.Background(), "GenA", Input{}, nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.AddSource(string(rune('a'+i%26))+string(rune('A'+i/26)), "x")
		}()
	}
	wg.Wait()
	assert.Len(t, c.Artifacts(), 50)
}

func TestContext_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := NewContext(context.Background(), "GenA", Input{}, logger)
	c.Debug("d", nil)
	c.Info("i", nil)
	c.Warn("w", nil)
	c.Error("e", errors.New("boom"))

	logs := c.Logs()
	require.Len(t, logs, 4)
	assert.Equal(t, LevelWarn, logs[2].Level)
	assert.EqualError(t, logs[3].Cause, "boom")
	assert.Contains(t, buf.String(), "generator=GenA")
	assert.Contains(t, buf.String(), "boom")
	assert.Equal(t, "error", LevelError.String())
}

func TestContext_ItemsAndOptions(t *testing.T) {
	items := []project.Item{
		{Type: "AdditionalFiles", Include: "a.txt", Metadata: map[string]string{"MyOption": "yes"}},
		{Type: "Markdown", Include: "b.md"},
	}
	c := NewContext(context.Background(), "GenA", Input{
		Items:      items,
		Options:    map[string]string{"build_property.RootNamespace": "demo"},
		Properties: map[string]string{"Configuration": "Debug"},
	}, nil)

	assert.Len(t, c.Items(""), 2)
	add := c.Items("additionalfiles")
	require.Len(t, add, 1)

	v, ok := c.FileOption(add[0], "build_metadata.AdditionalFiles.MyOption")
	require.True(t, ok)
	assert.Equal(t, "yes", v)
	v, ok = c.FileOption(add[0], "myoption")
	require.True(t, ok)
	assert.Equal(t, "yes", v)
	_, ok = c.FileOption(add[0], "Missing")
	assert.False(t, ok)

	assert.Equal(t, map[string]string{"build_metadata.AdditionalFiles.MyOption": "yes"}, FileOptions(add[0]))

	v, ok = c.Option("build_property.RootNamespace")
	require.True(t, ok)
	assert.Equal(t, "demo", v)
	assert.Equal(t, "Debug", c.Property("configuration"))

	opts := c.Options()
	opts["mutated"] = "x"
	_, ok = c.Option("mutated")
	assert.False(t, ok)
}

func TestSameName(t *testing.T) {
	assert.True(t, SameName(" GenA", "gena"))
	assert.False(t, SameName("GenA", "GenB"))
}
