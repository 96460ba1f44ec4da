package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"dario.cat/mergo"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
)

const maxImportDepth = 16

var propertyRef = regexp.MustCompile(`\$\(([A-Za-z_][A-Za-z0-9_.]*)\)`)

// GlobalProperties returns the properties every evaluation starts from.
func GlobalProperties(env buildenv.Environment) map[string]string {
	props := map[string]string{
		"BuildingProject":               "true",
		"DesignTimeBuild":               "true",
		"BuildingInsideSourceGenerator": "true",
		"Configuration":                 env.EffectiveConfiguration(),
	}
	set := func(k, v string) {
		if v != "" {
			props[k] = v
		}
	}
	set("Platform", env.Platform)
	set("TargetFramework", env.TargetFramework)
	set("VisualStudioVersion", env.VisualStudioVersion)
	set("TargetFrameworkRootPath", env.TargetFrameworkRootPath)
	set("MSBuildBinPath", env.MSBuildBinPath)
	return props
}

// Load evaluates the project named by env. extra properties override the
// global ones.
func Load(ctx context.Context, env buildenv.Environment, extra map[string]string) (*Project, error) {
	path, err := filepath.Abs(env.ProjectFile)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryProject, "resolve project path").Build()
	}
	p := &Project{
		Path:          path,
		Dir:           filepath.Dir(path),
		Configuration: env.EffectiveConfiguration(),
		Platform:      env.Platform,
	}
	p.track(path)

	file, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := p.mergeImports(file, p.Dir, map[string]bool{path: true}, 0); err != nil {
		return nil, err
	}

	props := make(map[string]string, len(file.Properties)+8)
	for k, v := range file.Properties {
		props[k] = v
	}
	for k, v := range GlobalProperties(env) {
		props[k] = v
	}
	for k, v := range extra {
		props[k] = v
	}
	props["MSBuildProjectDirectory"] = p.Dir
	props["MSBuildProjectFullPath"] = path
	// Project-defined properties may reference each other and globals.
	for range 4 {
		next := make(map[string]string, len(props))
		for k, v := range props {
			next[k] = expand(v, props)
		}
		props = next
	}
	p.Properties = props

	p.Name = file.Name
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	for _, pattern := range file.Compile {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := expandGlob(p.Dir, expand(pattern, props))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !slices.Contains(p.SourceFiles, m) {
				p.SourceFiles = append(p.SourceFiles, m)
				p.track(m)
			}
		}
	}

	for _, ref := range append(slices.Clone(file.References), env.ReferencePath...) {
		p.References = append(p.References, absIn(p.Dir, expand(ref, props)))
	}

	for _, it := range file.Items {
		it.Include = expand(it.Include, props)
		it.FullPath = absIn(p.Dir, it.Include)
		p.Items = append(p.Items, it)
		switch {
		case strings.EqualFold(it.Type, ItemEmbeddedResource), strings.EqualFold(it.Type, ItemUpToDateInput):
			p.track(it.FullPath)
		case strings.EqualFold(it.Type, ItemCompile):
			if !slices.Contains(p.SourceFiles, it.FullPath) {
				p.SourceFiles = append(p.SourceFiles, it.FullPath)
				p.track(it.FullPath)
			}
		}
	}

	for _, in := range file.UpToDateInputs {
		full := absIn(p.Dir, expand(in, props))
		p.UpToDateInputs = append(p.UpToDateInputs, full)
		p.track(full)
	}

	p.Generators = slices.Clone(file.Generators)

	iop := file.IntermediateOutputPath
	if iop == "" {
		iop = filepath.Join("obj", "$(Configuration)")
	}
	p.IntermediateOutputPath = absIn(p.Dir, expand(iop, props))
	return p, nil
}

// mergeImports folds imported project files into file. Values declared in
// file win; lists are appended.
func (p *Project) mergeImports(file *File, dir string, seen map[string]bool, depth int) error {
	if depth > maxImportDepth {
		return ferrors.ProjectError("project imports nest too deeply").Build()
	}
	imports := file.Imports
	file.Imports = nil
	for _, imp := range imports {
		full := absIn(dir, imp)
		if seen[full] {
			continue
		}
		seen[full] = true
		p.Imports = append(p.Imports, full)
		p.track(full)

		child, err := readFile(full)
		if err != nil {
			return err
		}
		if err := p.mergeImports(child, filepath.Dir(full), seen, depth+1); err != nil {
			return err
		}
		// Relative entries in the import are relative to the import itself.
		rebase(child, filepath.Dir(full))
		if err := mergo.Merge(file, child, mergo.WithAppendSlice); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryProject, "merge project import").
				WithContext("import", full).Build()
		}
	}
	return nil
}

func rebase(f *File, dir string) {
	for i, c := range f.Compile {
		f.Compile[i] = absIn(dir, c)
	}
	for i, r := range f.References {
		f.References[i] = absIn(dir, r)
	}
	for i := range f.Items {
		f.Items[i].Include = absIn(dir, f.Items[i].Include)
	}
	for i, u := range f.UpToDateInputs {
		f.UpToDateInputs[i] = absIn(dir, u)
	}
	if f.IntermediateOutputPath != "" {
		f.IntermediateOutputPath = absIn(dir, f.IntermediateOutputPath)
	}
}

func readFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryProject, "read project file").
			WithContext("path", path).Build()
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryProject, "parse project file").
			WithContext("path", path).Build()
	}
	return &f, nil
}

func expand(s string, props map[string]string) string {
	if !strings.Contains(s, "$(") {
		return s
	}
	return propertyRef.ReplaceAllStringFunc(s, func(m string) string {
		name := propertyRef.FindStringSubmatch(m)[1]
		if v, ok := props[name]; ok && !strings.Contains(v, m) {
			return v
		}
		for k, v := range props {
			if strings.EqualFold(k, name) && !strings.Contains(v, m) {
				return v
			}
		}
		return ""
	})
}

func absIn(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}

// expandGlob matches pattern against files under dir. "**" crosses
// directories; patterns without metacharacters name a single file.
func expandGlob(dir, pattern string) ([]string, error) {
	full := filepath.ToSlash(absIn(dir, pattern))
	if !strings.ContainsAny(full, "*?[{") {
		return []string{filepath.FromSlash(full)}, nil
	}
	// "a/**/b" also matches "a/b".
	var globs []glob.Glob
	for _, variant := range []string{full, strings.ReplaceAll(full, "/**/", "/")} {
		g, err := glob.Compile(variant, '/')
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryProject, "invalid compile pattern").
				WithContext("pattern", pattern).Build()
		}
		globs = append(globs, g)
	}
	root := globRoot(full)
	var out []string
	err := filepath.WalkDir(filepath.FromSlash(root), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		slashed := filepath.ToSlash(path)
		for _, g := range globs {
			if g.Match(slashed) {
				out = append(out, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", pattern, err)
	}
	slices.Sort(out)
	return out, nil
}

// globRoot returns the longest directory prefix without metacharacters.
func globRoot(pattern string) string {
	i := strings.IndexAny(pattern, "*?[{")
	return pattern[:strings.LastIndex(pattern[:i], "/")+1]
}
