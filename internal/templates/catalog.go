// Package templates scaffolds new projects from built-in generators or from
// user templates kept as plain directories under the templates directory.
//
// A user template may carry a TEMPLATE.md at its root whose YAML front
// matter declares a description, a project type and extra commands:
//
//	---
//	description: Internal service skeleton
//	type: go
//	commands:
//	  lint: golangci-lint run
//	---
//
// The manifest itself is not copied into new projects.
package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/adrg/frontmatter"
	"github.com/go-git/go-git/v5"

	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/runner"
	"projectctl/pkg/logging"
)

// ManifestFile is the optional description file at a user template's root.
const ManifestFile = "TEMPLATE.md"

// Template describes one entry of the catalog.
type Template struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        project.Type      `json:"type,omitempty"`
	Builtin     bool              `json:"builtin"`
	Dir         string            `json:"dir,omitempty"`
	Commands    map[string]string `json:"commands,omitempty"`
}

type manifest struct {
	Description string            `yaml:"description"`
	Type        string            `yaml:"type"`
	Commands    map[string]string `yaml:"commands"`
}

// CommandRunner executes generator lines; *runner.Runner satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, req runner.Request) (runner.Outcome, error)
}

// Catalog lists and instantiates templates.
type Catalog struct {
	dir    string
	runner CommandRunner
}

// NewCatalog returns a catalog reading user templates from dir.
func NewCatalog(dir string, r CommandRunner) *Catalog {
	return &Catalog{dir: dir, runner: r}
}

// List returns the built-in templates followed by user templates sorted by
// name. A user template shadowing a built-in replaces it in place.
func (c *Catalog) List() ([]Template, error) {
	custom, err := c.custom()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Template, len(custom))
	for _, t := range custom {
		byName[t.Name] = t
	}

	out := make([]Template, 0, len(builtins)+len(custom))
	for _, b := range builtins {
		if t, ok := byName[b.name]; ok {
			out = append(out, t)
			delete(byName, b.name)
			continue
		}
		out = append(out, b.template())
	}
	for _, t := range custom {
		if _, ok := byName[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// Get looks a template up by name, preferring user templates.
func (c *Catalog) Get(name string) (Template, error) {
	dir := filepath.Join(c.dir, name)
	if validName(name) == nil {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return c.load(name, dir)
		}
	}
	if b, ok := findBuiltin(name); ok {
		return b.template(), nil
	}
	return Template{}, fmt.Errorf("template %q: %w", name, errdefs.ErrNotFound)
}

// Add copies the directory src into the catalog as a user template.
func (c *Catalog) Add(name, src string) (Template, error) {
	if err := validName(name); err != nil {
		return Template{}, err
	}
	fi, err := os.Stat(src)
	if err != nil || !fi.IsDir() {
		return Template{}, fmt.Errorf("template source %s is not a directory: %w", src, errdefs.ErrInvalidArgument)
	}
	dst := filepath.Join(c.dir, name)
	if _, err := os.Lstat(dst); err == nil {
		return Template{}, fmt.Errorf("template %q: %w", name, errdefs.ErrAlreadyExists)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return Template{}, fmt.Errorf("failed to create templates directory: %w", err)
	}
	if err := copyTree(src, dst, nil); err != nil {
		_ = os.RemoveAll(dst)
		return Template{}, fmt.Errorf("failed to copy template %q: %w", name, err)
	}
	logging.Info("Templates", "added template %s from %s", name, src)
	return c.load(name, dst)
}

// Create scaffolds a project called name inside parent from template
// tmpl, initializes a git repository and returns the detected record.
// The caller registers it.
func (c *Catalog) Create(ctx context.Context, name, tmpl, parent string) (project.Project, error) {
	if err := validName(name); err != nil {
		return project.Project{}, err
	}
	t, err := c.Get(tmpl)
	if err != nil {
		return project.Project{}, err
	}
	parent, err = project.ExpandPath(parent)
	if err != nil {
		return project.Project{}, err
	}
	if parent, err = filepath.Abs(parent); err != nil {
		return project.Project{}, err
	}
	target := filepath.Join(parent, name)
	if _, err := os.Lstat(target); err == nil {
		return project.Project{}, fmt.Errorf("directory %s: %w", target, errdefs.ErrAlreadyExists)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return project.Project{}, fmt.Errorf("failed to create %s: %w", target, err)
	}

	logging.Info("Templates", "creating %s from template %s in %s", name, t.Name, target)
	if t.Builtin {
		b, _ := findBuiltin(t.Name)
		err = c.generate(ctx, b, name, target)
	} else {
		err = copyTree(t.Dir, target, func(rel string) bool { return rel == ManifestFile })
	}
	if err != nil {
		return project.Project{}, err
	}

	if _, err := git.PlainInit(target, false); err != nil && !errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return project.Project{}, fmt.Errorf("failed to initialize git repository: %w", err)
	}

	p, err := project.Detect(target)
	if err != nil {
		return project.Project{}, err
	}
	p.Name = name
	p.Path = target
	if t.Type != "" && t.Type != project.TypeUnknown {
		p.Type = t.Type
		if len(p.Commands) == 0 {
			p.Commands = project.DefaultCommands(target, t.Type)
		}
	}
	for k, v := range t.Commands {
		if p.Commands == nil {
			p.Commands = map[string]string{}
		}
		p.Commands[k] = v
	}
	return p, nil
}

func (c *Catalog) generate(ctx context.Context, b builtin, name, target string) error {
	data := struct{ Name string }{Name: name}
	for rel, body := range b.files {
		out, err := render(rel, body, data)
		if err != nil {
			return err
		}
		path := filepath.Join(target, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}
	if len(b.generate) == 0 {
		return nil
	}
	if c.runner == nil {
		return fmt.Errorf("template %s needs a command runner: %w", b.name, errdefs.ErrInvalidArgument)
	}
	p := project.Project{Name: name, Path: target, Type: b.typ}
	for i, line := range b.generate {
		rendered, err := render(fmt.Sprintf("%s step %d", b.name, i+1), line, data)
		if err != nil {
			return err
		}
		if _, err := c.runner.Run(ctx, runner.Request{Project: p, Literal: string(rendered)}); err != nil {
			return fmt.Errorf("template %s: %s: %w", b.name, rendered, err)
		}
	}
	return nil
}

func (c *Catalog) custom() ([]Template, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}
	var out []Template
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		t, err := c.load(e.Name(), filepath.Join(c.dir, e.Name()))
		if err != nil {
			logging.Warn("Templates", "skipping template %s: %v", e.Name(), err)
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) load(name, dir string) (Template, error) {
	t := Template{Name: name, Dir: dir, Description: "custom template"}
	f, err := os.Open(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	defer f.Close()

	var m manifest
	if _, err := frontmatter.Parse(f, &m); err != nil {
		return t, fmt.Errorf("invalid %s: %w", ManifestFile, err)
	}
	if m.Description != "" {
		t.Description = m.Description
	}
	if m.Type != "" {
		typ, err := project.ParseType(m.Type)
		if err != nil {
			return t, err
		}
		t.Type = typ
	}
	t.Commands = m.Commands
	return t, nil
}

func (b builtin) template() Template {
	return Template{Name: b.name, Description: b.description, Type: b.typ, Builtin: true}
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q: %w", name, errdefs.ErrInvalidArgument)
	}
	return nil
}

func render(name, body string, data any) ([]byte, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// copyTree copies src into dst preserving modes and symlinks. skip is
// consulted with slash-separated paths relative to src.
func copyTree(src, dst string, skip func(rel string) bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && skip != nil && skip(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
