package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir

// ServiceKind tells the orchestrator which tooling drives a service.
type ServiceKind string

const (
	KindContainer ServiceKind = "container"
	KindProcess   ServiceKind = "process"
)

// ServiceSpec is a declared background service of a project.
type ServiceSpec struct {
	Name        string      `yaml:"name" json:"name"`
	Kind        ServiceKind `yaml:"kind" json:"kind"`
	Port        int         `yaml:"port,omitempty" json:"port,omitempty"`
	Command     string      `yaml:"command,omitempty" json:"command,omitempty"`           // managed processes
	ComposeFile string      `yaml:"compose_file,omitempty" json:"compose_file,omitempty"` // containers, relative to the project path

	Extra map[string]interface{} `yaml:",inline" json:"-"`
}

// UnmarshalYAML accepts the short form `- db` (a compose service name) as
// well as the full mapping.
func (s *ServiceSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Name = node.Value
		s.Kind = KindContainer
		return nil
	}

	type plain ServiceSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = ServiceSpec(p)
	if s.Kind == "" {
		if s.Command != "" {
			s.Kind = KindProcess
		} else {
			s.Kind = KindContainer
		}
	}
	return nil
}

// Validate checks a single service declaration.
func (s ServiceSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("service name must not be empty")
	}
	switch s.Kind {
	case KindContainer:
	case KindProcess:
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("service %q: process services need a command", s.Name)
		}
	default:
		return fmt.Errorf("service %q: unknown kind %q", s.Name, s.Kind)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("service %q: port %d out of range", s.Name, s.Port)
	}
	return nil
}

// Project is a registered codebase.
type Project struct {
	Name         string            `yaml:"name" json:"name"`
	Aliases      []string          `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Path         string            `yaml:"path" json:"path"`
	Type         Type              `yaml:"type" json:"type"`
	Services     []ServiceSpec     `yaml:"services,omitempty" json:"services,omitempty"`
	Commands     map[string]string `yaml:"commands,omitempty" json:"commands,omitempty"`
	Env          map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	LastDepCheck *time.Time        `yaml:"last_dep_check,omitempty" json:"last_dep_check,omitempty"`

	Extra map[string]interface{} `yaml:",inline" json:"-"`
}

// ExpandedPath resolves a leading ~ and environment references in Path.
func (p Project) ExpandedPath() (string, error) {
	return ExpandPath(p.Path)
}

// ExpandPath expands ~ and $VAR references lazily, at use time.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := osUserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand %q: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}

// Identifiers returns the name followed by all aliases.
func (p Project) Identifiers() []string {
	return append([]string{p.Name}, p.Aliases...)
}

// HasIdentifier reports whether ref is the project's name or one of its aliases.
func (p Project) HasIdentifier(ref string) bool {
	for _, id := range p.Identifiers() {
		if id == ref {
			return true
		}
	}
	return false
}

// Service looks up a declared service by name.
func (p Project) Service(name string) (ServiceSpec, bool) {
	for _, s := range p.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceSpec{}, false
}

// CommandNames returns the command keys in sorted order.
func (p Project) CommandNames() []string {
	names := make([]string, 0, len(p.Commands))
	for n := range p.Commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the project's own fields. Cross-project rules such as
// alias collisions are enforced by the registry.
func (p Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("project name must not be empty")
	}
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("project %q: path must not be empty", p.Name)
	}
	seen := map[string]bool{}
	for _, id := range p.Identifiers() {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("project %q: empty alias", p.Name)
		}
		if seen[id] {
			return fmt.Errorf("project %q: duplicate identifier %q", p.Name, id)
		}
		seen[id] = true
	}
	services := map[string]bool{}
	for _, s := range p.Services {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("project %q: %w", p.Name, err)
		}
		if services[s.Name] {
			return fmt.Errorf("project %q: duplicate service %q", p.Name, s.Name)
		}
		services[s.Name] = true
	}
	return nil
}
