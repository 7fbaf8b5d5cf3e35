package registry

import (
	"fmt"

	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/state"
)

// CurrentVersion is the document version written by this build.
const CurrentVersion = 1

// Record is the persisted aggregate: known projects, the MRU stack and the
// last-known runtime state of every service.
type Record struct {
	Version  int                                      `yaml:"version" json:"version"`
	Projects []project.Project                        `yaml:"projects" json:"projects"`
	Recent   []string                                 `yaml:"recent,omitempty" json:"recent,omitempty"`
	Runtime  map[string]map[string]state.RuntimeState `yaml:"runtime,omitempty" json:"runtime,omitempty"`

	Extra map[string]interface{} `yaml:",inline" json:"-"`
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{Version: CurrentVersion}
}

// Find looks a project up by exact name or alias.
func (r *Record) Find(ref string) (*project.Project, bool) {
	for i := range r.Projects {
		if r.Projects[i].Name == ref {
			return &r.Projects[i], true
		}
	}
	for i := range r.Projects {
		if r.Projects[i].HasIdentifier(ref) {
			return &r.Projects[i], true
		}
	}
	return nil, false
}

// AddProject appends p after checking name and alias collisions.
func (r *Record) AddProject(p project.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrInvalidArgument, err)
	}
	for _, id := range p.Identifiers() {
		if existing, ok := r.Find(id); ok {
			return fmt.Errorf("%w: %q is already used by project %q", errdefs.ErrAlreadyExists, id, existing.Name)
		}
	}
	r.Projects = append(r.Projects, p)
	return nil
}

// RemoveProject deletes the project and prunes its MRU entry and runtime state.
func (r *Record) RemoveProject(name string) error {
	idx := -1
	for i := range r.Projects {
		if r.Projects[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("project %q: %w", name, errdefs.ErrNotFound)
	}
	r.Projects = append(r.Projects[:idx], r.Projects[idx+1:]...)

	recent := r.Recent[:0]
	for _, n := range r.Recent {
		if n != name {
			recent = append(recent, n)
		}
	}
	r.Recent = recent
	delete(r.Runtime, name)
	return nil
}

// PushRecent moves name to the front of the MRU stack, inserting it when
// absent, and truncates the stack to limit entries.
func (r *Record) PushRecent(name string, limit int) {
	next := make([]string, 0, len(r.Recent)+1)
	next = append(next, name)
	for _, n := range r.Recent {
		if n != name {
			next = append(next, n)
		}
	}
	if limit > 0 && len(next) > limit {
		next = next[:limit]
	}
	r.Recent = next
}

// ServiceState returns the last-known state of a service; missing entries
// read as stopped.
func (r *Record) ServiceState(projectName, service string) state.RuntimeState {
	if svcs, ok := r.Runtime[projectName]; ok {
		if st, ok := svcs[service]; ok {
			return st
		}
	}
	return state.RuntimeState{Status: state.StatusStopped}
}

// SetServiceState stores the state of a service.
func (r *Record) SetServiceState(projectName, service string, st state.RuntimeState) {
	if r.Runtime == nil {
		r.Runtime = map[string]map[string]state.RuntimeState{}
	}
	if r.Runtime[projectName] == nil {
		r.Runtime[projectName] = map[string]state.RuntimeState{}
	}
	r.Runtime[projectName][service] = st
}

// Validate enforces the record invariants: unique identifiers, MRU and
// runtime entries that reference existing projects, and the MRU bound.
func (r *Record) Validate(mruLimit int) error {
	owners := map[string]string{}
	names := map[string]bool{}
	for _, p := range r.Projects {
		if err := p.Validate(); err != nil {
			return err
		}
		names[p.Name] = true
		for _, id := range p.Identifiers() {
			if other, ok := owners[id]; ok {
				return fmt.Errorf("identifier %q is used by both %q and %q", id, other, p.Name)
			}
			owners[id] = p.Name
		}
	}

	seen := map[string]bool{}
	for _, n := range r.Recent {
		if !names[n] {
			return fmt.Errorf("recent entry %q does not reference a project", n)
		}
		if seen[n] {
			return fmt.Errorf("recent entry %q is duplicated", n)
		}
		seen[n] = true
	}
	if mruLimit > 0 && len(r.Recent) > mruLimit {
		return fmt.Errorf("recent stack has %d entries, limit is %d", len(r.Recent), mruLimit)
	}

	for n := range r.Runtime {
		if !names[n] {
			return fmt.Errorf("runtime state references unknown project %q", n)
		}
	}
	return nil
}
