// Package resolver turns a user-supplied reference into exactly one project.
package resolver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/registry"
	"projectctl/pkg/logging"
)

// Resolver resolves references against the registry and records their use
// in the MRU stack.
type Resolver struct {
	store *registry.Store
}

// New creates a Resolver backed by store.
func New(store *registry.Store) *Resolver {
	return &Resolver{store: store}
}

// Lookup resolves ref against rec without side effects. Resolution order is
// exact name, exact alias, then a 0-based index into the MRU stack
// (0 is the most recent project).
func Lookup(rec *registry.Record, ref string) (project.Project, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return project.Project{}, fmt.Errorf("%w: empty project reference", errdefs.ErrInvalidArgument)
	}

	for _, p := range rec.Projects {
		if p.Name == ref {
			return p, nil
		}
	}
	for _, p := range rec.Projects {
		for _, a := range p.Aliases {
			if a == ref {
				return p, nil
			}
		}
	}
	if idx, err := strconv.Atoi(ref); err == nil && idx >= 0 {
		if idx < len(rec.Recent) {
			if p, ok := rec.Find(rec.Recent[idx]); ok {
				return *p, nil
			}
		}
		return project.Project{}, fmt.Errorf("project %q: %w (recent stack has %d entries)", ref, errdefs.ErrNotFound, len(rec.Recent))
	}
	return project.Project{}, fmt.Errorf("project %q: %w", ref, errdefs.ErrNotFound)
}

// Resolve resolves ref and moves the project to the front of the MRU stack
// in the same commit. A failed resolution leaves the registry untouched.
func (r *Resolver) Resolve(ctx context.Context, ref string) (project.Project, error) {
	var resolved project.Project
	_, err := r.store.Commit(ctx, func(rec *registry.Record) error {
		p, err := Lookup(rec, ref)
		if err != nil {
			return err
		}
		resolved = p
		rec.PushRecent(p.Name, r.store.MRULimit())
		return nil
	})
	if err != nil {
		return project.Project{}, err
	}
	logging.Debug("Resolver", "resolved %q to project %s", ref, resolved.Name)
	return resolved, nil
}

// Peek resolves ref without touching the MRU stack; used by read-only
// commands such as status and info.
func (r *Resolver) Peek(ref string) (project.Project, error) {
	rec, err := r.store.Load()
	if err != nil {
		return project.Project{}, err
	}
	return Lookup(rec, ref)
}
