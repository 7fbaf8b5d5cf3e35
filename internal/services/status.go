package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/registry"
	"projectctl/internal/state"
	"projectctl/pkg/logging"
)

// Status probes every declared service of p afresh and returns the
// reconciled state.
func (o *Orchestrator) Status(ctx context.Context, p project.Project) (Result, error) {
	results, err := o.StatusMany(ctx, []project.Project{p})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// StatusMany probes the services of several projects with at most
// Options.Concurrency probes in flight, then commits all reconciled states
// in one registry commit. Results follow the order of projects.
func (o *Orchestrator) StatusMany(ctx context.Context, projects []project.Project) ([]Result, error) {
	rec, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	type probe struct {
		t        target
		observed state.RuntimeState
		obs      observation
	}
	var probes []*probe
	for _, p := range projects {
		targets, err := o.targets(p, nil)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			probes = append(probes, &probe{t: t, observed: rec.ServiceState(p.Name, t.spec.Name)})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for _, pr := range probes {
		pr := pr
		g.Go(func() error {
			pr.obs = o.observe(gctx, pr.t, pr.observed, true)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("status: %w", errdefs.ErrCancelled)
	}

	final := make([]state.RuntimeState, len(probes))
	_, err = o.store.Commit(ctx, func(r *registry.Record) error {
		now := o.opts.Now()
		for i, pr := range probes {
			if _, ok := r.Find(pr.t.project.Name); !ok {
				final[i] = pr.observed
				continue
			}
			cur := r.ServiceState(pr.t.project.Name, pr.t.spec.Name)
			if cur.AttemptID != pr.observed.AttemptID || cur.Status.Normalize() != pr.observed.Status.Normalize() {
				// Changed while we probed; report the newer record as is.
				final[i] = cur
				continue
			}
			next, changed := o.reconcile(cur, pr.t, pr.obs, now)
			if changed {
				r.SetServiceState(pr.t.project.Name, pr.t.spec.Name, next)
			}
			final[i] = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(projects))
	idx := 0
	for _, p := range projects {
		res := Result{Project: p.Name}
		for range p.Services {
			pr := probes[idx]
			sr := ServiceResult{
				Service: pr.t.spec.Name,
				Kind:    pr.t.spec.Kind,
				Action:  ActionObserved,
				State:   final[idx],
				Warning: final[idx].Warning,
			}
			if pr.obs.err != nil {
				sr.Err = fmt.Errorf("status %s/%s: %w", p.Name, pr.t.spec.Name, pr.obs.err)
			}
			res.Services = append(res.Services, sr)
			idx++
		}
		results = append(results, res)
	}
	return results, nil
}

// reconcile applies a fresh observation to a persisted state.
func (o *Orchestrator) reconcile(cur state.RuntimeState, t target, obs observation, now time.Time) (state.RuntimeState, bool) {
	if obs.err != nil {
		return cur, false
	}
	name := t.project.Name + "/" + t.spec.Name
	status := cur.Status.Normalize()

	var to state.ServiceStatus
	reason := ""
	switch status {
	case state.StatusRunning, state.StatusUnhealthy:
		switch {
		case !obs.alive:
			to, reason = state.StatusFailed, "exited unexpectedly"
		case obs.probeErr != nil:
			to, reason = state.StatusUnhealthy, obs.probeErr.Error()
		default:
			to = state.StatusRunning
		}
	case state.StatusStarting:
		deadPID := t.spec.Kind == project.KindProcess && cur.PID > 0 && !obs.alive
		if deadPID || cur.Stale(now, o.staleAfter()) {
			to, reason = state.StatusFailed, "interrupted while starting"
		}
	case state.StatusStopping:
		if !obs.alive {
			to = state.StatusStopped
		} else if cur.Stale(now, o.staleAfter()) {
			logging.Warn("Orchestrator", "%s has been stopping since %s and is still alive; run stop again", name, cur.LastTransition.Format("15:04:05"))
		}
	}
	if to == "" {
		return cur, false
	}

	next, err := cur.Transition(to, reason, now)
	if err != nil {
		logging.Error("Orchestrator", err, "cannot reconcile %s", name)
		return cur, false
	}
	if next.Status == cur.Status && next.Reason == cur.Reason {
		return cur, false
	}
	if obs.found && obs.container.ID != "" {
		next.ContainerID = obs.container.ID
	}
	logging.Info("Orchestrator", "%s: %s -> %s", name, cur.Label(), next.Label())
	return next, true
}
