package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"projectctl/internal/envplan"
	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/registry"
	"projectctl/internal/state"
	"projectctl/pkg/logging"
)

const (
	defaultHealthTimeout     = 30 * time.Second
	defaultHealthInterval    = 250 * time.Millisecond
	defaultMaxHealthInterval = 2 * time.Second
	defaultStopGrace         = 10 * time.Second
	stopPollInterval         = 100 * time.Millisecond
	maxClaimAttempts         = 5

	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

// errConflict means the record changed between observation and claim.
var errConflict = errors.New("service state changed concurrently")

// errTakenOver stops health polling once another invocation owns the record.
var errTakenOver = errors.New("taken over by another invocation")

// Options tunes the orchestrator.
type Options struct {
	Shell             string
	HealthTimeout     time.Duration
	HealthInterval    time.Duration
	MaxHealthInterval time.Duration
	StopGrace         time.Duration // zero escalates to SIGKILL immediately
	Concurrency       int
	// LogPath returns the log file of a managed process.
	LogPath func(project, service string) string
	Now     func() time.Time
}

func (o *Options) setDefaults() {
	if o.Shell == "" {
		o.Shell = "/bin/sh"
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = defaultHealthTimeout
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = defaultHealthInterval
	}
	if o.MaxHealthInterval <= 0 {
		o.MaxHealthInterval = defaultMaxHealthInterval
	}
	if o.StopGrace < 0 {
		o.StopGrace = defaultStopGrace
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.LogPath == nil {
		o.LogPath = func(p, s string) string { return fmt.Sprintf("%s/projectctl-%s-%s.log", os.TempDir(), p, s) }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Orchestrator reconciles declared services against observed reality and
// persists every transition through the registry store.
type Orchestrator struct {
	store    *registry.Store
	compose  Compose
	launcher Launcher
	prober   Prober
	opts     Options
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(store *registry.Store, compose Compose, launcher Launcher, prober Prober, opts Options) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		store:    store,
		compose:  compose,
		launcher: launcher,
		prober:   prober,
		opts:     opts,
	}
}

// staleAfter is how long an in-flight Starting/Stopping record is trusted.
func (o *Orchestrator) staleAfter() time.Duration {
	return o.opts.HealthTimeout + o.opts.StopGrace + 5*time.Second
}

// target holds what every per-service step needs.
type target struct {
	project project.Project
	spec    project.ServiceSpec
	plan    envplan.Plan
}

func (t target) composeFile() (string, error) {
	if t.spec.ComposeFile != "" {
		return t.spec.ComposeFile, nil
	}
	if f, ok := project.FindComposeFile(t.plan.Dir); ok {
		return f, nil
	}
	return "", fmt.Errorf("%s/%s: no compose file in %s: %w", t.project.Name, t.spec.Name, t.plan.Dir, errdefs.ErrNotFound)
}

func (o *Orchestrator) targets(p project.Project, filter []string) ([]target, error) {
	plan, err := envplan.Build(p)
	if err != nil {
		return nil, err
	}
	specs := p.Services
	if len(filter) > 0 {
		specs = nil
		for _, name := range filter {
			s, ok := p.Service(name)
			if !ok {
				return nil, fmt.Errorf("service %q of project %s: %w", name, p.Name, errdefs.ErrNotFound)
			}
			specs = append(specs, s)
		}
	}
	out := make([]target, 0, len(specs))
	for _, s := range specs {
		out = append(out, target{project: p, spec: s, plan: plan})
	}
	return out, nil
}

// observation is a fresh look at one service.
type observation struct {
	alive     bool
	container ContainerStatus
	found     bool
	probeErr  error // health probe failure while alive
	err       error // the observation itself failed
}

// observe probes liveness (and health when asked) without retries.
func (o *Orchestrator) observe(ctx context.Context, t target, st state.RuntimeState, withHealth bool) observation {
	var obs observation
	switch t.spec.Kind {
	case project.KindProcess:
		obs.alive = o.launcher.Alive(st.PID)
	default:
		file, err := t.composeFile()
		if err != nil {
			obs.err = err
			return obs
		}
		cs, found, err := o.compose.Ps(ctx, t.plan.Dir, file, t.spec.Name)
		if err != nil {
			obs.err = err
			return obs
		}
		obs.container, obs.found = cs, found
		obs.alive = found && cs.Running()
		if obs.alive && cs.Health == "unhealthy" {
			obs.probeErr = fmt.Errorf("container reports unhealthy")
		}
	}
	if withHealth && obs.alive && obs.probeErr == nil && t.spec.Port > 0 {
		obs.probeErr = o.prober.ProbePort(ctx, t.spec.Port)
	}
	return obs
}

// commitService applies fn to the current record of one service under the
// registry lock. fn returns the new state and whether anything changed.
func (o *Orchestrator) commitService(ctx context.Context, t target, fn func(cur state.RuntimeState) (state.RuntimeState, bool, error)) (state.RuntimeState, error) {
	var out state.RuntimeState
	_, err := o.store.Commit(ctx, func(rec *registry.Record) error {
		if _, ok := rec.Find(t.project.Name); !ok {
			return fmt.Errorf("project %s: %w", t.project.Name, errdefs.ErrNotFound)
		}
		cur := rec.ServiceState(t.project.Name, t.spec.Name)
		next, changed, err := fn(cur)
		if err != nil {
			return err
		}
		out = next
		if changed {
			rec.SetServiceState(t.project.Name, t.spec.Name, next)
		}
		return nil
	})
	return out, err
}

// ownedBy reports whether cur is still the in-flight start of attempt. A
// stop landing mid-start keeps the attempt id but leaves Starting.
func ownedBy(cur state.RuntimeState, attempt string) bool {
	return cur.AttemptID == attempt && cur.Status.Normalize() == state.StatusStarting
}

// moveTo commits a transition, but only while the record still belongs to
// attempt. A record taken over by another invocation is left alone and
// returned with owned false.
func (o *Orchestrator) moveTo(ctx context.Context, t target, attempt string, to state.ServiceStatus, reason string) (st state.RuntimeState, owned bool, err error) {
	st, err = o.commitService(ctx, t, func(cur state.RuntimeState) (state.RuntimeState, bool, error) {
		if !ownedBy(cur, attempt) {
			logging.Warn("Orchestrator", "%s/%s was taken over by another invocation (now %s)", t.project.Name, t.spec.Name, cur.Status.Normalize())
			return cur, false, nil
		}
		next, err := cur.Transition(to, reason, o.opts.Now())
		if err != nil {
			return cur, false, err
		}
		owned = true
		return next, true, nil
	})
	return st, owned, err
}

// superseded reports a start whose record another invocation took over,
// typically a stop that landed while the start was still in flight.
func superseded(sr ServiceResult, st state.RuntimeState) ServiceResult {
	sr.Action, sr.State = ActionSuperseded, st
	sr.Warning = fmt.Sprintf("start superseded by another invocation, service is %s", st.Status.Normalize())
	return sr
}

// Start launches every targeted service that is not already running and
// waits for it to become healthy. Services are attempted independently; the
// returned error is reserved for registry failures.
func (o *Orchestrator) Start(ctx context.Context, p project.Project, filter []string) (Result, error) {
	targets, err := o.targets(p, filter)
	if err != nil {
		return Result{}, err
	}
	res := Result{Project: p.Name}
	for _, t := range targets {
		sr, err := o.startOne(ctx, t)
		if err != nil {
			return res, err
		}
		res.Services = append(res.Services, sr)
	}
	return res, nil
}

func (o *Orchestrator) startOne(ctx context.Context, t target) (ServiceResult, error) {
	sr := ServiceResult{Service: t.spec.Name, Kind: t.spec.Kind}
	name := t.project.Name + "/" + t.spec.Name

	var (
		claimed  state.RuntimeState
		attempt  string
		adopt    bool
		already  Action
		claimErr error
	)
	for i := 0; ; i++ {
		rec, err := o.store.Load()
		if err != nil {
			return sr, err
		}
		observed := rec.ServiceState(t.project.Name, t.spec.Name)
		obs := o.observe(ctx, t, observed, false)

		attempt = uuid.NewString()
		already, adopt, claimErr = "", false, nil
		claimed, err = o.commitService(ctx, t, func(cur state.RuntimeState) (state.RuntimeState, bool, error) {
			var err error
			if cur.AttemptID != observed.AttemptID || cur.Status.Normalize() != observed.Status.Normalize() {
				return cur, false, errConflict
			}
			now := o.opts.Now()
			status := cur.Status.Normalize()

			switch {
			case (status == state.StatusRunning || status == state.StatusUnhealthy) && obs.alive:
				already = ActionAlreadyRunning
				return cur, false, nil
			case status == state.StatusStarting && !cur.Stale(now, o.staleAfter()) &&
				(t.spec.Kind != project.KindProcess || cur.PID == 0 || obs.alive):
				already = ActionAlreadyStarting
				return cur, false, nil
			case status == state.StatusStopping && !cur.Stale(now, o.staleAfter()):
				claimErr = fmt.Errorf("%s is being stopped by another invocation", name)
				return cur, false, nil
			case obs.err != nil && t.spec.Kind == project.KindContainer:
				claimErr = obs.err
				return cur, false, nil
			}

			next := cur
			// Leave abandoned or dead intermediate states before claiming.
			switch status {
			case state.StatusRunning, state.StatusUnhealthy, state.StatusStarting:
				next, err = next.Transition(state.StatusFailed, "exited unexpectedly", now)
			case state.StatusStopping:
				next, err = next.Transition(state.StatusStopped, "", now)
			}
			if err != nil {
				return cur, false, err
			}
			// A process left running by a timed-out start is adopted rather
			// than launched twice.
			adopt = t.spec.Kind == project.KindProcess && next.PID > 0 && obs.alive
			pid := next.PID
			next, err = next.Transition(state.StatusStarting, "", now)
			if err != nil {
				return cur, false, err
			}
			next.AttemptID = attempt
			if adopt {
				next.PID = pid
			} else {
				next.PID = 0
				next.ContainerID = ""
			}
			return next, true, nil
		})
		if errors.Is(err, errConflict) {
			if i < maxClaimAttempts {
				continue
			}
			sr.Action, sr.State = ActionFailed, observed
			sr.Err = fmt.Errorf("start %s: state kept changing under concurrent invocations: %w", name, errdefs.ErrBusy)
			return sr, nil
		}
		if err != nil {
			return sr, err
		}
		break
	}

	if claimErr != nil {
		sr.Action, sr.State, sr.Err = ActionFailed, claimed, claimErr
		return sr, nil
	}
	if already != "" {
		logging.Info("Orchestrator", "%s is %s", name, already)
		sr.Action, sr.State = already, claimed
		return sr, nil
	}

	logging.Info("Orchestrator", "starting %s (attempt %s)", name, attempt)
	pid, containerID, launchErr := 0, "", error(nil)
	if adopt {
		pid = claimed.PID
	} else {
		pid, containerID, launchErr = o.launch(ctx, t, attempt)
	}
	if launchErr != nil {
		st, owned, err := o.moveTo(context.WithoutCancel(ctx), t, attempt, state.StatusFailed, "launch failed")
		if err != nil {
			return sr, err
		}
		if !owned {
			return superseded(sr, st), nil
		}
		sr.Action, sr.State = ActionFailed, st
		sr.Err = fmt.Errorf("start %s: %w", name, launchErr)
		return sr, nil
	}
	recorded := false
	current, err := o.commitService(ctx, t, func(cur state.RuntimeState) (state.RuntimeState, bool, error) {
		if !ownedBy(cur, attempt) {
			return cur, false, nil
		}
		recorded = true
		cur.PID, cur.ContainerID = pid, containerID
		return cur, true, nil
	})
	if err != nil {
		return sr, err
	}
	if !recorded {
		// Nobody else knows this pid; do not leave it behind.
		if t.spec.Kind == project.KindProcess && !adopt {
			if warning, err := o.terminate(ctx, pid); err != nil || warning != "" {
				logging.Warn("Orchestrator", "%s: cleaning up superseded launch: %s %v", name, warning, err)
			}
		}
		return superseded(sr, current), nil
	}

	healthErr := pollUntilHealthy(ctx, o.opts.HealthTimeout, o.opts.HealthInterval, o.opts.MaxHealthInterval,
		func(ctx context.Context) error {
			if rec, err := o.store.Load(); err == nil && !ownedBy(rec.ServiceState(t.project.Name, t.spec.Name), attempt) {
				return errProbeFatal{errTakenOver}
			}
			return o.checkStarted(ctx, t, pid)
		})

	to, reason := state.StatusFailed, ""
	var startErr error
	switch {
	case healthErr == nil:
		to = state.StatusRunning
	case errors.Is(healthErr, errTakenOver):
		reason = healthErr.Error()
	case ctx.Err() != nil:
		reason, startErr = "cancelled", fmt.Errorf("start %s: %w", name, errdefs.ErrCancelled)
	case errors.Is(healthErr, context.DeadlineExceeded):
		logging.Warn("Orchestrator", "%s did not become healthy within %s: %v", name, o.opts.HealthTimeout, healthErr)
		reason = "timeout"
		startErr = fmt.Errorf("start %s: %w after %s: %v", name, errdefs.ErrTimeout, o.opts.HealthTimeout, healthErr)
	default:
		reason, startErr = healthErr.Error(), fmt.Errorf("start %s: %w", name, healthErr)
	}

	// Outcome commits must land even when the caller was interrupted.
	st, owned, err := o.moveTo(context.WithoutCancel(ctx), t, attempt, to, reason)
	if err != nil {
		return sr, err
	}
	if !owned {
		return superseded(sr, st), nil
	}
	sr.State = st
	if to == state.StatusRunning {
		logging.Info("Orchestrator", "%s is running", name)
		sr.Action = ActionStarted
	} else {
		sr.Action, sr.Err = ActionFailed, startErr
	}
	return sr, nil
}

func (o *Orchestrator) launch(ctx context.Context, t target, attempt string) (int, string, error) {
	env := t.plan.Environ(os.Environ())
	switch t.spec.Kind {
	case project.KindProcess:
		pid, err := o.launcher.Launch(ctx, LaunchSpec{
			Project: t.project.Name,
			Service: t.spec.Name,
			Dir:     t.plan.Dir,
			Shell:   o.opts.Shell,
			Command: t.spec.Command,
			Env:     env,
			LogFile: o.opts.LogPath(t.project.Name, t.spec.Name),
			Attempt: attempt,
		})
		return pid, "", err
	default:
		file, err := t.composeFile()
		if err != nil {
			return 0, "", err
		}
		if err := o.compose.Up(ctx, t.plan.Dir, file, t.spec.Name, env); err != nil {
			return 0, "", err
		}
		cs, _, err := o.compose.Ps(ctx, t.plan.Dir, file, t.spec.Name)
		if err != nil {
			logging.Debug("Orchestrator", "compose ps after up failed for %s: %v", t.spec.Name, err)
		}
		return 0, cs.ID, nil
	}
}

// checkStarted is one health probe of a freshly launched service.
func (o *Orchestrator) checkStarted(ctx context.Context, t target, pid int) error {
	switch t.spec.Kind {
	case project.KindProcess:
		if !o.launcher.Alive(pid) {
			return errProbeFatal{fmt.Errorf("process exited (see %s)", o.opts.LogPath(t.project.Name, t.spec.Name))}
		}
	default:
		obs := o.observe(ctx, t, state.RuntimeState{}, false)
		if obs.err != nil {
			return obs.err
		}
		if !obs.found {
			return fmt.Errorf("container not created yet")
		}
		if obs.container.State == "exited" || obs.container.State == "dead" {
			return errProbeFatal{fmt.Errorf("container %s", obs.container.State)}
		}
		if !obs.alive {
			return fmt.Errorf("container is %s", obs.container.State)
		}
		if h := obs.container.Health; h == "starting" || h == "unhealthy" {
			return fmt.Errorf("container health is %s", h)
		}
	}
	if t.spec.Port > 0 {
		return o.prober.ProbePort(ctx, t.spec.Port)
	}
	return nil
}

// Stop terminates every targeted service. A service already stopped is a
// no-op; every other service ends Stopped even when signalling failed.
func (o *Orchestrator) Stop(ctx context.Context, p project.Project, filter []string) (Result, error) {
	targets, err := o.targets(p, filter)
	if err != nil {
		return Result{}, err
	}
	res := Result{Project: p.Name}
	for _, t := range targets {
		sr, err := o.stopOne(ctx, t)
		if err != nil {
			return res, err
		}
		res.Services = append(res.Services, sr)
	}
	return res, nil
}

func (o *Orchestrator) stopOne(ctx context.Context, t target) (ServiceResult, error) {
	sr := ServiceResult{Service: t.spec.Name, Kind: t.spec.Kind}
	name := t.project.Name + "/" + t.spec.Name

	rec, err := o.store.Load()
	if err != nil {
		return sr, err
	}
	observed := rec.ServiceState(t.project.Name, t.spec.Name)
	obs := o.observe(ctx, t, observed, false)

	var noop bool
	stopping, err := o.commitService(ctx, t, func(cur state.RuntimeState) (state.RuntimeState, bool, error) {
		status := cur.Status.Normalize()
		if status == state.StatusStopped {
			noop = !obs.alive
			return cur, false, nil
		}
		next, err := cur.Transition(state.StatusStopping, "", o.opts.Now())
		if err != nil {
			return cur, false, err
		}
		return next, true, nil
	})
	if err != nil {
		return sr, err
	}
	if noop {
		sr.Action, sr.State = ActionAlreadyStopped, stopping
		return sr, nil
	}

	logging.Info("Orchestrator", "stopping %s", name)
	var warning string
	var stopErr error
	switch t.spec.Kind {
	case project.KindProcess:
		pid := stopping.PID
		if pid == 0 {
			pid = observed.PID
		}
		warning, stopErr = o.terminate(ctx, pid)
	default:
		file, err := t.composeFile()
		if err == nil {
			err = o.compose.Stop(ctx, t.plan.Dir, file, t.spec.Name)
		}
		if err != nil {
			stopErr = err
			warning = "compose stop failed"
		}
	}
	if warning != "" {
		logging.Warn("Orchestrator", "%s: %s", name, warning)
	}

	st, err := o.commitService(context.WithoutCancel(ctx), t, func(cur state.RuntimeState) (state.RuntimeState, bool, error) {
		next, err := cur.Transition(state.StatusStopped, "", o.opts.Now())
		if err != nil {
			return cur, false, err
		}
		next.Warning = warning
		return next, true, nil
	})
	if err != nil {
		return sr, err
	}

	sr.Action, sr.State, sr.Warning = ActionStopped, st, warning
	if stopErr != nil {
		sr.Err = fmt.Errorf("stop %s: %w", name, stopErr)
	}
	return sr, nil
}

// terminate sends SIGTERM to the group and escalates to SIGKILL after the
// grace period. It returns a warning when escalation was needed.
func (o *Orchestrator) terminate(ctx context.Context, pid int) (string, error) {
	if pid <= 0 || !o.launcher.Alive(pid) {
		return "", nil
	}
	if err := o.launcher.Signal(pid, sigTerm); err != nil {
		return "signal delivery failed: " + err.Error(), err
	}

	deadline := time.Now().Add(o.opts.StopGrace)
	for time.Now().Before(deadline) {
		if !o.launcher.Alive(pid) {
			return "", nil
		}
		select {
		case <-ctx.Done():
			deadline = time.Now()
		case <-time.After(stopPollInterval):
		}
	}
	if !o.launcher.Alive(pid) {
		return "", nil
	}

	warning := fmt.Sprintf("forced termination: process group %d ignored SIGTERM for %s", pid, o.opts.StopGrace)
	if err := o.launcher.Signal(pid, sigKill); err != nil {
		return warning + "; SIGKILL failed: " + err.Error(), err
	}
	return warning, nil
}

// Restart stops then starts the targeted services, so every service passes
// through Stopped.
func (o *Orchestrator) Restart(ctx context.Context, p project.Project, filter []string) (Result, error) {
	stopped, err := o.Stop(ctx, p, filter)
	if err != nil {
		return stopped, err
	}
	started, err := o.Start(ctx, p, filter)
	if err != nil {
		return started, err
	}

	stopErrs := map[string]ServiceResult{}
	for _, s := range stopped.Services {
		stopErrs[s.Service] = s
	}
	for i, s := range started.Services {
		if s.Action == ActionStarted {
			started.Services[i].Action = ActionRestarted
		}
		if prev, ok := stopErrs[s.Service]; ok {
			if s.Warning == "" {
				started.Services[i].Warning = prev.Warning
			}
			if s.Err == nil && prev.Err != nil {
				started.Services[i].Err = prev.Err
			}
		}
	}
	return started, nil
}
