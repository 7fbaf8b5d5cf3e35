package deps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/registry"
	"projectctl/pkg/logging"
)

// Mode selects which verbs run.
type Mode string

const (
	ModeCheck  Mode = "check"  // outdated verb only
	ModeUpdate Mode = "update" // outdated verb, then update verb
)

// Outcome is the overall result of one project's run.
type Outcome string

const (
	Success        Outcome = "success"
	PartialFailure Outcome = "partial-failure"
	Failure        Outcome = "failure"
)

// ManagerResult is what one package manager reported for a project.
type ManagerResult struct {
	Manager   string    `json:"manager"`
	Ecosystem Ecosystem `json:"ecosystem"`
	Changes   []Change  `json:"changes"`
	Error     string    `json:"error,omitempty"`

	err error
}

// Err returns the failure of this manager, if any.
func (m ManagerResult) Err() error { return m.err }

// UpdateResult is the per-project report.
type UpdateResult struct {
	Project  string          `json:"project"`
	Mode     Mode            `json:"mode"`
	Managers []ManagerResult `json:"managers"`
	Outcome  Outcome         `json:"outcome"`
	Reason   string          `json:"reason,omitempty"`
	Finished time.Time       `json:"finished"`
}

// Changes flattens the changes of every manager.
func (r UpdateResult) Changes() []Change {
	var out []Change
	for _, m := range r.Managers {
		out = append(out, m.Changes...)
	}
	return out
}

// Err joins the manager errors of r.
func (r UpdateResult) Err() error {
	var errs []error
	for _, m := range r.Managers {
		if m.err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", r.Project, m.Manager, m.err))
		}
	}
	if len(errs) == 0 && r.Outcome == Failure {
		errs = append(errs, fmt.Errorf("%s: %s", r.Project, r.Reason))
	}
	return errors.Join(errs...)
}

// Coordinator runs dependency operations over many projects with a bound on
// concurrent tool invocations.
type Coordinator struct {
	exec  ToolExecutor
	limit int
	now   func() time.Time
}

// NewCoordinator returns a Coordinator; a limit of zero or less uses the
// number of CPUs.
func NewCoordinator(exec ToolExecutor, limit int) *Coordinator {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	return &Coordinator{exec: exec, limit: limit, now: time.Now}
}

// Limit returns the effective concurrency bound.
func (c *Coordinator) Limit() int { return c.limit }

// Check runs the outdated verb of every detected manager.
func (c *Coordinator) Check(ctx context.Context, projects []project.Project) []UpdateResult {
	return c.run(ctx, projects, ModeCheck)
}

// Update runs the outdated verb and then the update verb.
func (c *Coordinator) Update(ctx context.Context, projects []project.Project) []UpdateResult {
	return c.run(ctx, projects, ModeUpdate)
}

// run processes each project independently: a failure or cancellation of
// one never stops the others, and every project gets a result. Results are
// sorted by project name.
func (c *Coordinator) run(ctx context.Context, projects []project.Project, mode Mode) []UpdateResult {
	results := make([]UpdateResult, len(projects))

	// Managers of one project run sequentially, so the group limit bounds
	// the number of tool subprocesses.
	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, p := range projects {
		i, p := i, p
		if ctx.Err() != nil {
			results[i] = c.cancelled(p, mode)
			continue
		}
		g.Go(func() error {
			res := c.runProject(ctx, p, mode)
			res.Finished = c.now()
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(a, b int) bool { return results[a].Project < results[b].Project })
	return results
}

func (c *Coordinator) cancelled(p project.Project, mode Mode) UpdateResult {
	return UpdateResult{Project: p.Name, Mode: mode, Outcome: Failure, Reason: "cancelled", Finished: c.now()}
}

func (c *Coordinator) runProject(ctx context.Context, p project.Project, mode Mode) UpdateResult {
	res := UpdateResult{Project: p.Name, Mode: mode}
	if ctx.Err() != nil {
		return c.cancelled(p, mode)
	}
	dir, err := p.ExpandedPath()
	if err != nil {
		res.Outcome, res.Reason = Failure, err.Error()
		return res
	}

	managers := Detect(dir, p.Type)
	if len(managers) == 0 {
		res.Outcome, res.Reason = Success, "no package manager detected"
		return res
	}

	failed := 0
	for _, m := range managers {
		mr := c.runManager(ctx, filepath.Join(dir, m.Subdir), m, mode)
		if mr.err != nil {
			failed++
			mr.Error = mr.err.Error()
			logging.Warn("Deps", "%s: %s failed: %v", p.Name, m.Name, mr.err)
		}
		res.Managers = append(res.Managers, mr)
	}

	switch {
	case failed == 0:
		res.Outcome = Success
	case failed == len(managers):
		res.Outcome = Failure
		reasons := make([]string, 0, failed)
		for _, mr := range res.Managers {
			reasons = append(reasons, mr.Manager+": "+firstLine(mr.Error))
		}
		res.Reason = strings.Join(reasons, "; ")
	default:
		res.Outcome = PartialFailure
	}
	if ctx.Err() != nil && res.Outcome != Success {
		res.Reason = "cancelled"
	}
	return res
}

func (c *Coordinator) runManager(ctx context.Context, dir string, m Manager, mode Mode) ManagerResult {
	mr := ManagerResult{Manager: m.Name, Ecosystem: m.Ecosystem}
	if ctx.Err() != nil {
		mr.err = errdefs.ErrCancelled
		return mr
	}

	stdout, stderr, code, err := c.exec.Execute(ctx, dir, m.Outdated)
	if err != nil {
		mr.err = err
		return mr
	}
	output := stdout
	if m.ParseStderr {
		output = stderr
	}
	if code != 0 && !(containsInt(m.OutdatedExitOK, code) && len(strings.TrimSpace(string(output))) > 0) {
		mr.err = toolFailure(m.Outdated, code, stdout, stderr)
		return mr
	}
	changes, err := m.Parse(output)
	if err != nil {
		mr.err = fmt.Errorf("%s: %w", strings.Join(m.Outdated, " "), err)
		return mr
	}
	mr.Changes = changes

	if mode != ModeUpdate {
		return mr
	}
	stdout, stderr, code, err = c.exec.Execute(ctx, dir, m.Update)
	if err != nil {
		mr.err = err
		return mr
	}
	if code != 0 {
		mr.err = toolFailure(m.Update, code, stdout, stderr)
	}
	return mr
}

func toolFailure(argv []string, code int, stdout, stderr []byte) error {
	output := string(stderr)
	if strings.TrimSpace(output) == "" {
		output = string(stdout)
	}
	return &errdefs.ExternalToolError{Tool: argv[0], Args: argv[1:], ExitCode: code, Output: output}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// RecordChecks persists the finish time of every non-failed result as the
// project's last dependency check, in one registry commit.
func RecordChecks(ctx context.Context, store *registry.Store, results []UpdateResult) error {
	_, err := store.Commit(ctx, func(r *registry.Record) error {
		for _, res := range results {
			if res.Outcome == Failure {
				continue
			}
			p, ok := r.Find(res.Project)
			if !ok || p.Name != res.Project {
				continue
			}
			t := res.Finished.UTC().Truncate(time.Second)
			p.LastDepCheck = &t
		}
		return nil
	})
	return err
}

// Detected is one row of the ecosystem summary.
type Detected struct {
	Project  string   `json:"project"`
	Managers []string `json:"managers"`
}

// Summary lists the managers detected for each project, sorted by name.
func Summary(projects []project.Project) []Detected {
	out := make([]Detected, 0, len(projects))
	for _, p := range projects {
		d := Detected{Project: p.Name, Managers: []string{}}
		if dir, err := p.ExpandedPath(); err == nil {
			for _, m := range Detect(dir, p.Type) {
				d.Managers = append(d.Managers, m.Name)
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Project < out[b].Project })
	return out
}
