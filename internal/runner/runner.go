//go:build unix

// Package runner executes per-project commands with the project's
// environment plan applied.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"projectctl/internal/envplan"
	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/pkg/logging"
)

// For mocking in tests
var execCommand = exec.Command

const defaultGrace = 5 * time.Second

// Request describes one run. Exactly one of Command (a key of the project's
// commands) and Literal (an ad hoc shell line) is set.
type Request struct {
	Project project.Project
	Command string
	Literal string
	// Follow streams output to Output as it arrives; otherwise output is
	// buffered and returned in Outcome.Output.
	Follow bool
	Output io.Writer
}

// Outcome is what a finished run reports.
type Outcome struct {
	RunID    string        `json:"run_id"`
	Project  string        `json:"project"`
	Command  string        `json:"command"`
	Line     string        `json:"line"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Output   []byte        `json:"-"`
}

// Runner spawns shell lines in their own process group.
type Runner struct {
	Shell string
	// Grace is how long a cancelled child gets between SIGINT and SIGKILL.
	Grace time.Duration
}

// New returns a Runner using shell; a zero grace uses the default.
func New(shell string, grace time.Duration) *Runner {
	if shell == "" {
		shell = "/bin/sh"
	}
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Runner{Shell: shell, Grace: grace}
}

// Resolve returns the shell line for a named command of p.
func Resolve(p project.Project, name string) (string, error) {
	line, ok := p.Commands[name]
	if !ok {
		available := strings.Join(p.CommandNames(), ", ")
		if available == "" {
			available = "none"
		}
		return "", fmt.Errorf("project %s has no command %q (available: %s): %w", p.Name, name, available, errdefs.ErrUnknownCommand)
	}
	return line, nil
}

// lockedWriter serializes writes from stdout and stderr so chunks keep
// their arrival order.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Run executes the request and waits for the child to terminate. A
// non-zero exit returns *errdefs.CommandFailedError with the child's code;
// cancellation of ctx interrupts the child's process group and returns
// errdefs.ErrCancelled once it is gone.
func (r *Runner) Run(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{RunID: uuid.NewString(), Project: req.Project.Name, Command: req.Command}

	line := req.Literal
	if req.Command != "" {
		var err error
		if line, err = Resolve(req.Project, req.Command); err != nil {
			return out, err
		}
	} else {
		out.Command = "<literal>"
	}
	if strings.TrimSpace(line) == "" {
		return out, fmt.Errorf("nothing to run for project %s: %w", req.Project.Name, errdefs.ErrInvalidArgument)
	}
	out.Line = line

	plan, err := envplan.Build(req.Project)
	if err != nil {
		return out, err
	}

	var buf bytes.Buffer
	var sink io.Writer = &buf
	if req.Follow && req.Output != nil {
		sink = req.Output
	}
	w := &lockedWriter{w: sink}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return out, err
	}
	defer devNull.Close()

	cmd := execCommand(r.Shell, "-c", line)
	cmd.Dir = plan.Dir
	cmd.Env = plan.Environ(os.Environ())
	cmd.Stdin = devNull
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// A backgrounded grandchild may hold stdout open after the shell exits.
	cmd.WaitDelay = r.Grace

	logging.Debug("Runner", "run %s: %s %s in %s: %s", out.RunID, req.Project.Name, out.Command, plan.Dir, line)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return out, fmt.Errorf("failed to start %s for project %s: %w", out.Command, req.Project.Name, err)
	}
	pgid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	cancelled := false
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		cancelled = true
		waitErr = r.interrupt(pgid, done)
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		logging.Debug("Runner", "run %s: shell exited but its output stayed open, not waiting further", out.RunID)
		waitErr = nil
	}
	out.Duration = time.Since(start)
	out.Output = buf.Bytes()
	out.ExitCode = exitCode(waitErr)

	if cancelled {
		logging.Info("Runner", "run %s cancelled after %s", out.RunID, out.Duration.Round(time.Millisecond))
		return out, fmt.Errorf("%s for project %s: %w", out.Command, req.Project.Name, errdefs.ErrCancelled)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return out, fmt.Errorf("%s for project %s: %w", out.Command, req.Project.Name, waitErr)
		}
		logging.Debug("Runner", "run %s exited with %d", out.RunID, out.ExitCode)
		return out, &errdefs.CommandFailedError{Command: req.Project.Name + ": " + out.Command, Code: out.ExitCode}
	}
	return out, nil
}

// interrupt forwards SIGINT to the child's group, escalates to SIGKILL
// after the grace period and returns the child's wait error.
func (r *Runner) interrupt(pgid int, done <-chan error) error {
	if err := unix.Kill(-pgid, unix.SIGINT); err != nil && !errors.Is(err, unix.ESRCH) {
		logging.Warn("Runner", "failed to interrupt process group %d: %v", pgid, err)
	}
	timer := time.NewTimer(r.Grace)
	defer timer.Stop()

	select {
	case err := <-done:
		// The leader is gone; make sure nothing it spawned lingers.
		_ = unix.Kill(-pgid, unix.SIGKILL)
		return err
	case <-timer.C:
		logging.Warn("Runner", "process group %d ignored SIGINT for %s, killing", pgid, r.Grace)
		if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			logging.Error("Runner", err, "failed to kill process group %d", pgid)
		}
		return <-done
	}
}

// exitCode maps a wait error to a shell-style status: the exit code, or
// 128+signal for a child killed by a signal.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}
