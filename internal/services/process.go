//go:build unix

package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"projectctl/pkg/logging"
)

// For mocking in tests
var execCommand = exec.Command

// ShellLauncher spawns managed processes through a shell. The child runs in
// its own process group and outlives the invocation that started it; only
// its PID (equal to its PGID) is persisted.
type ShellLauncher struct{}

// NewShellLauncher returns the default Launcher.
func NewShellLauncher() ShellLauncher { return ShellLauncher{} }

// Launch starts spec.Command with stdout and stderr appended to spec.LogFile
// and stdin from /dev/null.
func (ShellLauncher) Launch(ctx context.Context, spec LaunchSpec) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file %s: %w", spec.LogFile, err)
	}
	defer logFile.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, err
	}
	defer devNull.Close()

	// Not bound to ctx: the service must keep running after we return.
	cmd := execCommand(spec.Shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = devNull
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	fmt.Fprintf(logFile, "--- %s %s/%s attempt %s: %s\n",
		time.Now().Format(time.RFC3339), spec.Project, spec.Service, spec.Attempt, spec.Command)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %q: %w", spec.Command, err)
	}
	pid := cmd.Process.Pid
	logging.Debug("Process", "started %s/%s as pid %d", spec.Project, spec.Service, pid)

	// Reap the child for as long as this process lives.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}

// Alive reports whether any process of the group led by pid still exists.
func (ShellLauncher) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(-pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Signal delivers sig to the whole process group. A group that no longer
// exists is not an error.
func (ShellLauncher) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to send %s to process group %d: %w", sig, pid, err)
	}
	return nil
}
