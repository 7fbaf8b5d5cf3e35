package deps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"projectctl/internal/errdefs"
	"projectctl/pkg/logging"
)

// ToolExecutor runs one package-manager invocation in dir. A non-zero exit
// is reported through exitCode, not err; err is for failures to run at all.
type ToolExecutor interface {
	Execute(ctx context.Context, dir string, argv []string) (stdout, stderr []byte, exitCode int, err error)
}

// ExecExecutor runs tools as local subprocesses.
type ExecExecutor struct {
	Env []string
}

func (e ExecExecutor) Execute(ctx context.Context, dir string, argv []string) ([]byte, []byte, int, error) {
	if len(argv) == 0 {
		return nil, nil, 0, fmt.Errorf("empty command: %w", errdefs.ErrInvalidArgument)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if e.Env != nil {
		cmd.Env = e.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("Deps", "running %s in %s", strings.Join(argv, " "), dir)
	err := cmd.Run()
	if ctx.Err() != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, fmt.Errorf("%s: %w", argv[0], errdefs.ErrCancelled)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
		}
		return stdout.Bytes(), stderr.Bytes(), -1, &errdefs.ExternalToolError{Tool: argv[0], Args: argv[1:], ExitCode: -1, Err: err}
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}
