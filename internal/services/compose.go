package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"projectctl/internal/errdefs"
	"projectctl/pkg/logging"
)

// For mocking in tests
var execCommandContext = exec.CommandContext

// ComposeCLI implements Compose by shelling out to e.g. `docker compose`.
type ComposeCLI struct {
	Command []string
}

func (c ComposeCLI) argv(file string, args ...string) (string, []string) {
	command := c.Command
	if len(command) == 0 {
		command = []string{"docker", "compose"}
	}
	out := append([]string{}, command[1:]...)
	out = append(out, "-f", file)
	out = append(out, args...)
	return command[0], out
}

func (c ComposeCLI) run(ctx context.Context, dir, file string, env []string, args ...string) ([]byte, error) {
	tool, argv := c.argv(file, args...)
	cmd := execCommandContext(ctx, tool, argv...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("Compose", "running %s %s in %s", tool, strings.Join(argv, " "), dir)
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), toolError(ctx, tool, argv, err, stderr.String(), stdout.String())
	}
	return stdout.Bytes(), nil
}

func toolError(ctx context.Context, tool string, argv []string, err error, stderr, stdout string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s %s: %w", tool, strings.Join(argv, " "), errdefs.ErrCancelled)
	}
	output := stderr
	if strings.TrimSpace(output) == "" {
		output = stdout
	}
	te := &errdefs.ExternalToolError{Tool: tool, Args: argv, Output: output}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		te.ExitCode = exitErr.ExitCode()
	} else {
		te.Err = err
	}
	return te
}

func (c ComposeCLI) Up(ctx context.Context, dir, file, service string, env []string) error {
	_, err := c.run(ctx, dir, file, env, "up", "-d", service)
	return err
}

func (c ComposeCLI) Stop(ctx context.Context, dir, file, service string) error {
	_, err := c.run(ctx, dir, file, nil, "stop", service)
	return err
}

func (c ComposeCLI) Ps(ctx context.Context, dir, file, service string) (ContainerStatus, bool, error) {
	out, err := c.run(ctx, dir, file, nil, "ps", "--all", "--format", "json", service)
	if err != nil {
		return ContainerStatus{}, false, err
	}
	rows, err := ParsePs(out)
	if err != nil {
		return ContainerStatus{}, false, err
	}
	for _, r := range rows {
		if r.Service == "" || r.Service == service {
			return r, true, nil
		}
	}
	return ContainerStatus{}, false, nil
}

func (c ComposeCLI) Logs(ctx context.Context, dir, file, service string, tail int, follow bool, w io.Writer) error {
	args := []string{"logs", "--tail", strconv.Itoa(tail)}
	if follow {
		args = append(args, "--follow")
	}
	args = append(args, service)

	tool, argv := c.argv(file, args...)
	cmd := execCommandContext(ctx, tool, argv...)
	cmd.Dir = dir
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = io.MultiWriter(w, &stderr)
	if err := cmd.Run(); err != nil {
		if follow && ctx.Err() != nil {
			return nil
		}
		return toolError(ctx, tool, argv, err, stderr.String(), "")
	}
	return nil
}

// ParsePs decodes `compose ps --format json`, which is a JSON array in
// older releases and JSON lines in newer ones.
func ParsePs(data []byte) ([]ContainerStatus, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var rows []ContainerStatus
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("failed to parse compose ps output: %w", err)
		}
		return rows, nil
	}

	var rows []ContainerStatus
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r ContainerStatus
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to parse compose ps output: %w", err)
		}
		rows = append(rows, r)
	}
	return rows, sc.Err()
}
