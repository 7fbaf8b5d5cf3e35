package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("x"), ExitGeneric},
		{"not found", fmt.Errorf("project %q: %w", "a", ErrNotFound), ExitNotFound},
		{"unknown command", fmt.Errorf("dev: %w", ErrUnknownCommand), ExitUnknownCommand},
		{"busy", fmt.Errorf("lock: %w", ErrBusy), ExitBusy},
		{"corrupt", fmt.Errorf("load: %w", ErrCorruptState), ExitCorruptState},
		{"timeout", fmt.Errorf("db: %w", ErrTimeout), ExitTimeout},
		{"cancelled", ErrCancelled, ExitCancelled},
		{"exists", ErrAlreadyExists, ExitInvalidArgument},
		{"child code", &CommandFailedError{Command: "test", Code: 42}, 42},
		{"child no code", &CommandFailedError{Code: 0}, ExitCommandFailed},
		{"tool", &ExternalToolError{Tool: "docker", ExitCode: 1}, ExitExternalTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExternalToolErrorMessage(t *testing.T) {
	err := &ExternalToolError{
		Tool:     "docker",
		Args:     []string{"compose", "up", "-d", "db"},
		ExitCode: 1,
		Output:   "no such service: db\n",
	}

	assert.True(t, errors.Is(err, ErrExternalTool))
	assert.Equal(t, "docker compose up -d db: exit code 1\nno such service: db", err.Error())
}

func TestCommandFailedUnwrap(t *testing.T) {
	err := fmt.Errorf("run: %w", &CommandFailedError{Command: "make", Code: 2})

	var cmdErr *CommandFailedError
	assert.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 2, cmdErr.Code)
	assert.True(t, errors.Is(err, ErrCommandFailed))
}
