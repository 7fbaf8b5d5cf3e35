package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes shared by every component. Callers wrap them with %w and
// classify with errors.Is / errors.As.
var (
	// ErrNotFound indicates an unresolvable project or service reference
	ErrNotFound = errors.New("not found")
	// ErrUnknownCommand indicates a command name missing from the project's commands
	ErrUnknownCommand = errors.New("unknown command")
	// ErrBusy indicates the registry lock could not be acquired in time
	ErrBusy = errors.New("registry busy")
	// ErrCorruptState indicates the persisted registry could not be parsed
	ErrCorruptState = errors.New("corrupt registry state")
	// ErrExternalTool indicates compose or a package manager returned non-zero
	ErrExternalTool = errors.New("external tool failure")
	// ErrTimeout indicates a health probe or command exceeded its bound
	ErrTimeout = errors.New("timeout")
	// ErrCancelled indicates the operation was interrupted
	ErrCancelled = errors.New("cancelled")
	// ErrCommandFailed indicates a child process exited non-zero
	ErrCommandFailed = errors.New("command failed")
	// ErrAlreadyExists indicates a name or alias collision in the registry
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument indicates malformed user input
	ErrInvalidArgument = errors.New("invalid argument")
)

// CommandFailedError carries the verbatim exit code of a child process.
type CommandFailedError struct {
	Command string
	Code    int
}

func (e *CommandFailedError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("command failed with exit code %d", e.Code)
	}
	return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.Code)
}

func (e *CommandFailedError) Unwrap() error { return ErrCommandFailed }

// ExternalToolError describes a non-zero exit from compose or a package manager.
// Output holds the tool's captured stderr (or stdout when stderr was empty).
type ExternalToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Tool, strings.Join(e.Args, " "))
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\n%s", out)
	}
	return b.String()
}

func (e *ExternalToolError) Unwrap() error { return ErrExternalTool }

// Exit codes used by the CLI so scripts can distinguish failure classes.
const (
	ExitOK              = 0
	ExitGeneric         = 1
	ExitNotFound        = 2
	ExitUnknownCommand  = 3
	ExitBusy            = 4
	ExitCommandFailed   = 5
	ExitCorruptState    = 6
	ExitExternalTool    = 7
	ExitTimeout         = 8
	ExitInvalidArgument = 9
	ExitCancelled       = 130
)

// ExitCode maps an error to the process exit status. A CommandFailedError
// propagates the child's own exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cmdErr *CommandFailedError
	switch {
	case errors.Is(err, ErrCancelled):
		return ExitCancelled
	case errors.As(err, &cmdErr):
		if cmdErr.Code > 0 {
			return cmdErr.Code
		}
		return ExitCommandFailed
	case errors.Is(err, ErrCorruptState):
		return ExitCorruptState
	case errors.Is(err, ErrBusy):
		return ExitBusy
	case errors.Is(err, ErrUnknownCommand):
		return ExitUnknownCommand
	case errors.Is(err, ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrExternalTool):
		return ExitExternalTool
	case errors.Is(err, ErrTimeout):
		return ExitTimeout
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrAlreadyExists):
		return ExitInvalidArgument
	default:
		return ExitGeneric
	}
}
