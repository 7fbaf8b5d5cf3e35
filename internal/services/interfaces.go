package services

import (
	"context"
	"errors"
	"io"
	"syscall"

	"projectctl/internal/project"
	"projectctl/internal/state"
)

// ContainerStatus is one row of `compose ps`.
type ContainerStatus struct {
	ID      string `json:"ID"`
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
}

// Running reports whether the container is up.
func (c ContainerStatus) Running() bool { return c.State == "running" }

// Compose drives container services through the external compose tool.
// Every call runs in the project directory with the given compose file.
type Compose interface {
	Up(ctx context.Context, dir, file, service string, env []string) error
	Stop(ctx context.Context, dir, file, service string) error
	// Ps reports the container of service; found is false when none exists.
	Ps(ctx context.Context, dir, file, service string) (status ContainerStatus, found bool, err error)
	Logs(ctx context.Context, dir, file, service string, tail int, follow bool, w io.Writer) error
}

// LaunchSpec describes a managed process to spawn.
type LaunchSpec struct {
	Project string
	Service string
	Dir     string
	Shell   string
	Command string
	Env     []string
	LogFile string
	Attempt string
}

// Launcher spawns and signals managed processes. PIDs are process group
// leaders; Alive and Signal address the whole group.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (pid int, err error)
	Alive(pid int) bool
	Signal(pid int, sig syscall.Signal) error
}

// Prober checks whether a network service accepts connections.
type Prober interface {
	ProbePort(ctx context.Context, port int) error
}

// Action names what an operation did to one service.
type Action string

const (
	ActionStarted         Action = "started"
	ActionAlreadyRunning  Action = "already-running"
	ActionAlreadyStarting Action = "already-starting"
	ActionStopped         Action = "stopped"
	ActionAlreadyStopped  Action = "already-stopped"
	ActionRestarted       Action = "restarted"
	ActionObserved        Action = "observed"
	ActionFailed          Action = "failed"
	ActionSuperseded      Action = "superseded"
)

// ServiceResult is the per-service outcome of an orchestrator call.
type ServiceResult struct {
	Service string              `json:"service"`
	Kind    project.ServiceKind `json:"kind"`
	Action  Action              `json:"action"`
	State   state.RuntimeState  `json:"state"`
	Warning string              `json:"warning,omitempty"`
	Err     error               `json:"-"`
}

// Result aggregates the outcome for all targeted services of one project.
type Result struct {
	Project  string          `json:"project"`
	Services []ServiceResult `json:"services"`
}

// Err joins the per-service errors, or returns nil when every service succeeded.
func (r Result) Err() error {
	var errs []error
	for _, s := range r.Services {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

// Failed returns the names of services that ended with an error.
func (r Result) Failed() []string {
	var names []string
	for _, s := range r.Services {
		if s.Err != nil {
			names = append(names, s.Service)
		}
	}
	return names
}
