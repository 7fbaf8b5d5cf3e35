package state

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned for a status change the state machine forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// ServiceStatus is the observed lifecycle state of a declared service.
type ServiceStatus string

const (
	StatusStopped   ServiceStatus = "stopped"
	StatusStarting  ServiceStatus = "starting"
	StatusRunning   ServiceStatus = "running"
	StatusUnhealthy ServiceStatus = "unhealthy"
	StatusStopping  ServiceStatus = "stopping"
	StatusFailed    ServiceStatus = "failed"
)

// Normalize treats a missing status as stopped.
func (s ServiceStatus) Normalize() ServiceStatus {
	if s == "" {
		return StatusStopped
	}
	return s
}

// Active reports whether the service is believed to be up.
func (s ServiceStatus) Active() bool {
	switch s {
	case StatusRunning, StatusUnhealthy, StatusStarting:
		return true
	}
	return false
}

// InFlight reports whether the status is an intermediate one written before
// an external action completes.
func (s ServiceStatus) InFlight() bool {
	return s == StatusStarting || s == StatusStopping
}

var transitions = map[ServiceStatus][]ServiceStatus{
	StatusStopped:   {StatusStarting},
	StatusStarting:  {StatusRunning, StatusUnhealthy, StatusFailed, StatusStopping},
	StatusRunning:   {StatusStopping, StatusStopped, StatusUnhealthy, StatusFailed},
	StatusUnhealthy: {StatusRunning, StatusStopping, StatusStopped, StatusFailed},
	StatusStopping:  {StatusStopped},
	StatusFailed:    {StatusStarting, StatusStopping, StatusStopped},
}

// CanTransition reports whether from -> to is allowed. Staying in the same
// status is always allowed.
func CanTransition(from, to ServiceStatus) bool {
	from, to = from.Normalize(), to.Normalize()
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RuntimeState is the persisted snapshot of one (project, service) pair.
type RuntimeState struct {
	Status         ServiceStatus `yaml:"status" json:"status"`
	Reason         string        `yaml:"reason,omitempty" json:"reason,omitempty"`
	Warning        string        `yaml:"warning,omitempty" json:"warning,omitempty"`
	PID            int           `yaml:"pid,omitempty" json:"pid,omitempty"`
	ContainerID    string        `yaml:"container_id,omitempty" json:"container_id,omitempty"`
	AttemptID      string        `yaml:"attempt_id,omitempty" json:"attempt_id,omitempty"`
	LastTransition time.Time     `yaml:"last_transition" json:"last_transition"`

	Extra map[string]interface{} `yaml:",inline" json:"-"`
}

// Transition returns a copy moved to status `to`. Reason is kept only for
// failed services. LastTransition changes only when the status does.
func (r RuntimeState) Transition(to ServiceStatus, reason string, now time.Time) (RuntimeState, error) {
	from := r.Status.Normalize()
	if !CanTransition(from, to) {
		return r, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	next := r
	next.Status = to
	next.Reason = ""
	if to == StatusFailed || to == StatusUnhealthy {
		next.Reason = reason
	}
	if from != to || next.LastTransition.IsZero() {
		next.LastTransition = now.UTC()
	}
	if to == StatusStopped {
		next.PID = 0
		next.ContainerID = ""
		next.AttemptID = ""
	}
	if to == StatusStarting {
		next.Warning = ""
	}
	return next, nil
}

// Stale reports whether an in-flight record was abandoned, e.g. by a
// crashed invocation.
func (r RuntimeState) Stale(now time.Time, maxAge time.Duration) bool {
	if !r.Status.InFlight() {
		return false
	}
	return now.Sub(r.LastTransition) > maxAge
}

// Label renders the status with its failure reason, e.g. "failed(timeout)".
func (r RuntimeState) Label() string {
	s := r.Status.Normalize()
	if r.Reason != "" && (s == StatusFailed || s == StatusUnhealthy) {
		return fmt.Sprintf("%s(%s)", s, r.Reason)
	}
	return string(s)
}
