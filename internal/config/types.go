package config

import (
	"runtime"
	"time"
)

// Settings is the global configuration of projectctl.
type Settings struct {
	Editor          string        `mapstructure:"editor" yaml:"editor"`
	Shell           string        `mapstructure:"shell" yaml:"shell"`
	ComposeCommand  []string      `mapstructure:"compose_command" yaml:"compose_command"`
	MRULimit        int           `mapstructure:"mru_limit" yaml:"mru_limit"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"` // 0 means runtime.NumCPU()
	LockTimeout     time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`
	HealthInterval  time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period" yaml:"stop_grace_period"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string        `mapstructure:"log_format" yaml:"log_format"`
}

// Defaults for Settings.
const (
	DefaultEditor          = "code"
	DefaultShell           = "/bin/sh"
	DefaultMRULimit        = 10
	DefaultLockTimeout     = 5 * time.Second
	DefaultHealthTimeout   = 30 * time.Second
	DefaultHealthInterval  = 250 * time.Millisecond
	DefaultStopGracePeriod = 10 * time.Second
	DefaultLogLevel        = "warn"
	DefaultLogFormat       = "text"

	// MaxHealthInterval caps the doubling probe backoff.
	MaxHealthInterval = 2 * time.Second
)

// DefaultComposeCommand is the container orchestration tool invocation.
var DefaultComposeCommand = []string{"docker", "compose"}

// EffectiveConcurrency resolves the worker pool bound used by bulk operations.
func (s Settings) EffectiveConcurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return runtime.NumCPU()
}
