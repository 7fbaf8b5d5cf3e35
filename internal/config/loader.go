package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetenv = os.Getenv

const (
	envPrefix      = "PROJECTCTL"
	homeEnv        = "PROJECTCTL_HOME"
	defaultHomeDir = ".projectctl"

	configFileName   = "config.yaml"
	registryFileName = "projects.yaml"
	lockFileName     = "projects.lock"
	templatesDirName = "templates"
	logsDirName      = "logs"
)

// Paths is the on-disk layout of projectctl's state.
type Paths struct {
	Home string
}

// DefaultPaths resolves PROJECTCTL_HOME, falling back to ~/.projectctl.
func DefaultPaths() (Paths, error) {
	if h := osGetenv(homeEnv); h != "" {
		return Paths{Home: h}, nil
	}
	home, err := osUserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return Paths{Home: filepath.Join(home, defaultHomeDir)}, nil
}

func (p Paths) ConfigFile() string   { return filepath.Join(p.Home, configFileName) }
func (p Paths) RegistryFile() string { return filepath.Join(p.Home, registryFileName) }
func (p Paths) LockFile() string     { return filepath.Join(p.Home, lockFileName) }
func (p Paths) TemplatesDir() string { return filepath.Join(p.Home, templatesDirName) }

// ServiceLog is where a managed process of the given project appends its output.
func (p Paths) ServiceLog(project, service string) string {
	return filepath.Join(p.Home, logsDirName, project, service+".log")
}

// Load layers defaults, the config file at path and PROJECTCTL_* environment
// variables. An empty path means the default config file location.
func Load(path string) (Settings, error) {
	if path == "" {
		paths, err := DefaultPaths()
		if err != nil {
			return Settings{}, err
		}
		path = paths.ConfigFile()
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("error loading config from %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("error reading config %s: %w", path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("error decoding config from %s: %w", path, err)
	}
	normalize(&s)

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	shell := osGetenv("SHELL")
	if shell == "" {
		shell = DefaultShell
	}

	v.SetDefault("editor", DefaultEditor)
	v.SetDefault("shell", shell)
	v.SetDefault("compose_command", DefaultComposeCommand)
	v.SetDefault("mru_limit", DefaultMRULimit)
	v.SetDefault("concurrency", 0)
	v.SetDefault("lock_timeout", DefaultLockTimeout)
	v.SetDefault("health_timeout", DefaultHealthTimeout)
	v.SetDefault("health_interval", DefaultHealthInterval)
	v.SetDefault("stop_grace_period", DefaultStopGracePeriod)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
}

// normalize fixes up values that only arrive in a lossy form from the
// environment, e.g. PROJECTCTL_COMPOSE_COMMAND="podman compose".
func normalize(s *Settings) {
	if len(s.ComposeCommand) == 1 && strings.ContainsAny(s.ComposeCommand[0], " \t") {
		s.ComposeCommand = strings.Fields(s.ComposeCommand[0])
	}
	if len(s.ComposeCommand) == 0 {
		s.ComposeCommand = append([]string(nil), DefaultComposeCommand...)
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	s.LogFormat = strings.ToLower(strings.TrimSpace(s.LogFormat))
}

// Validate rejects settings that would make the orchestrator misbehave.
func (s Settings) Validate() error {
	if s.MRULimit < 1 {
		return fmt.Errorf("mru_limit must be at least 1, got %d", s.MRULimit)
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", s.Concurrency)
	}
	if s.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive")
	}
	if s.HealthTimeout <= 0 || s.HealthInterval <= 0 {
		return fmt.Errorf("health_timeout and health_interval must be positive")
	}
	if s.StopGracePeriod < 0 {
		return fmt.Errorf("stop_grace_period must not be negative")
	}
	if s.Shell == "" {
		return fmt.Errorf("shell must not be empty")
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", s.LogFormat)
	}
	return nil
}
