package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a temporary config file
func createTempConfigFile(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, configFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func mockEnv(t *testing.T, env map[string]string) {
	t.Helper()
	original := osGetenv
	osGetenv = func(key string) string { return env[key] }
	t.Cleanup(func() { osGetenv = original })
}

func TestLoad_DefaultOnly(t *testing.T) {
	mockEnv(t, map[string]string{})

	s, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultEditor, s.Editor)
	assert.Equal(t, DefaultShell, s.Shell)
	assert.Equal(t, []string{"docker", "compose"}, s.ComposeCommand)
	assert.Equal(t, 10, s.MRULimit)
	assert.Equal(t, 5*time.Second, s.LockTimeout)
	assert.Equal(t, 30*time.Second, s.HealthTimeout)
	assert.Equal(t, 250*time.Millisecond, s.HealthInterval)
	assert.Equal(t, 10*time.Second, s.StopGracePeriod)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, "text", s.LogFormat)
	assert.Positive(t, s.EffectiveConcurrency())
}

func TestLoad_ShellFromEnvironment(t *testing.T) {
	mockEnv(t, map[string]string{"SHELL": "/bin/zsh"})

	s, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/bin/zsh", s.Shell)
}

func TestLoad_FileOverride(t *testing.T) {
	mockEnv(t, map[string]string{})
	path := createTempConfigFile(t, t.TempDir(), `
editor: vim
compose_command: [podman, compose]
mru_limit: 3
concurrency: 2
lock_timeout: 250ms
log_format: JSON
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "vim", s.Editor)
	assert.Equal(t, []string{"podman", "compose"}, s.ComposeCommand)
	assert.Equal(t, 3, s.MRULimit)
	assert.Equal(t, 2, s.EffectiveConcurrency())
	assert.Equal(t, 250*time.Millisecond, s.LockTimeout)
	assert.Equal(t, "json", s.LogFormat)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultStopGracePeriod, s.StopGracePeriod)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := createTempConfigFile(t, t.TempDir(), "editor: vim\n")
	t.Setenv("PROJECTCTL_EDITOR", "nvim")
	t.Setenv("PROJECTCTL_COMPOSE_COMMAND", "podman compose")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nvim", s.Editor)
	assert.Equal(t, []string{"podman", "compose"}, s.ComposeCommand)
}

func TestLoad_MalformedFile(t *testing.T) {
	mockEnv(t, map[string]string{})
	path := createTempConfigFile(t, t.TempDir(), "editor: [unterminated\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	mockEnv(t, map[string]string{})

	tests := []struct {
		name    string
		content string
	}{
		{"zero mru", "mru_limit: 0\n"},
		{"negative concurrency", "concurrency: -1\n"},
		{"bad format", "log_format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := createTempConfigFile(t, t.TempDir(), tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestDefaultPaths(t *testing.T) {
	t.Run("home override", func(t *testing.T) {
		mockEnv(t, map[string]string{homeEnv: "/tmp/pc"})

		p, err := DefaultPaths()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/pc/projects.yaml", p.RegistryFile())
		assert.Equal(t, "/tmp/pc/projects.lock", p.LockFile())
		assert.Equal(t, "/tmp/pc/config.yaml", p.ConfigFile())
		assert.Equal(t, "/tmp/pc/templates", p.TemplatesDir())
		assert.Equal(t, "/tmp/pc/logs/api/web.log", p.ServiceLog("api", "web"))
	})

	t.Run("user home", func(t *testing.T) {
		mockEnv(t, map[string]string{})
		original := osUserHomeDir
		osUserHomeDir = func() (string, error) { return "/home/dev", nil }
		defer func() { osUserHomeDir = original }()

		p, err := DefaultPaths()
		require.NoError(t, err)
		assert.Equal(t, "/home/dev/.projectctl", p.Home)
	})
}
