package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectctl/internal/config"
	"projectctl/internal/errdefs"
	"projectctl/internal/registry"
	"projectctl/internal/state"
)

type env struct {
	t    *testing.T
	home string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	home := t.TempDir()
	t.Setenv("PROJECTCTL_HOME", home)
	t.Setenv("SHELL", "/bin/sh")
	t.Setenv("NO_COLOR", "1")
	return &env{t: t, home: home}
}

func (e *env) run(args ...string) (string, error) {
	e.t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *env) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "projectctl %v", args)
	return out
}

func (e *env) store() *registry.Store {
	paths := config.Paths{Home: e.home}
	return registry.New(paths.RegistryFile(), paths.LockFile())
}

// goProject creates a Go module directory, optionally with a compose file.
func goProject(t *testing.T, name string, compose bool) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/"+name+"\n\ngo 1.24\n"), 0o644))
	if compose {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yaml"),
			[]byte("services:\n  db:\n    image: postgres:16\n    ports:\n      - \"5432:5432\"\n"), 0o644))
	}
	return dir
}

func TestAddListRemove(t *testing.T) {
	e := newEnv(t)
	dir := goProject(t, "shop", true)

	out := e.mustRun("add", dir, "--alias", "s")
	assert.Contains(t, out, "Added shop (go) with 1 service(s)")

	_, err := e.run("add", dir, "--name", "other", "--alias", "s")
	assert.True(t, errors.Is(err, errdefs.ErrAlreadyExists))
	assert.Equal(t, errdefs.ExitInvalidArgument, errdefs.ExitCode(err))

	out = e.mustRun("list", "--json")
	var entries []struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Path     string `json:"path"`
		Services []struct {
			Name string `json:"name"`
			Port int    `json:"port"`
		} `json:"services"`
		Active bool `json:"active"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "shop", entries[0].Name)
	assert.Equal(t, "go", entries[0].Type)
	assert.Equal(t, dir, entries[0].Path)
	require.Len(t, entries[0].Services, 1)
	assert.Equal(t, 5432, entries[0].Services[0].Port)

	out = e.mustRun("list", "--type", "rust")
	assert.Contains(t, out, "No projects")

	_, err = e.run("list", "--type", "cobol")
	assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))

	assert.Contains(t, e.mustRun("remove", "s"), "Removed shop")
	out = e.mustRun("list", "--json")
	assert.JSONEq(t, "[]", out)
}

func TestRemoveRefusesActiveProject(t *testing.T) {
	e := newEnv(t)
	e.mustRun("add", goProject(t, "shop", true))

	_, err := e.store().Commit(context.Background(), func(rec *registry.Record) error {
		rec.SetServiceState("shop", "db", state.RuntimeState{Status: state.StatusRunning, LastTransition: time.Now().UTC()})
		return nil
	})
	require.NoError(t, err)

	out := e.mustRun("list", "--active", "--json")
	assert.Contains(t, out, `"active": true`)

	_, err = e.run("remove", "shop")
	assert.True(t, errors.Is(err, errdefs.ErrBusy))
	assert.Equal(t, errdefs.ExitBusy, errdefs.ExitCode(err))

	e.mustRun("remove", "shop", "--force")
	rec, err := e.store().Load()
	require.NoError(t, err)
	assert.Empty(t, rec.Projects)
	assert.Empty(t, rec.Runtime)
}

func TestSwitchPrintEnvAndRecent(t *testing.T) {
	e := newEnv(t)
	shop := goProject(t, "shop", false)
	api := goProject(t, "api", false)
	e.mustRun("add", shop)
	e.mustRun("add", api, "--alias", "backend")

	out := e.mustRun("switch", "--print-env", "--shell", "bash", "shop")
	assert.Contains(t, out, "cd '"+shop+"'\n")
	assert.Contains(t, out, "export PROJECTCTL_PROJECT='shop'\n")

	out = e.mustRun("switch", "--print-env", "--shell", "fish", "backend")
	assert.Contains(t, out, "set -gx PROJECTCTL_PROJECT 'api'\n")

	out = e.mustRun("recent", "--json")
	var recent []struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &recent))
	require.Len(t, recent, 2)
	assert.Equal(t, "api", recent[0].Name)
	assert.Equal(t, "shop", recent[1].Name)

	// index 1 is shop; switching moves it to the front
	out = e.mustRun("switch", "1")
	assert.Contains(t, out, "Switched to shop (go)")
	out = e.mustRun("switch", "--recent", "--print-env")
	assert.Contains(t, out, "cd '"+shop+"'")

	_, err := e.run("switch", "nope")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	assert.Equal(t, errdefs.ExitNotFound, errdefs.ExitCode(err))

	_, err = e.run("switch", "--print-env", "--shell", "tcsh", "shop")
	assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))
}

func TestSwitchCodeOpensEditor(t *testing.T) {
	e := newEnv(t)
	t.Setenv("PROJECTCTL_EDITOR", "myeditor --new-window")
	dir := goProject(t, "shop", false)
	e.mustRun("add", dir)

	var got []string
	original := startEditor
	startEditor = func(editor []string, d string) error {
		got = append(append([]string{}, editor...), d)
		return nil
	}
	defer func() { startEditor = original }()

	e.mustRun("switch", "shop", "--code")
	assert.Equal(t, []string{"myeditor", "--new-window", dir}, got)
}

func TestInfo(t *testing.T) {
	e := newEnv(t)
	dir := goProject(t, "shop", true)
	e.mustRun("add", dir)

	assert.Equal(t, dir+"\n", e.mustRun("info", "shop", "--path-only"))

	var copied string
	original := writeClipboard
	writeClipboard = func(s string) error { copied = s; return nil }
	defer func() { writeClipboard = original }()
	e.mustRun("info", "shop", "--path-only", "--copy")
	assert.Equal(t, dir, copied)

	out := e.mustRun("info", "shop")
	assert.Contains(t, out, "type:     go (native-binary)")
	assert.Contains(t, out, "db")
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "go test ./...")

	out = e.mustRun("info", "shop", "--json")
	var info struct {
		Project struct {
			Name string `json:"name"`
		} `json:"project"`
		Git      any `json:"git"`
		Services []struct {
			Name  string `json:"name"`
			State struct {
				Status string `json:"status"`
			} `json:"state"`
		} `json:"services"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "shop", info.Project.Name)
	assert.Nil(t, info.Git)
	require.Len(t, info.Services, 1)
	assert.Equal(t, "stopped", info.Services[0].State.Status)

	// info never touches the recent stack
	rec, err := e.store().Load()
	require.NoError(t, err)
	assert.Empty(t, rec.Recent)
}

func TestRun(t *testing.T) {
	e := newEnv(t)
	e.mustRun("add", goProject(t, "shop", false))

	out := e.mustRun("run", "shop")
	assert.Contains(t, out, "go test ./...")

	out = e.mustRun("run", "shop", "--", "echo hello $PROJECTCTL_PROJECT")
	assert.Equal(t, "hello shop\n", out)

	// several words keep their boundaries and are not expanded
	out = e.mustRun("run", "shop", "--", "printf", `%s\n`, "a b", "$PROJECTCTL_PROJECT")
	assert.Equal(t, "a b\n$PROJECTCTL_PROJECT\n", out)

	out = e.mustRun("run", "shop", "--follow=false", "--", "echo", "buffered")
	assert.Equal(t, "buffered\n", out)

	_, err := e.run("run", "shop", "nope")
	assert.True(t, errors.Is(err, errdefs.ErrUnknownCommand))
	assert.Equal(t, errdefs.ExitUnknownCommand, errdefs.ExitCode(err))

	_, err = e.run("run", "shop", "--", "exit", "4")
	assert.True(t, errors.Is(err, errdefs.ErrCommandFailed))
	assert.Equal(t, 4, errdefs.ExitCode(err))

	_, err = e.run("run", "a", "b", "c")
	assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))
}

func TestStatusWithoutServices(t *testing.T) {
	e := newEnv(t)
	e.mustRun("add", goProject(t, "shop", false))

	assert.Contains(t, e.mustRun("status"), "No project declares services.")
	assert.Contains(t, e.mustRun("status", "shop"), "shop: no services declared")

	_, err := e.run("logs", "shop")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestShellInit(t *testing.T) {
	e := newEnv(t)
	assert.Contains(t, e.mustRun("shell-init", "zsh"), "pj() {")
	assert.Contains(t, e.mustRun("shell-init", "fish"), "function pj")
	assert.Contains(t, e.mustRun("shell-init"), "switch --print-env --shell sh")
}

func TestTemplatesAndNew(t *testing.T) {
	e := newEnv(t)

	assert.Contains(t, e.mustRun("templates"), "fastapi")

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "go.mod"), []byte("module example.com/svc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "TEMPLATE.md"), []byte("---\ndescription: Go service\ntype: go\n---\n"), 0o644))
	assert.Contains(t, e.mustRun("templates", "add", "svc", src), "Added template svc")

	out := e.mustRun("templates", "list", "--json")
	assert.Contains(t, out, `"description": "Go service"`)

	parent := t.TempDir()
	out = e.mustRun("new", "billing", "--template", "svc", "--dir", parent)
	assert.Contains(t, out, "Created billing (go)")
	assert.DirExists(t, filepath.Join(parent, "billing", ".git"))

	rec, err := e.store().Load()
	require.NoError(t, err)
	require.Len(t, rec.Projects, 1)
	assert.Equal(t, "billing", rec.Projects[0].Name)
	assert.Equal(t, []string{"billing"}, rec.Recent)

	_, err = e.run("new", "billing", "--template", "svc", "--dir", parent)
	assert.True(t, errors.Is(err, errdefs.ErrAlreadyExists))
}

func TestDepsSummary(t *testing.T) {
	e := newEnv(t)
	e.mustRun("add", goProject(t, "shop", false))

	out := e.mustRun("deps", "summary", "--json")
	assert.JSONEq(t, `[{"project": "shop", "managers": ["go"]}]`, out)
	assert.Contains(t, e.mustRun("deps", "summary"), "never")
}

func TestCorruptRegistry(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(config.Paths{Home: e.home}.RegistryFile(), []byte("projects: [\n"), 0o644))

	_, err := e.run("list")
	assert.True(t, errors.Is(err, errdefs.ErrCorruptState))
	assert.Equal(t, errdefs.ExitCorruptState, errdefs.ExitCode(err))
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()
	SetVersion("1.4.0")
	assert.Equal(t, "projectctl version 1.4.0\n", e.mustRun("version"))
}

func TestLiteralLine(t *testing.T) {
	assert.Equal(t, "", literalLine(nil))
	assert.Equal(t, "npm run dev &", literalLine([]string{"npm run dev &"}))
	assert.Equal(t, "grep 'a b' f", literalLine([]string{"grep", "a b", "f"}))
	assert.Equal(t, "go test -run TestX", literalLine([]string{"go", "test", "-run", "TestX"}))
}
