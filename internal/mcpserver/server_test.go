package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/registry"
	"projectctl/internal/runner"
	"projectctl/internal/services"
	"projectctl/internal/state"
)

type fakeController struct {
	calls  []string
	filter []string
	fail   error
}

func (f *fakeController) result(p project.Project, action services.Action, st state.ServiceStatus) services.Result {
	r := services.Result{Project: p.Name}
	for _, s := range p.Services {
		sr := services.ServiceResult{Service: s.Name, Kind: s.Kind, Action: action, State: state.RuntimeState{Status: st}}
		if f.fail != nil {
			sr.Action = services.ActionFailed
			sr.Err = f.fail
		}
		r.Services = append(r.Services, sr)
	}
	return r
}

func (f *fakeController) Start(_ context.Context, p project.Project, filter []string) (services.Result, error) {
	f.calls = append(f.calls, "start "+p.Name)
	f.filter = filter
	return f.result(p, services.ActionStarted, state.StatusRunning), nil
}

func (f *fakeController) Stop(_ context.Context, p project.Project, filter []string) (services.Result, error) {
	f.calls = append(f.calls, "stop "+p.Name)
	f.filter = filter
	return f.result(p, services.ActionStopped, state.StatusStopped), nil
}

func (f *fakeController) Status(_ context.Context, p project.Project) (services.Result, error) {
	f.calls = append(f.calls, "status "+p.Name)
	return f.result(p, services.ActionObserved, state.StatusRunning), nil
}

type fakeRunner struct {
	out runner.Outcome
	err error
}

func (f *fakeRunner) Run(_ context.Context, req runner.Request) (runner.Outcome, error) {
	out := f.out
	out.Project = req.Project.Name
	out.Command = req.Command
	return out, f.err
}

func newServer(t *testing.T) (*Server, *registry.Store, *fakeController, *fakeRunner) {
	t.Helper()
	dir := t.TempDir()
	store := registry.New(filepath.Join(dir, "registry.yaml"), filepath.Join(dir, "registry.lock"))
	_, err := store.Commit(context.Background(), func(rec *registry.Record) error {
		if err := rec.AddProject(project.Project{
			Name:     "shop",
			Aliases:  []string{"store"},
			Path:     t.TempDir(),
			Type:     project.TypeNode,
			Commands: map[string]string{"test": "npm test"},
			Services: []project.ServiceSpec{{Name: "web", Kind: project.KindProcess, Port: 3000, Command: "npm run dev"}},
		}); err != nil {
			return err
		}
		return rec.AddProject(project.Project{Name: "api", Path: t.TempDir(), Type: project.TypeFastAPI})
	})
	require.NoError(t, err)

	ctrl := &fakeController{}
	r := &fakeRunner{}
	return New("test", store, ctrl, r), store, ctrl, r
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestToolsRegistered(t *testing.T) {
	s, _, _, _ := newServer(t)
	var names []string
	for _, d := range s.tools() {
		names = append(names, d.tool.Name)
	}
	assert.Equal(t, []string{"project_list", "project_info", "service_status", "service_start", "service_stop", "command_run"}, names)
}

func TestProjectList(t *testing.T) {
	s, store, _, _ := newServer(t)
	_, err := store.Commit(context.Background(), func(rec *registry.Record) error {
		rec.PushRecent("api", 10)
		return nil
	})
	require.NoError(t, err)

	res, err := s.handleProjectList(context.Background(), call("project_list", nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "shop", entries[0].Name)
	assert.Nil(t, entries[0].Recent)
	require.NotNil(t, entries[1].Recent)
	assert.Equal(t, 0, *entries[1].Recent)
}

func TestProjectInfoDoesNotTouchRecent(t *testing.T) {
	s, store, _, _ := newServer(t)

	res, err := s.handleProjectInfo(context.Background(), call("project_info", map[string]any{"project": "store"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), `"PROJECTCTL_PROJECT": "shop"`)

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, rec.Recent)
}

func TestProjectInfoErrors(t *testing.T) {
	s, _, _, _ := newServer(t)

	res, err := s.handleProjectInfo(context.Background(), call("project_info", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleProjectInfo(context.Background(), call("project_info", map[string]any{"project": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "not found")
}

func TestServiceStartResolvesAndFilters(t *testing.T) {
	s, store, ctrl, _ := newServer(t)

	res, err := s.handleServiceStart(context.Background(), call("service_start", map[string]any{"project": "shop", "services": "web, ,db"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"start shop"}, ctrl.calls)
	assert.Equal(t, []string{"web", "db"}, ctrl.filter)
	assert.Contains(t, text(t, res), `"action": "started"`)

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, rec.Recent)
}

func TestServiceStopFailureIsToolError(t *testing.T) {
	s, _, ctrl, _ := newServer(t)
	ctrl.fail = errors.New("boom")

	res, err := s.handleServiceStop(context.Background(), call("service_stop", map[string]any{"project": "shop"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "Stop failed for web")
}

func TestServiceStatus(t *testing.T) {
	s, _, ctrl, _ := newServer(t)
	res, err := s.handleServiceStatus(context.Background(), call("service_status", map[string]any{"project": "shop"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"status shop"}, ctrl.calls)
}

func TestCommandRun(t *testing.T) {
	s, _, _, r := newServer(t)
	r.out = runner.Outcome{Line: "npm test", Output: []byte("ok\n")}

	res, err := s.handleCommandRun(context.Background(), call("command_run", map[string]any{"project": "shop", "command": "test"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), `"output": "ok\n"`)

	r.out = runner.Outcome{Line: "npm test", ExitCode: 2, Output: []byte("FAIL\n")}
	r.err = &errdefs.CommandFailedError{Command: "shop: test", Code: 2}
	res, err = s.handleCommandRun(context.Background(), call("command_run", map[string]any{"project": "shop", "command": "test"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "FAIL")

	res, err = s.handleCommandRun(context.Background(), call("command_run", map[string]any{"project": "shop"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
