// Package mcpserver exposes projects, services and commands as MCP tools
// over stdio so editor agents can drive the same operations as the CLI.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"projectctl/internal/envplan"
	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/registry"
	"projectctl/internal/resolver"
	"projectctl/internal/runner"
	"projectctl/internal/services"
	"projectctl/pkg/logging"
)

// ServiceController is the subset of *services.Orchestrator the tools use.
type ServiceController interface {
	Start(ctx context.Context, p project.Project, filter []string) (services.Result, error)
	Stop(ctx context.Context, p project.Project, filter []string) (services.Result, error)
	Status(ctx context.Context, p project.Project) (services.Result, error)
}

// CommandRunner is satisfied by *runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, req runner.Request) (runner.Outcome, error)
}

// Server wires the tools to projectctl's components.
type Server struct {
	store    *registry.Store
	resolver *resolver.Resolver
	services ServiceController
	runner   CommandRunner
	mcp      *server.MCPServer
}

// New builds the MCP server and registers every tool.
func New(version string, store *registry.Store, svc ServiceController, r CommandRunner) *Server {
	s := &Server{
		store:    store,
		resolver: resolver.New(store),
		services: svc,
		runner:   r,
		mcp: server.NewMCPServer("projectctl", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	for _, t := range s.tools() {
		s.mcp.AddTool(t.tool, t.handler)
	}
	return s
}

// Serve speaks MCP on in/out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	logging.Info("MCP", "serving %d tools on stdio", len(s.tools()))
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)) {
		return nil
	}
	return err
}

type toolDef struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

func projectArg() mcp.ToolOption {
	return mcp.WithString("project",
		mcp.Required(),
		mcp.Description("Project name, alias or recent index (0 is the most recent)"),
	)
}

func servicesArg() mcp.ToolOption {
	return mcp.WithString("services",
		mcp.Description("Comma-separated service names; all services when empty"),
	)
}

func (s *Server) tools() []toolDef {
	return []toolDef{
		{
			tool:    mcp.NewTool("project_list", mcp.WithDescription("List registered projects, most recently used first")),
			handler: s.handleProjectList,
		},
		{
			tool: mcp.NewTool("project_info",
				mcp.WithDescription("Show a project's record and its environment plan"),
				projectArg(),
			),
			handler: s.handleProjectInfo,
		},
		{
			tool: mcp.NewTool("service_status",
				mcp.WithDescription("Report the observed state of a project's services"),
				projectArg(),
			),
			handler: s.handleServiceStatus,
		},
		{
			tool: mcp.NewTool("service_start",
				mcp.WithDescription("Start a project's services and wait until they are healthy"),
				projectArg(),
				servicesArg(),
			),
			handler: s.handleServiceStart,
		},
		{
			tool: mcp.NewTool("service_stop",
				mcp.WithDescription("Stop a project's services"),
				projectArg(),
				servicesArg(),
			),
			handler: s.handleServiceStop,
		},
		{
			tool: mcp.NewTool("command_run",
				mcp.WithDescription("Run one of the project's named commands and return its output"),
				projectArg(),
				mcp.WithString("command",
					mcp.Required(),
					mcp.Description("Command name such as dev, test or build"),
				),
			),
			handler: s.handleCommandRun,
		},
	}
}

type listEntry struct {
	Name    string       `json:"name"`
	Type    project.Type `json:"type"`
	Path    string       `json:"path"`
	Aliases []string     `json:"aliases,omitempty"`
	Recent  *int         `json:"recent,omitempty"`
}

func (s *Server) handleProjectList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, err := s.store.Load()
	if err != nil {
		return errorResult("Failed to load registry", err), nil
	}
	if len(rec.Projects) == 0 {
		return mcp.NewToolResultText("No projects registered"), nil
	}
	rank := map[string]int{}
	for i, name := range rec.Recent {
		rank[name] = i
	}
	entries := make([]listEntry, 0, len(rec.Projects))
	for _, p := range rec.Projects {
		e := listEntry{Name: p.Name, Type: p.Type, Path: p.Path, Aliases: p.Aliases}
		if r, ok := rank[p.Name]; ok {
			e.Recent = &r
		}
		entries = append(entries, e)
	}
	return jsonResult(entries)
}

func (s *Server) handleProjectInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, res := s.peek(request)
	if res != nil {
		return res, nil
	}
	plan, err := envplan.Build(p)
	if err != nil {
		return errorResult("Failed to build environment plan", err), nil
	}
	return jsonResult(struct {
		Project project.Project `json:"project"`
		Plan    envplan.Plan    `json:"plan"`
	}{p, plan})
}

func (s *Server) handleServiceStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, res := s.peek(request)
	if res != nil {
		return res, nil
	}
	result, err := s.services.Status(ctx, p)
	if err != nil {
		return errorResult("Status failed", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleServiceStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.serviceAction(ctx, request, "Start", s.services.Start)
}

func (s *Server) handleServiceStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.serviceAction(ctx, request, "Stop", s.services.Stop)
}

func (s *Server) serviceAction(ctx context.Context, request mcp.CallToolRequest, verb string,
	fn func(context.Context, project.Project, []string) (services.Result, error)) (*mcp.CallToolResult, error) {
	p, res := s.resolve(ctx, request)
	if res != nil {
		return res, nil
	}
	result, err := fn(ctx, p, splitList(stringArg(request, "services")))
	if err != nil {
		return errorResult(verb+" failed", err), nil
	}
	if err := result.Err(); err != nil {
		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultError(fmt.Sprintf("%s failed for %s: %v\n%s", verb, strings.Join(result.Failed(), ", "), err, data)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleCommandRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, res := s.resolve(ctx, request)
	if res != nil {
		return res, nil
	}
	name, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError("command parameter is required"), nil
	}
	out, err := s.runner.Run(ctx, runner.Request{Project: p, Command: name})
	payload := struct {
		runner.Outcome
		Output string `json:"output"`
	}{out, string(out.Output)}
	if err != nil {
		var failed *errdefs.CommandFailedError
		if errors.As(err, &failed) {
			data, _ := json.MarshalIndent(payload, "", "  ")
			return mcp.NewToolResultError(fmt.Sprintf("%v\n%s", err, data)), nil
		}
		return errorResult("Run failed", err), nil
	}
	return jsonResult(payload)
}

func (s *Server) peek(request mcp.CallToolRequest) (project.Project, *mcp.CallToolResult) {
	ref, err := request.RequireString("project")
	if err != nil {
		return project.Project{}, mcp.NewToolResultError("project parameter is required")
	}
	p, err := s.resolver.Peek(ref)
	if err != nil {
		return project.Project{}, errorResult("Project lookup failed", err)
	}
	return p, nil
}

// resolve is peek for operations that count as using the project.
func (s *Server) resolve(ctx context.Context, request mcp.CallToolRequest) (project.Project, *mcp.CallToolResult) {
	ref, err := request.RequireString("project")
	if err != nil {
		return project.Project{}, mcp.NewToolResultError("project parameter is required")
	}
	p, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return project.Project{}, errorResult("Project lookup failed", err)
	}
	return p, nil
}

func stringArg(request mcp.CallToolRequest, key string) string {
	if v, ok := request.GetArguments()[key].(string); ok {
		return v
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func errorResult(msg string, err error) *mcp.CallToolResult {
	logging.Debug("MCP", "%s: %v", msg, err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", msg, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
