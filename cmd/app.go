package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"projectctl/internal/config"
	"projectctl/internal/deps"
	"projectctl/internal/errdefs"
	"projectctl/internal/picker"
	"projectctl/internal/project"
	"projectctl/internal/registry"
	"projectctl/internal/resolver"
	"projectctl/internal/runner"
	"projectctl/internal/services"
	"projectctl/internal/templates"
)

// app holds the components a command works with, built from settings.
type app struct {
	settings     config.Settings
	paths        config.Paths
	store        *registry.Store
	resolver     *resolver.Resolver
	orchestrator *services.Orchestrator
	runner       *runner.Runner
	deps         *deps.Coordinator
	templates    *templates.Catalog
}

func (o *rootOptions) app() (*app, error) {
	if !o.loaded {
		// commands executed without the root's pre-run hook, as in tests
		if err := o.init(os.Stderr); err != nil {
			return nil, err
		}
	}
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}
	s := o.settings

	store := registry.New(paths.RegistryFile(), paths.LockFile(),
		registry.WithLockTimeout(s.LockTimeout),
		registry.WithMRULimit(s.MRULimit),
	)
	r := runner.New(s.Shell, s.StopGracePeriod)
	return &app{
		settings: s,
		paths:    paths,
		store:    store,
		resolver: resolver.New(store),
		orchestrator: services.NewOrchestrator(store,
			services.ComposeCLI{Command: s.ComposeCommand},
			services.NewShellLauncher(),
			services.TCPProber{},
			services.Options{
				Shell:          s.Shell,
				HealthTimeout:  s.HealthTimeout,
				HealthInterval: s.HealthInterval,
				StopGrace:      s.StopGracePeriod,
				Concurrency:    s.EffectiveConcurrency(),
				LogPath:        paths.ServiceLog,
			}),
		runner:    r,
		deps:      deps.NewCoordinator(deps.ExecExecutor{}, s.EffectiveConcurrency()),
		templates: templates.NewCatalog(paths.TemplatesDir(), r),
	}, nil
}

// resolve turns the optional reference argument into a project, updating
// the MRU stack. Without a reference the most recent project is used.
func (a *app) resolve(ctx context.Context, args []string) (project.Project, error) {
	ref := "0"
	if len(args) > 0 {
		ref = args[0]
	}
	return a.resolver.Resolve(ctx, ref)
}

// peek is resolve without touching the MRU stack.
func (a *app) peek(args []string) (project.Project, error) {
	ref := "0"
	if len(args) > 0 {
		ref = args[0]
	}
	return a.resolver.Peek(ref)
}

// pick opens the interactive picker when both ends are terminals.
func (a *app) pick(cmd *cobra.Command) (string, error) {
	in, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isatty.IsTerminal(in.Fd()) || !isatty.IsTerminal(os.Stderr.Fd()) {
		return "", fmt.Errorf("no project given and no terminal for the picker: %w", errdefs.ErrInvalidArgument)
	}
	rec, err := a.store.Load()
	if err != nil {
		return "", err
	}
	// The picker draws on stderr so stdout stays clean for --print-env.
	return picker.Pick(cmd.Context(), rec.Projects, rec.Recent, in, os.Stderr)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
