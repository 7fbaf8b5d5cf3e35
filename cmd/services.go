package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"projectctl/internal/color"
	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/services"
)

type serviceOp func(ctx context.Context, p project.Project, filter []string) (services.Result, error)

func newServiceOpCmd(o *rootOptions, use, short string, op func(*app) serviceOp) *cobra.Command {
	var filter []string
	cmd := &cobra.Command{
		Use:   use + " [project]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			p, err := a.resolve(cmd.Context(), args)
			if err != nil {
				return err
			}
			res, err := op(a)(cmd.Context(), p, filter)
			if err != nil {
				return err
			}
			if o.json {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), res)
			}
			if err := res.Err(); err != nil {
				return fmt.Errorf("%s %s failed for %s: %w", use, p.Name, strings.Join(res.Failed(), ", "), err)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&filter, "service", "s", nil, "Only these services (repeatable or comma-separated)")
	return cmd
}

func newStartCmd(o *rootOptions) *cobra.Command {
	cmd := newServiceOpCmd(o, "start", "Start a project's services and wait until they are healthy",
		func(a *app) serviceOp { return a.orchestrator.Start })
	cmd.Long = `Starts the project's declared services: containers through the compose tool
and dev servers as background processes. Each service is probed on its port
until healthy or until the health timeout expires. Services that are already
running are left alone.`
	return cmd
}

func newStopCmd(o *rootOptions) *cobra.Command {
	return newServiceOpCmd(o, "stop", "Stop a project's services",
		func(a *app) serviceOp { return a.orchestrator.Stop })
}

func newRestartCmd(o *rootOptions) *cobra.Command {
	return newServiceOpCmd(o, "restart", "Restart a project's services",
		func(a *app) serviceOp { return a.orchestrator.Restart })
}

func printResult(out, errOut io.Writer, res services.Result) {
	if len(res.Services) == 0 {
		fmt.Fprintf(out, "%s: no services declared\n", res.Project)
		return
	}
	t := &table{header: []string{"SERVICE", "KIND", "ACTION", "STATE", "DETAIL"}}
	for _, s := range res.Services {
		detail := ""
		switch {
		case s.Err != nil:
			detail = s.Err.Error()
		case s.State.PID > 0:
			detail = fmt.Sprintf("pid %d", s.State.PID)
		case s.State.ContainerID != "":
			detail = s.State.ContainerID
		}
		t.add(s.Service, string(s.Kind), string(s.Action), s.State.Label(), detail)
	}
	t.styles = append(t.styles, func(row, col int, str string) string {
		if col == 3 {
			return color.ForStatus(string(res.Services[row].State.Status.Normalize())).Render(str)
		}
		return str
	})
	fmt.Fprintln(out, color.HeaderStyle.Render(res.Project))
	t.render(out)
	for _, s := range res.Services {
		if s.Warning != "" {
			fmt.Fprintln(errOut, color.WarningStyle.Render(fmt.Sprintf("warning: %s: %s", s.Service, s.Warning)))
		}
	}
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [project]",
		Short: "Show the state of services",
		Long: `Probes the services of one project, or of every project with declared
services when none is given, and records what it observes. Crashed
processes and stopped containers are detected here.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			var projects []project.Project
			if len(args) == 1 {
				p, err := a.resolver.Peek(args[0])
				if err != nil {
					return err
				}
				projects = append(projects, p)
			} else {
				rec, err := a.store.Load()
				if err != nil {
					return err
				}
				for _, p := range rec.Projects {
					if len(p.Services) > 0 {
						projects = append(projects, p)
					}
				}
			}

			results, err := a.orchestrator.StatusMany(cmd.Context(), projects)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if o.json {
				if results == nil {
					results = []services.Result{}
				}
				return printJSON(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No project declares services.")
				return nil
			}
			for i, r := range results {
				if i > 0 {
					fmt.Fprintln(out)
				}
				printResult(out, cmd.ErrOrStderr(), r)
			}
			return nil
		},
	}
	return cmd
}

func newLogsCmd(o *rootOptions) *cobra.Command {
	var service string
	var follow bool
	var lines int
	cmd := &cobra.Command{
		Use:   "logs [project]",
		Short: "Show a service's output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			p, err := a.peek(args)
			if err != nil {
				return err
			}
			if service == "" {
				switch len(p.Services) {
				case 0:
					return fmt.Errorf("project %s declares no services: %w", p.Name, errdefs.ErrNotFound)
				case 1:
					service = p.Services[0].Name
				default:
					names := make([]string, 0, len(p.Services))
					for _, s := range p.Services {
						names = append(names, s.Name)
					}
					return fmt.Errorf("project %s has several services, pick one with --service (%s): %w",
						p.Name, strings.Join(names, ", "), errdefs.ErrInvalidArgument)
				}
			}
			err = a.orchestrator.Logs(cmd.Context(), p, service, lines, follow, cmd.OutOrStdout())
			if follow && cmd.Context().Err() != nil {
				// interrupted follow is the normal way out
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "Service to show (required when the project has several)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of lines to show from the end")
	return cmd
}
