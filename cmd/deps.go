package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"projectctl/internal/color"
	"projectctl/internal/deps"
	"projectctl/internal/project"
	"projectctl/pkg/logging"
)

func newDepsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check and update project dependencies",
	}
	cmd.AddCommand(
		newDepsRunCmd(o, deps.ModeCheck, "Report outdated dependencies"),
		newDepsRunCmd(o, deps.ModeUpdate, "Update dependencies within their declared constraints"),
		newDepsSummaryCmd(o),
	)
	return cmd
}

func newDepsRunCmd(o *rootOptions, mode deps.Mode, short string) *cobra.Command {
	var all bool
	var concurrency int
	cmd := &cobra.Command{
		Use:   string(mode) + " [project]",
		Short: short,
		Long: short + `. Every detected package manager of the project is used
(cargo, npm, yarn, pnpm, pip, poetry, pipenv, go). With --all every
registered project is processed, at most --concurrency at a time; one
project's failure never stops the others.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			var projects []project.Project
			if all {
				rec, err := a.store.Load()
				if err != nil {
					return err
				}
				projects = rec.Projects
			} else {
				p, err := a.resolve(cmd.Context(), args)
				if err != nil {
					return err
				}
				projects = []project.Project{p}
			}

			coord := a.deps
			if concurrency > 0 {
				coord = deps.NewCoordinator(deps.ExecExecutor{}, concurrency)
			}
			logging.Debug("Deps", "%s for %d project(s) with concurrency %d", mode, len(projects), coord.Limit())

			var results []deps.UpdateResult
			if mode == deps.ModeCheck {
				results = coord.Check(cmd.Context(), projects)
			} else {
				results = coord.Update(cmd.Context(), projects)
			}
			// completed projects are recorded even after an interrupt
			if err := deps.RecordChecks(context.WithoutCancel(cmd.Context()), a.store, results); err != nil {
				logging.Warn("Deps", "failed to record dependency check times: %v", err)
			}

			out := cmd.OutOrStdout()
			if o.json {
				if err := printJSON(out, results); err != nil {
					return err
				}
			} else {
				printDeps(out, results)
			}

			var errs []error
			for _, r := range results {
				if err := r.Err(); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Process every registered project")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Projects processed at once (default from config)")
	return cmd
}

func printDeps(w io.Writer, results []deps.UpdateResult) {
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		line := fmt.Sprintf("%s  %s", color.HeaderStyle.Render(r.Project), color.ForOutcome(string(r.Outcome)).Render(string(r.Outcome)))
		if r.Reason != "" {
			line += color.SubtleStyle.Render("  " + r.Reason)
		}
		fmt.Fprintln(w, line)
		for _, m := range r.Managers {
			if m.Error != "" {
				fmt.Fprintf(w, "  %s: %s\n", m.Manager, color.ErrorStyle.Render(m.Error))
				continue
			}
			if len(m.Changes) == 0 {
				fmt.Fprintf(w, "  %s: up to date\n", m.Manager)
				continue
			}
			fmt.Fprintf(w, "  %s:\n", m.Manager)
			t := &table{header: []string{"PACKAGE", "FROM", "TO", "CLASS"}}
			for _, c := range m.Changes {
				t.add(c.Package, c.From, c.To, string(c.Class))
			}
			changes := m.Changes
			t.styles = append(t.styles, func(row, col int, s string) string {
				if col == 3 {
					return color.ForClass(string(changes[row].Class)).Render(s)
				}
				return s
			})
			var b strings.Builder
			t.render(&b)
			for _, l := range strings.Split(strings.TrimRight(b.String(), "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", l)
			}
		}
	}
}

func newDepsSummaryCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the package managers detected for each project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			rec, err := a.store.Load()
			if err != nil {
				return err
			}
			summary := deps.Summary(rec.Projects)
			out := cmd.OutOrStdout()
			if o.json {
				return printJSON(out, summary)
			}
			t := &table{header: []string{"PROJECT", "MANAGERS", "LAST CHECK"}}
			checked := map[string]string{}
			for _, p := range rec.Projects {
				if p.LastDepCheck != nil {
					checked[p.Name] = p.LastDepCheck.Local().Format("2006-01-02 15:04")
				}
			}
			for _, d := range summary {
				managers := strings.Join(d.Managers, ", ")
				if managers == "" {
					managers = "-"
				}
				last := checked[d.Project]
				if last == "" {
					last = "never"
				}
				t.add(d.Project, managers, last)
			}
			t.render(out)
			return nil
		},
	}
}
