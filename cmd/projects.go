package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"projectctl/internal/color"
	"projectctl/internal/errdefs"
	"projectctl/internal/project"
	"projectctl/internal/registry"
	"projectctl/internal/resolver"
	"projectctl/internal/state"
	"projectctl/pkg/logging"
)

// table prints aligned columns; widths are measured in terminal cells so
// wide characters in names and paths line up.
type table struct {
	header []string
	rows   [][]string
	styles []func(row, col int, s string) string
}

func (t *table) add(cols ...string) { t.rows = append(t.rows, cols) }

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, r := range t.rows {
		for i, c := range r {
			if cw := runewidth.StringWidth(c); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	line := func(cols []string, style func(col int, s string) string) {
		var b strings.Builder
		for i, c := range cols {
			cell := c
			if i < len(cols)-1 {
				cell = runewidth.FillRight(c, widths[i])
			}
			if style != nil {
				cell = style(i, cell)
			}
			b.WriteString(cell)
			if i < len(cols)-1 {
				b.WriteString("  ")
			}
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
	line(t.header, func(_ int, s string) string { return color.HeaderStyle.Render(s) })
	for ri, r := range t.rows {
		ri := ri
		line(r, func(col int, s string) string {
			for _, st := range t.styles {
				s = st(ri, col, s)
			}
			return s
		})
	}
}

func activeProject(rec *registry.Record, name string) bool {
	for _, st := range rec.Runtime[name] {
		if st.Status.Active() {
			return true
		}
	}
	return false
}

type listEntry struct {
	project.Project
	Recent *int `json:"recent,omitempty"`
	Active bool `json:"active"`
}

func newListCmd(o *rootOptions) *cobra.Command {
	var typeFilter string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered projects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			rec, err := a.store.Load()
			if err != nil {
				return err
			}
			var want project.Type
			if typeFilter != "" {
				if want, err = project.ParseType(typeFilter); err != nil {
					return fmt.Errorf("%w: %v", errdefs.ErrInvalidArgument, err)
				}
			}

			rank := map[string]int{}
			for i, n := range rec.Recent {
				rank[n] = i
			}
			var entries []listEntry
			for _, p := range rec.Projects {
				if want != "" && p.Type != want {
					continue
				}
				e := listEntry{Project: p, Active: activeProject(rec, p.Name)}
				if activeOnly && !e.Active {
					continue
				}
				if r, ok := rank[p.Name]; ok {
					e.Recent = &r
				}
				entries = append(entries, e)
			}

			out := cmd.OutOrStdout()
			if o.json {
				if entries == nil {
					entries = []listEntry{}
				}
				return printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No projects. Register one with `projectctl add <path>`.")
				return nil
			}
			t := &table{header: []string{"NAME", "TYPE", "RECENT", "SERVICES", "PATH"}}
			for _, e := range entries {
				recent := ""
				if e.Recent != nil {
					recent = fmt.Sprint(*e.Recent)
				}
				t.add(e.Name, string(e.Type), recent, fmt.Sprint(len(e.Services)), e.Path)
			}
			t.styles = append(t.styles, func(row, col int, s string) string {
				if col == 0 && entries[row].Active {
					return color.ActiveStyle.Render(s)
				}
				return s
			})
			t.render(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeFilter, "type", "", "Only list projects of this type")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only list projects with running services")
	return cmd
}

func newAddCmd(o *rootOptions) *cobra.Command {
	var name, typeName string
	var aliases []string
	cmd := &cobra.Command{
		Use:   "add [path]",
		Short: "Register a project directory",
		Long: `Registers a project directory. The type, container services and default
commands are detected from the files in the directory; the name defaults to
the directory's base name.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if dir, err = project.ExpandPath(dir); err != nil {
				return err
			}
			if dir, err = filepath.Abs(dir); err != nil {
				return err
			}
			if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
				return fmt.Errorf("%s is not a directory: %w", dir, errdefs.ErrInvalidArgument)
			}

			p, err := project.Detect(dir)
			if err != nil {
				return err
			}
			p.Path = dir
			p.Name = name
			if p.Name == "" {
				p.Name = filepath.Base(dir)
			}
			p.Aliases = aliases
			if typeName != "" {
				t, err := project.ParseType(typeName)
				if err != nil {
					return fmt.Errorf("%w: %v", errdefs.ErrInvalidArgument, err)
				}
				p.Type = t
				p.Commands = project.DefaultCommands(dir, t)
			}

			_, err = a.store.Commit(cmd.Context(), func(rec *registry.Record) error {
				return rec.AddProject(p)
			})
			if err != nil {
				return err
			}
			logging.Info("CLI", "registered project %s at %s", p.Name, p.Path)
			if o.json {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) with %d service(s) and commands: %s\n",
				p.Name, p.Type, len(p.Services), strings.Join(p.CommandNames(), ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Project name (default: directory name)")
	cmd.Flags().StringVar(&typeName, "type", "", "Override the detected project type")
	cmd.Flags().StringArrayVar(&aliases, "alias", nil, "Alias for the project (repeatable)")
	return cmd
}

func newRemoveCmd(o *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "remove <project>",
		Aliases: []string{"rm"},
		Short:   "Unregister a project",
		Long: `Removes a project from the registry together with its recent-stack entry
and service state. Project files are never touched. A project whose services
are running is refused unless --force is given; stop them first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			var removed string
			_, err = a.store.Commit(cmd.Context(), func(rec *registry.Record) error {
				p, err := resolver.Lookup(rec, args[0])
				if err != nil {
					return err
				}
				removed = p.Name
				if activeProject(rec, p.Name) && !force {
					return fmt.Errorf("project %s has running services; stop them first or use --force: %w", p.Name, errdefs.ErrBusy)
				}
				return rec.RemoveProject(p.Name)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Remove even when services are running")
	return cmd
}

func newRecentCmd(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recently used projects",
		Long:  "Shows the recent-projects stack. The indices can be used wherever a project is expected.",
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
			type entry struct {
				Index int    `json:"index"`
				Name  string `json:"name"`
				Path  string `json:"path"`
			}
			entries := []entry{}
			for i, name := range rec.Recent {
				if limit > 0 && i >= limit {
					break
				}
				p, ok := rec.Find(name)
				if !ok {
					continue
				}
				entries = append(entries, entry{Index: i, Name: p.Name, Path: p.Path})
			}
			out := cmd.OutOrStdout()
			if o.json {
				return printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No recent projects.")
				return nil
			}
			t := &table{header: []string{"#", "NAME", "PATH"}}
			for _, e := range entries {
				t.add(fmt.Sprint(e.Index), e.Name, e.Path)
			}
			t.render(out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most N entries")
	return cmd
}

// projectStates returns the persisted snapshot of p's services in
// declaration order.
func projectStates(rec *registry.Record, p project.Project) []state.RuntimeState {
	out := make([]state.RuntimeState, 0, len(p.Services))
	for _, s := range p.Services {
		out = append(out, rec.ServiceState(p.Name, s.Name))
	}
	return out
}
