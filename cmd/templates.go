package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"projectctl/internal/registry"
)

func newTemplatesCmd(o *rootOptions) *cobra.Command {
	list := func(cmd *cobra.Command, args []string) error {
		a, err := o.app()
		if err != nil {
			return err
		}
		all, err := a.templates.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if o.json {
			return printJSON(out, all)
		}
		t := &table{header: []string{"NAME", "TYPE", "SOURCE", "DESCRIPTION"}}
		for _, tpl := range all {
			source := "built-in"
			if !tpl.Builtin {
				source = "custom"
			}
			t.add(tpl.Name, string(tpl.Type), source, tpl.Description)
		}
		t.render(out)
		return nil
	}

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List and manage project templates",
		Long: `Templates scaffold new projects. Built-in templates run the ecosystem's
generator; custom templates are directories copied verbatim. A custom
template may describe itself in a TEMPLATE.md with YAML front matter
(description, type, commands).`,
		Args: cobra.NoArgs,
		RunE: list,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List available templates",
			Args:  cobra.NoArgs,
			RunE:  list,
		},
		&cobra.Command{
			Use:   "add <name> <path>",
			Short: "Save a directory as a custom template",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := o.app()
				if err != nil {
					return err
				}
				tpl, err := a.templates.Add(args[0], args[1])
				if err != nil {
					return err
				}
				if o.json {
					return printJSON(cmd.OutOrStdout(), tpl)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added template %s (%s)\n", tpl.Name, tpl.Dir)
				return nil
			},
		},
	)
	return cmd
}

func newNewCmd(o *rootOptions) *cobra.Command {
	var tmpl, dir string
	var aliases []string
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create and register a project from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			p, err := a.templates.Create(cmd.Context(), args[0], tmpl, dir)
			if err != nil {
				return err
			}
			p.Aliases = aliases
			_, err = a.store.Commit(cmd.Context(), func(rec *registry.Record) error {
				if err := rec.AddProject(p); err != nil {
					return err
				}
				rec.PushRecent(p.Name, a.store.MRULimit())
				return nil
			})
			if err != nil {
				return fmt.Errorf("created %s but could not register it: %w", p.Path, err)
			}
			if o.json {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s) in %s\n", p.Name, p.Type, p.Path)
			if names := p.CommandNames(); len(names) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Commands: %s\n", strings.Join(names, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&tmpl, "template", "t", "", "Template to use (see `projectctl templates`)")
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Parent directory of the new project")
	cmd.Flags().StringArrayVar(&aliases, "alias", nil, "Alias for the project (repeatable)")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}
