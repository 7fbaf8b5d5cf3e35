package cmd

import (
	"fmt"

	"github.com/alessio/shellescape"
	"github.com/spf13/cobra"

	"projectctl/internal/errdefs"
	"projectctl/internal/runner"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	var list, follow bool
	cmd := &cobra.Command{
		Use:   "run [project] [command] [-- shell words...]",
		Short: "Run one of a project's commands",
		Long: `Runs a named command (dev, test, build, ...) of a project in the project's
directory with its environment plan applied. Words after -- are run as an ad
hoc command instead: several words are quoted one by one so they reach the
program unchanged, a single word is handed to the shell as a raw line
(use it for pipes, variables or background jobs). Without a command the available commands are listed.
The exit code of the command becomes projectctl's exit code.`,
		Example: `  projectctl run shop test
  projectctl run shop -- npm run lint -- --fix
  projectctl run shop -- 'npm run dev > dev.log 2>&1 &'
  projectctl run 0 --list`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			positional, literal := args, ""
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				positional, literal = args[:dash], literalLine(args[dash:])
			}
			if len(positional) > 2 {
				return fmt.Errorf("expected at most a project and a command before --, got %d arguments: %w", len(positional), errdefs.ErrInvalidArgument)
			}

			p, err := a.resolve(cmd.Context(), positional)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			name := ""
			if len(positional) == 2 {
				name = positional[1]
			}
			if list || (name == "" && literal == "") {
				if o.json {
					return printJSON(out, p.Commands)
				}
				if len(p.Commands) == 0 {
					fmt.Fprintf(out, "%s has no commands\n", p.Name)
					return nil
				}
				t := &table{header: []string{"COMMAND", "LINE"}}
				for _, n := range p.CommandNames() {
					t.add(n, p.Commands[n])
				}
				t.render(out)
				return nil
			}

			req := runner.Request{Project: p, Command: name, Literal: literal, Follow: follow && !o.json, Output: out}
			if name != "" && literal != "" {
				// `run shop test -- -run TestX` appends to the named command
				line, err := runner.Resolve(p, name)
				if err != nil {
					return err
				}
				req.Command, req.Literal = "", line+" "+literal
			}
			outcome, err := a.runner.Run(cmd.Context(), req)
			if o.json {
				payload := struct {
					runner.Outcome
					Output string `json:"output"`
				}{outcome, string(outcome.Output)}
				if perr := printJSON(out, payload); perr != nil {
					return perr
				}
			} else if !req.Follow {
				_, _ = out.Write(outcome.Output)
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List the project's commands")
	cmd.Flags().BoolVar(&follow, "follow", true, "Stream output while the command runs")
	return cmd
}

// literalLine turns the words after -- into a shell line.
func literalLine(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	default:
		return shellescape.QuoteCommand(words)
	}
}
