package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"projectctl/internal/color"
	"projectctl/internal/envplan"
	"projectctl/internal/errdefs"
	"projectctl/internal/gitinfo"
	"projectctl/internal/project"
	"projectctl/internal/state"
	"projectctl/pkg/logging"
)

// For mocking in tests
var (
	startEditor = func(editor []string, dir string) error {
		c := exec.Command(editor[0], append(editor[1:], dir)...)
		return c.Start()
	}
	writeClipboard = clipboard.WriteAll
)

func shellFromEnv(flag string) (envplan.Shell, error) {
	name := flag
	if name == "" {
		name = os.Getenv("SHELL")
	}
	sh, err := envplan.ParseShell(name)
	if err != nil {
		if flag != "" {
			return "", fmt.Errorf("%w: %v", errdefs.ErrInvalidArgument, err)
		}
		// an exotic login shell still gets POSIX lines
		return envplan.ShellPOSIX, nil
	}
	return sh, nil
}

func newSwitchCmd(o *rootOptions) *cobra.Command {
	var printEnv, recent, code bool
	var shell string
	cmd := &cobra.Command{
		Use:   "switch [project]",
		Short: "Switch to a project",
		Long: `Resolves a project by name, alias or recent index and marks it as most
recently used. With --print-env the environment plan is printed as shell
lines; the pj function from 'projectctl shell-init' evaluates them to change
directory and activate the project's runtimes. Without a project and on a
terminal an interactive picker opens.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			sh, err := shellFromEnv(shell)
			if err != nil {
				return err
			}

			var ref string
			switch {
			case len(args) == 1:
				ref = args[0]
			case recent:
				ref = "0"
			default:
				if ref, err = a.pick(cmd); err != nil {
					return err
				}
			}

			p, err := a.resolver.Resolve(cmd.Context(), ref)
			if err != nil {
				return err
			}
			plan, err := envplan.Build(p)
			if err != nil {
				return err
			}

			if code {
				editor := strings.Fields(a.settings.Editor)
				if len(editor) == 0 {
					editor = []string{"code"}
				}
				if err := startEditor(editor, plan.Dir); err != nil {
					return &errdefs.ExternalToolError{Tool: editor[0], Args: append(editor[1:], plan.Dir), ExitCode: -1, Err: err}
				}
			}

			out := cmd.OutOrStdout()
			switch {
			case printEnv:
				fmt.Fprint(out, plan.Render(sh))
			case o.json:
				return printJSON(out, plan)
			default:
				fmt.Fprintf(out, "Switched to %s (%s)\n", color.HeaderStyle.Render(p.Name), p.Type)
				for _, l := range plan.Summary() {
					fmt.Fprintf(out, "  %s\n", l)
				}
				if os.Getenv("PROJECTCTL_SHELL_INIT") == "" {
					fmt.Fprintln(out, color.SubtleStyle.Render("  hint: eval \"$(projectctl shell-init)\" adds the pj function that also changes directory"))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printEnv, "print-env", false, "Print the environment plan as shell lines")
	cmd.Flags().StringVar(&shell, "shell", "", "Shell syntax for --print-env: sh, bash, zsh or fish (default: $SHELL)")
	cmd.Flags().BoolVarP(&recent, "recent", "r", false, "Switch to the most recently used project")
	cmd.Flags().BoolVar(&code, "code", false, "Open the project in the configured editor")
	return cmd
}

type serviceInfo struct {
	project.ServiceSpec
	State state.RuntimeState `json:"state"`
}

type projectInfo struct {
	Project  project.Project `json:"project"`
	Plan     envplan.Plan    `json:"plan"`
	Git      *gitinfo.Info   `json:"git,omitempty"`
	Services []serviceInfo   `json:"services"`
}

func newInfoCmd(o *rootOptions) *cobra.Command {
	var pathOnly, copyPath bool
	cmd := &cobra.Command{
		Use:   "info [project]",
		Short: "Show details about a project",
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
			plan, err := envplan.Build(p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if copyPath {
				if err := writeClipboard(plan.Dir); err != nil {
					return fmt.Errorf("failed to copy path to clipboard: %w", err)
				}
			}
			if pathOnly {
				fmt.Fprintln(out, plan.Dir)
				return nil
			}

			rec, err := a.store.Load()
			if err != nil {
				return err
			}
			info := projectInfo{Project: p, Plan: plan, Services: []serviceInfo{}}
			for i, st := range projectStates(rec, p) {
				info.Services = append(info.Services, serviceInfo{ServiceSpec: p.Services[i], State: st})
			}
			if gi, err := gitinfo.Read(plan.Dir); err == nil {
				info.Git = gi
			} else if !errors.Is(err, gitinfo.ErrNotRepository) {
				logging.Warn("CLI", "failed to read git information for %s: %v", p.Name, err)
			}

			if o.json {
				return printJSON(out, info)
			}
			printInfo(out, info)
			if copyPath {
				fmt.Fprintln(out, color.SubtleStyle.Render("path copied to clipboard"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pathOnly, "path-only", false, "Print only the project directory")
	cmd.Flags().BoolVar(&copyPath, "copy", false, "Copy the project directory to the clipboard")
	return cmd
}

func printInfo(w io.Writer, info projectInfo) {
	p := info.Project
	fmt.Fprintf(w, "%s\n", color.HeaderStyle.Render(p.Name))
	if len(p.Aliases) > 0 {
		fmt.Fprintf(w, "  aliases:  %s\n", strings.Join(p.Aliases, ", "))
	}
	fmt.Fprintf(w, "  type:     %s (%s)\n", p.Type, p.Type.Family())
	for _, l := range info.Plan.Summary() {
		fmt.Fprintf(w, "  %s\n", l)
	}
	if info.Git != nil {
		fmt.Fprintf(w, "  git:      %s\n", info.Git.Summary())
		if c := info.Git.LastCommit; c != nil {
			fmt.Fprintf(w, "            %s %s (%s)\n", c.Hash, c.Subject, c.Author)
		}
	}
	if p.LastDepCheck != nil {
		fmt.Fprintf(w, "  deps:     last checked %s\n", p.LastDepCheck.Local().Format("2006-01-02 15:04"))
	}
	if len(info.Services) > 0 {
		fmt.Fprintln(w, "  services:")
		for _, s := range info.Services {
			port := ""
			if s.Port > 0 {
				port = fmt.Sprintf(" :%d", s.Port)
			}
			fmt.Fprintf(w, "    %-16s %-9s%s  %s\n", s.Name, s.Kind, port, color.ForStatus(string(s.State.Status.Normalize())).Render(s.State.Label()))
		}
	}
	if names := p.CommandNames(); len(names) > 0 {
		fmt.Fprintln(w, "  commands:")
		for _, n := range names {
			fmt.Fprintf(w, "    %-16s %s\n", n, p.Commands[n])
		}
	}
}

const posixShellInit = `# projectctl shell integration
export PROJECTCTL_SHELL_INIT=1
pj() {
  local __pj_env
  __pj_env="$(command projectctl switch --print-env --shell sh "$@")" || return $?
  eval "$__pj_env"
}
`

const fishShellInit = `# projectctl shell integration
set -gx PROJECTCTL_SHELL_INIT 1
function pj
    set -l __pj_env (command projectctl switch --print-env --shell fish $argv | string collect)
    or return $status
    eval $__pj_env
end
`

func newShellInitCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "shell-init [bash|zsh|fish]",
		Short:     "Print the pj shell function",
		Long:      "Prints a shell function named pj that switches projects in the current shell. Add eval \"$(projectctl shell-init)\" to your shell's rc file.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			flag := ""
			if len(args) == 1 {
				flag = args[0]
			}
			sh, err := shellFromEnv(flag)
			if err != nil {
				return err
			}
			if sh == envplan.ShellFish {
				fmt.Fprint(cmd.OutOrStdout(), fishShellInit)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), posixShellInit)
			}
			return nil
		},
	}
}
