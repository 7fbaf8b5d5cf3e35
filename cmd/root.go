package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"projectctl/internal/color"
	"projectctl/internal/config"
	"projectctl/internal/errdefs"
	"projectctl/pkg/logging"
)

// rootOptions carries the persistent flags and the settings loaded from them.
type rootOptions struct {
	configFile string
	debug      bool
	logFormat  string
	json       bool

	settings config.Settings
	loaded   bool
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "projectctl",
		Short: "Switch between local projects and manage their dev services",
		Long: `projectctl keeps a registry of your local projects and switches context
between them: it prepares each project's shell environment, starts and stops
its containers and dev servers, runs its named commands and keeps its
dependencies up to date.`,
		// SilenceUsage is set to true to prevent printing usage message on errors
		// handled by us (e.g. unknown project, failed commands)
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.init(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configFile, "config", "", "config file (default is $PROJECTCTL_HOME/config.yaml)")
	flags.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
	flags.BoolVar(&o.json, "json", false, "Print machine-readable JSON")

	cmd.AddCommand(
		newListCmd(o),
		newSwitchCmd(o),
		newInfoCmd(o),
		newStartCmd(o),
		newStopCmd(o),
		newRestartCmd(o),
		newStatusCmd(o),
		newLogsCmd(o),
		newDepsCmd(o),
		newRunCmd(o),
		newAddCmd(o),
		newRemoveCmd(o),
		newRecentCmd(o),
		newNewCmd(o),
		newTemplatesCmd(o),
		newShellInitCmd(o),
		newMCPCmd(o),
		newVersionCmd(),
		newSelfUpdateCmd(),
	)
	return cmd
}

// init loads settings and configures logging and colors. Flags win over the
// config file.
func (o *rootOptions) init(stderr io.Writer) error {
	settings, err := config.Load(o.configFile)
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrInvalidArgument, err)
	}
	o.settings = settings
	o.loaded = true

	levelName := settings.LogLevel
	if o.debug || os.Getenv("PROJECTCTL_DEBUG") == "1" {
		levelName = "debug"
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrInvalidArgument, err)
	}
	format := logging.Format(settings.LogFormat)
	if o.logFormat != "" {
		format = logging.Format(o.logFormat)
	}
	if format != logging.FormatText && format != logging.FormatJSON {
		return fmt.Errorf("unknown log format %q: %w", format, errdefs.ErrInvalidArgument)
	}
	logging.Init(level, format, stderr)

	color.FromEnv()
	if o.json {
		color.Disable()
	}
	return nil
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the command tree and exits with the code matching the
// error's class.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "projectctl version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(errdefs.ExitCode(err))
	}
}
