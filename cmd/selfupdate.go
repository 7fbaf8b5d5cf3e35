package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"

	"projectctl/internal/errdefs"
)

const githubRepoSlug = "projectctl/projectctl"

func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-update",
		Short: "Update projectctl to the latest release",
		Long: `Checks for the latest release of projectctl on GitHub and replaces the
running binary with it when it is newer than the current version.`,
		Args: cobra.NoArgs,
		RunE: runSelfUpdate,
	}
}

func runSelfUpdate(cmd *cobra.Command, args []string) error {
	current := rootCmd.Version
	if current == "" || current == "dev" {
		return fmt.Errorf("cannot self-update a development version: %w", errdefs.ErrInvalidArgument)
	}

	ctx := cmd.Context()
	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(githubRepoSlug))
	if err != nil {
		return &errdefs.ExternalToolError{Tool: "github", Args: []string{"releases", githubRepoSlug}, ExitCode: -1, Err: err}
	}
	out := cmd.OutOrStdout()
	if !found {
		return fmt.Errorf("no release for %s: %w", githubRepoSlug, errdefs.ErrNotFound)
	}
	if latest.LessOrEqual(current) {
		fmt.Fprintf(out, "projectctl %s is up to date\n", current)
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return errors.New("could not locate the running executable")
	}
	fmt.Fprintf(out, "Updating projectctl %s -> %s\n", current, latest.Version())
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return fmt.Errorf("failed to update binary: %w", err)
	}
	fmt.Fprintf(out, "Updated to %s\n", latest.Version())
	return nil
}
