package cmd

import (
	"github.com/spf13/cobra"

	"projectctl/internal/mcpserver"
)

func newMCPCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve projectctl's tools over MCP on stdio",
		Long: `Runs an MCP server on stdin/stdout so editor agents can list projects,
inspect them, start and stop their services and run their commands.
Logs go to stderr.

Example client configuration:

  {"mcpServers": {"projectctl": {"command": "projectctl", "args": ["mcp"]}}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.app()
			if err != nil {
				return err
			}
			srv := mcpserver.New(rootCmd.Version, a.store, a.orchestrator, a.runner)
			return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
