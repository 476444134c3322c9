package main

import (
	"fmt"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/medguide-rag/internal/adapters/mcp"
)

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active snapshot and its guidelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			local, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer local.Close()
			return c.printJSON(local.Engine.Status())
		},
	}
}

func (c *cli) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID...",
		Short: "Remove guidelines and rebuild the snapshot without them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer local.Close()

			report, err := local.Engine.Remove(cmd.Context(), args)
			if err != nil {
				return err
			}
			return c.printJSON(report)
		},
	}
}

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the guideline tools over MCP on stdin/stdout",
		Long: `mcp exposes guideline_search, verify_answer, validate_safety and
guideline_status to an MCP client over stdio. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			local, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer local.Close()

			server, err := mcpadapter.NewServer(mcpadapter.Ports{
				Searcher:  local.Search,
				Verifier:  local.Verify,
				Safety:    local.Safety,
				Inspector: local.Engine,
			}, c.logger)
			if err != nil {
				return fmt.Errorf("init mcp server: %w", err)
			}
			c.logger.Info("mcp_serving", "generation", local.Engine.Status().Generation)
			return server.Serve(cmd.Context(), c.in, c.out)
		},
	}
}
