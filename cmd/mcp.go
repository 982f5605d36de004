package cmd

import (
	"github.com/spf13/cobra"

	"github.com/parley-dev/parley/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server exposing stored transcripts",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This gives MCP-capable agents read-only access to stored chat
sessions. Configure with:

  {
    "mcpServers": {
      "parley": { "command": "parley", "args": ["mcp"] }
    }
  }

Available tools: parley_list_sessions, parley_get_session,
parley_search_sessions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return mcp.NewServer(s).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
