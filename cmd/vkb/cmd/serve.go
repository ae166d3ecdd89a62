package cmd

import (
	"github.com/spf13/cobra"

	"github.com/XuanZiK/V-knowledge/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve search over MCP on stdio",
		Long: `Run an MCP server on stdin/stdout exposing the tools search,
list_collections and collection_info. stdout carries only protocol
messages; logs go to the log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv, err := mcp.NewServer(a.searcher(), a.store, a.logger)
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context())
		},
	}
}
