package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/XuanZiK/V-knowledge/internal/export"
	"github.com/XuanZiK/V-knowledge/internal/output"
	"github.com/XuanZiK/V-knowledge/internal/search"
	"github.com/XuanZiK/V-knowledge/internal/store"
)

type searchOptions struct {
	collection string
	limit      int
	rerank     bool
	exportPath string
	timing     bool
	format     string
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var flags searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a collection by meaning",
		Long: `Embed the query with the active embedding model and return the most
similar chunks. With --rerank the active rerank model reorders them.

Examples:
  vkb search "warranty period"
  vkb search "reset procedure" --collection manuals --limit 10 --rerank
  vkb search "error codes" --export results.xlsx --timing`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, strings.Join(args, " "), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.collection, "collection", "c", "", "Collection to search (default: current)")
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", store.DefaultSearchLimit, "Maximum number of results")
	cmd.Flags().BoolVar(&flags.rerank, "rerank", false, "Rerank with the active rerank model")
	cmd.Flags().StringVar(&flags.exportPath, "export", "", "Write results to a .csv, .xlsx or text file")
	cmd.Flags().BoolVar(&flags.timing, "timing", false, "Print search and rerank latency")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runSearch(cmd *cobra.Command, opts *rootOptions, query string, flags searchOptions) error {
	ctx := cmd.Context()
	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.searcher().Search(ctx, search.Request{
		Query:      query,
		Collection: flags.collection,
		Limit:      flags.limit,
		Rerank:     flags.rerank,
	})
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if flags.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp.Hits); err != nil {
			return err
		}
	} else {
		out.Hits(resp.Hits)
		if flags.rerank && !resp.Reranked {
			output.New(cmd.ErrOrStderr()).Warningf("no rerank model active; results are in vector order")
		}
	}
	if flags.timing {
		out.Timing(resp.SearchTime, resp.RerankTime, resp.TotalElapsed)
	}

	if flags.exportPath != "" {
		if err := export.WriteFile(flags.exportPath, resp.Hits); err != nil {
			return err
		}
		output.New(cmd.ErrOrStderr()).Successf("Exported %d results to %s", len(resp.Hits), flags.exportPath)
	}
	return nil
}
