package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/XuanZiK/V-knowledge/internal/output"
	"github.com/XuanZiK/V-knowledge/internal/telemetry"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var days, top int
	var jsonOutput, reset bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search query statistics",
		Long: `Summarize recorded searches: volume per collection, latency histogram,
frequent terms and queries that returned nothing. Metrics are kept in
telemetry.db in the data directory and never leave the machine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.loadEnv()
			if err != nil {
				return err
			}
			metrics, err := e.openTelemetry()
			if err != nil {
				return err
			}
			defer func() { _ = metrics.Close() }()

			if reset {
				if err := metrics.Reset(cmd.Context()); err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Search statistics cleared")
				return nil
			}

			st, err := metrics.Stats(cmd.Context(), days, top)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStats(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Days to summarize, today included")
	cmd.Flags().IntVar(&top, "top", 10, "Number of terms and zero-result queries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&reset, "reset", false, "Delete all recorded statistics")
	return cmd
}

func printStats(w io.Writer, st *telemetry.Stats) {
	_, _ = fmt.Fprintf(w, "Searches %s to %s: %d (%d reranked, %.1f%% without results)\n",
		st.From, st.To, st.Total, st.Reranked, st.ZeroResultRate()*100)
	if st.Total == 0 {
		return
	}

	names := make([]string, 0, len(st.ByCollection))
	for name := range st.ByCollection {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\nCOLLECTION\tSEARCHES")
	for _, name := range names {
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", name, st.ByCollection[name])
	}
	_, _ = fmt.Fprintln(tw, "\nLATENCY\tSEARCHES")
	for _, b := range telemetry.Buckets {
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", b, st.Latency[b])
	}
	if len(st.TopTerms) > 0 {
		_, _ = fmt.Fprintln(tw, "\nTERM\tCOUNT")
		for _, tc := range st.TopTerms {
			_, _ = fmt.Fprintf(tw, "%s\t%d\n", tc.Term, tc.Count)
		}
	}
	_ = tw.Flush()

	if len(st.RecentZero) > 0 {
		_, _ = fmt.Fprintln(w, "\nRecent searches without results:")
		for _, z := range st.RecentZero {
			_, _ = fmt.Fprintf(w, "  %s  [%s] %s\n", z.Timestamp.Local().Format("2006-01-02 15:04"), z.Collection, z.Query)
		}
	}
}
