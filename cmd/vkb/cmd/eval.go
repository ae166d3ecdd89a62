package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/output"
	"github.com/XuanZiK/V-knowledge/internal/validation"
)

func newEvalCmd(opts *rootOptions) *cobra.Command {
	var collection string
	var limit int
	var rerank, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "eval <queries.yaml>",
		Short: "Measure retrieval quality with a query file",
		Long: `Run each query in the file and check that an expected document is among
the results. Negative queries pass when the best score stays at or below
their max_score. Exits with an error when any query fails.

Flags override the collection, limit and rerank values in the file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := validation.LoadQueries(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("collection") {
				set.Collection = collection
			}
			if cmd.Flags().Changed("limit") {
				set.Limit = limit
			}
			if cmd.Flags().Changed("rerank") {
				set.Rerank = rerank
			}

			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res := validation.NewValidator(a.engine).RunAll(cmd.Context(), set)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printEval(cmd.OutOrStdout(), res)
			}

			if res.Failed() > 0 {
				return vkberrors.ValidationError(fmt.Sprintf("%d of %d queries failed", res.Failed(), res.Total), nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection to search")
	cmd.Flags().IntVarP(&limit, "limit", "n", validation.DefaultLimit, "Results per query")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Rerank with the active rerank model")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printEval(w io.Writer, res *validation.Result) {
	out := output.New(w)
	for _, tr := range res.Queries {
		detail := "not found in " + strings.Join(tr.Documents, ", ")
		if tr.MatchedAt >= 0 {
			detail = fmt.Sprintf("rank %d", tr.MatchedAt+1)
		}
		printOutcome(out, tr, detail)
	}
	for _, tr := range res.Negative {
		printOutcome(out, tr, fmt.Sprintf("top score %.4f", tr.TopScore))
	}
	out.Newline()
	out.Statusf("", "Passed %d of %d, MRR %.3f", res.Passed, res.Total, res.MRR)
}

func printOutcome(out *output.Writer, tr validation.TestResult, detail string) {
	if tr.Error != "" {
		detail = tr.Error
	}
	if tr.Passed {
		out.Successf("%s %q: %s", tr.Spec.ID, tr.Spec.Query, detail)
		return
	}
	out.Errorf("%s %q: %s", tr.Spec.ID, tr.Spec.Query, detail)
}
