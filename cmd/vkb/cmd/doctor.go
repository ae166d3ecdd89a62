package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/XuanZiK/V-knowledge/internal/backend/connect"
	"github.com/XuanZiK/V-knowledge/internal/embed"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/preflight"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	var verbose, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the data directory, backend and embedding model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.loadEnv()
			if err != nil {
				return err
			}
			models, err := e.models()
			if err != nil {
				return err
			}

			checker := preflight.New(
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
				preflight.WithProbe("backend", true, func(ctx context.Context) (string, error) {
					be, err := connect.Open(ctx, e.settings, e.paths, e.logger)
					if err != nil {
						return "", err
					}
					defer func() { _ = be.Close() }()
					names, err := be.ListCollections(ctx)
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("%s mode, %d collections", e.settings.Qdrant.Mode, len(names)), nil
				}),
				preflight.WithProbe("embedding", false, func(ctx context.Context) (string, error) {
					embedder := embed.NewProvider(models, embed.ProviderOptions{
						Factory: embed.FactoryConfigFromEnv(embed.FactoryConfig{
							OllamaHost: e.settings.Embedding.OllamaHost,
							Timeout:    e.settings.Embedding.Timeout(),
						}),
						Logger: e.logger,
					})
					defer func() { _ = embedder.Close() }()
					vec, err := embedder.Embed(ctx, "vkb preflight")
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("%s (%d dims)", embedder.ModelName(), len(vec)), nil
				}),
			)

			results := checker.RunAll(cmd.Context(), e.paths.DataDir)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return vkberrors.New(vkberrors.ErrCodeBackendUnavailable, "system check failed", nil).
					WithSuggestion("fix the errors above, then run: vkb doctor")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
