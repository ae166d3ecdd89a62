package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/XuanZiK/V-knowledge/internal/embed"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/lifecycle"
	"github.com/XuanZiK/V-knowledge/internal/output"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage embedding and rerank models",
		Long: `Models are addressed by locator:
  ollama://<model>            embedding model served by Ollama
  openai://<model>            OpenAI-compatible embeddings (OPENAI_API_KEY, OPENAI_BASE_URL)
  static://                   offline hash embeddings
  http://host:port#<model>    cross-encoder rerank server`,
	}
	cmd.AddCommand(newModelsListCmd(opts))
	cmd.AddCommand(newModelsAddEmbeddingCmd(opts))
	cmd.AddCommand(newModelsAddRerankCmd(opts))
	cmd.AddCommand(newModelsUseCmd(opts))
	cmd.AddCommand(newModelsPullCmd(opts))
	return cmd
}

func newModelsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered models",
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
			activeEmbed, activeRerank := models.ActiveNames()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "KIND\tNAME\tPATH\tDIM\tACTIVE\tDESCRIPTION")
			for _, m := range models.EmbeddingModels() {
				_, _ = fmt.Fprintf(tw, "embedding\t%s\t%s\t%d\t%s\t%s\n", m.Name, m.Path, m.Dimension, mark(m.Name == activeEmbed), m.Description)
			}
			for _, m := range models.RerankModels() {
				_, _ = fmt.Fprintf(tw, "rerank\t%s\t%s\t-\t%s\t%s\n", m.Name, m.Path, mark(m.Name == activeRerank), m.Description)
			}
			return tw.Flush()
		},
	}
}

func mark(active bool) string {
	if active {
		return "*"
	}
	return ""
}

func newModelsAddEmbeddingCmd(opts *rootOptions) *cobra.Command {
	var dimension int
	var description string

	cmd := &cobra.Command{
		Use:   "add-embedding <name> <locator>",
		Short: "Register an embedding model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.loadEnv()
			if err != nil {
				return err
			}
			models, err := e.models()
			if err != nil {
				return err
			}
			if err := models.AddEmbeddingModel(args[0], args[1], dimension, description); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Added embedding model %s", args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&dimension, "dimension", 0, "Vector dimension produced by the model (required)")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	_ = cmd.MarkFlagRequired("dimension")
	return cmd
}

func newModelsAddRerankCmd(opts *rootOptions) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "add-rerank <name> <url>",
		Short: "Register a rerank model served over HTTP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.loadEnv()
			if err != nil {
				return err
			}
			models, err := e.models()
			if err != nil {
				return err
			}
			if err := models.AddRerankModel(args[0], args[1], description); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Added rerank model %s", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Description")
	return cmd
}

func newModelsUseCmd(opts *rootOptions) *cobra.Command {
	var embedding, rerank string
	var noRerank bool

	cmd := &cobra.Command{
		Use:   "use",
		Short: "Select the active embedding and rerank models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if embedding == "" && rerank == "" && !noRerank {
				return vkberrors.ValidationError("nothing to select", nil).
					WithSuggestion("pass --embedding, --rerank or --no-rerank")
			}
			e, err := opts.loadEnv()
			if err != nil {
				return err
			}
			models, err := e.models()
			if err != nil {
				return err
			}
			if err := models.SetActive(embedding, rerank); err != nil {
				return err
			}
			if noRerank {
				if err := models.ClearActiveRerank(); err != nil {
					return err
				}
			}

			activeEmbed, activeRerank := models.ActiveNames()
			out := output.New(cmd.OutOrStdout())
			if embedding != "" && activeEmbed != embedding {
				return vkberrors.ModelNotFoundError(embedding)
			}
			if rerank != "" && activeRerank != rerank {
				return vkberrors.ModelNotFoundError(rerank)
			}
			out.Successf("Active models: embedding=%s rerank=%s", activeEmbed, orNone(activeRerank))
			return nil
		},
	}
	cmd.Flags().StringVar(&embedding, "embedding", "", "Embedding model name")
	cmd.Flags().StringVar(&rerank, "rerank", "", "Rerank model name")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "Disable reranking")
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func newModelsPullCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull [name]",
		Short: "Download an ollama:// embedding model into Ollama",
		Long: `Pull the named embedding model, or the active one, into the Ollama server
so it is ready before the first ingest. Models Ollama already has are left
alone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.loadEnv()
			if err != nil {
				return err
			}
			models, err := e.models()
			if err != nil {
				return err
			}

			var entry embed.ModelEntry
			if len(args) == 1 {
				entry, err = findEmbedding(models, args[0])
			} else {
				entry, err = models.ActiveEmbedding()
			}
			if err != nil {
				return err
			}
			loc, err := embed.ParseLocator(entry.Path)
			if err != nil {
				return err
			}
			if loc.Scheme != embed.SchemeOllama {
				return vkberrors.ValidationError(fmt.Sprintf("model %s is %s://, only ollama:// models can be pulled", entry.Name, loc.Scheme), nil)
			}

			host := embed.FactoryConfigFromEnv(embed.FactoryConfig{OllamaHost: e.settings.Embedding.OllamaHost}).OllamaHost
			manager := lifecycle.NewOllamaManager(host, e.logger)
			progress := output.NewPullProgress(cmd.ErrOrStderr())
			pulled, err := manager.PullModel(cmd.Context(), loc.Model, func(p lifecycle.PullProgress) {
				progress.Update(p.Status, p.Digest, p.Total, p.Completed)
			})
			progress.Done()
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if !pulled {
				out.Successf("%s is already available on %s", loc.Model, manager.Host())
				return nil
			}
			out.Successf("Pulled %s to %s", loc.Model, manager.Host())
			return nil
		},
	}
}

func findEmbedding(models *embed.ModelRegistry, name string) (embed.ModelEntry, error) {
	for _, m := range models.EmbeddingModels() {
		if m.Name == name {
			return m, nil
		}
	}
	return embed.ModelEntry{}, vkberrors.ModelNotFoundError(name)
}
