// Package cmd provides the vkb CLI commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/XuanZiK/V-knowledge/internal/logging"
	"github.com/XuanZiK/V-knowledge/internal/profiling"
	"github.com/XuanZiK/V-knowledge/pkg/version"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	dataDir      string
	settingsPath string
	debug        bool
	profile      profiling.Options

	logger         *slog.Logger
	loggingCleanup func()
	profiler       *profiling.Profiler
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{logger: logging.Discard()})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vkb",
		Short: "Local knowledge base: ingest documents, search them by meaning",
		Long: `vkb splits documents (txt, pdf, docx) into chunks, embeds them and stores
them in collections on an embedded vector store or a Qdrant server.
Collections can then be searched semantically, optionally with reranking.

Examples:
  vkb collection create manuals
  vkb ingest manuals ./docs --recursive
  vkb search "how do I reset the device" --rerank`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.start,
		PersistentPostRun: func(*cobra.Command, []string) { opts.finish() },
	}
	cmd.SetVersionTemplate("vkb version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Data directory (default: ./data/qdrant or ~/qdrant_knowledge_base/data)")
	cmd.PersistentFlags().StringVar(&opts.settingsPath, "settings", "", "Settings file (JSON or YAML)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Debug logging to stderr and the log file")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "cpu-profile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "heap-profile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "trace", "", "Write an execution trace to this file")
	for _, name := range []string{"cpu-profile", "heap-profile", "trace"} {
		_ = cmd.PersistentFlags().MarkHidden(name)
	}

	cmd.AddCommand(newCollectionCmd(opts))
	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newModelsCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newEvalCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (o *rootOptions) start(cmd *cobra.Command, args []string) error {
	if err := o.startLogging(cmd, args); err != nil {
		return err
	}
	if !o.profile.Enabled() {
		return nil
	}
	p, err := profiling.Start(o.profile)
	if err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}
	o.profiler = p
	return nil
}

// finish flushes profiles and closes the log file. It runs after the command
// and again from Execute so failed commands are covered.
func (o *rootOptions) finish() {
	if err := o.profiler.Stop(); err != nil {
		o.logger.Warn("profile_write_failed", slog.String("error", err.Error()))
	}
	o.stopLogging()
}

func (o *rootOptions) startLogging(cmd *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if o.debug {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	o.logger, o.loggingCleanup = logger, cleanup
	o.logger.Debug("command_started", slog.String("command", cmd.CommandPath()))
	return nil
}

func (o *rootOptions) stopLogging() {
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}

// Execute runs the root command with ctx, which is cancelled on interrupt.
func Execute(ctx context.Context) error {
	opts := &rootOptions{logger: logging.Discard()}
	defer opts.finish()
	return newRootCmd(opts).ExecuteContext(ctx)
}
