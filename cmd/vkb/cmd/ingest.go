package cmd

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/ingest"
	"github.com/XuanZiK/V-knowledge/internal/output"
	"github.com/XuanZiK/V-knowledge/internal/scanner"
)

type ingestOptions struct {
	recursive    bool
	include      []string
	exclude      []string
	skipExisting bool
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var flags ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <collection> <path>...",
		Short: "Chunk, embed and store documents in a collection",
		Long: `Ingest files and folders into a collection. Folders are expanded to the
supported documents they contain (txt, pdf, docx); files that fail are
reported and the rest of the batch continues.

Examples:
  vkb ingest manuals guide.pdf notes.txt
  vkb ingest manuals ./docs --recursive --include "**/*.pdf"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts, args[0], args[1:], flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.recursive, "recursive", "r", false, "Descend into subfolders")
	cmd.Flags().StringSliceVar(&flags.include, "include", nil, "Only ingest files matching these globs (repeatable)")
	cmd.Flags().StringSliceVar(&flags.exclude, "exclude", nil, "Skip files and folders matching these globs (repeatable)")
	cmd.Flags().BoolVar(&flags.skipExisting, "skip-existing", false, "Skip files already ingested in this run")
	return cmd
}

func runIngest(cmd *cobra.Command, opts *rootOptions, collection string, paths []string, flags ingestOptions) error {
	ctx := cmd.Context()
	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, ok := a.store.Registry().Get(collection); !ok {
		return vkberrors.CollectionNotFoundError(collection).
			WithSuggestion("create it first with: vkb collection create " + collection)
	}

	files, skipped, err := scanner.New(a.logger).ExpandWithSkipped(ctx, paths, scanner.Options{
		Recursive: flags.recursive,
		Include:   flags.include,
		Exclude:   flags.exclude,
		Supports:  a.chunker.Supports,
	})
	if err != nil {
		return err
	}
	out := output.New(cmd.ErrOrStderr())
	for _, s := range skipped {
		out.Warningf("skipping %s: %s", filepath.Base(s.Path), s.Reason)
	}
	if len(files) == 0 {
		out.Warningf("no supported documents found")
		return nil
	}

	job, err := a.coordinator.Start(ctx, ingest.Batch{Collection: collection, Files: files, SkipExisting: flags.skipExisting})
	if err != nil {
		return err
	}

	reporter := output.NewReporter(cmd.ErrOrStderr())
	for ev := range job.Events() {
		reporter.Handle(ev)
	}
	res, err := job.Wait()
	reporter.Finish(res)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
