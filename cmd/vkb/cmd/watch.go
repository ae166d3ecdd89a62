package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/ingest"
	"github.com/XuanZiK/V-knowledge/internal/output"
	"github.com/XuanZiK/V-knowledge/internal/watcher"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var recursive, polling bool

	cmd := &cobra.Command{
		Use:   "watch <collection> <dir>",
		Short: "Ingest new and changed documents in a folder as they appear",
		Long: `Watch a folder and ingest supported documents that are created or
modified. Changes are batched after 500ms of quiet. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args[0], args[1], recursive, polling)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Watch subfolders too")
	cmd.Flags().BoolVar(&polling, "polling", false, "Poll instead of using file system notifications")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *rootOptions, collection, dir string, recursive, polling bool) error {
	ctx := cmd.Context()
	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, ok := a.store.Registry().Get(collection); !ok {
		return vkberrors.CollectionNotFoundError(collection)
	}

	w := watcher.NewFolderWatcher(watcher.Options{
		Recursive:    recursive,
		ForcePolling: polling,
		Filter:       a.chunker.Supports,
		Logger:       a.logger,
	})
	if err := w.Start(ctx, dir); err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	out := output.New(cmd.ErrOrStderr())
	out.Successf("Watching %s for collection %s (Ctrl-C to stop)", dir, collection)

	go func() {
		for err := range w.Errors() {
			a.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}()

	in := watcher.NewIngestor(a.coordinator, watcher.IngestorOptions{
		Collection: collection,
		Logger:     a.logger,
		OnResult: func(res ingest.Result, _ error) {
			out.Status("", output.Summary(res))
			for _, f := range res.Failed {
				out.Errorf("%s: %v", f.Path, f.Err)
			}
		},
	})
	if err := in.Run(ctx, w); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
