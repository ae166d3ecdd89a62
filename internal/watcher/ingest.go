package watcher

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/ingest"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// Submitter starts ingestion jobs. *ingest.Coordinator implements it.
type Submitter interface {
	Start(ctx context.Context, batch ingest.Batch) (*ingest.Job, error)
}

// BatchSource delivers debounced event batches. *FolderWatcher implements it.
type BatchSource interface {
	Batches() <-chan []FileEvent
}

// IngestorOptions configures an Ingestor.
type IngestorOptions struct {
	Collection string
	Logger     *slog.Logger

	// RetryDelay is the wait before resubmitting files when the collection
	// is busy. Default: 1s
	RetryDelay time.Duration

	// OnResult is called after each finished job.
	OnResult func(ingest.Result, error)
}

// Ingestor turns watcher batches into ingestion jobs for one collection.
// Created and modified files are ingested; deletions are ignored.
type Ingestor struct {
	submitter Submitter
	opts      IngestorOptions
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewIngestor creates an ingestor.
func NewIngestor(submitter Submitter, opts IngestorOptions) *Ingestor {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Ingestor{
		submitter: submitter,
		opts:      opts,
		logger:    logging.OrDiscard(opts.Logger),
		pending:   make(map[string]struct{}),
	}
}

// Run consumes batches until ctx is done or the source closes.
func (in *Ingestor) Run(ctx context.Context, source BatchSource) error {
	var retry <-chan time.Time
	batches := source.Batches()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			in.queue(batch)
		case <-retry:
			retry = nil
		}

		if !in.flush(ctx) {
			retry = time.After(in.opts.RetryDelay)
		}
	}
}

func (in *Ingestor) queue(batch []FileEvent) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, ev := range batch {
		if ev.IsDir {
			continue
		}
		switch ev.Operation {
		case OpCreate, OpModify:
			in.pending[ev.Path] = struct{}{}
		case OpDelete, OpRename:
			delete(in.pending, ev.Path)
		}
	}
}

// Pending lists files waiting to be submitted, sorted.
func (in *Ingestor) Pending() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	files := make([]string, 0, len(in.pending))
	for path := range in.pending {
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}

// flush submits pending files and waits for the job. It reports false when
// the collection was busy and the files stay queued.
func (in *Ingestor) flush(ctx context.Context) bool {
	files := in.Pending()
	if len(files) == 0 {
		return true
	}

	job, err := in.submitter.Start(ctx, ingest.Batch{Collection: in.opts.Collection, Files: files})
	if err != nil {
		if vkberrors.GetCode(err) == vkberrors.ErrCodeIngestInProgress {
			in.logger.Info("watch_ingest_deferred",
				slog.String("collection", in.opts.Collection),
				slog.Int("files", len(files)))
			return false
		}
		in.logger.Error("watch_ingest_failed",
			slog.String("collection", in.opts.Collection),
			vkberrors.LogAttr(err))
		in.clear(files)
		return true
	}

	in.clear(files)
	res, err := job.Wait()
	in.logger.Info("watch_ingest_complete",
		slog.String("job_id", job.ID()),
		slog.String("collection", in.opts.Collection),
		slog.Int("succeeded", len(res.Succeeded)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("chunks", res.Chunks))
	if in.opts.OnResult != nil {
		in.opts.OnResult(res, err)
	}
	return true
}

func (in *Ingestor) clear(files []string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, f := range files {
		delete(in.pending, f)
	}
}
