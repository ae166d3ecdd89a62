// Package ingest turns batches of files into stored chunks: chunk each file,
// embed and upsert chunk by chunk, and report progress as events.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/XuanZiK/V-knowledge/internal/chunk"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// Chunker splits a file into chunks.
type Chunker interface {
	Process(ctx context.Context, path string, onProgress chunk.ProgressFunc) ([]chunk.Chunk, error)
}

// Store receives chunks.
type Store interface {
	AddTexts(ctx context.Context, collection string, chunks []chunk.Chunk, isFirstChunkOfDocument bool) error
}

// Batch is one ingestion request.
type Batch struct {
	Collection string
	Files      []string

	// SkipExisting skips files already ingested into the collection by the
	// same Coordinator.
	SkipExisting bool
}

// FileError is a file that could not be ingested.
type FileError struct {
	Path string
	Err  error
}

// Result summarizes a batch.
type Result struct {
	Collection string
	Files      int
	Succeeded  []string
	Skipped    []string
	Failed     []FileError
	Chunks     int
	Cancelled  bool
}

// Pipeline ingests batches synchronously. Use a Coordinator to run batches
// in the background.
type Pipeline struct {
	chunker Chunker
	store   Store
	logger  *slog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(chunker Chunker, store Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{chunker: chunker, store: store, logger: logging.OrDiscard(logger)}
}

// Run ingests batch, sending events to events when it is non-nil. Sends
// block until received or ctx is done.
func (p *Pipeline) Run(ctx context.Context, batch Batch, events chan<- Event) Result {
	emit := func(Event) {}
	if events != nil {
		emit = func(ev Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
	}
	return p.run(ctx, batch, emit, nil)
}

func (p *Pipeline) run(ctx context.Context, batch Batch, emit emitter, seen *seenSet) Result {
	res := Result{Collection: batch.Collection, Files: len(batch.Files)}
	if batch.Collection == "" {
		err := vkberrors.ValidationError("ingestion needs a collection", nil)
		emit(Event{Kind: EventError, Err: err})
		res.Failed = append(res.Failed, FileError{Err: err})
		return res
	}

	total := len(batch.Files)
	p.logger.Info("ingest_started",
		slog.String("collection", batch.Collection),
		slog.Int("files", total))

	for i, path := range batch.Files {
		if ctx.Err() != nil {
			return p.cancelled(res)
		}

		key := absPath(path)
		if batch.SkipExisting && seen.has(batch.Collection, key) {
			res.Skipped = append(res.Skipped, path)
			emit(Event{Kind: EventFileSkipped, File: path, Index: i, Total: total})
			continue
		}

		emit(Event{Kind: EventFileStarted, File: path, Index: i, Total: total, Percent: i * 100 / total})

		chunks, err := p.chunker.Process(ctx, path, func(pct int) {
			emit(Event{Kind: EventFileProgress, File: path, Index: i, Total: total, Percent: pct})
		})
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelled(res)
			}
			res.Failed = append(res.Failed, p.fail(emit, path, i, total, err))
			continue
		}

		failed := false
		for j, c := range chunks {
			if ctx.Err() != nil {
				return p.cancelled(res)
			}
			if err := p.store.AddTexts(ctx, batch.Collection, []chunk.Chunk{c}, j == 0); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					return p.cancelled(res)
				}
				res.Failed = append(res.Failed, p.fail(emit, path, i, total, err))
				failed = true
				break
			}
			res.Chunks++
			emit(Event{Kind: EventChunkIngested, File: path, Index: j, Total: len(chunks)})
		}
		if failed {
			continue
		}

		res.Succeeded = append(res.Succeeded, path)
		seen.add(batch.Collection, key)
		emit(Event{Kind: EventFileCompleted, File: path, Index: i, Total: total, Percent: (i + 1) * 100 / total})
		p.logger.Debug("ingest_file_done", slog.String("file", path), slog.Int("chunks", len(chunks)))
	}

	emit(Event{Kind: EventFinished, Index: total, Total: total, Percent: 100})
	p.logger.Info("ingest_finished",
		slog.String("collection", batch.Collection),
		slog.Int("succeeded", len(res.Succeeded)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("chunks", res.Chunks))
	return res
}

func (p *Pipeline) fail(emit emitter, path string, index, total int, err error) FileError {
	p.logger.Error("ingest_file_failed",
		slog.String("file", path),
		vkberrors.LogAttr(err))
	emit(Event{Kind: EventFileFailed, File: path, Index: index, Total: total, Err: err})
	return FileError{Path: path, Err: err}
}

func (p *Pipeline) cancelled(res Result) Result {
	res.Cancelled = true
	p.logger.Info("ingest_cancelled",
		slog.String("collection", res.Collection),
		slog.Int("chunks", res.Chunks))
	return res
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
