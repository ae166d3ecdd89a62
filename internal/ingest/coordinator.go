package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/XuanZiK/V-knowledge/internal/async"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// eventBuffer is the per-job event channel capacity.
const eventBuffer = 64

// seenSet records ingested files per collection. A nil set records nothing.
type seenSet struct {
	mu    sync.Mutex
	files map[string]map[string]bool
}

func newSeenSet() *seenSet {
	return &seenSet{files: make(map[string]map[string]bool)}
}

func (s *seenSet) has(collection, path string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[collection][path]
}

func (s *seenSet) add(collection, path string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[collection] == nil {
		s.files[collection] = make(map[string]bool)
	}
	s.files[collection][path] = true
}

func (s *seenSet) forget(collection string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, collection)
}

// Job is a batch running in the background.
type Job struct {
	id     string
	batch  Batch
	worker *async.Worker
	events chan Event

	mu     sync.Mutex
	result Result
}

// ID is the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Collection is the target collection.
func (j *Job) Collection() string { return j.batch.Collection }

// Events streams pipeline events; it is closed when the job ends.
func (j *Job) Events() <-chan Event { return j.events }

// Cancel stops the job after the current chunk.
func (j *Job) Cancel() { j.worker.Cancel() }

// Done is closed when the job ends.
func (j *Job) Done() <-chan struct{} { return j.worker.Done() }

// Progress returns a snapshot of the job's progress.
func (j *Job) Progress() async.ProgressSnapshot { return j.worker.Progress().Snapshot() }

// Wait drains unread events, waits for the job and returns its result. The
// error is context.Canceled for cancelled jobs.
func (j *Job) Wait() (Result, error) {
	for range j.events {
	}
	err := j.worker.Wait()
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, err
}

// track mirrors events into the job's progress.
func track(p *async.Progress, ev Event) {
	switch ev.Kind {
	case EventFileStarted:
		p.StartFile(ev.File)
	case EventFileProgress:
		p.SetFilePercent(ev.Percent)
	case EventChunkIngested:
		p.SetStage(async.StageEmbedding)
		p.AddChunks(1)
	case EventFileCompleted, EventFileSkipped:
		p.FinishFile(false)
	case EventFileFailed:
		p.FinishFile(true)
	}
}

// Coordinator runs at most one job per collection; jobs for different
// collections run concurrently.
type Coordinator struct {
	pipeline *Pipeline
	logger   *slog.Logger
	seen     *seenSet

	mu     sync.Mutex
	active map[string]*Job
}

// NewCoordinator creates a coordinator around pipeline.
func NewCoordinator(pipeline *Pipeline, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		pipeline: pipeline,
		logger:   logging.OrDiscard(logger),
		seen:     newSeenSet(),
		active:   make(map[string]*Job),
	}
}

// Start launches batch in the background. A collection that already has a
// running job yields ErrIngestInProgress.
func (c *Coordinator) Start(ctx context.Context, batch Batch) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if running, ok := c.active[batch.Collection]; ok {
		return nil, vkberrors.New(vkberrors.ErrCodeIngestInProgress,
			fmt.Sprintf("collection %q is already being ingested", batch.Collection), nil).
			WithDetail("job_id", running.id)
	}

	job := &Job{
		id:     uuid.NewString(),
		batch:  batch,
		events: make(chan Event, eventBuffer),
	}
	job.worker = async.NewWorker(func(ctx context.Context, progress *async.Progress) error {
		defer c.release(batch.Collection, job)
		defer close(job.events)
		progress.SetFilesTotal(len(batch.Files))

		emit := func(ev Event) {
			track(progress, ev)
			select {
			case job.events <- ev:
			case <-ctx.Done():
			}
		}
		res := c.pipeline.run(ctx, batch, emit, c.seen)

		job.mu.Lock()
		job.result = res
		job.mu.Unlock()

		if res.Cancelled {
			return context.Canceled
		}
		if len(res.Failed) > 0 && len(res.Succeeded) == 0 && len(res.Skipped) == 0 {
			return vkberrors.New(vkberrors.ErrCodeIngestFailed,
				fmt.Sprintf("all %d files failed", len(res.Failed)), res.Failed[0].Err)
		}
		return nil
	})
	c.active[batch.Collection] = job

	c.logger.Info("ingest_job_started",
		slog.String("job_id", job.id),
		slog.String("collection", batch.Collection),
		slog.Int("files", len(batch.Files)))

	job.worker.Start(ctx)
	return job, nil
}

func (c *Coordinator) release(collection string, job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[collection] == job {
		delete(c.active, collection)
	}
}

// Active returns the running job for a collection.
func (c *Coordinator) Active(collection string) (*Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.active[collection]
	return job, ok
}

// Running lists collections with a running job, sorted.
func (c *Coordinator) Running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.active))
	for name := range c.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Forget clears the skip-existing memory of a collection, e.g. after it is
// deleted.
func (c *Coordinator) Forget(collection string) {
	c.seen.forget(collection)
}

// CancelAll cancels every running job and waits for them to end.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	jobs := make([]*Job, 0, len(c.active))
	for _, job := range c.active {
		jobs = append(jobs, job)
	}
	c.mu.Unlock()

	for _, job := range jobs {
		job.Cancel()
	}
	for _, job := range jobs {
		_, _ = job.Wait()
	}
}
