package async

import (
	"context"
	"errors"
	"sync"
)

// WorkFunc is the job body. It should return ctx.Err() when cancelled.
type WorkFunc func(ctx context.Context, progress *Progress) error

// Worker runs one WorkFunc in a background goroutine.
type Worker struct {
	progress *Progress
	work     WorkFunc

	cancel context.CancelFunc
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	err     error
}

// NewWorker creates a worker for work. Nothing runs until Start.
func NewWorker(work WorkFunc) *Worker {
	return &Worker{
		progress: NewProgress(),
		work:     work,
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the job's progress tracker.
func (w *Worker) Progress() *Progress {
	return w.progress
}

// Start runs the job in a goroutine. Calling Start twice has no effect.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.cancel()

	err := w.work(ctx, w.progress)

	switch {
	case err == nil && ctx.Err() == nil:
		w.progress.SetReady()
	case errors.Is(err, context.Canceled) || (err == nil && ctx.Err() != nil):
		w.progress.SetCancelled()
		err = context.Canceled
	default:
		w.progress.SetError(err.Error())
	}

	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Cancel asks the job to stop. It does not wait.
func (w *Worker) Cancel() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the job has finished.
func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}

// Wait blocks until the job finishes and returns its error; a cancelled
// job returns context.Canceled.
func (w *Worker) Wait() error {
	<-w.doneCh
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// IsRunning reports whether the job has started and not finished.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-w.doneCh:
		return false
	default:
		return true
	}
}
