package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// Debouncer coalesces events per path and emits them as one batch once no
// event has arrived for the window. Coalescing rules:
//   - CREATE then MODIFY stays CREATE
//   - CREATE then DELETE drops the path
//   - DELETE then CREATE becomes MODIFY
//   - otherwise the latest operation wins
type Debouncer struct {
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]FileEvent
	first   map[string]Operation
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

// NewDebouncer creates a debouncer.
func NewDebouncer(window time.Duration, logger *slog.Logger) *Debouncer {
	return &Debouncer{
		window:  window,
		logger:  logging.OrDiscard(logger),
		pending: make(map[string]FileEvent),
		first:   make(map[string]Operation),
		output:  make(chan []FileEvent, 10),
	}
}

// Add queues an event and restarts the window.
func (d *Debouncer) Add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if _, ok := d.pending[ev.Path]; !ok {
		d.pending[ev.Path] = ev
		d.first[ev.Path] = ev.Operation
	} else {
		switch first := d.first[ev.Path]; {
		case first == OpCreate && ev.Operation == OpModify:
			// still new
		case first == OpCreate && ev.Operation == OpDelete:
			delete(d.pending, ev.Path)
			delete(d.first, ev.Path)
		case first == OpDelete && ev.Operation == OpCreate:
			ev.Operation = OpModify
			d.pending[ev.Path] = ev
		default:
			d.pending[ev.Path] = ev
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	d.pending = make(map[string]FileEvent)
	d.first = make(map[string]Operation)

	select {
	case d.output <- batch:
	default:
		d.logger.Warn("watch_batch_dropped", slog.Int("batch_size", len(batch)))
	}
}

// Output delivers debounced batches sorted by path.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop discards pending events and closes Output. Safe to call twice.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
