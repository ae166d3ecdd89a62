package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/XuanZiK/V-knowledge/internal/logging"
)

type fileState struct {
	modTime time.Time
	size    int64
}

// PollingWatcher detects changes by rescanning the folder every PollInterval.
type PollingWatcher struct {
	opts   Options
	logger *slog.Logger

	events chan FileEvent

	mu       sync.Mutex
	snapshot map[string]fileState
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewPollingWatcher creates a polling watcher.
func NewPollingWatcher(opts Options) *PollingWatcher {
	opts = opts.WithDefaults()
	return &PollingWatcher{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger),
		events: make(chan FileEvent, opts.EventBufferSize),
		done:   make(chan struct{}),
	}
}

// Start takes the baseline snapshot and begins polling root.
func (p *PollingWatcher) Start(ctx context.Context, root string) error {
	p.mu.Lock()
	p.snapshot = p.scan(root)
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-ticker.C:
				p.poll(root)
			}
		}
	}()
	return nil
}

func (p *PollingWatcher) poll(root string) {
	current := p.scan(root)

	p.mu.Lock()
	previous := p.snapshot
	p.snapshot = current
	p.mu.Unlock()

	now := time.Now()
	for path, st := range current {
		old, ok := previous[path]
		switch {
		case !ok:
			p.send(FileEvent{Path: path, Operation: OpCreate, Timestamp: now})
		case !old.modTime.Equal(st.modTime) || old.size != st.size:
			p.send(FileEvent{Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			p.send(FileEvent{Path: path, Operation: OpDelete, Timestamp: now})
		}
	}
}

func (p *PollingWatcher) scan(root string) map[string]fileState {
	out := make(map[string]fileState)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if skipDir(d.Name()) || !p.opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out[path] = fileState{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return out
}

func (p *PollingWatcher) send(ev FileEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	default:
		p.logger.Warn("poll_event_dropped", slog.String("path", ev.Path))
	}
}

// Events delivers raw, undebounced events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Stop stops polling.
func (p *PollingWatcher) Stop() error {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
	return nil
}
