package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// FolderWatcher watches one root folder. It uses fsnotify when it can and
// falls back to polling otherwise.
type FolderWatcher struct {
	opts   Options
	logger *slog.Logger

	fsw       *fsnotify.Watcher
	poller    *PollingWatcher
	debouncer *Debouncer

	errors chan error

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFolderWatcher creates a watcher; Start begins watching.
func NewFolderWatcher(opts Options) *FolderWatcher {
	opts = opts.WithDefaults()
	logger := logging.OrDiscard(opts.Logger)
	return &FolderWatcher{
		opts:      opts,
		logger:    logger,
		debouncer: NewDebouncer(opts.DebounceWindow, logger),
		errors:    make(chan error, 10),
	}
}

// Start begins watching root. It returns once watching is set up.
func (w *FolderWatcher) Start(ctx context.Context, root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return vkberrors.InternalError("watcher is stopped", nil)
	}
	if w.started {
		return vkberrors.InternalError("watcher already started", nil)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return vkberrors.ValidationError(fmt.Sprintf("invalid folder %q", root), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return vkberrors.NotFoundError(abs, err)
	}
	if !info.IsDir() {
		return vkberrors.ValidationError(fmt.Sprintf("%s is not a directory", abs), nil)
	}

	ctx, w.cancel = context.WithCancel(ctx)

	if !w.opts.ForcePolling {
		err := w.startNotify(ctx, abs)
		if err == nil {
			w.started = true
			w.logger.Info("watch_started", slog.String("root", abs), slog.String("mode", "fsnotify"))
			return nil
		}
		w.logger.Warn("fsnotify_unavailable", slog.String("root", abs), slog.String("error", err.Error()))
	}

	w.poller = NewPollingWatcher(w.opts)
	if err := w.poller.Start(ctx, abs); err != nil {
		w.cancel()
		return err
	}
	w.wg.Add(1)
	go w.forwardPolled(ctx)
	w.started = true
	w.logger.Info("watch_started", slog.String("root", abs), slog.String("mode", "polling"))
	return nil
}

func (w *FolderWatcher) startNotify(ctx context.Context, root string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.addDirs(fsw, root); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw
	w.wg.Add(1)
	go w.readNotify(ctx)
	return nil
}

// addDirs registers root, and its subdirectories when recursive.
func (w *FolderWatcher) addDirs(fsw *fsnotify.Watcher, root string) error {
	if !w.opts.Recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("watch_add_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

func (w *FolderWatcher) readNotify(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleNotify(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

func (w *FolderWatcher) handleNotify(ev fsnotify.Event) {
	op, ok := convertOp(ev.Op)
	if !ok {
		return
	}

	isDir := false
	if op != OpDelete && op != OpRename {
		if info, err := os.Stat(ev.Name); err == nil {
			isDir = info.IsDir()
		}
	}

	if isDir {
		if skipDir(filepath.Base(ev.Name)) {
			return
		}
		if op == OpCreate && w.opts.Recursive {
			if err := w.addDirs(w.fsw, ev.Name); err != nil {
				w.reportError(err)
			}
			// Files created before the directory was added would be missed.
			w.emitExisting(ev.Name)
		}
		return
	}
	if !w.accept(ev.Name) {
		return
	}
	w.debouncer.Add(FileEvent{Path: ev.Name, Operation: op, Timestamp: time.Now()})
}

func (w *FolderWatcher) emitExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.accept(path) {
			w.debouncer.Add(FileEvent{Path: path, Operation: OpCreate, Timestamp: time.Now()})
		}
		return nil
	})
}

func (w *FolderWatcher) forwardPolled(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.poller.Events():
			if !ok {
				return
			}
			if ev.IsDir || !w.accept(ev.Path) {
				continue
			}
			w.debouncer.Add(ev)
		}
	}
}

func (w *FolderWatcher) accept(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return w.opts.Filter == nil || w.opts.Filter(path)
}

func (w *FolderWatcher) reportError(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watch_error_dropped", slog.String("error", err.Error()))
	}
}

// Batches delivers debounced, path-sorted event batches.
func (w *FolderWatcher) Batches() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors delivers non-fatal watch errors. It is closed by Stop.
func (w *FolderWatcher) Errors() <-chan error {
	return w.errors
}

// Stop stops watching and closes Batches. Safe to call twice.
func (w *FolderWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	var errs []error
	if w.fsw != nil {
		errs = append(errs, w.fsw.Close())
	}
	if w.poller != nil {
		errs = append(errs, w.poller.Stop())
	}
	w.wg.Wait()
	close(w.errors)
	w.debouncer.Stop()
	return errors.Join(errs...)
}

func convertOp(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpModify, true
	case op.Has(fsnotify.Remove):
		return OpDelete, true
	case op.Has(fsnotify.Rename):
		return OpRename, true
	default:
		return 0, false
	}
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "__pycache__"
}
