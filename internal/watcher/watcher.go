// Package watcher watches a folder for new or changed documents and feeds
// them to ingestion in debounced batches. fsnotify is the primary mechanism;
// polling is the fallback where fsnotify cannot start.
package watcher

import (
	"log/slog"
	"time"
)

// Operation is a file system change.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change. Path is absolute.
type FileEvent struct {
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a FolderWatcher.
type Options struct {
	// DebounceWindow is how long a folder must be quiet before a batch is
	// emitted. Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the scan interval of the polling fallback. Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the batch channel capacity. Default: 100
	EventBufferSize int

	// Recursive watches subdirectories too.
	Recursive bool

	// Filter keeps only files it returns true for. Directories always pass.
	Filter func(path string) bool

	// ForcePolling skips fsnotify.
	ForcePolling bool

	Logger *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 100,
		Recursive:       true,
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}
