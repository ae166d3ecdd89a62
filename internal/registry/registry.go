// Package registry keeps the collection registry (kb_config.json): per
// collection creation time, document count and vector size. The vector
// backend is authoritative for which collections exist; Reconcile brings the
// registry back in line with it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/XuanZiK/V-knowledge/internal/config"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// TimeLayout formats created_at.
const TimeLayout = "2006-01-02 15:04:05"

// lookupConcurrency bounds parallel backend lookups during Reconcile.
const lookupConcurrency = 4

// Entry is one collection's registry record.
type Entry struct {
	CreatedAt  string `json:"created_at"`
	DocCount   int    `json:"doc_count"`
	VectorSize int    `json:"vector_size"`
}

// Config is the registry file contents.
type Config struct {
	Collections map[string]Entry `json:"collections"`
}

// LookupFunc reports a backend collection's point count and vector size.
type LookupFunc func(ctx context.Context, name string) (pointCount, vectorSize int, err error)

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source for created_at.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = logging.OrDiscard(l) }
}

// Registry is the in-memory view of kb_config.json. All methods are safe for
// concurrent use; every mutation is persisted before it returns.
type Registry struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	cfg Config
}

// New creates a registry bound to path. Call Load to read it.
func New(path string, opts ...Option) *Registry {
	r := &Registry{
		path:   path,
		logger: logging.Discard(),
		now:    time.Now,
		cfg:    Config{Collections: map[string]Entry{}},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the registry file path.
func (r *Registry) Path() string { return r.path }

// Load reads the registry file. A missing, unreadable or corrupt file yields
// an empty registry, which is written back; Load never fails on content.
func (r *Registry) Load() Config {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := r.read()
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("registry_unreadable",
				slog.String("path", r.path),
				slog.String("error", err.Error()))
		}
		cfg = Config{Collections: map[string]Entry{}}
		if err := r.writeLocked(cfg); err != nil {
			r.logger.Error("registry_write_failed", slog.String("path", r.path), slog.String("error", err.Error()))
		}
	}
	r.cfg = cfg
	return r.snapshotLocked()
}

func (r *Registry) read() (Config, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", r.path, err)
	}
	if cfg.Collections == nil {
		cfg.Collections = map[string]Entry{}
	}
	return cfg, nil
}

// Save replaces the registry contents and persists them.
func (r *Registry) Save(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := Config{Collections: make(map[string]Entry, len(cfg.Collections))}
	for name, e := range cfg.Collections {
		next.Collections[name] = e
	}
	if err := r.writeLocked(next); err != nil {
		return err
	}
	r.cfg = next
	return nil
}

// writeLocked writes cfg with sorted keys and two-space indentation.
func (r *Registry) writeLocked(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return vkberrors.InternalError("marshal collection registry", err)
	}
	if err := config.WriteFileAtomic(r.path, append(data, '\n'), 0o644); err != nil {
		return vkberrors.New(vkberrors.ErrCodeFilePermission, "write collection registry", err).
			WithDetail("path", r.path)
	}
	return nil
}

func (r *Registry) snapshotLocked() Config {
	out := Config{Collections: make(map[string]Entry, len(r.cfg.Collections))}
	for name, e := range r.cfg.Collections {
		out.Collections[name] = e
	}
	return out
}

// Snapshot returns a copy of the current contents.
func (r *Registry) Snapshot() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Reconcile drops entries the backend no longer has and adopts backend
// collections the registry does not know, then persists. Adopted entries
// take doc_count from the backend point count. A failed lookup skips that
// collection. Running it twice against the same backend leaves the file
// byte-identical.
func (r *Registry) Reconcile(ctx context.Context, backendNames []string, lookup LookupFunc) error {
	present := make(map[string]bool, len(backendNames))
	for _, name := range backendNames {
		present[name] = true
	}

	r.mu.Lock()
	for name := range r.cfg.Collections {
		if !present[name] {
			r.logger.Warn("registry_stale_collection_removed", slog.String("collection", name))
			delete(r.cfg.Collections, name)
		}
	}
	var missing []string
	for _, name := range backendNames {
		if _, ok := r.cfg.Collections[name]; !ok {
			missing = append(missing, name)
		}
	}
	r.mu.Unlock()

	adopted := make([]*Entry, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, name := range missing {
		g.Go(func() error {
			points, size, err := lookup(gctx, name)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.logger.Warn("registry_adopt_failed",
					slog.String("collection", name),
					vkberrors.LogAttr(err))
				return nil
			}
			adopted[i] = &Entry{DocCount: points, VectorSize: size}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	createdAt := r.now().Format(TimeLayout)
	for i, name := range missing {
		if adopted[i] == nil {
			continue
		}
		if _, ok := r.cfg.Collections[name]; ok {
			continue
		}
		e := *adopted[i]
		e.CreatedAt = createdAt
		r.cfg.Collections[name] = e
		r.logger.Info("registry_collection_adopted",
			slog.String("collection", name),
			slog.Int("doc_count", e.DocCount))
	}
	return r.writeLocked(r.cfg)
}

// Register records a new collection with doc_count 0, replacing any entry
// of the same name.
func (r *Registry) Register(name string, vectorSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Collections[name] = Entry{
		CreatedAt:  r.now().Format(TimeLayout),
		DocCount:   0,
		VectorSize: vectorSize,
	}
	return r.writeLocked(r.cfg)
}

// Remove deletes a collection's entry. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cfg.Collections[name]; !ok {
		return nil
	}
	delete(r.cfg.Collections, name)
	return r.writeLocked(r.cfg)
}

// IncrementDocCount adds one document to a registered collection and
// reports whether the collection was registered.
func (r *Registry) IncrementDocCount(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cfg.Collections[name]
	if !ok {
		return false, nil
	}
	e.DocCount++
	r.cfg.Collections[name] = e
	return true, r.writeLocked(r.cfg)
}

// Get returns a collection's entry.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cfg.Collections[name]
	return e, ok
}

// Names returns registered collection names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.cfg.Collections))
	for name := range r.cfg.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
