// Package local is the embedded backend: collections and points live in a
// SQLite database under one storage directory. Searches run over an in-memory
// copy of each collection's vectors, through an HNSW graph once the
// collection is large enough and the graph reaches every stored vector.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/XuanZiK/V-knowledge/internal/backend"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

const (
	// DatabaseFileName is the SQLite file inside the storage directory.
	DatabaseFileName = "vectors.db"

	lockFileName = ".lock"

	// DefaultExactSearchThreshold is the largest collection always searched
	// by exhaustive scan. Larger ones try the HNSW graph first.
	DefaultExactSearchThreshold = 1024
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name        TEXT PRIMARY KEY,
	vector_size INTEGER NOT NULL,
	distance    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS points (
	collection TEXT NOT NULL,
	id         INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
`

// Options configures the embedded backend.
type Options struct {
	Logger *slog.Logger

	// ExactSearchThreshold overrides DefaultExactSearchThreshold when > 0.
	ExactSearchThreshold int
}

// Backend is the embedded backend. Only one process may open a storage
// directory at a time.
type Backend struct {
	path   string
	db     *sql.DB
	lock   *flock.Flock
	logger *slog.Logger
	exact  int

	mu      sync.Mutex
	indexes map[string]*vectorIndex
	closed  bool
}

var _ backend.Backend = (*Backend)(nil)

// Open opens or creates the storage directory at path.
func Open(path string, opts Options) (*Backend, error) {
	logger := logging.OrDiscard(opts.Logger)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, vkberrors.BackendUnavailableError(fmt.Sprintf("cannot create storage folder %s", path), err)
	}

	lock := flock.New(filepath.Join(path, lockFileName))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, vkberrors.BackendUnavailableError("failed to lock storage folder", err)
	}
	if !acquired {
		return nil, vkberrors.BackendUnavailableError(
			fmt.Sprintf("storage folder %s is already accessed by another instance", path), nil).
			WithSuggestion("close the other vkb process or switch to server mode")
	}

	db, err := openDB(filepath.Join(path, DatabaseFileName))
	if err != nil {
		_ = lock.Unlock()
		return nil, vkberrors.BackendUnavailableError("failed to open storage database", err)
	}

	exact := opts.ExactSearchThreshold
	if exact <= 0 {
		exact = DefaultExactSearchThreshold
	}

	logger.Debug("local_backend_opened", slog.String("path", path))
	return &Backend{
		path:    path,
		db:      db,
		lock:    lock,
		logger:  logger,
		exact:   exact,
		indexes: make(map[string]*vectorIndex),
	}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN params, so pragmas go through Exec
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

// Path returns the storage directory.
func (b *Backend) Path() string { return b.path }

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return vkberrors.BackendUnavailableError("local backend is closed", nil)
	}
	return nil
}

// ListCollections returns collection names in creation order.
func (b *Backend) ListCollections(ctx context.Context) ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateCollection creates an empty collection.
func (b *Backend) CreateCollection(ctx context.Context, name string, vectorSize int, distance backend.Distance) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if vectorSize <= 0 {
		return vkberrors.ValidationError(fmt.Sprintf("vector size must be positive, got %d", vectorSize), nil)
	}
	if distance == "" {
		distance = backend.Cosine
	}

	res, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, vector_size, distance, created_at) VALUES (?, ?, ?, ?)`,
		name, vectorSize, string(distance), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return vkberrors.AlreadyExistsError(name)
	}
	return nil
}

type collectionRow struct {
	vectorSize int
	distance   string
}

func (b *Backend) collection(ctx context.Context, name string) (collectionRow, error) {
	var row collectionRow
	err := b.db.QueryRowContext(ctx,
		`SELECT vector_size, distance FROM collections WHERE name = ?`, name).
		Scan(&row.vectorSize, &row.distance)
	if err == sql.ErrNoRows {
		return row, vkberrors.CollectionNotFoundError(name)
	}
	if err != nil {
		return row, fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	return row, nil
}

func (b *Backend) count(ctx context.Context, name string) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE collection = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count points in %s: %w", name, err)
	}
	return n, nil
}

// GetCollection reports size and point count. Status is always green.
func (b *Backend) GetCollection(ctx context.Context, name string) (*backend.CollectionInfo, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	row, err := b.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	n, err := b.count(ctx, name)
	if err != nil {
		return nil, err
	}
	return &backend.CollectionInfo{
		Status:      backend.StatusGreen,
		PointsCount: n,
		VectorSize:  row.vectorSize,
		Distance:    backend.Distance(row.distance),
	}, nil
}

// DeleteCollection removes a collection and its points.
func (b *Backend) DeleteCollection(ctx context.Context, name string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return vkberrors.CollectionNotFoundError(name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("failed to delete points of %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	b.invalidate(name)
	return nil
}

// Upsert writes points in one transaction. Vectors must match the
// collection's size.
func (b *Backend) Upsert(ctx context.Context, name string, points []backend.Point) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	row, err := b.collection(ctx, name)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if len(p.Vector) != row.vectorSize {
			return vkberrors.New(vkberrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("point %d has %d dimensions, collection %s expects %d", p.ID, len(p.Vector), name, row.vectorSize), nil)
		}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO points (collection, id, vector, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		payload := p.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload of point %d: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, name, int64(p.ID), encodeVector(p.Vector), string(data)); err != nil {
			return fmt.Errorf("failed to upsert point %d: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	b.invalidate(name)
	return nil
}

// Search scores the collection against vector. Small collections are
// scanned exhaustively; larger ones go through the HNSW graph when it
// passed its reachability check at build time.
func (b *Backend) Search(ctx context.Context, name string, vector []float32, limit int) ([]backend.ScoredPoint, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	row, err := b.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != row.vectorSize {
		return nil, vkberrors.New(vkberrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, collection %s expects %d", len(vector), name, row.vectorSize), nil)
	}
	if limit <= 0 {
		return []backend.ScoredPoint{}, nil
	}

	idx, err := b.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return b.withPayloads(ctx, name, idx.search(vector, limit))
}

func (b *Backend) withPayloads(ctx context.Context, name string, hits []scoredID) ([]backend.ScoredPoint, error) {
	out := make([]backend.ScoredPoint, 0, len(hits))
	for _, h := range hits {
		var raw string
		err := b.db.QueryRowContext(ctx,
			`SELECT payload FROM points WHERE collection = ? AND id = ?`, name, int64(h.id)).Scan(&raw)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read payload of point %d: %w", h.id, err)
		}
		payload := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			b.logger.Warn("local_payload_corrupt", slog.String("collection", name), slog.Uint64("id", h.id))
		}
		out = append(out, backend.ScoredPoint{ID: h.id, Score: h.score, Payload: payload})
	}
	return out, nil
}

// Close releases the database and the storage lock.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.indexes = nil
	b.mu.Unlock()

	var firstErr error
	if _, err := b.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		b.logger.Debug("local_checkpoint_failed", slog.String("error", err.Error()))
	}
	if err := b.db.Close(); err != nil {
		firstErr = err
	}
	if err := b.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to release storage lock: %w", err)
	}
	return firstErr
}
