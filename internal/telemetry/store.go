package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/XuanZiK/V-knowledge/internal/logging"
)

const (
	// FileName is the telemetry database inside the data directory.
	FileName = "telemetry.db"

	// MaxZeroResultQueries caps the zero-result log; older rows are pruned.
	MaxZeroResultQueries = 100

	dateLayout = "2006-01-02"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_stats (
	date TEXT NOT NULL,
	collection TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	zero_results INTEGER NOT NULL DEFAULT 0,
	reranked INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, collection)
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 1,
	last_seen TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	collection TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);
`

// Store persists query metrics in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// Open opens or creates the telemetry database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &Store{db: db, logger: logging.OrDiscard(logger)}, nil
}

// Record stores one query event in a single transaction.
func (s *Store) Record(ctx context.Context, e QueryEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	date := e.Timestamp.Format(dateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO query_stats (date, collection, count, zero_results, reranked)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(date, collection) DO UPDATE SET
			count = count + 1,
			zero_results = zero_results + excluded.zero_results,
			reranked = reranked + excluded.reranked
	`, date, e.Collection, boolInt(e.IsZeroResult()), boolInt(e.Reranked)); err != nil {
		return fmt.Errorf("insert query stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, 1)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + 1
	`, date, string(LatencyToBucket(e.Latency))); err != nil {
		return fmt.Errorf("insert latency: %w", err)
	}

	for _, term := range ExtractTerms(e.Query) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen) VALUES (?, 1, ?)
			ON CONFLICT(term) DO UPDATE SET count = count + 1, last_seen = excluded.last_seen
		`, term, e.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert term: %w", err)
		}
	}

	if e.IsZeroResult() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zero_result_queries (query, collection, timestamp) VALUES (?, ?, ?)`,
			e.Query, e.Collection, e.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries WHERE id NOT IN (
				SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?
			)`, MaxZeroResultQueries); err != nil {
			return fmt.Errorf("prune zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Stats summarizes the last days days, today included. topN bounds the
// term and zero-result lists.
func (s *Store) Stats(ctx context.Context, days, topN int) (*Stats, error) {
	if days <= 0 {
		days = 7
	}
	if topN <= 0 {
		topN = 10
	}
	now := time.Now()
	st := &Stats{
		From:         now.AddDate(0, 0, -(days - 1)).Format(dateLayout),
		To:           now.Format(dateLayout),
		ByCollection: make(map[string]int64),
		Latency:      make(map[LatencyBucket]int64),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, SUM(count), SUM(zero_results), SUM(reranked)
		FROM query_stats WHERE date >= ? AND date <= ?
		GROUP BY collection
	`, st.From, st.To)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	for rows.Next() {
		var collection string
		var count, zero, reranked int64
		if err := rows.Scan(&collection, &count, &zero, &reranked); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan query stats: %w", err)
		}
		st.ByCollection[collection] = count
		st.Total += count
		st.ZeroResults += zero
		st.Reranked += reranked
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ? GROUP BY bucket
	`, st.From, st.To)
	if err != nil {
		return nil, fmt.Errorf("latency stats: %w", err)
	}
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan latency stats: %w", err)
		}
		st.Latency[LatencyBucket(bucket)] = count
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, topN)
	if err != nil {
		return nil, fmt.Errorf("top terms: %w", err)
	}
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan term: %w", err)
		}
		st.TopTerms = append(st.TopTerms, tc)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT query, collection, timestamp FROM zero_result_queries ORDER BY id DESC LIMIT ?`, topN)
	if err != nil {
		return nil, fmt.Errorf("zero-result queries: %w", err)
	}
	for rows.Next() {
		var z ZeroResultQuery
		if err := rows.Scan(&z.Query, &z.Collection, &z.Timestamp); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan zero-result query: %w", err)
		}
		st.RecentZero = append(st.RecentZero, z)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return st, nil
}

// Reset deletes all recorded metrics.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []string{"query_stats", "query_latency_stats", "query_terms", "zero_result_queries"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	s.logger.Info("telemetry_reset")
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate rows: %w", err)
	}
	return rows.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
