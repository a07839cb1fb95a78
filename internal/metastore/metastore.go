// Package metastore provides the optional DuckDB-backed operation log.
//
// Every handled request is recorded as one row: command, cube, outcome,
// duration, payload size. The log feeds the STATS command and gives
// operators an audit trail of who touched which cube when. The metastore
// is disabled when no database path is configured; the server runs fine
// without it.
package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/TobiasJacob/cube-store/internal/logging"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds metastore configuration options.
type Config struct {
	// Path is the DuckDB database file.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// =============================================================================
// Operation records
// =============================================================================

// Op is one recorded operation.
type Op struct {
	TimestampMs  int64
	Session      string
	Command      string
	Cube         string
	Status       string
	Error        string
	DurationMs   int64
	PayloadBytes int64
}

// CubeStats summarizes the recorded activity of one cube.
type CubeStats struct {
	Cube   string
	Ops    int64
	Errors int64
	LastMs int64
}

// =============================================================================
// Store
// =============================================================================

// Store is the operation log. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	log    *slog.Logger
}

// Open opens the database file and applies the schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping metastore: %w", err)
	}

	s := &Store{db: db, log: logging.Component("metastore")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("metastore open", "path", cfg.Path)
	return s, nil
}

// migrate applies the schema. Idempotent, safe to run on every start.
func (s *Store) migrate() error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "ops",
			sql: `CREATE TABLE IF NOT EXISTS ops (
				timestamp_ms BIGINT NOT NULL,
				session VARCHAR,
				command VARCHAR NOT NULL,
				cube VARCHAR,
				status VARCHAR NOT NULL,
				error VARCHAR,
				duration_ms BIGINT,
				payload_bytes BIGINT
			)`,
		},
		{
			name: "idx_ops_cube",
			sql:  `CREATE INDEX IF NOT EXISTS idx_ops_cube ON ops(cube)`,
		},
		{
			name: "idx_ops_timestamp",
			sql:  `CREATE INDEX IF NOT EXISTS idx_ops_timestamp ON ops(timestamp_ms)`,
		},
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// =============================================================================
// Recording
// =============================================================================

// Record logs one operation. Failures are reported to the caller but are
// expected to be logged and dropped: the operation log must never fail the
// operation it describes.
func (s *Store) Record(op *Op) error {
	if op.TimestampMs == 0 {
		op.TimestampMs = time.Now().UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT INTO ops (timestamp_ms, session, command, cube, status, error, duration_ms, payload_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, op.TimestampMs, op.Session, op.Command, op.Cube, op.Status, op.Error, op.DurationMs, op.PayloadBytes)
	return err
}

// =============================================================================
// Statistics
// =============================================================================

// CommandCounts returns the number of recorded operations per command.
func (s *Store) CommandCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT command, count(*) FROM ops GROUP BY command`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var cmd string
		var n int64
		if err := rows.Scan(&cmd, &n); err != nil {
			return nil, err
		}
		counts[cmd] = n
	}
	return counts, rows.Err()
}

// ErrorCount returns the number of recorded failed operations.
func (s *Store) ErrorCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM ops WHERE status = 'error'`).Scan(&n)
	return n, err
}

// TopCubes returns the most-touched cubes, busiest first.
func (s *Store) TopCubes(ctx context.Context, limit int) ([]CubeStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cube,
		       count(*),
		       count(*) FILTER (WHERE status = 'error'),
		       max(timestamp_ms)
		FROM ops
		WHERE cube <> ''
		GROUP BY cube
		ORDER BY count(*) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CubeStats
	for rows.Next() {
		var cs CubeStats
		if err := rows.Scan(&cs.Cube, &cs.Ops, &cs.Errors, &cs.LastMs); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// PruneBefore drops log rows older than the cutoff. Returns rows removed.
func (s *Store) PruneBefore(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ops WHERE timestamp_ms < ?`, cutoffMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
