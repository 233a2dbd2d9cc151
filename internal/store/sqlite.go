package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/stats"
	_ "modernc.org/sqlite" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// SQLiteStore persists stats samples in SQLite.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	insertStmt *sql.Stmt
	queryStmt  *sql.Stmt
	pruneStmt  *sql.Stmt
}

var _ stats.Sink = (*SQLiteStore)(nil)

// Open opens or creates the database at cfg.Path.
func Open(cfg *Config) (*SQLiteStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	dsn := cfg.Path
	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		busy := cfg.BusyTimeout.Duration()
		if busy <= 0 {
			busy = 5 * time.Second
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
			cfg.Path, busy.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer; one connection also keeps an
	// in-memory database alive and shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: cfg.Path}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS system_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cpu REAL NOT NULL,
		ram REAL NOT NULL,
		total_memory INTEGER NOT NULL DEFAULT 0,
		free_memory INTEGER NOT NULL DEFAULT 0,
		uptime INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_system_metrics_timestamp ON system_metrics(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO system_metrics (cpu, ram, total_memory, free_memory, uptime, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.queryStmt, err = s.db.Prepare(`
		SELECT cpu, ram, total_memory, free_memory, uptime, timestamp
		FROM system_metrics
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare query statement: %w", err)
	}

	s.pruneStmt, err = s.db.Prepare(`
		DELETE FROM system_metrics
		WHERE timestamp < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	return nil
}

// Insert implements stats.Sink.
func (s *SQLiteStore) Insert(ctx context.Context, sample stats.Sample) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	ts := sample.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.insertStmt.ExecContext(ctx,
		sample.CPUPercent,
		sample.MemoryPercent,
		int64(sample.TotalMemoryBytes),
		int64(sample.FreeMemoryBytes),
		int64(sample.UptimeSeconds),
		ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// Query implements stats.Sink. It returns up to limit samples, newest
// first.
func (s *SQLiteStore) Query(ctx context.Context, limit int) ([]stats.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = stats.DefaultHistoryLimit
	}

	rows, err := s.queryStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	samples := make([]stats.Sample, 0, limit)
	for rows.Next() {
		var (
			sample                     stats.Sample
			total, free, uptime, tsMil int64
		)
		if err := rows.Scan(&sample.CPUPercent, &sample.MemoryPercent, &total, &free, &uptime, &tsMil); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		sample.TotalMemoryBytes = uint64(total)
		sample.FreeMemoryBytes = uint64(free)
		if total >= free {
			sample.UsedMemoryBytes = uint64(total - free)
		}
		sample.UptimeSeconds = uint64(uptime)
		sample.Timestamp = time.UnixMilli(tsMil).UTC()
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate samples: %w", err)
	}
	return samples, nil
}

// Prune deletes samples older than cutoff and returns how many were
// removed.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	res, err := s.pruneStmt.ExecContext(ctx, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned samples: %w", err)
	}
	return n, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true

		for _, stmt := range []*sql.Stmt{s.insertStmt, s.queryStmt, s.pruneStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}
