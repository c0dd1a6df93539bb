package out

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"twirlhost/internal/modules/compiler/domain"
	compilerout "twirlhost/internal/modules/compiler/port/out"

	_ "modernc.org/sqlite"
)

// Fixed-width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteLedger records every compile invocation.
type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Batch compiles record from many goroutines; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	ledger := &SQLiteLedger{db: db}
	if err := ledger.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

var _ compilerout.Ledger = (*SQLiteLedger)(nil)

func (s *SQLiteLedger) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS compilations (
  id TEXT PRIMARY KEY,
  version TEXT NOT NULL,
  coordinate TEXT NOT NULL,
  source_file TEXT NOT NULL,
  output TEXT,
  format TEXT,
  imports TEXT,
  status TEXT NOT NULL,
  error TEXT,
  started_at TEXT NOT NULL,
  duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS compilations_started_at ON compilations (started_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create compilations table: %w", err)
	}
	return nil
}

func (s *SQLiteLedger) Record(ctx context.Context, entry domain.LedgerEntry) error {
	const stmt = `
INSERT INTO compilations (id, version, coordinate, source_file, output, format, imports, status, error, started_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  output=excluded.output,
  status=excluded.status,
  error=excluded.error,
  duration_ms=excluded.duration_ms;
`
	_, err := s.db.ExecContext(ctx, stmt,
		entry.ID,
		entry.Version,
		entry.Coordinate,
		entry.SourceFile,
		entry.Output,
		entry.Format,
		entry.Imports,
		string(entry.Status),
		entry.Error,
		entry.StartedAt.UTC().Format(timeLayout),
		entry.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record compilation: %w", err)
	}
	return nil
}

// List returns the newest entries first.
func (s *SQLiteLedger) List(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, version, coordinate, source_file, output, format, imports, status, error, started_at, duration_ms
FROM compilations
ORDER BY started_at DESC, id
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query compilations: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			entry      domain.LedgerEntry
			status     string
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(&entry.ID, &entry.Version, &entry.Coordinate, &entry.SourceFile, &entry.Output,
			&entry.Format, &entry.Imports, &status, &entry.Error, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan compilation: %w", err)
		}
		entry.Status = domain.LedgerStatus(status)
		entry.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
		}
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compilations: %w", err)
	}
	return out, nil
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
