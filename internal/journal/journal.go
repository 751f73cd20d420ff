// Package journal keeps a SQLite log of forwarded requests for the stats command.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/model-switch-gateway/internal/core/ports"
)

// Entry is one forwarded request.
type Entry = ports.JournalEntry

// ProviderSummary aggregates the journal for one provider.
type ProviderSummary struct {
	Provider    string
	Requests    int64
	Errors      int64
	AvgDuration time.Duration
	LastSeen    time.Time
}

// Journal is the SQLite-backed request journal.
type Journal struct {
	db *sql.DB
}

var _ ports.RequestJournal = (*Journal)(nil)

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writes arrive from many request goroutines; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			provider TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			upstream_url TEXT NOT NULL,
			model_in TEXT NOT NULL,
			model_out TEXT NOT NULL,
			status INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			error TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_provider ON requests(provider)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at)`,
	}
	for _, stmt := range statements {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts e.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO requests (id, request_id, created_at, provider, method, path,
			upstream_url, model_in, model_out, status, duration_ns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.CreatedAt.UnixNano(), e.Provider, e.Method, e.Path,
		e.UpstreamURL, e.ModelIn, e.ModelOut, e.Status, int64(e.Duration), e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

// Summary returns per-provider totals ordered by provider name. A request
// counts as an error when it failed in the gateway or upstream answered >= 400.
func (j *Journal) Summary(ctx context.Context) ([]ProviderSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT provider,
			COUNT(*),
			SUM(CASE WHEN error != '' OR status >= 400 THEN 1 ELSE 0 END),
			CAST(AVG(duration_ns) AS INTEGER),
			MAX(created_at)
		FROM requests
		GROUP BY provider
		ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var out []ProviderSummary
	for rows.Next() {
		var (
			s        ProviderSummary
			avgNanos int64
			lastNano int64
		)
		if err := rows.Scan(&s.Provider, &s.Requests, &s.Errors, &avgNanos, &lastNano); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		s.AvgDuration = time.Duration(avgNanos)
		s.LastSeen = time.Unix(0, lastNano).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, request_id, created_at, provider, method, path,
			upstream_url, model_in, model_out, status, duration_ns, error
		FROM requests
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent requests: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			created  int64
			duration int64
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &created, &e.Provider, &e.Method, &e.Path,
			&e.UpstreamURL, &e.ModelIn, &e.ModelOut, &e.Status, &duration, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		e.Duration = time.Duration(duration)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
