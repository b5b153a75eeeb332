package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists access events and analytics snapshots.
type SQLiteRecorder struct {
	db   *sql.DB
	mu   sync.Mutex
	keep int
}

var _ Recorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
// keep bounds how many snapshots are retained.
func NewSQLiteRecorder(dbPath string, keep int) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if keep < 1 {
		keep = 1
	}
	r := &SQLiteRecorder{db: db, keep: keep}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS access_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			session_id TEXT,
			ip         TEXT,
			outcome    TEXT NOT NULL,
			detail     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_ts ON access_events(timestamp)`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			fetched_at INTEGER NOT NULL,
			payload    BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(fetched_at)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordAccess(ctx context.Context, evt AccessEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO access_events
		(timestamp, session_id, ip, outcome, detail)
		VALUES (?,?,?,?,?)`,
		at.UnixMilli(), evt.SessionID, evt.IP, evt.Outcome, evt.Detail,
	)
	return err
}

// RecordSnapshot archives a payload and prunes everything beyond the newest
// keep rows.
func (r *SQLiteRecorder) RecordSnapshot(ctx context.Context, snap StoredSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots (fetched_at, payload) VALUES (?,?)`,
		snap.FetchedAt.UnixMilli(), snap.Raw); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id NOT IN
		(SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`, r.keep); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) LatestSnapshot(ctx context.Context) (StoredSnapshot, error) {
	var ms int64
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT fetched_at, payload FROM snapshots ORDER BY id DESC LIMIT 1`).Scan(&ms, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredSnapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return StoredSnapshot{}, err
	}
	return StoredSnapshot{FetchedAt: time.UnixMilli(ms), Raw: raw}, nil
}

// RecentAccess returns up to limit events, newest first.
func (r *SQLiteRecorder) RecentAccess(ctx context.Context, limit int) ([]AccessEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT timestamp, session_id, ip, outcome, detail
		FROM access_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccessEvent
	for rows.Next() {
		var ms int64
		var evt AccessEvent
		if err := rows.Scan(&ms, &evt.SessionID, &evt.IP, &evt.Outcome, &evt.Detail); err != nil {
			return nil, err
		}
		evt.At = time.UnixMilli(ms)
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
