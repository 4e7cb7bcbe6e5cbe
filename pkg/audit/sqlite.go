// SPDX-License-Identifier: Apache-2.0
package audit

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists call audit events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens (or creates) the database at path and returns a
// store over it. The caller owns closing the returned *sql.DB.
func OpenSQLiteStore(path string) (*SQLiteStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, err
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// Record stores a single call event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_audit_events (
			request_id, tool, idempotency_key, status, attempts, duplicate, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.RequestID,
		event.Tool,
		event.IdempotencyKey,
		event.Status,
		event.Attempts,
		event.Duplicate,
		event.Error,
		event.StartedAt.UTC(),
		event.FinishedAt.UTC(),
	)
	return err
}

// List returns call events matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT request_id, tool, idempotency_key, status, attempts, duplicate, error_text, started_at, finished_at
		FROM call_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Tool != "" {
		addFilter("tool = ?", filter.Tool)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY started_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&event.RequestID,
			&event.Tool,
			&event.IdempotencyKey,
			&event.Status,
			&event.Attempts,
			&event.Duplicate,
			&event.Error,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS call_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			idempotency_key TEXT,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			duplicate BOOLEAN NOT NULL DEFAULT 0,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_call_audit_tool ON call_audit_events(tool);
		CREATE INDEX IF NOT EXISTS idx_call_audit_status ON call_audit_events(status);
	`)
	return err
}
