package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"examguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:examguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			uuid TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			cohort_id TEXT,
			task_id TEXT,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			sensitivity TEXT NOT NULL,
			modalities_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_uuid TEXT NOT NULL,
			user_id TEXT,
			event_type TEXT NOT NULL,
			event_subtype TEXT,
			ts TEXT NOT NULL,
			severity TEXT NOT NULL,
			data_json TEXT,
			flagged INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_uuid, ts)`,
		`CREATE TABLE IF NOT EXISTS flags (
			id TEXT PRIMARY KEY,
			session_uuid TEXT NOT NULL,
			flag_type TEXT NOT NULL,
			confidence REAL NOT NULL,
			evidence_json TEXT NOT NULL,
			decision TEXT NOT NULL,
			created_at TEXT NOT NULL,
			manual INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flags_session ON flags(session_uuid)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveSession(ctx context.Context, session model.Session) error {
	if s.db == nil {
		return nil
	}
	var ended any
	if !session.EndedAt.IsZero() {
		ended = session.EndedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (uuid, user_id, cohort_id, task_id, started_at, ended_at, status, sensitivity, modalities_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.UUID,
		session.UserID,
		session.CohortID,
		session.TaskID,
		session.StartedAt.UTC(),
		ended,
		session.Status,
		session.Sensitivity,
		encodeJSON(session.Modalities),
	)
	return err
}

func (s *sqliteStore) UpdateSessionStatus(ctx context.Context, sessionUUID string, status model.SessionStatus, endedAt time.Time) error {
	if s.db == nil {
		return nil
	}
	var ended any
	if !endedAt.IsZero() {
		ended = endedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE uuid = ?`,
		status, ended, sessionUUID)
	return err
}

func (s *sqliteStore) SaveEvent(ctx context.Context, ev model.ProctorEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_uuid, user_id, event_type, event_subtype, ts, severity, data_json, flagged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionUUID,
		ev.UserID,
		ev.Type,
		ev.Subtype,
		ev.Timestamp.UTC(),
		ev.Severity,
		encodeJSON(ev.Data),
		ev.Flagged,
	)
	return err
}

func (s *sqliteStore) SaveEvents(ctx context.Context, events []model.ProctorEvent) error {
	if s.db == nil || len(events) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (session_uuid, user_id, event_type, event_subtype, ts, severity, data_json, flagged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.SessionUUID,
			ev.UserID,
			ev.Type,
			ev.Subtype,
			ev.Timestamp.UTC(),
			ev.Severity,
			encodeJSON(ev.Data),
			ev.Flagged,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveFlag(ctx context.Context, flag model.IntegrityFlag) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO flags (id, session_uuid, flag_type, confidence, evidence_json, decision, created_at, manual)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		flag.ID,
		flag.SessionUUID,
		flag.FlagType,
		flag.Confidence,
		encodeJSON(flag.Evidence),
		flag.Decision,
		flag.CreatedAt.UTC(),
		flag.Manual,
	)
	return err
}

func (s *sqliteStore) UpdateFlagDecision(ctx context.Context, flagID string, decision model.ReviewerDecision) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE flags SET decision = ? WHERE id = ?`, decision, flagID)
	return err
}

func (s *sqliteStore) LoadEvents(ctx context.Context, sessionUUID string) ([]model.ProctorEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_uuid, user_id, event_type, event_subtype, ts, severity, data_json, flagged
		FROM events WHERE session_uuid = ? ORDER BY ts`, sessionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *sqliteStore) LoadFlags(ctx context.Context, sessionUUID string) ([]model.IntegrityFlag, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_uuid, flag_type, confidence, evidence_json, decision, created_at, manual
		FROM flags WHERE session_uuid = ? ORDER BY created_at`, sessionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFlags(rows)
}
