package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"examguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/examguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			uuid TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			cohort_id TEXT,
			task_id TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			sensitivity TEXT NOT NULL,
			modalities_json JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			session_uuid TEXT NOT NULL,
			user_id TEXT,
			event_type TEXT NOT NULL,
			event_subtype TEXT,
			ts TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			data_json JSONB,
			flagged BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_uuid, ts)`,
		`CREATE TABLE IF NOT EXISTS flags (
			id TEXT PRIMARY KEY,
			session_uuid TEXT NOT NULL,
			flag_type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			evidence_json JSONB NOT NULL,
			decision TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			manual BOOLEAN NOT NULL
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

func (s *postgresStore) SaveSession(ctx context.Context, session model.Session) error {
	if s.db == nil {
		return nil
	}
	var ended any
	if !session.EndedAt.IsZero() {
		ended = session.EndedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (uuid, user_id, cohort_id, task_id, started_at, ended_at, status, sensitivity, modalities_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (uuid) DO UPDATE SET status = EXCLUDED.status, ended_at = EXCLUDED.ended_at`,
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

func (s *postgresStore) UpdateSessionStatus(ctx context.Context, sessionUUID string, status model.SessionStatus, endedAt time.Time) error {
	if s.db == nil {
		return nil
	}
	var ended any
	if !endedAt.IsZero() {
		ended = endedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = $1, ended_at = $2 WHERE uuid = $3`,
		status, ended, sessionUUID)
	return err
}

func (s *postgresStore) SaveEvent(ctx context.Context, ev model.ProctorEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_uuid, user_id, event_type, event_subtype, ts, severity, data_json, flagged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
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

func (s *postgresStore) SaveEvents(ctx context.Context, events []model.ProctorEvent) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
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

func (s *postgresStore) SaveFlag(ctx context.Context, flag model.IntegrityFlag) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (id, session_uuid, flag_type, confidence, evidence_json, decision, created_at, manual)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET decision = EXCLUDED.decision`,
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

func (s *postgresStore) UpdateFlagDecision(ctx context.Context, flagID string, decision model.ReviewerDecision) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE flags SET decision = $1 WHERE id = $2`, decision, flagID)
	return err
}

func (s *postgresStore) LoadEvents(ctx context.Context, sessionUUID string) ([]model.ProctorEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_uuid, user_id, event_type, event_subtype, ts, severity, data_json, flagged
		FROM events WHERE session_uuid = $1 ORDER BY ts`, sessionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *postgresStore) LoadFlags(ctx context.Context, sessionUUID string) ([]model.IntegrityFlag, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_uuid, flag_type, confidence, evidence_json, decision, created_at, manual
		FROM flags WHERE session_uuid = $1 ORDER BY created_at`, sessionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFlags(rows)
}
