package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"examguard/internal/config"
	"examguard/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveSession(ctx context.Context, session model.Session) error
	UpdateSessionStatus(ctx context.Context, sessionUUID string, status model.SessionStatus, endedAt time.Time) error
	SaveEvent(ctx context.Context, ev model.ProctorEvent) error
	SaveEvents(ctx context.Context, events []model.ProctorEvent) error
	SaveFlag(ctx context.Context, flag model.IntegrityFlag) error
	UpdateFlagDecision(ctx context.Context, flagID string, decision model.ReviewerDecision) error
	LoadEvents(ctx context.Context, sessionUUID string) ([]model.ProctorEvent, error)
	LoadFlags(ctx context.Context, sessionUUID string) ([]model.IntegrityFlag, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// scanEvents reads event rows back into ProctorEvents, decoding the payload
// column by event type.
func scanEvents(rows *sql.Rows) ([]model.ProctorEvent, error) {
	out := make([]model.ProctorEvent, 0)
	for rows.Next() {
		var ev model.ProctorEvent
		var data sql.NullString
		if err := rows.Scan(&ev.SessionUUID, &ev.UserID, &ev.Type, &ev.Subtype, &ev.Timestamp, &ev.Severity, &data, &ev.Flagged); err != nil {
			return nil, err
		}
		ev.Timestamp = ev.Timestamp.UTC()
		if data.Valid && data.String != "" && data.String != "null" {
			payload, err := model.DecodePayload(ev.Type, ev.Subtype, []byte(data.String))
			if err == nil {
				ev.Data = payload
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanFlags(rows *sql.Rows) ([]model.IntegrityFlag, error) {
	out := make([]model.IntegrityFlag, 0)
	for rows.Next() {
		var f model.IntegrityFlag
		var evidence string
		if err := rows.Scan(&f.ID, &f.SessionUUID, &f.FlagType, &f.Confidence, &evidence, &f.Decision, &f.CreatedAt, &f.Manual); err != nil {
			return nil, err
		}
		f.CreatedAt = f.CreatedAt.UTC()
		if evidence != "" {
			_ = json.Unmarshal([]byte(evidence), &f.Evidence)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
