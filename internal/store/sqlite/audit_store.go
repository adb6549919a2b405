package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// AuditStore implements domain.AuditStore on SQLite.
type AuditStore struct {
	db *sqlx.DB
}

// NewAuditStore creates an AuditStore on db.
func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log appends an audit entry with detail stored as JSON text.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), toMicros(time.Now()))
	return wrapErr(fmt.Sprintf("sqlite: log audit event %s", event), err)
}

// List returns audit entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	var rows []struct {
		ID        int64          `db:"id"`
		Event     string         `db:"event"`
		Detail    sql.NullString `db:"detail"`
		CreatedAt int64          `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, event, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, opts.Offset)
	if err != nil {
		return nil, wrapErr("sqlite: list audit entries", err)
	}

	out := make([]domain.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := domain.AuditEntry{ID: r.ID, Event: r.Event, CreatedAt: fromMicros(r.CreatedAt)}
		if r.Detail.Valid {
			if err := json.Unmarshal([]byte(r.Detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
