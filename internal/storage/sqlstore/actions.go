package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	st "server-warden/internal/storagetypes"
)

func (s *Store) LoadActiveDeferredActions(ctx context.Context) ([]st.DeferredAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, subject_id, kind, payload, created_at, expires_at, status, attempts, last_error
		FROM deferred_actions WHERE status = ? ORDER BY created_at`, st.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("query active actions: %w", err)
	}
	defer rows.Close()

	var out []st.DeferredAction
	for rows.Next() {
		var (
			a         st.DeferredAction
			payload   string
			createdAt int64
			expiresAt sql.NullInt64
			status    string
		)
		if err := rows.Scan(&a.ID, &a.GuildID, &a.SubjectID, &a.Kind, &payload, &createdAt, &expiresAt, &status, &a.Attempts, &a.LastError); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if payload != "" {
			a.Payload = json.RawMessage(payload)
		}
		a.CreatedAt = time.UnixMilli(createdAt)
		if expiresAt.Valid {
			t := time.UnixMilli(expiresAt.Int64)
			a.ExpiresAt = &t
		}
		a.Status = st.ActionStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveDeferredAction(ctx context.Context, a st.DeferredAction) error {
	var expires sql.NullInt64
	if a.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: a.ExpiresAt.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deferred_actions (id, guild_id, subject_id, kind, payload, created_at, expires_at, status, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error`,
		a.ID, a.GuildID, a.SubjectID, a.Kind, string(a.Payload), a.CreatedAt.UnixMilli(), expires, string(a.Status), a.Attempts, a.LastError)
	if err != nil {
		return fmt.Errorf("save action %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) UpdateDeferredActionStatus(ctx context.Context, actionID string, status st.ActionStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE deferred_actions SET status = ? WHERE id = ?`, string(status), actionID)
	if err != nil {
		return fmt.Errorf("update action %s: %w", actionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deferred action %s not found", actionID)
	}
	return nil
}

func (s *Store) RecordDeferredActionAttempt(ctx context.Context, actionID string, attempts int, lastError string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE deferred_actions SET attempts = ?, last_error = ? WHERE id = ?`, attempts, lastError, actionID)
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", actionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deferred action %s not found", actionID)
	}
	return nil
}
