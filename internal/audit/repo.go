package audit

import (
	"context"
	"database/sql"
	"errors"
)

// Repository persists the audit log in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// AppendLogEntry writes a new entry.
func (r *Repository) AppendLogEntry(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO data_log (id, action, payload, actor_role, actor_name, when_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.Action, []byte(e.Payload), e.ActorRole, e.ActorName, e.When)
	return err
}

// ListLogEntries returns entries newest first.
func (r *Repository) ListLogEntries(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, payload, actor_role, actor_name, when_at
		FROM data_log
		ORDER BY when_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Action, &payload, &e.ActorRole, &e.ActorName, &e.When); err != nil {
			return nil, err
		}
		e.Payload = payload
		res = append(res, e)
	}
	return res, rows.Err()
}

// ClearLogEntries writes the marker and wipes the log in one transaction.
func (r *Repository) ClearLogEntries(ctx context.Context, m ClearMarker) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO clear_log (cleared_by, cleared_at) VALUES ($1, $2)
	`, m.ClearedBy, m.ClearedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM data_log`); err != nil {
		return err
	}
	return tx.Commit()
}

// LastClearMarker returns the most recent clear marker, if any.
func (r *Repository) LastClearMarker(ctx context.Context) (*ClearMarker, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT cleared_by, cleared_at FROM clear_log
		ORDER BY cleared_at DESC LIMIT 1
	`)
	var m ClearMarker
	if err := row.Scan(&m.ClearedBy, &m.ClearedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
