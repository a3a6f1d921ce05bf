package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

const sessionColumns = `id, external_id, title, instructor_id, created_at, ended_at`

// CreateSession inserts record, assigning an ID and creation time when unset.
func (m *Manager) CreateSession(ctx context.Context, record *types.SessionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (:id, :external_id, :title, :instructor_id, :created_at, :ended_at)`, record)
		if err != nil {
			return errors.Wrap(translate(err), "inserting session")
		}
		return nil
	})
}

// FindSessionByExternalID looks a session up by its meeting-provider ID.
func (m *Manager) FindSessionByExternalID(ctx context.Context, externalID string) (*types.SessionRecord, error) {
	if externalID == "" {
		return nil, interfaces.ErrSessionNotFound
	}
	return m.getSession(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE external_id = ?`, externalID)
}

// FindSessionByInternalID looks a session up by its own ID.
func (m *Manager) FindSessionByInternalID(ctx context.Context, id string) (*types.SessionRecord, error) {
	return m.getSession(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
}

func (m *Manager) getSession(ctx context.Context, query string, arg string) (*types.SessionRecord, error) {
	var record types.SessionRecord
	if err := m.db.GetContext(ctx, &record, query, arg); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "querying session")
	}
	return &record, nil
}

// ListSessions returns sessions newest first. Ended sessions are included
// only when includeEnded is set.
func (m *Manager) ListSessions(ctx context.Context, includeEnded bool) ([]*types.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if !includeEnded {
		query += ` WHERE ended_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	records := []*types.SessionRecord{}
	if err := m.db.SelectContext(ctx, &records, query); err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	return records, nil
}

// EndSession stamps ended_at on an open session.
func (m *Manager) EndSession(ctx context.Context, id string, at time.Time) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, at.UTC(), id)
		if err != nil {
			return errors.Wrap(err, "ending session")
		}
		return requireAffected(res, interfaces.ErrSessionNotFound)
	})
}

// DeleteSession removes a session record.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return errors.Wrap(err, "deleting session")
		}
		return requireAffected(res, interfaces.ErrSessionNotFound)
	})
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}
