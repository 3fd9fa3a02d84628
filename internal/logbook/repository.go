package logbook

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

const (
	defaultLimit = 500
	maxLimit     = 5000
)

// Repository stores logbook entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository implements Repository on the logbook table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e. The ID and When are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "lb-" + uuid.NewString()
	}
	if e.When.IsZero() {
		e.When = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO logbook (id, when_us, name, message, domain, entity_id, state, event_type, context_id, context_user_id, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.When.UnixMicro(), e.Name, e.Message,
		nullableString(e.Domain), nullableString(e.EntityID), nullableString(e.State),
		e.EventType, nullableString(e.ContextID), nullableString(e.UserID), nullableString(e.Source),
	)
	if err != nil {
		return fmt.Errorf("inserting logbook entry: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching f, oldest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]Entry, error) {
	end := f.End
	if end.IsZero() {
		end = time.Now()
	}
	if end.Before(f.Start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidFilter, end, f.Start)
	}
	if f.EntityID != "" && !core.ValidEntityID(f.EntityID) {
		return nil, fmt.Errorf("%w: entity id %q", ErrInvalidFilter, f.EntityID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := `SELECT id, when_us, name, message, domain, entity_id, state, event_type, context_id, context_user_id, source
		FROM logbook WHERE when_us >= ? AND when_us < ?`
	args := []any{f.Start.UnixMicro(), end.UnixMicro()}
	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	query += " ORDER BY when_us ASC, rowid ASC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying logbook: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var whenUS int64
		var domain, entityID, state, ctxID, user, src sql.NullString
		if err := rows.Scan(&e.ID, &whenUS, &e.Name, &e.Message, &domain, &entityID, &state,
			&e.EventType, &ctxID, &user, &src); err != nil {
			return nil, fmt.Errorf("scanning logbook entry: %w", err)
		}
		e.When = time.UnixMicro(whenUS).UTC()
		e.Domain = domain.String
		e.EntityID = entityID.String
		e.State = state.String
		e.ContextID = ctxID.String
		e.UserID = user.String
		e.Source = src.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating logbook entries: %w", err)
	}
	return entries, nil
}

// Purge deletes entries older than cutoff.
func (r *SQLiteRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM logbook WHERE when_us < ?", cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("purging logbook: %w", err)
	}
	return res.RowsAffected()
}
