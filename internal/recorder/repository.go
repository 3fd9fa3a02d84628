package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Query selects recorded states.
type Query struct {
	// EntityIDs limits the result; empty means every recorded entity.
	EntityIDs []string

	// Start and End bound last_updated. A zero End means now.
	Start time.Time
	End   time.Time

	// NoAttributes drops attributes from the returned records.
	NoAttributes bool
}

// Repository stores recorded states and events.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// RecordState stores one state row.
	RecordState(ctx context.Context, st core.EntityState) error

	// RecordRemoval marks an entity as removed at a point in time.
	RecordRemoval(ctx context.Context, entityID string, at time.Time) error

	// RecordEvent stores one non-state event.
	RecordEvent(ctx context.Context, ev core.Event) error

	// History returns one slice per entity, sorted by entity id, each holding
	// the state in force at Start (when known) followed by every change up to End.
	History(ctx context.Context, q Query) ([][]core.EntityState, error)

	// Purge deletes states and events recorded before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository implements Repository on the states and events tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordState inserts one row into states.
func (r *SQLiteRepository) RecordState(ctx context.Context, st core.EntityState) error {
	if st.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}

	attrs := "{}"
	if len(st.Attributes) > 0 {
		data, err := json.Marshal(st.Attributes)
		if err != nil {
			return fmt.Errorf("marshalling attributes: %w", err)
		}
		attrs = string(data)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO states (entity_id, state, attributes, last_changed_us, last_updated_us, context_id, context_parent_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.EntityID, st.State, attrs,
		st.LastChanged.UnixMicro(), st.LastUpdated.UnixMicro(),
		nullableString(st.Context.ID), nullableString(st.Context.ParentID),
	)
	if err != nil {
		return fmt.Errorf("inserting state: %w", err)
	}
	return nil
}

// RecordRemoval inserts a row with a NULL state marking entityID as removed at.
func (r *SQLiteRepository) RecordRemoval(ctx context.Context, entityID string, at time.Time) error {
	if entityID == "" {
		return fmt.Errorf("entity id is required")
	}
	us := at.UnixMicro()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO states (entity_id, state, attributes, last_changed_us, last_updated_us)
		 VALUES (?, NULL, '{}', ?, ?)`,
		entityID, us, us,
	)
	if err != nil {
		return fmt.Errorf("inserting removal: %w", err)
	}
	return nil
}

// RecordEvent inserts one row into events.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, ev core.Event) error {
	data := "{}"
	if len(ev.Data) > 0 {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshalling event data: %w", err)
		}
		data = string(raw)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (event_type, event_data, origin, time_fired_us, context_id)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.EventType, data, string(ev.Origin), ev.TimeFired.UnixMicro(), nullableString(ev.Context.ID),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// History answers q. Removal rows end an entity's history until it reappears.
func (r *SQLiteRepository) History(ctx context.Context, q Query) ([][]core.EntityState, error) {
	end := q.End
	if end.IsZero() {
		end = time.Now()
	}
	if end.Before(q.Start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidQuery, end, q.Start)
	}
	for _, id := range q.EntityIDs {
		if !core.ValidEntityID(id) {
			return nil, fmt.Errorf("%w: entity id %q", ErrInvalidQuery, id)
		}
	}

	ids := q.EntityIDs
	if len(ids) == 0 {
		var err error
		if ids, err = r.recordedEntities(ctx, end); err != nil {
			return nil, err
		}
	}
	ids = dedupeSorted(ids)

	out := make([][]core.EntityState, 0, len(ids))
	for _, id := range ids {
		series, err := r.entityHistory(ctx, id, q.Start, end, q.NoAttributes)
		if err != nil {
			return nil, err
		}
		if len(series) > 0 {
			out = append(out, series)
		}
	}
	return out, nil
}

func (r *SQLiteRepository) recordedEntities(ctx context.Context, end time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT entity_id FROM states WHERE last_updated_us <= ?", end.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("querying recorded entities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity ids: %w", err)
	}
	return ids, nil
}

const stateColumns = "entity_id, state, attributes, last_changed_us, last_updated_us, context_id, context_parent_id"

func (r *SQLiteRepository) entityHistory(ctx context.Context, entityID string, start, end time.Time, noAttrs bool) ([]core.EntityState, error) {
	var series []core.EntityState

	// The state in force at start.
	row := r.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM states
		 WHERE entity_id = ? AND last_updated_us < ?
		 ORDER BY last_updated_us DESC, state_id DESC LIMIT 1`,
		entityID, start.UnixMicro(),
	)
	initial, present, err := scanState(row, noAttrs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	case present:
		series = append(series, initial)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stateColumns+` FROM states
		 WHERE entity_id = ? AND last_updated_us >= ? AND last_updated_us <= ?
		 ORDER BY last_updated_us, state_id`,
		entityID, start.UnixMicro(), end.UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st, present, err := scanState(rows, noAttrs)
		if err != nil {
			return nil, err
		}
		if present {
			series = append(series, st)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return series, nil
}

// Purge deletes rows recorded before cutoff and returns how many went.
func (r *SQLiteRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	us := cutoff.UnixMicro()
	var total int64
	for _, stmt := range []string{
		"DELETE FROM states WHERE last_updated_us < ?",
		"DELETE FROM events WHERE time_fired_us < ?",
	} {
		result, err := r.db.ExecContext(ctx, stmt, us)
		if err != nil {
			return total, fmt.Errorf("purging: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// ─── Helpers ────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

// scanState reads one states row. present is false for removal rows.
func scanState(row rowScanner, noAttrs bool) (core.EntityState, bool, error) {
	var (
		st            core.EntityState
		state         sql.NullString
		attrs         string
		changed       int64
		updated       int64
		ctxID, parent sql.NullString
	)
	if err := row.Scan(&st.EntityID, &state, &attrs, &changed, &updated, &ctxID, &parent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, false, err
		}
		return st, false, fmt.Errorf("scanning state: %w", err)
	}
	if !state.Valid {
		return st, false, nil
	}

	st.State = state.String
	st.LastChanged = time.UnixMicro(changed).UTC()
	st.LastUpdated = time.UnixMicro(updated).UTC()
	st.Context = core.Context{ID: ctxID.String, ParentID: parent.String}
	if !noAttrs && attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &st.Attributes); err != nil {
			return st, false, fmt.Errorf("unmarshalling attributes: %w", err)
		}
	}
	return st, true, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func dedupeSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
