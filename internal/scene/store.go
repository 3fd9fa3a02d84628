package scene

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists scenes created at runtime. Scenes from scenes.yaml never
// reach it.
type Store interface {
	List(ctx context.Context) ([]Scene, error)
	Save(ctx context.Context, s *Scene) error
	Delete(ctx context.Context, id string) error
}

// SQLStore keeps scenes in the scenes table, entities as a JSON object in
// the HA scene shape.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a Store on an open, migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// List returns every stored scene ordered by name then id.
func (st *SQLStore) List(ctx context.Context) ([]Scene, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT id, name, icon, entities, created_at, updated_at FROM scenes ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var out []Scene
	for rows.Next() {
		var (
			s                Scene
			icon             sql.NullString
			entities         []byte
			created, updated string
		)
		if err := rows.Scan(&s.ID, &s.Name, &icon, &entities, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		if err := json.Unmarshal(entities, &s.Entities); err != nil {
			return nil, fmt.Errorf("scene %s: decoding entities: %w", s.ID, err)
		}
		if s.Entities == nil {
			s.Entities = map[string]EntityTarget{}
		}
		s.Icon = icon.String
		s.Source = SourceStorage
		s.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenes: %w", err)
	}
	return out, nil
}

// Save inserts s or replaces the stored scene with the same id. created_at
// survives a replace; s.CreatedAt and s.UpdatedAt are set from what was written.
func (st *SQLStore) Save(ctx context.Context, s *Scene) error {
	entities, err := json.Marshal(s.Entities)
	if err != nil {
		return fmt.Errorf("scene %s: encoding entities: %w", s.ID, err)
	}
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	var icon any
	if s.Icon != "" {
		icon = s.Icon
	}

	var created string
	err = st.db.QueryRowContext(ctx, `
		INSERT INTO scenes (id, name, icon, entities, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			icon = excluded.icon,
			entities = excluded.entities,
			updated_at = excluded.updated_at
		RETURNING created_at`,
		s.ID, s.Name, icon, string(entities), stamp, stamp,
	).Scan(&created)
	if err != nil {
		return fmt.Errorf("saving scene %s: %w", s.ID, err)
	}

	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	s.UpdatedAt = now
	return nil
}

// Delete removes a stored scene; ErrSceneNotFound if there was none.
func (st *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := st.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting scene %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting scene %s: %w", id, err)
	}
	if n == 0 {
		return ErrSceneNotFound
	}
	return nil
}
