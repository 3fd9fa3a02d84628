package scene

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Source says where a scene definition came from.
type Source string

const (
	SourceFile    Source = "file"    // scenes.yaml, read-only at runtime
	SourceStorage Source = "storage" // SQLite, created via scene.create or the config API
)

// Scene is a named set of entity targets applied together.
type Scene struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Icon     string                  `json:"icon,omitempty"`
	Entities map[string]EntityTarget `json:"entities"`

	Source    Source    `json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// EntityTarget is the desired state and attributes for one entity.
// It serialises in the Home Assistant scene shape: {"state": "on", "brightness": 120}.
type EntityTarget struct {
	State      string
	Attributes map[string]any
}

// MarshalJSON flattens attributes next to state.
func (t EntityTarget) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Attributes)+1)
	for k, v := range t.Attributes {
		out[k] = v
	}
	if t.State != "" {
		out["state"] = t.State
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts either a bare state string or a flat object.
func (t *EntityTarget) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseEntityTarget(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// EntityCount returns the number of entities in the scene.
func (s *Scene) EntityCount() int {
	return len(s.Entities)
}

// EntityIDs returns the scene's entity ids, sorted.
func (s *Scene) EntityIDs() []string {
	ids := make([]string, 0, len(s.Entities))
	for id := range s.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EntityID returns the id of the scene's own entity.
func (s *Scene) EntityID() string {
	return EntityIDFor(s.ID)
}

// EntityIDFor maps a scene id to its scene.<slug> entity id.
func EntityIDFor(sceneID string) string {
	return Domain + "." + core.Slugify(sceneID)
}

// DeepCopy creates a complete independent copy of the Scene.
// All map fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (s *Scene) DeepCopy() *Scene {
	if s == nil {
		return nil
	}

	cpy := *s
	if s.Entities != nil {
		cpy.Entities = make(map[string]EntityTarget, len(s.Entities))
		for id, t := range s.Entities {
			cpy.Entities[id] = EntityTarget{State: t.State, Attributes: core.CloneMap(t.Attributes)}
		}
	}
	return &cpy
}

// Activation reports the outcome of applying a scene.
type Activation struct {
	SceneID     string             `json:"scene_id"`
	ActivatedAt time.Time          `json:"activated_at"`
	Applied     []core.EntityState `json:"applied"`
	Failures    []EntityFailure    `json:"failures,omitempty"`
}

// EntityFailure records one entity the scene could not drive to its target.
type EntityFailure struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}
