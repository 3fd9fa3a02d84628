package scene

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Domain is the entity domain of scene entities.
const Domain = "scene"

// Validation constants.
const (
	maxNameLength = 100
	maxEntities   = 500
)

// ValidateScene checks a scene definition.
// Returns an error describing the first validation failure found.
func ValidateScene(s *Scene) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidScene)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if len(s.Entities) == 0 {
		return ErrNoEntities
	}
	if len(s.Entities) > maxEntities {
		return fmt.Errorf("%w: exceeds maximum of %d entities", ErrInvalidScene, maxEntities)
	}
	for id := range s.Entities {
		if !core.ValidEntityID(id) {
			return fmt.Errorf("%w: entity id %q", ErrInvalidScene, id)
		}
	}
	return nil
}

// GenerateID creates a new scene id.
func GenerateID() string {
	return uuid.New().String()
}

type sceneConfig struct {
	ID       string         `mapstructure:"id"`
	Name     string         `mapstructure:"name"`
	Icon     string         `mapstructure:"icon"`
	Entities map[string]any `mapstructure:"entities"`
}

// Decode builds a scene from a loosely typed config map (YAML or JSON).
// A missing id is derived from the name (or generated); a missing name defaults to the id.
func Decode(raw map[string]any) (*Scene, error) {
	var cfg sceneConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScene, err)
	}

	s := &Scene{
		ID:       cfg.ID,
		Name:     cfg.Name,
		Icon:     cfg.Icon,
		Entities: make(map[string]EntityTarget, len(cfg.Entities)),
	}
	switch {
	case s.ID == "" && s.Name != "":
		s.ID = core.Slugify(s.Name)
	case s.ID == "":
		s.ID = GenerateID()
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	for id, v := range cfg.Entities {
		target, err := ParseEntityTarget(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScene, id, err)
		}
		s.Entities[id] = target
	}
	return s, nil
}

// ParseEntityTarget accepts a bare state ("on", 21, true) or a flat map
// with an optional "state" key; every other key becomes an attribute.
func ParseEntityTarget(raw any) (EntityTarget, error) {
	switch v := raw.(type) {
	case nil:
		return EntityTarget{}, nil
	case map[string]any:
		t := EntityTarget{Attributes: make(map[string]any, len(v))}
		for k, item := range v {
			if k == "state" {
				s, err := stateString(item)
				if err != nil {
					return EntityTarget{}, err
				}
				t.State = s
				continue
			}
			t.Attributes[k] = core.CloneValue(item)
		}
		return t, nil
	default:
		s, err := stateString(v)
		if err != nil {
			return EntityTarget{}, err
		}
		return EntityTarget{State: s}, nil
	}
}

func stateString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case bool:
		if s {
			return core.StateOn, nil
		}
		return core.StateOff, nil
	case nil:
		return "", nil
	}
	if f, ok := core.ToFloat(v); ok {
		return core.FormatNumber(f), nil
	}
	return "", fmt.Errorf("unsupported state value %T", v)
}
