package scene

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads scenes from a Home Assistant style scenes.yaml (a list of
// {id, name, entities} maps). A missing file yields no scenes.
func LoadFile(path string) ([]Scene, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path from operator config
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading scenes file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes and validates a scenes.yaml document.
func ParseYAML(data []byte) ([]Scene, error) {
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing scenes yaml: %w", err)
	}

	scenes := make([]Scene, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, item := range raw {
		s, err := Decode(item)
		if err != nil {
			return nil, fmt.Errorf("scene %d: %w", i, err)
		}
		if err := ValidateScene(s); err != nil {
			return nil, fmt.Errorf("scene %q: %w", s.ID, err)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("scene %q: %w", s.ID, ErrSceneExists)
		}
		seen[s.ID] = true
		s.Source = SourceFile
		scenes = append(scenes, *s)
	}
	return scenes, nil
}
