package automation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const storeFilePermissions = 0600

// FileStore reads and writes automations.yaml: a YAML list of automation
// definitions keyed by their "id".
//
// Thread Safety: all methods are safe for concurrent use.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store for path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load returns every definition in the file. A missing file is empty.
func (s *FileStore) Load() ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() ([]map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading automations file: %w", err)
	}

	var items []map[string]any
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing automations file: %w", err)
	}
	return items, nil
}

// Get returns the definition with id.
func (s *FileStore) Get(id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return nil, err
	}
	if i := indexOf(items, id); i >= 0 {
		return items[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Put validates raw and stores it under id, replacing any existing
// definition. It reports whether the definition is new.
func (s *FileStore) Put(id string, raw map[string]any) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	item := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		item[k] = v
	}
	item["id"] = id
	if _, err := Decode(item); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return false, err
	}
	created := true
	if i := indexOf(items, id); i >= 0 {
		items[i] = item
		created = false
	} else {
		items = append(items, item)
	}
	return created, s.save(items)
}

// Delete removes the definition with id.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}
	i := indexOf(items, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	items = append(items[:i], items[i+1:]...)
	return s.save(items)
}

// save writes through a temporary file so readers never see a partial file.
func (s *FileStore) save(items []map[string]any) error {
	if items == nil {
		items = []map[string]any{}
	}
	data, err := yaml.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding automations: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".automations-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error takes precedence
		return fmt.Errorf("writing automations: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), storeFilePermissions); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing automations file: %w", err)
	}
	return nil
}

func indexOf(items []map[string]any, id string) int {
	for i, item := range items {
		if fmt.Sprint(item["id"]) == id {
			return i
		}
	}
	return -1
}
