package structure

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileExtension is the extension of saved structure files.
const FileExtension = ".logitow"

// ErrNotFound is returned by Load when no file matches the reference.
var ErrNotFound = errors.New("structure file not found")

// Store saves and loads structures as JSON documents under a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (st *Store) Dir() string {
	return st.dir
}

// Path returns the default file of a structure id.
func (st *Store) Path(id string) string {
	return filepath.Join(st.dir, id+FileExtension)
}

// Save writes s to path, or to Path(s.ID) when path is empty, and returns the path written.
func (st *Store) Save(s *Structure, path string) (string, error) {
	if path == "" {
		path = st.Path(s.ID)
	}
	if err := s.Validate(); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode structure %s: %w", s.ID, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create structure directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write structure file: %w", err)
	}
	return path, nil
}

// Load reads a structure. ref is either a file path or a structure id looked up in
// the store directory. It returns the structure and the path it was read from.
func (st *Store) Load(ref string) (*Structure, string, error) {
	path, err := st.resolve(ref)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read structure file: %w", err)
	}
	s := &Structure{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, "", fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidStructure, path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return s, path, nil
}

func (st *Store) resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return ref, nil
	}

	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return "", fmt.Errorf("failed to list structure directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasSuffix(name, FileExtension) && strings.Contains(name, ref) {
			return filepath.Join(st.dir, name), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
}
