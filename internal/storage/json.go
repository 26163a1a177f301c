package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// JSONStore 单一命名空间的 JSON 文件后端
// JSONStore persists the snapshot as one JSON file under the namespace key.
type JSONStore struct {
	path string
}

func NewJSONStore(baseDir string) (*JSONStore, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, fmt.Errorf("storage base dir is empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", baseDir, err)
	}
	return &JSONStore{path: filepath.Join(baseDir, Namespace+".json")}, nil
}

func (s *JSONStore) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.path, err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Load reads the stored snapshot. Missing or corrupt data yields found=false
// with no error: the caller starts fresh.
func (s *JSONStore) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{}, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		fmt.Fprintf(os.Stderr, "discard corrupt %s: %v\n", s.path, err)
		return Snapshot{}, false, nil
	}
	if len(snap.Sessions) == 0 {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *JSONStore) Close() error { return nil }
