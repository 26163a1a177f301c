package storage

import (
	"os"
	"path/filepath"
	"strings"

	"intake/internal/chat"
)

// Namespace is the single key under which chat state is persisted.
const Namespace = "chat-storage"

// Snapshot 可持久化的会话状态：会话集合与当前会话指针
// Snapshot is the durable chat state: the session set and the current pointer.
type Snapshot struct {
	Sessions  []chat.Session `json:"sessions"`
	CurrentID string         `json:"currentSessionId"`
}

// Store 持久化接口，支持多后端 (JSON / SQLite)
// Store is the persistence interface supporting multiple backends.
type Store interface {
	// Save durably replaces the stored snapshot.
	Save(snap Snapshot) error
	// Load returns the stored snapshot. found is false when nothing usable
	// is stored; absent or corrupt data is never a hard failure.
	Load() (snap Snapshot, found bool, err error)
	Close() error
}

// TokenFile reads the bearer credential from a file under the storage base
// dir. The credential is written by whatever provisions the client; this
// subsystem only ever reads it.
type TokenFile struct {
	path string
}

func NewTokenFile(baseDir string) *TokenFile {
	return &TokenFile{path: filepath.Join(baseDir, "auth_token")}
}

// Token returns the stored credential, or "" when none is present.
func (t *TokenFile) Token() string {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Write stores a credential (used by provisioning and tests).
func (t *TokenFile) Write(token string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(t.path, []byte(strings.TrimSpace(token)+"\n"), 0o600)
}
