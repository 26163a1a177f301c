package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"intake/internal/chat"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		position   INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT NOT NULL,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT '',
		error      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the stored snapshot in one transaction.
func (s *SQLiteStore) Save(snap Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 全量替换 / Full replacement keeps the snapshot atomic.
	if _, err := tx.Exec("DELETE FROM messages"); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("delete old sessions: %w", err)
	}

	sessStmt, err := tx.Prepare(`
		INSERT INTO sessions (id, title, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare session insert: %w", err)
	}
	defer sessStmt.Close()

	msgStmt, err := tx.Prepare(`
		INSERT INTO messages (id, session_id, seq, role, content, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer msgStmt.Close()

	for pos, sess := range snap.Sessions {
		if _, err := sessStmt.Exec(sess.ID, sess.Title, pos,
			formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt)); err != nil {
			return fmt.Errorf("insert session %s: %w", sess.ID, err)
		}
		for seq, msg := range sess.Messages {
			if _, err := msgStmt.Exec(msg.ID, sess.ID, seq, msg.Role, msg.Content,
				msg.Status, msg.Error, formatTime(msg.Timestamp)); err != nil {
				return fmt.Errorf("insert message %d of %s: %w", seq, sess.ID, err)
			}
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO state (key, value) VALUES ('current_session', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, snap.CurrentID); err != nil {
		return fmt.Errorf("save current session: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Load() (Snapshot, bool, error) {
	rows, err := s.db.Query(`
		SELECT id, title, created_at, updated_at
		FROM sessions ORDER BY position`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var sess chat.Session
		var createdAt, updatedAt string
		if err := rows.Scan(&sess.ID, &sess.Title, &createdAt, &updatedAt); err != nil {
			continue
		}
		sess.CreatedAt = parseTime(createdAt)
		sess.UpdatedAt = parseTime(updatedAt)
		sess.Messages = []chat.Message{}
		snap.Sessions = append(snap.Sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, err
	}
	if len(snap.Sessions) == 0 {
		return Snapshot{}, false, nil
	}

	for i := range snap.Sessions {
		messages, err := s.loadMessages(snap.Sessions[i].ID)
		if err != nil {
			return Snapshot{}, false, err
		}
		snap.Sessions[i].Messages = messages
	}

	row := s.db.QueryRow("SELECT value FROM state WHERE key='current_session'")
	if err := row.Scan(&snap.CurrentID); err != nil && err != sql.ErrNoRows {
		return Snapshot{}, false, fmt.Errorf("load current session: %w", err)
	}
	return snap, true, nil
}

func (s *SQLiteStore) loadMessages(sessionID string) ([]chat.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, status, error, created_at
		FROM messages WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		var msg chat.Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.Status, &msg.Error, &createdAt); err != nil {
			continue
		}
		msg.Timestamp = parseTime(createdAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return time.Time{}
}
