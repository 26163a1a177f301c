package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"intake/internal/chat"
)

func sampleSnapshot() Snapshot {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return Snapshot{
		Sessions: []chat.Session{
			{
				ID:        "session_1_aaaa",
				Title:     "Looking for a villa",
				CreatedAt: now,
				UpdatedAt: now,
				Messages: []chat.Message{
					{ID: "m1", Role: chat.RoleUser, Content: "Looking for a villa", Timestamp: now, Status: chat.StatusSent},
					{ID: "m2", Role: chat.RoleAssistant, Content: "Great, let's narrow it down.", Timestamp: now, Status: chat.StatusSent},
				},
			},
			{
				ID:        "session_2_bbbb",
				Title:     chat.DefaultTitle,
				CreatedAt: now,
				UpdatedAt: now,
				Messages:  []chat.Message{},
			},
		},
		CurrentID: "session_1_aaaa",
	}
}

func TestJSONStoreRoundTrip(t *testing.T) {
	s, err := NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	want := sampleSnapshot()
	if err := s.Save(want); err != nil {
		t.Fatal(err)
	}

	got, found, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatalf("expected stored snapshot")
	}
	if len(got.Sessions) != 2 || got.CurrentID != want.CurrentID {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.Sessions[0].Messages[1].Content != "Great, let's narrow it down." {
		t.Fatalf("message content lost")
	}
}

func TestJSONStoreMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, found, err := s.Load(); err != nil || found {
		t.Fatalf("missing file must yield found=false, nil error; got found=%v err=%v", found, err)
	}

	path := filepath.Join(dir, Namespace+".json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, found, err := s.Load(); err != nil || found {
		t.Fatalf("corrupt file must fall back, not fail; got found=%v err=%v", found, err)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "intake.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	want := sampleSnapshot()
	if err := s.Save(want); err != nil {
		t.Fatal(err)
	}

	got, found, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatalf("expected stored snapshot")
	}
	if len(got.Sessions) != 2 {
		t.Fatalf("unexpected session count: %d", len(got.Sessions))
	}
	if got.CurrentID != "session_1_aaaa" {
		t.Fatalf("current pointer lost: %q", got.CurrentID)
	}
	if len(got.Sessions[0].Messages) != 2 {
		t.Fatalf("unexpected message count: %d", len(got.Sessions[0].Messages))
	}
	if got.Sessions[0].Messages[0].Status != chat.StatusSent {
		t.Fatalf("status lost: %q", got.Sessions[0].Messages[0].Status)
	}
	if len(got.Sessions[1].Messages) != 0 {
		t.Fatalf("empty session gained messages")
	}

	// a second save replaces, not appends
	want.Sessions = want.Sessions[:1]
	if err := s.Save(want); err != nil {
		t.Fatal(err)
	}
	got, _, err = s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Sessions) != 1 {
		t.Fatalf("save must replace: got %d sessions", len(got.Sessions))
	}
}

func TestMigrateFromJSON(t *testing.T) {
	dir := t.TempDir()
	js, err := NewJSONStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := js.Save(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	db, err := NewSQLiteStore(filepath.Join(dir, "intake.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	n, err := MigrateFromJSON(js, db)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 migrated sessions, got %d", n)
	}

	// already-populated target is left alone
	n, err = MigrateFromJSON(js, db)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second migration must be a no-op, got %d", n)
	}
}

func TestTokenFile(t *testing.T) {
	dir := t.TempDir()
	tf := NewTokenFile(dir)
	if tok := tf.Token(); tok != "" {
		t.Fatalf("expected empty token, got %q", tok)
	}
	if err := tf.Write("secret-token"); err != nil {
		t.Fatal(err)
	}
	if tok := tf.Token(); tok != "secret-token" {
		t.Fatalf("unexpected token: %q", tok)
	}
}
