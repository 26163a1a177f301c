package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"intake/internal/api"
	"intake/internal/chat"
	"intake/internal/storage"
)

type fakeSender struct {
	reply string
	err   error
	calls int
}

func (f *fakeSender) SendChatMessage(ctx context.Context, text, sessionID string) (api.ChatResult, error) {
	f.calls++
	if f.err != nil {
		return api.ChatResult{}, f.err
	}
	return api.ChatResult{Message: f.reply, SessionID: sessionID}, nil
}

type memStore struct {
	snap  storage.Snapshot
	found bool
	saves int
}

func (m *memStore) Save(snap storage.Snapshot) error {
	m.snap = snap
	m.found = true
	m.saves++
	return nil
}

func (m *memStore) Load() (storage.Snapshot, bool, error) {
	return m.snap, m.found, nil
}

func (m *memStore) Close() error { return nil }

func TestNeverEmptyInvariant(t *testing.T) {
	s := New(&fakeSender{}, nil, false)

	first := s.State().Sessions[0]
	second := s.CreateSession()
	s.DeleteSession(second.ID)
	s.DeleteSession(first.ID)

	st := s.State()
	if len(st.Sessions) != 1 {
		t.Fatalf("expected exactly one fresh session, got %d", len(st.Sessions))
	}
	if st.Sessions[0].ID == first.ID || st.Sessions[0].ID == second.ID {
		t.Fatalf("expected a freshly created session")
	}
	if st.CurrentID != st.Sessions[0].ID {
		t.Fatalf("current pointer not repointed")
	}
	if len(st.Sessions[0].Messages) != 0 {
		t.Fatalf("fresh session should be empty")
	}
}

func TestDeleteRepointsToFirstRemaining(t *testing.T) {
	s := New(&fakeSender{}, nil, false)
	first := s.State().Sessions[0]
	second := s.CreateSession()

	s.DeleteSession(second.ID)
	st := s.State()
	if st.CurrentID != first.ID {
		t.Fatalf("current should repoint to first remaining, got %q", st.CurrentID)
	}
	if len(st.Sessions) != 1 {
		t.Fatalf("unexpected session count: %d", len(st.Sessions))
	}
}

func TestSendMessageSuccessLifecycle(t *testing.T) {
	sender := &fakeSender{reply: "Here are some villas."}
	s := New(sender, nil, false)

	if err := s.SendMessage(context.Background(), "show me villas"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, ok := s.CurrentSession()
	if !ok {
		t.Fatalf("no current session")
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("expected user+assistant, got %d messages", len(sess.Messages))
	}
	user, assistant := sess.Messages[0], sess.Messages[1]
	if user.Role != chat.RoleUser || user.Status != chat.StatusSent {
		t.Fatalf("unexpected user message: %+v", user)
	}
	if assistant.Role != chat.RoleAssistant || assistant.Status != chat.StatusSent {
		t.Fatalf("unexpected assistant message: %+v", assistant)
	}
	if assistant.Content != "Here are some villas." {
		t.Fatalf("placeholder not filled: %q", assistant.Content)
	}
	if s.State().IsLoading {
		t.Fatalf("loading flag not cleared")
	}
	for _, m := range sess.Messages {
		if m.Status == chat.StatusSending {
			t.Fatalf("message stuck at sending: %+v", m)
		}
	}
}

func TestSendMessageFailureLifecycle(t *testing.T) {
	sender := &fakeSender{err: errors.New("upstream unavailable")}
	s := New(sender, nil, false)

	if err := s.SendMessage(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error")
	}

	sess, _ := s.CurrentSession()
	if len(sess.Messages) != 1 {
		t.Fatalf("assistant placeholder must be removed, got %d messages", len(sess.Messages))
	}
	user := sess.Messages[0]
	if user.Status != chat.StatusError || user.Error != "upstream unavailable" {
		t.Fatalf("unexpected user message: %+v", user)
	}
	st := s.State()
	if st.IsLoading {
		t.Fatalf("loading flag not cleared")
	}
	if st.Err != "upstream unavailable" {
		t.Fatalf("global error not set: %q", st.Err)
	}

	s.ClearError()
	if s.State().Err != "" {
		t.Fatalf("error not cleared")
	}
}

func TestTitleDerivation(t *testing.T) {
	s := New(&fakeSender{reply: "ok"}, nil, false)
	long := strings.Repeat("Dubai Marina apartment with sea view, two bedrooms ", 3)

	if err := s.SendMessage(context.Background(), long); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.CurrentSession()
	if len([]rune(sess.Title)) != chat.TitleMaxLen {
		t.Fatalf("title not truncated: %q", sess.Title)
	}
	want := sess.Title

	// later messages never retitle
	if err := s.SendMessage(context.Background(), "another message"); err != nil {
		t.Fatal(err)
	}
	sess, _ = s.CurrentSession()
	if sess.Title != want {
		t.Fatalf("title changed after first message: %q", sess.Title)
	}
}

func TestAssistantMessageDoesNotTitle(t *testing.T) {
	s := New(&fakeSender{}, nil, false)
	sess := s.CreateSession()
	s.AddMessage(sess.ID, chat.Message{Role: chat.RoleAssistant, Content: "welcome aboard"})
	got, _ := s.CurrentSession()
	if got.Title != chat.DefaultTitle {
		t.Fatalf("assistant message must not set title: %q", got.Title)
	}
}

func TestPersistenceGating(t *testing.T) {
	back := &memStore{}
	s := New(&fakeSender{}, back, false)
	s.CreateSession()
	if back.saves != 0 {
		t.Fatalf("disabled persistence must not save, got %d", back.saves)
	}

	back2 := &memStore{}
	s2 := New(&fakeSender{reply: "hi"}, back2, true)
	s2.CreateSession()
	if back2.saves == 0 {
		t.Fatalf("enabled persistence must save after mutation")
	}
	if err := s2.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if back2.snap.CurrentID == "" || len(back2.snap.Sessions) == 0 {
		t.Fatalf("snapshot incomplete: %+v", back2.snap)
	}
}

func TestRestoreFromSnapshot(t *testing.T) {
	back := &memStore{}
	s := New(&fakeSender{reply: "hi"}, back, true)
	if err := s.SendMessage(context.Background(), "restore me"); err != nil {
		t.Fatal(err)
	}
	wantID := s.State().CurrentID

	restored := New(&fakeSender{}, back, true)
	st := restored.State()
	if st.CurrentID != wantID {
		t.Fatalf("current pointer not restored: %q", st.CurrentID)
	}
	sess, _ := restored.CurrentSession()
	if len(sess.Messages) != 2 {
		t.Fatalf("messages not restored: %d", len(sess.Messages))
	}
}

func TestSendWhileBusyIsNoOp(t *testing.T) {
	sender := &fakeSender{reply: "ok"}
	s := New(sender, nil, false)
	s.mu.Lock()
	s.state = withLoading(s.state, true)
	s.mu.Unlock()

	if err := s.SendMessage(context.Background(), "queued?"); err != nil {
		t.Fatalf("busy send must be a silent no-op: %v", err)
	}
	if sender.calls != 0 {
		t.Fatalf("busy send must not reach the network")
	}
	sess, _ := s.CurrentSession()
	if len(sess.Messages) != 0 {
		t.Fatalf("busy send must not touch the transcript")
	}
}

func TestTransitionRemoveMessage(t *testing.T) {
	sess := chat.NewSession()
	st := State{Sessions: []chat.Session{sess}, CurrentID: sess.ID}
	st = withMessageAppended(st, sess.ID, chat.Message{ID: "a", Role: chat.RoleUser, Content: "q"})
	st = withMessageAppended(st, sess.ID, chat.Message{ID: "b", Role: chat.RoleAssistant})

	st = withMessageRemoved(st, sess.ID, "b")
	if len(st.Sessions[0].Messages) != 1 || st.Sessions[0].Messages[0].ID != "a" {
		t.Fatalf("unexpected messages: %+v", st.Sessions[0].Messages)
	}

	// removing an unknown id is harmless
	st = withMessageRemoved(st, sess.ID, "nope")
	if len(st.Sessions[0].Messages) != 1 {
		t.Fatalf("unknown id removal must not drop messages")
	}
}

func TestClearAllSessions(t *testing.T) {
	s := New(&fakeSender{reply: "x"}, nil, false)
	_ = s.SendMessage(context.Background(), "one")
	s.CreateSession()
	s.ClearAllSessions()

	st := s.State()
	if len(st.Sessions) != 1 {
		t.Fatalf("expected single fresh session, got %d", len(st.Sessions))
	}
	if len(st.Sessions[0].Messages) != 0 {
		t.Fatalf("fresh session must be empty")
	}
	if st.Err != "" {
		t.Fatalf("clear must reset error")
	}
}
