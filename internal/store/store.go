package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"intake/internal/api"
	"intake/internal/chat"
	"intake/internal/storage"
)

// Sender 发送聊天消息的最小接口（由 api.Client 实现）
// Sender is the minimal message-send surface, implemented by api.Client.
type Sender interface {
	SendChatMessage(ctx context.Context, text, sessionID string) (api.ChatResult, error)
}

// Store owns the chat session set and the message-send lifecycle. It is
// constructed explicitly and injected into consumers; no package-level
// state.
type Store struct {
	mu     sync.Mutex
	state  State
	sender Sender

	back           storage.Store
	persistEnabled bool
}

// New builds a Store, restoring the persisted snapshot when persistence is
// enabled and usable data exists. The session set is never empty.
func New(sender Sender, back storage.Store, persistEnabled bool) *Store {
	s := &Store{
		sender:         sender,
		back:           back,
		persistEnabled: persistEnabled && back != nil,
	}
	if s.persistEnabled {
		if snap, found, err := back.Load(); err == nil && found {
			s.state.Sessions = snap.Sessions
			s.state.CurrentID = snap.CurrentID
		}
	}
	if len(s.state.Sessions) == 0 {
		fresh := chat.NewSession()
		s.state.Sessions = []chat.Session{fresh}
		s.state.CurrentID = fresh.ID
	}
	return s
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Sessions = cloneSessions(s.state.Sessions)
	return st
}

// CurrentSession resolves the current pointer. An unset pointer falls back
// to the first session; a dangling pointer resolves to none.
func (s *Store) CurrentSession() (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return currentSession(s.state)
}

func currentSession(st State) (chat.Session, bool) {
	if st.CurrentID == "" {
		if len(st.Sessions) > 0 {
			return st.Sessions[0], true
		}
		return chat.Session{}, false
	}
	for _, sess := range st.Sessions {
		if sess.ID == st.CurrentID {
			return sess, true
		}
	}
	return chat.Session{}, false
}

// CreateSession adds a fresh empty session and makes it current.
func (s *Store) CreateSession() chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := chat.NewSession()
	s.state = withSessionAdded(s.state, fresh)
	s.persistLocked()
	return fresh
}

// SetCurrentSession switches the current pointer. The id is not validated.
func (s *Store) SetCurrentSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = withCurrent(s.state, id)
	s.persistLocked()
}

// AddMessage assigns identity and timestamp, then appends to the session.
func (s *Store) AddMessage(sessionID string, msg chat.Message) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg = s.appendLocked(sessionID, msg)
	s.persistLocked()
	return msg
}

func (s *Store) appendLocked(sessionID string, msg chat.Message) chat.Message {
	if msg.ID == "" {
		msg.ID = chat.NewMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.state = withMessageAppended(s.state, sessionID, msg)
	return msg
}

// UpdateMessage applies a partial patch to one message.
func (s *Store) UpdateMessage(sessionID, messageID string, patch MessagePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = withMessageUpdated(s.state, sessionID, messageID, patch)
	s.persistLocked()
}

// DeleteSession removes a session, repointing current and keeping the set
// non-empty.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = withSessionDeleted(s.state, id)
	s.persistLocked()
}

// ClearAllSessions replaces the set with one fresh session.
func (s *Store) ClearAllSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = withCleared(s.state)
	s.persistLocked()
}

// ClearError drops the sticky error.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = withError(s.state, "")
}

// SendMessage runs the composite send lifecycle: append a sending user
// message and an assistant placeholder, call the transport, then settle both.
// After settlement the transcript never holds a dangling sending assistant
// message: it is either filled or removed. A call while busy is a no-op.
func (s *Store) SendMessage(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.state.IsLoading {
		s.mu.Unlock()
		return nil
	}

	sessionID := s.state.CurrentID
	if sessionID == "" {
		fresh := chat.NewSession()
		s.state = withSessionAdded(s.state, fresh)
		sessionID = fresh.ID
	}

	userMsg := s.appendLocked(sessionID, chat.Message{
		Role:    chat.RoleUser,
		Content: content,
		Status:  chat.StatusSending,
	})
	// 占位的 assistant 消息先入列，锁定其在转写中的位置
	// The assistant placeholder reserves its transcript position up front.
	placeholder := s.appendLocked(sessionID, chat.Message{
		Role:    chat.RoleAssistant,
		Content: "",
		Status:  chat.StatusSending,
	})
	s.state = withLoading(s.state, true)
	s.persistLocked()
	s.mu.Unlock()

	res, err := s.sender.SendChatMessage(ctx, content, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		msg := err.Error()
		s.state = withMessageUpdated(s.state, sessionID, userMsg.ID, MessagePatch{
			Status: ptr(chat.StatusError),
			Error:  &msg,
		})
		s.state = withMessageRemoved(s.state, sessionID, placeholder.ID)
		s.state = withLoading(s.state, false)
		s.state = withError(s.state, msg)
		s.persistLocked()
		return err
	}

	s.state = withMessageUpdated(s.state, sessionID, userMsg.ID, MessagePatch{
		Status: ptr(chat.StatusSent),
	})
	s.state = withMessageUpdated(s.state, sessionID, placeholder.ID, MessagePatch{
		Content: &res.Message,
		Status:  ptr(chat.StatusSent),
	})
	s.state = withLoading(s.state, false)
	s.persistLocked()
	return nil
}

// persistLocked saves the snapshot after a mutation. Persistence failures
// are reported but never surface to callers.
func (s *Store) persistLocked() {
	if !s.persistEnabled {
		return
	}
	snap := storage.Snapshot{
		Sessions:  cloneSessions(s.state.Sessions),
		CurrentID: s.state.CurrentID,
	}
	if err := s.back.Save(snap); err != nil {
		fmt.Fprintf(os.Stderr, "persist chat state failed: %v\n", err)
	}
}

func ptr[T any](v T) *T { return &v }
