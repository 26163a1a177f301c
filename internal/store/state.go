package store

import (
	"time"

	"intake/internal/chat"
)

// State 会话存储的完整状态；所有变更都经由纯转移函数产生新值
// State is the full session-store state. Mutations are expressed as pure
// transition functions producing a new State, so every lifecycle step is
// testable in isolation.
type State struct {
	Sessions  []chat.Session
	CurrentID string
	IsLoading bool
	Err       string
}

// MessagePatch is a partial in-place update for one message.
type MessagePatch struct {
	Content *string
	Status  *string
	Error   *string
}

func cloneSessions(sessions []chat.Session) []chat.Session {
	out := make([]chat.Session, len(sessions))
	copy(out, sessions)
	return out
}

func cloneMessages(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, len(messages))
	copy(out, messages)
	return out
}

func withSessionAdded(s State, sess chat.Session) State {
	s.Sessions = append(cloneSessions(s.Sessions), sess)
	s.CurrentID = sess.ID
	return s
}

func withCurrent(s State, id string) State {
	s.CurrentID = id
	return s
}

// withMessageAppended appends msg to the named session. The first user
// message of a session also fixes the session title.
func withMessageAppended(s State, sessionID string, msg chat.Message) State {
	s.Sessions = cloneSessions(s.Sessions)
	for i := range s.Sessions {
		if s.Sessions[i].ID != sessionID {
			continue
		}
		if len(s.Sessions[i].Messages) == 0 && msg.Role == chat.RoleUser {
			s.Sessions[i].Title = chat.DeriveTitle(msg.Content)
		}
		s.Sessions[i].Messages = append(cloneMessages(s.Sessions[i].Messages), msg)
		s.Sessions[i].UpdatedAt = time.Now().UTC()
		break
	}
	return s
}

func withMessageUpdated(s State, sessionID, messageID string, patch MessagePatch) State {
	s.Sessions = cloneSessions(s.Sessions)
	for i := range s.Sessions {
		if s.Sessions[i].ID != sessionID {
			continue
		}
		msgs := cloneMessages(s.Sessions[i].Messages)
		for j := range msgs {
			if msgs[j].ID != messageID {
				continue
			}
			if patch.Content != nil {
				msgs[j].Content = *patch.Content
			}
			if patch.Status != nil {
				msgs[j].Status = *patch.Status
			}
			if patch.Error != nil {
				msgs[j].Error = *patch.Error
			}
			break
		}
		s.Sessions[i].Messages = msgs
		s.Sessions[i].UpdatedAt = time.Now().UTC()
		break
	}
	return s
}

// withMessageRemoved drops one message. This is the explicit form of the
// "assistant placeholder removed on failure" step of the send lifecycle.
func withMessageRemoved(s State, sessionID, messageID string) State {
	s.Sessions = cloneSessions(s.Sessions)
	for i := range s.Sessions {
		if s.Sessions[i].ID != sessionID {
			continue
		}
		msgs := make([]chat.Message, 0, len(s.Sessions[i].Messages))
		for _, m := range s.Sessions[i].Messages {
			if m.ID != messageID {
				msgs = append(msgs, m)
			}
		}
		s.Sessions[i].Messages = msgs
		break
	}
	return s
}

// withSessionDeleted removes a session. Deleting the last one replaces the
// set with a fresh session: the set is never empty.
func withSessionDeleted(s State, sessionID string) State {
	remaining := make([]chat.Session, 0, len(s.Sessions))
	for _, sess := range s.Sessions {
		if sess.ID != sessionID {
			remaining = append(remaining, sess)
		}
	}
	if s.CurrentID == sessionID {
		if len(remaining) > 0 {
			s.CurrentID = remaining[0].ID
		} else {
			s.CurrentID = ""
		}
	}
	if len(remaining) == 0 {
		fresh := chat.NewSession()
		remaining = append(remaining, fresh)
		s.CurrentID = fresh.ID
	}
	s.Sessions = remaining
	return s
}

func withCleared(s State) State {
	fresh := chat.NewSession()
	s.Sessions = []chat.Session{fresh}
	s.CurrentID = fresh.ID
	s.Err = ""
	return s
}

func withLoading(s State, loading bool) State {
	s.IsLoading = loading
	if loading {
		s.Err = ""
	}
	return s
}

func withError(s State, msg string) State {
	s.Err = msg
	return s
}
