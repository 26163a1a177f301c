package chat

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message delivery statuses.
const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusError   = "error"
)

// DefaultTitle is the title of a session before its first user message.
const DefaultTitle = "New Chat"

// TitleMaxLen caps the derived session title length in runes.
const TitleMaxLen = 50

// Message is a single chat transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Session is a persistent container for one chat transcript.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession 创建一个空会话 / NewSession creates an empty session.
func NewSession() Session {
	now := time.Now().UTC()
	return Session{
		ID:        NewSessionID(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewSessionID 生成新的会话 ID / NewSessionID generates a new session ID.
func NewSessionID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("session_%d_%s", time.Now().UTC().Unix(), hex.EncodeToString(buf))
}

// NewMessageID generates a new message ID.
func NewMessageID() string {
	return uuid.NewString()
}

// DeriveTitle returns the session title implied by its first user message:
// the content cut to TitleMaxLen runes. Later messages never change the title.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > TitleMaxLen {
		return string(runes[:TitleMaxLen])
	}
	return content
}

// Truncate shortens text to maxLen runes, appending an ellipsis when cut.
func Truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

// FormatMessageTime renders a message timestamp for transcript display:
// time of day for same-day messages, date plus time otherwise.
func FormatMessageTime(t time.Time) string {
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("Jan 2 15:04")
}

// ValidContent reports whether a message body may be sent: non-blank and,
// when maxLen > 0, within the configured length limit.
func ValidContent(content string, maxLen int) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	if maxLen > 0 && len([]rune(content)) > maxLen {
		return false
	}
	return true
}
