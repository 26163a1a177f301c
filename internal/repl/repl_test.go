package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"intake/internal/api"
	"intake/internal/chat"
	"intake/internal/conversation"
	"intake/internal/store"
)

type stubSender struct{}

func (stubSender) SendChatMessage(ctx context.Context, text, sessionID string) (api.ChatResult, error) {
	return api.ChatResult{Message: "reply to " + text, SessionID: sessionID}, nil
}

func newTestLoop(t *testing.T) (*Loop, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &Loop{
		store:  store.New(stubSender{}, nil, false),
		engine: conversation.NewEngine(nil),
		out:    &out,
	}, &out
}

func TestPadCell(t *testing.T) {
	tests := []struct {
		input string
		width int
	}{
		{"short", 10},
		{"a much longer session title", 10},
		{"别墅看房", 6},
		{"", 4},
	}
	for _, tt := range tests {
		got := padCell(tt.input, tt.width)
		if w := cellWidth(got); w != tt.width {
			t.Errorf("padCell(%q, %d) width = %d, got %q", tt.input, tt.width, w, got)
		}
	}
}

func cellWidth(s string) int {
	w := 0
	for _, r := range s {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			w += 2
		default:
			w++
		}
	}
	return w
}

func TestPrintSessionsMarksCurrent(t *testing.T) {
	l, out := newTestLoop(t)
	first, _ := l.store.CurrentSession()
	l.store.AddMessage(first.ID, chat.Message{Role: chat.RoleUser, Content: "hello there"})
	l.store.CreateSession()

	l.printSessions()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 session lines, got %d:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "hello there") {
		t.Fatalf("first line should show derived title: %q", lines[0])
	}
	// 新建的会话成为当前会话 / the new session becomes current
	if !strings.Contains(lines[1], "* ") {
		t.Fatalf("second line should be marked current: %q", lines[1])
	}
}

func TestSessionByIndex(t *testing.T) {
	l, _ := newTestLoop(t)
	l.store.CreateSession()

	if _, err := l.sessionByIndex("0"); err == nil {
		t.Fatal("index 0 should be out of range")
	}
	if _, err := l.sessionByIndex("3"); err == nil {
		t.Fatal("index past the end should be out of range")
	}
	if _, err := l.sessionByIndex("abc"); err == nil {
		t.Fatal("non-numeric index should fail")
	}
	sess, err := l.sessionByIndex("2")
	if err != nil {
		t.Fatalf("sessionByIndex(2): %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a real session")
	}
}

func TestSendChatPrintsReply(t *testing.T) {
	l, out := newTestLoop(t)
	l.sendChat(context.Background(), "any villas near the beach?")
	if !strings.Contains(out.String(), "reply to any villas near the beach?") {
		t.Fatalf("missing assistant reply in output: %q", out.String())
	}
}

func TestProgressCommandsBeforeGuidedFlow(t *testing.T) {
	l, _ := newTestLoop(t)
	for _, cmd := range []string{"/timeline", "/summary"} {
		exit, err := l.handleCommand(context.Background(), cmd)
		if exit {
			t.Fatalf("%s requested exit", cmd)
		}
		if err == nil || !strings.Contains(err.Error(), "/guided") {
			t.Fatalf("%s before the questionnaire: err = %v, want hint to /guided", cmd, err)
		}
	}
}

func TestOptionsForAppendsOther(t *testing.T) {
	q := &conversation.Question{
		Type:     conversation.TypeSingleChoice,
		Options:  []conversation.Option{{Label: "Villa", Value: "villa"}},
		HasOther: true,
	}
	opts := optionsFor(q)
	if len(opts) != 2 || opts[1].Value != conversation.OtherValue {
		t.Fatalf("expected synthetic other option, got %+v", opts)
	}
	if got := optionsFor(nil); got != nil {
		t.Fatalf("nil question should yield nil options, got %+v", got)
	}
}
