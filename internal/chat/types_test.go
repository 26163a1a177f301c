package chat

import (
	"strings"
	"testing"
	"time"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "short content kept", content: "Looking for a villa", want: "Looking for a villa"},
		{name: "whitespace trimmed", content: "  hello  ", want: "hello"},
		{name: "long content cut to 50", content: strings.Repeat("a", 80), want: strings.Repeat("a", 50)},
		{name: "runes not bytes", content: strings.Repeat("樓", 60), want: strings.Repeat("樓", 50)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveTitle(tc.content); got != tc.want {
				t.Fatalf("unexpected title: got=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := Truncate("abcdefghij", 4); got != "abcd..." {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestValidContent(t *testing.T) {
	if ValidContent("   ", 100) {
		t.Fatalf("blank content should be invalid")
	}
	if !ValidContent("hi", 0) {
		t.Fatalf("zero limit should disable the length check")
	}
	if ValidContent(strings.Repeat("x", 11), 10) {
		t.Fatalf("over-limit content should be invalid")
	}
	if !ValidContent(strings.Repeat("x", 10), 10) {
		t.Fatalf("at-limit content should be valid")
	}
}

func TestNewSession(t *testing.T) {
	s := NewSession()
	if s.ID == "" || !strings.HasPrefix(s.ID, "session_") {
		t.Fatalf("unexpected session id: %q", s.ID)
	}
	if s.Title != DefaultTitle {
		t.Fatalf("unexpected title: %q", s.Title)
	}
	if s.Messages == nil || len(s.Messages) != 0 {
		t.Fatalf("expected empty message list")
	}
}

func TestFormatMessageTime(t *testing.T) {
	now := time.Now()
	if got := FormatMessageTime(now); got != now.Format("15:04") {
		t.Fatalf("same-day format = %q", got)
	}
	old := now.AddDate(0, 0, -30)
	if got := FormatMessageTime(old); got != old.Format("Jan 2 15:04") {
		t.Fatalf("older format = %q", got)
	}
}
