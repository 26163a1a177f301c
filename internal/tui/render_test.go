package tui

import (
	"strings"
	"testing"

	"intake/internal/conversation"
)

func TestRenderMarkdown_Basic(t *testing.T) {
	input := "# Hello\n\nThis is **bold** text."
	result := RenderMarkdown(input, 80)
	if result == "" {
		t.Fatal("RenderMarkdown returned empty")
	}
	// Glamour 应该渲染了标题 / Glamour should have rendered the heading
	if !strings.Contains(result, "Hello") {
		t.Fatalf("result should contain 'Hello': %q", result)
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	if RenderMarkdown("", 80) != "" {
		t.Fatal("empty input should return empty")
	}
	if RenderMarkdown("  ", 80) != "" {
		t.Fatal("whitespace input should return empty")
	}
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		percent float64
		width   int
		filled  int
	}{
		{0, 10, 0},
		{50, 10, 5},
		{100, 10, 10},
		{150, 10, 10},
		{-5, 10, 0},
	}
	for _, tt := range tests {
		got := RenderProgressBar(tt.percent, tt.width)
		if n := strings.Count(got, "█"); n != tt.filled {
			t.Errorf("RenderProgressBar(%v, %d) filled = %d, want %d", tt.percent, tt.width, n, tt.filled)
		}
	}
}

func TestRenderTimeline(t *testing.T) {
	theme := DarkTheme()
	timeline := []conversation.TimelineCategory{
		{ID: "basics", Name: "Basics", Status: conversation.CategoryCompleted},
		{ID: "budget", Name: "Budget", Status: conversation.CategoryActive},
		{ID: "financing", Name: "Financing", Status: conversation.CategorySkipped, IsOptional: true},
		{ID: "timeline", Name: "Timeline", Status: conversation.CategoryUpcoming},
	}

	result := RenderTimeline(timeline, theme)
	for _, want := range []string{"✓", "▶", "○", "Basics", "Budget", "(optional)"} {
		if !strings.Contains(result, want) {
			t.Errorf("timeline should contain %q:\n%s", want, result)
		}
	}

	if RenderTimeline(nil, theme) != "" {
		t.Fatal("empty timeline should render empty")
	}
}

func TestRenderProgressLine(t *testing.T) {
	p := conversation.Progress{
		PercentageComplete: 50,
		QuestionsAnswered:  3,
		TotalQuestions:     6,
	}
	got := RenderProgressLine(p, 10)
	if !strings.Contains(got, "50%") || !strings.Contains(got, "3/6") {
		t.Fatalf("unexpected progress line: %q", got)
	}
}

func TestEffectiveOptions(t *testing.T) {
	q := &conversation.Question{
		Type:     conversation.TypeSingleChoice,
		Options:  []conversation.Option{{Label: "Villa", Value: "villa"}},
		HasOther: true,
	}
	opts := effectiveOptions(q)
	if len(opts) != 2 || opts[1].Value != conversation.OtherValue {
		t.Fatalf("expected synthetic other option, got %+v", opts)
	}

	// 选项里已有 other 时不重复追加 / no duplicate when other already present
	q.Options = append(q.Options, conversation.Option{Label: "Other", Value: "other"})
	opts = effectiveOptions(q)
	if len(opts) != 2 {
		t.Fatalf("expected no duplicate other, got %+v", opts)
	}

	if effectiveOptions(nil) != nil {
		t.Fatal("nil question should yield nil options")
	}
}
