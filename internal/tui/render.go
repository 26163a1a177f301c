package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"intake/internal/conversation"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderProgressBar 渲染进度条，百分比由服务端提供
// RenderProgressBar renders a bar from the server-provided percentage
func RenderProgressBar(percent float64, width int) string {
	if width < 4 {
		width = 4
	}
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// RenderTimeline 渲染类别时间线，一行一个类别
// RenderTimeline renders the category timeline, one category per line
func RenderTimeline(timeline []conversation.TimelineCategory, theme Theme) string {
	if len(timeline) == 0 {
		return ""
	}

	lines := make([]string, 0, len(timeline))
	for _, cat := range timeline {
		label := cat.Name
		if cat.Icon != "" {
			label = cat.Icon + " " + label
		}
		if cat.IsOptional {
			label += " (optional)"
		}

		switch cat.Status {
		case conversation.CategoryCompleted:
			lines = append(lines, theme.TimelineDone.Render("✓ "+label))
		case conversation.CategoryActive:
			lines = append(lines, theme.TimelineActive.Render("▶ "+label))
		case conversation.CategorySkipped:
			lines = append(lines, theme.TimelineSkipped.Render("– "+label))
		default:
			lines = append(lines, theme.TimelineStyle.Render("○ "+label))
		}
	}
	return strings.Join(lines, "\n")
}

// RenderProgressLine 渲染进度摘要行
// RenderProgressLine renders the one-line progress summary
func RenderProgressLine(p conversation.Progress, width int) string {
	bar := RenderProgressBar(p.PercentageComplete, width)
	return fmt.Sprintf("%s %.0f%% · %d/%d answered", bar, p.PercentageComplete, p.QuestionsAnswered, p.TotalQuestions)
}
