package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义 TUI 主题色彩和样式
// Theme defines TUI colors and styles
type Theme struct {
	// 基础色 / Base colors
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color
	Danger    lipgloss.Color
	Warning   lipgloss.Color
	Success   lipgloss.Color
	Muted     lipgloss.Color
	Text      lipgloss.Color
	TextDim   lipgloss.Color
	Border    lipgloss.Color

	// 预构建样式 / Pre-built styles
	TitleStyle      lipgloss.Style
	QuestionStyle   lipgloss.Style
	OptionStyle     lipgloss.Style
	CursorStyle     lipgloss.Style
	SelectedStyle   lipgloss.Style
	StatusBarStyle  lipgloss.Style
	InputStyle      lipgloss.Style
	ErrorStyle      lipgloss.Style
	SuccessStyle    lipgloss.Style
	MutedStyle      lipgloss.Style
	UserMsgStyle    lipgloss.Style
	TimelineActive  lipgloss.Style
	TimelineDone    lipgloss.Style
	TimelineSkipped lipgloss.Style
	TimelineStyle   lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary:   lipgloss.Color("#7C3AED"),
		Secondary: lipgloss.Color("#06B6D4"),
		Accent:    lipgloss.Color("#F59E0B"),
		Danger:    lipgloss.Color("#EF4444"),
		Warning:   lipgloss.Color("#F59E0B"),
		Success:   lipgloss.Color("#10B981"),
		Muted:     lipgloss.Color("#6B7280"),
		Text:      lipgloss.Color("#E5E7EB"),
		TextDim:   lipgloss.Color("#9CA3AF"),
		Border:    lipgloss.Color("#374151"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.QuestionStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		Bold(true)

	t.OptionStyle = lipgloss.NewStyle().
		Foreground(t.TextDim).
		Padding(0, 1)

	t.CursorStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		Background(t.Primary).
		Padding(0, 1)

	t.SelectedStyle = lipgloss.NewStyle().
		Foreground(t.Secondary).
		Padding(0, 1)

	t.StatusBarStyle = lipgloss.NewStyle().
		Foreground(t.TextDim).
		Background(lipgloss.Color("#111827"))

	t.InputStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.UserMsgStyle = lipgloss.NewStyle().
		Foreground(t.Secondary).
		Bold(true)

	t.TimelineActive = lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true)

	t.TimelineDone = lipgloss.NewStyle().
		Foreground(t.Success)

	t.TimelineSkipped = lipgloss.NewStyle().
		Foreground(t.Muted).
		Strikethrough(true)

	t.TimelineStyle = lipgloss.NewStyle().
		Foreground(t.TextDim)

	return t
}
