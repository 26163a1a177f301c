package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"intake/internal/chat"
	"intake/internal/conversation"
	"intake/internal/store"
)

// --- Tea Messages ---

// engineDoneMsg 引导流程操作完成
// engineDoneMsg signals a guided-flow operation finished
type engineDoneMsg struct{ err error }

// chatDoneMsg 自由聊天发送完成
// chatDoneMsg signals a freeform chat send finished
type chatDoneMsg struct{ err error }

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	// 布局 / Layout
	width  int
	height int

	// 依赖 / Dependencies
	store    *store.Store
	engine   *conversation.Engine
	markdown bool
	maxLen   int

	// 欢迎屏与问题光标 / Welcome and question cursors
	welcomeCursor int
	cursor        int

	// 自由文本编辑状态 / Free-text editing state
	editingOther bool
	otherInput   textinput.Model

	// 稍后联系表单 / Call-back form
	// scheduleStep is 0 when the form is closed, otherwise the index
	// into scheduleFields of the value being collected.
	scheduleStep  int
	scheduleInput textinput.Model
	scheduleReply [len(scheduleFields)]string

	// 自由聊天 / Freeform chat
	chatView viewport.Model
	input    textarea.Model

	// 配置 / Config
	theme Theme
	keys  KeyMap
}

// NewApp 创建 TUI 应用
// NewApp creates a new TUI application
func NewApp(st *store.Store, eng *conversation.Engine, markdown bool, maxLen int) App {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	if maxLen > 0 {
		ta.CharLimit = maxLen
	}
	ta.SetHeight(3)
	ta.Focus()

	ti := textinput.New()
	ti.Placeholder = "Tell us more..."
	ti.CharLimit = 500

	si := textinput.New()
	si.CharLimit = 100

	return App{
		store:         st,
		engine:        eng,
		markdown:      markdown,
		maxLen:        maxLen,
		input:         ta,
		otherInput:    ti,
		scheduleInput: si,
		theme:         DarkTheme(),
		keys:          DefaultKeyMap(),
	}
}

// scheduleFields are the call-back details collected in order.
var scheduleFields = [...]struct {
	label       string
	placeholder string
}{
	{"Phone number", "+971 50 123 4567"},
	{"Preferred time", "morning / afternoon / evening"},
	{"Contact method", "phone / whatsapp / email"},
}

func (a App) Init() tea.Cmd {
	return textarea.Blink
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case engineDoneMsg:
		// 错误已作为稳定文案保存在引擎里，这里只需重绘
		// The engine keeps failures as stable copy; just re-render.
		a.cursor = 0
		return a, nil

	case chatDoneMsg:
		a.refreshChatView()
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		return a.handleKey(msg)
	}

	return a.updateFocused(msg)
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	mode := conversation.ModeWelcome
	if a.engine != nil {
		mode = a.engine.View().Mode
	}

	switch mode {
	case conversation.ModeStructured:
		return a.handleGuidedKey(msg)
	case conversation.ModeFreeform:
		return a.handleChatKey(msg)
	case conversation.ModeComplete, conversation.ModeScheduled:
		if msg.String() == "esc" || msg.String() == "enter" {
			a.engine.BackToWelcome()
			a.welcomeCursor = 0
		}
		return a, nil
	default:
		return a.handleWelcomeKey(msg)
	}
}

func (a App) handleWelcomeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if a.welcomeCursor > 0 {
			a.welcomeCursor--
		}
	case "down", "j":
		if a.welcomeCursor < 1 {
			a.welcomeCursor++
		}
	case "enter":
		if a.welcomeCursor == 0 {
			return a, a.startGuided()
		}
		a.engine.EnterFreeform()
		a.refreshChatView()
		a.input.Focus()
		return a, textarea.Blink
	}
	return a, nil
}

func (a App) handleGuidedKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	v := a.engine.View()

	if a.scheduleStep > 0 {
		return a.handleScheduleKey(msg)
	}

	if a.editingOther {
		switch msg.String() {
		case "enter":
			a.engine.SetOtherText(strings.TrimSpace(a.otherInput.Value()))
			a.editingOther = false
			return a, nil
		case "esc":
			a.editingOther = false
			return a, nil
		}
		var cmd tea.Cmd
		a.otherInput, cmd = a.otherInput.Update(msg)
		return a, cmd
	}

	options := effectiveOptions(v.Question)

	switch {
	case key.Matches(msg, a.keys.Up):
		if a.cursor > 0 {
			a.cursor--
		}
	case key.Matches(msg, a.keys.Down):
		if a.cursor < len(options)-1 {
			a.cursor++
		}
	case key.Matches(msg, a.keys.Toggle):
		if v.Question != nil && v.Question.Type == conversation.TypeMultipleChoice && a.cursor < len(options) {
			value := options[a.cursor].Value
			a.engine.ToggleMulti(value)
			if value == conversation.OtherValue && !containsOption(v.Selection.Multi, conversation.OtherValue) {
				return a.openOtherInput(v.Question)
			}
		}
	case key.Matches(msg, a.keys.Submit):
		if v.Question == nil {
			return a, nil
		}
		if v.Question.Type != conversation.TypeMultipleChoice && a.cursor < len(options) {
			value := options[a.cursor].Value
			a.engine.SelectSingle(value)
			if value == conversation.OtherValue {
				return a.openOtherInput(v.Question)
			}
		}
		if a.engine.CanSubmit() {
			return a, a.submitAnswer()
		}
	case key.Matches(msg, a.keys.Skip):
		return a, a.skipCategory()
	case key.Matches(msg, a.keys.Schedule):
		return a.openScheduleForm()
	case key.Matches(msg, a.keys.Freeform):
		a.engine.EnterFreeform()
		a.refreshChatView()
		a.input.Focus()
		return a, textarea.Blink
	case key.Matches(msg, a.keys.Back):
		a.engine.BackToWelcome()
		a.welcomeCursor = 0
	}
	return a, nil
}

// handleScheduleKey drives the call-back form. Enter stores the current
// field and advances; the last field submits. Esc abandons the form.
func (a App) handleScheduleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.scheduleStep = 0
		return a, nil
	case "enter":
		a.scheduleReply[a.scheduleStep-1] = strings.TrimSpace(a.scheduleInput.Value())
		if a.scheduleStep < len(scheduleFields) {
			a.scheduleStep++
			a.scheduleInput.Reset()
			a.scheduleInput.Placeholder = scheduleFields[a.scheduleStep-1].placeholder
			return a, nil
		}
		reply := a.scheduleReply
		a.scheduleStep = 0
		return a, a.scheduleLater(reply[0], reply[1], reply[2])
	}
	var cmd tea.Cmd
	a.scheduleInput, cmd = a.scheduleInput.Update(msg)
	return a, cmd
}

func (a App) openScheduleForm() (tea.Model, tea.Cmd) {
	a.scheduleStep = 1
	a.scheduleReply = [len(scheduleFields)]string{}
	a.scheduleInput.Reset()
	a.scheduleInput.Placeholder = scheduleFields[0].placeholder
	a.scheduleInput.Focus()
	return a, textinput.Blink
}

func (a App) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		text := strings.TrimSpace(a.input.Value())
		if !chat.ValidContent(text, a.maxLen) {
			return a, nil
		}
		a.input.Reset()
		return a, a.sendChat(text)
	case "ctrl+n":
		a.store.CreateSession()
		a.refreshChatView()
		return a, nil
	case "esc":
		a.engine.BackToWelcome()
		a.welcomeCursor = 0
		return a, nil
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a App) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if a.scheduleStep > 0 {
		a.scheduleInput, cmd = a.scheduleInput.Update(msg)
		return a, cmd
	}
	if a.editingOther {
		a.otherInput, cmd = a.otherInput.Update(msg)
		return a, cmd
	}
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a App) openOtherInput(q *conversation.Question) (tea.Model, tea.Cmd) {
	a.editingOther = true
	if q != nil && q.OtherPrompt != "" {
		a.otherInput.Placeholder = q.OtherPrompt
	}
	a.otherInput.Focus()
	return a, textinput.Blink
}

// --- Commands ---

func (a App) startGuided() tea.Cmd {
	eng := a.engine
	return func() tea.Msg {
		return engineDoneMsg{err: eng.Resume(context.Background())}
	}
}

func (a App) submitAnswer() tea.Cmd {
	eng := a.engine
	return func() tea.Msg {
		return engineDoneMsg{err: eng.Submit(context.Background())}
	}
}

func (a App) skipCategory() tea.Cmd {
	eng := a.engine
	return func() tea.Msg {
		return engineDoneMsg{err: eng.SkipCategory(context.Background())}
	}
}

func (a App) scheduleLater(phone, preferredTime, contactMethod string) tea.Cmd {
	eng := a.engine
	return func() tea.Msg {
		return engineDoneMsg{err: eng.ScheduleForLater(context.Background(), phone, preferredTime, contactMethod)}
	}
}

func (a App) sendChat(text string) tea.Cmd {
	st := a.store
	return func() tea.Msg {
		return chatDoneMsg{err: st.SendMessage(context.Background(), text)}
	}
}

// --- View ---

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	mode := conversation.ModeWelcome
	var v conversation.View
	if a.engine != nil {
		v = a.engine.View()
		mode = v.Mode
	}

	var body string
	switch mode {
	case conversation.ModeStructured:
		body = a.viewGuided(v)
	case conversation.ModeFreeform:
		body = a.viewChat()
	case conversation.ModeComplete:
		body = a.viewComplete(v)
	case conversation.ModeScheduled:
		body = a.viewScheduled()
	default:
		body = a.viewWelcome(v)
	}

	return lipgloss.JoinVertical(lipgloss.Left, body, a.renderStatusBar(v))
}

func (a App) viewWelcome(v conversation.View) string {
	var b strings.Builder
	b.WriteString(a.theme.TitleStyle.Render("Welcome") + "\n\n")
	b.WriteString("Tell us what you are looking for and we will match you with the right properties.\n\n")

	choices := []string{"Answer a few guided questions", "Just chat"}
	for i, c := range choices {
		if i == a.welcomeCursor {
			b.WriteString(a.theme.CursorStyle.Render("▶ "+c) + "\n")
		} else {
			b.WriteString(a.theme.OptionStyle.Render("  "+c) + "\n")
		}
	}

	if v.Err != "" {
		b.WriteString("\n" + a.theme.ErrorStyle.Render(v.Err))
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func (a App) viewGuided(v conversation.View) string {
	if a.scheduleStep > 0 {
		return a.viewScheduleForm(v)
	}

	var b strings.Builder

	if timeline := RenderTimeline(v.Timeline, a.theme); timeline != "" {
		b.WriteString(timeline + "\n\n")
	}
	if v.Progress.CurrentCategoryName != "" {
		badge := v.Progress.CurrentCategoryName
		if v.Progress.EstimatedRemaining > 0 {
			badge += fmt.Sprintf(" · ~%.0fm left", v.Progress.EstimatedRemaining)
		}
		b.WriteString(a.theme.TitleStyle.Render(badge) + "\n")
	}
	b.WriteString(RenderProgressLine(v.Progress, 24) + "\n\n")

	if v.Question == nil {
		b.WriteString(a.theme.MutedStyle.Render("Waiting for the next question..."))
		return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
	}

	b.WriteString(a.theme.QuestionStyle.Render(v.Question.Text) + "\n\n")

	for i, opt := range effectiveOptions(v.Question) {
		marker := "  "
		if isOptionSelected(v, opt.Value) {
			marker = "● "
		}
		label := marker + opt.Label
		if opt.Icon != "" {
			label = marker + opt.Icon + " " + opt.Label
		}

		switch {
		case i == a.cursor:
			b.WriteString(a.theme.CursorStyle.Render(label) + "\n")
		case isOptionSelected(v, opt.Value):
			b.WriteString(a.theme.SelectedStyle.Render(label) + "\n")
		default:
			b.WriteString(a.theme.OptionStyle.Render(label) + "\n")
		}
	}

	if a.editingOther {
		b.WriteString("\n" + a.otherInput.View() + "\n")
	} else if v.Selection.OtherText != "" {
		b.WriteString("\n" + a.theme.SelectedStyle.Render("Other: "+v.Selection.OtherText) + "\n")
	}

	if v.Err != "" {
		b.WriteString("\n" + a.theme.ErrorStyle.Render(v.Err))
	}
	b.WriteString("\n" + a.theme.MutedStyle.Render("enter select · space toggle · ctrl+s skip · ctrl+l call back · ctrl+f chat · esc back"))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

// viewScheduleForm renders the call-back form over the structured screen.
func (a App) viewScheduleForm(v conversation.View) string {
	var b strings.Builder
	b.WriteString(a.theme.TitleStyle.Render("Schedule a call back") + "\n\n")
	b.WriteString("Prefer to finish later? Leave your details and an advisor will reach out.\n\n")

	for i, f := range scheduleFields {
		switch {
		case i < a.scheduleStep-1:
			b.WriteString(a.theme.SelectedStyle.Render("✓ "+f.label+": "+a.scheduleReply[i]) + "\n")
		case i == a.scheduleStep-1:
			b.WriteString(a.theme.QuestionStyle.Render(f.label) + "\n")
			b.WriteString(a.scheduleInput.View() + "\n")
		default:
			b.WriteString(a.theme.MutedStyle.Render("  "+f.label) + "\n")
		}
	}

	if v.Err != "" {
		b.WriteString("\n" + a.theme.ErrorStyle.Render(v.Err))
	}
	b.WriteString("\n" + a.theme.MutedStyle.Render("enter next · esc cancel"))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func (a App) viewChat() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		a.chatView.View(),
		a.theme.InputStyle.Width(a.width).Render(a.input.View()),
	)
}

func (a App) viewComplete(v conversation.View) string {
	var b strings.Builder
	b.WriteString(a.theme.SuccessStyle.Render("✓ All done, thank you!") + "\n\n")
	if v.Categorization != nil {
		b.WriteString(fmt.Sprintf("Match score: %.0f\n", v.Categorization.LeadScore))
		if v.Categorization.BuyerType.Label != "" {
			b.WriteString("Profile: " + v.Categorization.BuyerType.Label + "\n")
		}
	}
	b.WriteString("\n" + a.theme.MutedStyle.Render("An advisor will reach out shortly. Press enter to go back."))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func (a App) viewScheduled() string {
	var b strings.Builder
	b.WriteString(a.theme.SuccessStyle.Render("✓ We will contact you at your preferred time.") + "\n\n")
	b.WriteString(a.theme.MutedStyle.Render("Press enter to go back."))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func (a App) renderStatusBar(v conversation.View) string {
	left := " intake"
	if a.store != nil {
		if sess, ok := a.store.CurrentSession(); ok {
			left = " " + chat.Truncate(sess.Title, 32)
		}
	}

	right := ""
	switch {
	case v.IsLoading:
		right = "working… "
	case a.store != nil && a.store.State().IsLoading:
		right = "sending… "
	}

	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return a.theme.StatusBarStyle.Width(a.width).Render(left + strings.Repeat(" ", gap) + right)
}

// --- 内部方法 / Internal methods ---

func (a *App) relayout() {
	chatHeight := a.height - 6
	if chatHeight < 3 {
		chatHeight = 3
	}
	a.chatView = viewport.New(a.width, chatHeight)
	a.input.SetWidth(a.width - 4)
	a.refreshChatView()
}

// refreshChatView 重建自由聊天面板内容
// refreshChatView rebuilds the freeform chat transcript
func (a *App) refreshChatView() {
	if a.store == nil {
		return
	}
	sess, ok := a.store.CurrentSession()
	if !ok {
		return
	}

	var b strings.Builder
	for _, msg := range sess.Messages {
		switch msg.Role {
		case chat.RoleUser:
			stamp := a.theme.MutedStyle.Render(chat.FormatMessageTime(msg.Timestamp))
			b.WriteString(a.theme.UserMsgStyle.Render("You") + " " + stamp + "  " + msg.Content + "\n")
			if msg.Status == chat.StatusError && msg.Error != "" {
				b.WriteString(a.theme.ErrorStyle.Render("  ✗ "+msg.Error) + "\n")
			} else if msg.Status == chat.StatusSending {
				b.WriteString(a.theme.MutedStyle.Render("  …") + "\n")
			}
		case chat.RoleAssistant:
			content := msg.Content
			if msg.Status == chat.StatusSending && content == "" {
				content = "…"
			} else if a.markdown {
				content = RenderMarkdown(content, a.width-4)
			}
			b.WriteString(content + "\n")
		}
		b.WriteString("\n")
	}

	a.chatView.SetContent(b.String())
	a.chatView.GotoBottom()
}

// effectiveOptions 在 has_other 时补一个 other 选项
// effectiveOptions appends a synthetic other option when has_other is set
func effectiveOptions(q *conversation.Question) []conversation.Option {
	if q == nil {
		return nil
	}
	for _, opt := range q.Options {
		if opt.Value == conversation.OtherValue {
			return q.Options
		}
	}
	if !q.HasOther {
		return q.Options
	}
	label := q.OtherPrompt
	if label == "" {
		label = "Other"
	}
	out := append([]conversation.Option(nil), q.Options...)
	return append(out, conversation.Option{Label: label, Value: conversation.OtherValue})
}

func isOptionSelected(v conversation.View, value string) bool {
	if v.Question != nil && v.Question.Type == conversation.TypeMultipleChoice {
		return containsOption(v.Selection.Multi, value)
	}
	return v.Selection.Single == value
}

func containsOption(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}

// Run 启动 Bubble Tea TUI
// Run starts the Bubble Tea TUI application
func Run(st *store.Store, eng *conversation.Engine, markdown bool, maxLen int) error {
	app := NewApp(st, eng, markdown, maxLen)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
