package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"intake/internal/api"
	"intake/internal/chat"
	"intake/internal/conversation"
	"intake/internal/store"
	"intake/internal/tui"
)

// ANSI colors for the prompt and transcript.
const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[90m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
	ansiRed    = "\x1b[31m"
	ansiBold   = "\x1b[1m"
)

// Loop holds REPL state: the chat store, the guided-flow engine, and the
// line editor.
// Loop 持有 REPL 状态：聊天 store、引导流程引擎与行编辑器。
type Loop struct {
	store    *store.Store
	engine   *conversation.Engine
	client   *api.Client
	rl       *readline.Instance
	out      io.Writer
	markdown bool
	maxLen   int
	colored  bool
}

// New builds a REPL loop with history persisted to historyPath.
func New(st *store.Store, eng *conversation.Engine, client *api.Client, historyPath string, markdown bool, maxLen int) (*Loop, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyPath,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return nil, fmt.Errorf("init line editor: %w", err)
	}

	return &Loop{
		store:    st,
		engine:   eng,
		client:   client,
		rl:       rl,
		out:      os.Stdout,
		markdown: markdown,
		maxLen:   maxLen,
		colored:  term.IsTerminal(int(os.Stdout.Fd())),
	}, nil
}

func (l *Loop) Close() error { return l.rl.Close() }

// Run runs the REPL until exit or EOF.
func (l *Loop) Run(ctx context.Context) error {
	fmt.Fprintln(l.out, l.colorize(ansiBold, "intake")+" · type /help for commands, /guided for the questionnaire")
	if !l.client.HealthCheck(ctx) {
		fmt.Fprintln(l.out, l.colorize(ansiYellow, "warning: server unreachable, messages will be retried"))
	}

	for {
		line, err := l.rl.Readline()
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(l.out, "bye")
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			exit, err := l.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintln(l.out, l.colorize(ansiRed, err.Error()))
			}
			if exit {
				return nil
			}
			continue
		}

		l.sendChat(ctx, input)
	}
}

func (l *Loop) handleCommand(ctx context.Context, input string) (exit bool, err error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		l.printHelp()
	case "/new":
		sess := l.store.CreateSession()
		fmt.Fprintf(l.out, "started %s\n", sess.ID)
	case "/sessions":
		l.printSessions()
	case "/switch":
		if len(fields) < 2 {
			return false, errors.New("usage: /switch <number>")
		}
		return false, l.switchSession(fields[1])
	case "/delete":
		if len(fields) < 2 {
			return false, errors.New("usage: /delete <number>")
		}
		return false, l.deleteSession(fields[1])
	case "/clear":
		l.store.ClearAllSessions()
		fmt.Fprintln(l.out, "all sessions cleared")
	case "/history":
		l.printHistory(ctx)
	case "/guided":
		l.runGuided(ctx)
	case "/schedule":
		l.runSchedule(ctx)
	case "/timeline":
		return false, l.printTimeline(ctx)
	case "/summary":
		return false, l.printSummary(ctx)
	case "/health":
		if l.client.HealthCheck(ctx) {
			fmt.Fprintln(l.out, l.colorize(ansiGreen, "server ok"))
		} else {
			fmt.Fprintln(l.out, l.colorize(ansiRed, "server unreachable"))
		}
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func (l *Loop) printHelp() {
	fmt.Fprint(l.out, `/new        start a new chat session
/sessions   list sessions
/switch N   switch to session N
/delete N   delete session N
/clear      delete all sessions
/history    show server-side transcript for this session
/guided     run the guided questionnaire
/schedule   schedule a call back instead
/timeline   refresh and show questionnaire progress
/summary    show the collected answers summary
/health     check server reachability
/exit       quit
`)
}

// printTimeline refetches category progress from the server and prints it.
func (l *Loop) printTimeline(ctx context.Context) error {
	if err := l.engine.RefreshTimeline(ctx); err != nil {
		if errors.Is(err, conversation.ErrNotStarted) {
			return errors.New("start the questionnaire first (/guided)")
		}
		return err
	}
	v := l.engine.View()
	for _, cat := range v.Timeline {
		marker := "○"
		switch cat.Status {
		case conversation.CategoryCompleted:
			marker = l.colorize(ansiGreen, "✓")
		case conversation.CategoryActive:
			marker = l.colorize(ansiCyan, "▶")
		case conversation.CategorySkipped:
			marker = l.colorize(ansiDim, "–")
		}
		label := cat.Name
		if cat.IsOptional {
			label += " (optional)"
		}
		fmt.Fprintf(l.out, "%s %s\n", marker, label)
	}
	fmt.Fprintf(l.out, "%s\n", l.colorize(ansiDim, fmt.Sprintf("%.0f%% complete", v.Progress.PercentageComplete)))
	return nil
}

// printSummary prints the server-side summary of answers collected so far.
func (l *Loop) printSummary(ctx context.Context) error {
	data, err := l.engine.Summary(ctx)
	if err != nil {
		if errors.Is(err, conversation.ErrNotStarted) {
			return errors.New("start the questionnaire first (/guided)")
		}
		return err
	}
	fmt.Fprintln(l.out, string(data))
	return nil
}

func (l *Loop) sendChat(ctx context.Context, text string) {
	if !chat.ValidContent(text, l.maxLen) {
		fmt.Fprintln(l.out, l.colorize(ansiYellow, fmt.Sprintf("message must be non-empty and at most %d characters", l.maxLen)))
		return
	}
	if err := l.store.SendMessage(ctx, text); err != nil {
		st := l.store.State()
		if st.Err != "" {
			fmt.Fprintln(l.out, l.colorize(ansiRed, st.Err))
		} else {
			fmt.Fprintln(l.out, l.colorize(ansiRed, err.Error()))
		}
		return
	}

	sess, ok := l.store.CurrentSession()
	if !ok || len(sess.Messages) == 0 {
		return
	}
	last := sess.Messages[len(sess.Messages)-1]
	if last.Role != chat.RoleAssistant {
		return
	}
	content := last.Content
	if l.markdown {
		content = tui.RenderMarkdown(content, 100)
	}
	fmt.Fprintln(l.out, content)
}

func (l *Loop) printSessions() {
	st := l.store.State()
	for i, sess := range st.Sessions {
		marker := "  "
		if sess.ID == st.CurrentID {
			marker = l.colorize(ansiCyan, "* ")
		}
		fmt.Fprintf(l.out, "%s%2d  %s  %s\n",
			marker, i+1, padCell(sess.Title, 40),
			l.colorize(ansiDim, fmt.Sprintf("%d messages", len(sess.Messages))))
	}
}

func (l *Loop) switchSession(arg string) error {
	sess, err := l.sessionByIndex(arg)
	if err != nil {
		return err
	}
	l.store.SetCurrentSession(sess.ID)
	fmt.Fprintf(l.out, "switched to %s\n", chat.Truncate(sess.Title, 40))
	return nil
}

func (l *Loop) deleteSession(arg string) error {
	sess, err := l.sessionByIndex(arg)
	if err != nil {
		return err
	}
	l.store.DeleteSession(sess.ID)
	fmt.Fprintln(l.out, "deleted")
	return nil
}

func (l *Loop) sessionByIndex(arg string) (chat.Session, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return chat.Session{}, fmt.Errorf("not a session number: %q", arg)
	}
	sessions := l.store.State().Sessions
	if n < 1 || n > len(sessions) {
		return chat.Session{}, fmt.Errorf("session %d out of range (1-%d)", n, len(sessions))
	}
	return sessions[n-1], nil
}

func (l *Loop) printHistory(ctx context.Context) {
	sess, ok := l.store.CurrentSession()
	if !ok {
		return
	}
	entries, err := l.client.ChatHistory(ctx, sess.ID)
	if err != nil {
		fmt.Fprintln(l.out, l.colorize(ansiRed, "history unavailable: "+err.Error()))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(l.out, "%s %s\n", l.colorize(ansiDim, padCell(e.Role, 10)), e.Message)
	}
}

func (l *Loop) colorize(code, s string) string {
	if !l.colored {
		return s
	}
	return code + s + ansiReset
}
