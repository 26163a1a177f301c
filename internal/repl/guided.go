package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"intake/internal/conversation"
)

// runGuided drives the guided questionnaire in line mode. Each iteration
// prints the timeline, the active question, and its numbered options, then
// reads one answer line.
// runGuided 以行模式驱动引导式问卷：打印时间线与当前问题，读取一行作答。
func (l *Loop) runGuided(ctx context.Context) {
	if err := l.engine.Resume(ctx); err != nil {
		l.printEngineError()
		return
	}

	for {
		v := l.engine.View()
		switch v.Mode {
		case conversation.ModeComplete:
			l.printCompletion(v)
			return
		case conversation.ModeScheduled, conversation.ModeWelcome, conversation.ModeFreeform:
			return
		}
		if v.Question == nil {
			return
		}

		l.printQuestion(v)

		line, err := l.rl.ReadlineWithDefault("")
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				l.engine.BackToWelcome()
				return
			}
			fmt.Fprintln(l.out, l.colorize(ansiRed, err.Error()))
			return
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "b", "back":
			l.engine.BackToWelcome()
			return
		case "s", "skip":
			if err := l.engine.SkipCategory(ctx); err != nil {
				if errors.Is(err, conversation.ErrCategoryRequired) {
					fmt.Fprintln(l.out, l.colorize(ansiYellow, "this category is required"))
					continue
				}
				l.printEngineError()
			}
			continue
		case "n", "note":
			note, err := l.promptLine("note: ")
			if err != nil || note == "" {
				continue
			}
			if err := l.engine.AddCategoryNote(ctx, note); err != nil {
				fmt.Fprintln(l.out, l.colorize(ansiRed, "could not save the note"))
			} else {
				fmt.Fprintln(l.out, l.colorize(ansiGreen, "note saved"))
			}
			continue
		}

		if !l.applyAnswer(v, input) {
			continue
		}
		if err := l.engine.Submit(ctx); err != nil {
			if errors.Is(err, conversation.ErrNoSelection) {
				fmt.Fprintln(l.out, l.colorize(ansiYellow, "pick at least one option"))
				continue
			}
			l.printEngineError()
		}
	}
}

// applyAnswer translates a line like "2" or "1,3" into selection intents.
// Choosing the other option prompts for free text.
func (l *Loop) applyAnswer(v conversation.View, input string) bool {
	options := optionsFor(v.Question)

	if v.Question.Type == conversation.TypeTextInput {
		l.engine.SetOtherText(input)
		return true
	}

	picked := make([]conversation.Option, 0, 2)
	for _, part := range strings.Split(input, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > len(options) {
			fmt.Fprintf(l.out, "%s\n", l.colorize(ansiYellow, fmt.Sprintf("answer with option numbers 1-%d", len(options))))
			return false
		}
		picked = append(picked, options[n-1])
	}
	if len(picked) == 0 {
		return false
	}
	if v.Question.Type != conversation.TypeMultipleChoice && len(picked) > 1 {
		fmt.Fprintln(l.out, l.colorize(ansiYellow, "this question takes a single answer"))
		return false
	}

	needsText := false
	for _, opt := range picked {
		if v.Question.Type == conversation.TypeMultipleChoice {
			l.engine.ToggleMulti(opt.Value)
		} else {
			l.engine.SelectSingle(opt.Value)
		}
		if opt.Value == conversation.OtherValue {
			needsText = true
		}
	}

	if needsText {
		prompt := v.Question.OtherPrompt
		if prompt == "" {
			prompt = "Tell us more"
		}
		fmt.Fprintln(l.out, l.colorize(ansiDim, prompt))
		line, err := l.rl.ReadlineWithDefault("")
		if err != nil {
			return false
		}
		l.engine.SetOtherText(strings.TrimSpace(line))
	}
	return true
}

func (l *Loop) printQuestion(v conversation.View) {
	fmt.Fprintln(l.out)
	for _, cat := range v.Timeline {
		switch cat.Status {
		case conversation.CategoryCompleted:
			fmt.Fprint(l.out, l.colorize(ansiGreen, "✓"+cat.Name+" "))
		case conversation.CategoryActive:
			fmt.Fprint(l.out, l.colorize(ansiBold, "▶"+cat.Name+" "))
		case conversation.CategorySkipped:
			fmt.Fprint(l.out, l.colorize(ansiDim, "–"+cat.Name+" "))
		default:
			fmt.Fprint(l.out, l.colorize(ansiDim, "○"+cat.Name+" "))
		}
	}
	fmt.Fprintf(l.out, "\n%s\n\n", l.colorize(ansiDim, fmt.Sprintf("%.0f%% complete", v.Progress.PercentageComplete)))

	fmt.Fprintln(l.out, l.colorize(ansiBold, v.Question.Text))
	for i, opt := range optionsFor(v.Question) {
		marker := " "
		if selectedInView(v, opt.Value) {
			marker = l.colorize(ansiCyan, "●")
		}
		label := opt.Label
		if opt.Icon != "" {
			label = opt.Icon + " " + label
		}
		fmt.Fprintf(l.out, "%s %2d) %s\n", marker, i+1, label)
	}

	hints := []string{"number to answer"}
	if v.Question.Type == conversation.TypeMultipleChoice {
		hints[0] = "numbers to answer (e.g. 1,3)"
	}
	if cat, ok := activeCategory(v); ok && cat.IsOptional {
		hints = append(hints, "s to skip")
	}
	hints = append(hints, "n to add a note", "b to go back")
	fmt.Fprintln(l.out, l.colorize(ansiDim, strings.Join(hints, " · ")))
}

func (l *Loop) printCompletion(v conversation.View) {
	fmt.Fprintln(l.out, l.colorize(ansiGreen, "✓ All done, thank you!"))
	if v.Categorization != nil {
		fmt.Fprintf(l.out, "match score %.0f", v.Categorization.LeadScore)
		if v.Categorization.BuyerType.Label != "" {
			fmt.Fprintf(l.out, " · %s", v.Categorization.BuyerType.Label)
		}
		fmt.Fprintln(l.out)
	}
}

// runSchedule collects contact details and asks the server to call back.
func (l *Loop) runSchedule(ctx context.Context) {
	phone, err := l.promptLine("phone number: ")
	if err != nil {
		return
	}
	when, err := l.promptLine("preferred time (morning/afternoon/evening): ")
	if err != nil {
		return
	}
	method, err := l.promptLine("contact method (phone/whatsapp/email): ")
	if err != nil {
		return
	}

	if err := l.engine.ScheduleForLater(ctx, phone, when, method); err != nil {
		l.printEngineError()
		return
	}
	fmt.Fprintln(l.out, l.colorize(ansiGreen, "✓ We will contact you at your preferred time."))
}

func (l *Loop) promptLine(prompt string) (string, error) {
	l.rl.SetPrompt(prompt)
	defer l.rl.SetPrompt("> ")
	line, err := l.rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (l *Loop) printEngineError() {
	if msg := l.engine.View().Err; msg != "" {
		fmt.Fprintln(l.out, l.colorize(ansiRed, msg))
	}
}

func optionsFor(q *conversation.Question) []conversation.Option {
	if q == nil {
		return nil
	}
	opts := q.Options
	for _, opt := range opts {
		if opt.Value == conversation.OtherValue {
			return opts
		}
	}
	if !q.HasOther {
		return opts
	}
	label := q.OtherPrompt
	if label == "" {
		label = "Other"
	}
	out := append([]conversation.Option(nil), opts...)
	return append(out, conversation.Option{Label: label, Value: conversation.OtherValue})
}

func selectedInView(v conversation.View, value string) bool {
	if v.Question != nil && v.Question.Type == conversation.TypeMultipleChoice {
		for _, m := range v.Selection.Multi {
			if m == value {
				return true
			}
		}
		return false
	}
	return v.Selection.Single == value
}

func activeCategory(v conversation.View) (conversation.TimelineCategory, bool) {
	for _, cat := range v.Timeline {
		if cat.ID == v.Progress.CurrentCategory {
			return cat, true
		}
	}
	return conversation.TimelineCategory{}, false
}
