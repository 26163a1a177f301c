package tui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"intake/internal/api"
	"intake/internal/config"
	"intake/internal/conversation"
)

func newGuidedApp(t *testing.T) App {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversation/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(conversation.State{
			SessionID: "conv-1",
			CurrentQuestion: &conversation.Question{
				ID:   "q1",
				Text: "What type of property?",
				Type: conversation.TypeSingleChoice,
				Options: []conversation.Option{
					{Label: "Villa", Value: "villa"},
					{Label: "Apartment", Value: "apartment"},
				},
				HasOther: true,
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default().API
	cfg.BaseURL = srv.URL
	cfg.RetryAttempts = 1
	eng := conversation.NewEngine(conversation.NewService(api.NewClient(cfg, nil)))
	if err := eng.Start(context.Background(), false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	app := NewApp(nil, eng, false, 2000)
	app.width, app.height = 100, 30
	app.relayout()
	return app
}

func TestAppUpdate_WelcomeNavigation(t *testing.T) {
	app := NewApp(nil, conversation.NewEngine(nil), false, 2000)
	app.width, app.height = 100, 30
	app.relayout()

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyDown})
	updated := m.(App)
	if updated.welcomeCursor != 1 {
		t.Fatalf("welcome cursor = %d, want 1", updated.welcomeCursor)
	}

	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyUp})
	updated = m.(App)
	if updated.welcomeCursor != 0 {
		t.Fatalf("welcome cursor = %d, want 0", updated.welcomeCursor)
	}
}

func TestAppUpdate_GuidedSelection(t *testing.T) {
	app := newGuidedApp(t)

	// 向下移动并选择第二项 / move down and pick the second option
	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyDown})
	updated := m.(App)
	if updated.cursor != 1 {
		t.Fatalf("cursor = %d, want 1", updated.cursor)
	}

	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyEnter})
	updated = m.(App)
	if sel := updated.engine.View().Selection; sel.Single != "apartment" {
		t.Fatalf("selection = %+v, want apartment", sel)
	}
}

func TestAppUpdate_OtherOpensTextInput(t *testing.T) {
	app := newGuidedApp(t)

	// other 是 has_other 补出的第三项 / other is the synthetic third option
	app.cursor = 2
	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	updated := m.(App)
	if !updated.editingOther {
		t.Fatal("selecting other should open the text input")
	}
	if sel := updated.engine.View().Selection; sel.Single != conversation.OtherValue {
		t.Fatalf("selection = %+v, want other", sel)
	}
}

func TestAppView_GuidedScreen(t *testing.T) {
	app := newGuidedApp(t)
	out := app.View()
	if !strings.Contains(out, "What type of property?") {
		t.Fatalf("view missing question text:\n%s", out)
	}
	if !strings.Contains(out, "Villa") || !strings.Contains(out, "Apartment") {
		t.Fatalf("view missing options:\n%s", out)
	}
}

func TestAppView_WelcomeScreen(t *testing.T) {
	app := NewApp(nil, conversation.NewEngine(nil), false, 2000)
	app.width, app.height = 100, 30
	app.relayout()

	out := app.View()
	if !strings.Contains(out, "guided questions") {
		t.Fatalf("welcome view missing guided choice:\n%s", out)
	}
}

func TestAppUpdate_ScheduleFormCollectsAndSubmits(t *testing.T) {
	var got conversation.ScheduleRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversation/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(conversation.State{
			SessionID: "conv-1",
			CurrentQuestion: &conversation.Question{
				ID:      "q1",
				Text:    "What type of property?",
				Type:    conversation.TypeSingleChoice,
				Options: []conversation.Option{{Label: "Villa", Value: "villa"}},
			},
		})
	})
	mux.HandleFunc("/api/conversation/schedule-later", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode schedule request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"scheduled"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default().API
	cfg.BaseURL = srv.URL
	cfg.RetryAttempts = 1
	eng := conversation.NewEngine(conversation.NewService(api.NewClient(cfg, nil)))
	if err := eng.Start(context.Background(), false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	app := NewApp(nil, eng, false, 2000)
	app.width, app.height = 100, 30
	app.relayout()

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	a := m.(App)
	if a.scheduleStep != 1 {
		t.Fatalf("scheduleStep = %d, want 1 after ctrl+l", a.scheduleStep)
	}
	if out := a.View(); !strings.Contains(out, "Schedule a call back") {
		t.Fatalf("form not rendered:\n%s", out)
	}

	var submit tea.Cmd
	for _, field := range []string{"0501234567", "evening", "whatsapp"} {
		m, _ = a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(field)})
		a = m.(App)
		m, submit = a.Update(tea.KeyMsg{Type: tea.KeyEnter})
		a = m.(App)
	}
	if a.scheduleStep != 0 {
		t.Fatalf("scheduleStep = %d, want 0 after last field", a.scheduleStep)
	}
	if submit == nil {
		t.Fatal("last field should produce a submit command")
	}
	if _, ok := submit().(engineDoneMsg); !ok {
		t.Fatal("submit command should yield an engine message")
	}

	if got.SessionID != "conv-1" || got.PhoneNumber != "0501234567" ||
		got.PreferredTime != "evening" || got.ContactMethod != "whatsapp" {
		t.Fatalf("schedule request = %+v", got)
	}
	if mode := eng.View().Mode; mode != conversation.ModeScheduled {
		t.Fatalf("mode = %s, want %s", mode, conversation.ModeScheduled)
	}
}

func TestAppUpdate_ScheduleFormEscCancels(t *testing.T) {
	app := newGuidedApp(t)

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	a := m.(App)
	m, _ = a.Update(tea.KeyMsg{Type: tea.KeyEsc})
	a = m.(App)
	if a.scheduleStep != 0 {
		t.Fatalf("scheduleStep = %d, want 0 after esc", a.scheduleStep)
	}
	if mode := a.engine.View().Mode; mode != conversation.ModeStructured {
		t.Fatalf("mode = %s, want %s", mode, conversation.ModeStructured)
	}
}
