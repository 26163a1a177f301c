package conversation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Mode is the client-observed flow mode. Transitions come only from applying
// server responses; the client never infers them.
type Mode string

const (
	ModeWelcome    Mode = "welcome"
	ModeStructured Mode = "structured"
	ModeFreeform   Mode = "freeform"
	ModeComplete   Mode = "complete"
	ModeScheduled  Mode = "scheduled"
)

// Stable user-facing messages for network-origin failures.
const (
	msgStartFailed    = "Failed to start conversation. Please try again."
	msgAnswerFailed   = "Failed to submit answer. Please try again."
	msgNoNextQuestion = "Unable to get next question. Please try again."
	msgSkipFailed     = "Failed to skip category."
	msgScheduleFailed = "Failed to schedule. Please try again."
)

// ErrProtocol marks a well-formed response that violates the flow contract:
// an answer submission returning neither a next question nor completion.
var ErrProtocol = errors.New("conversation: response has neither next question nor completion")

// ErrNoSelection is the local validation failure: nothing chosen, no network
// I/O happened.
var ErrNoSelection = errors.New("conversation: no answer selected")

// ErrCategoryRequired rejects skipping a category that is not optional.
var ErrCategoryRequired = errors.New("conversation: current category is not optional")

// ErrNotStarted rejects flow operations before Start succeeded.
var ErrNotStarted = errors.New("conversation: flow not started")

// Selection is the in-progress answer state for the active question.
type Selection struct {
	Single    string
	Multi     []string
	OtherText string
}

// View is a consistent snapshot for presentation consumers.
type View struct {
	Mode           Mode
	SessionID      string
	Question       *Question
	Timeline       []TimelineCategory
	Progress       Progress
	Selection      Selection
	Categorization *Categorization
	IsLoading      bool
	Err            string
}

// Engine 驱动引导式问卷：状态机的权威状态在服务端，客户端只应用响应
// Engine drives the guided questionnaire. Authoritative state lives on the
// server; the engine replaces its copy wholesale on every round trip.
type Engine struct {
	mu  sync.Mutex
	svc *Service

	// fallbackSession resolves a chat session id when scheduling before the
	// questionnaire ever started. May be nil.
	fallbackSession func() string

	mode      Mode
	state     *State
	responses map[string]Response
	selection Selection
	isLoading bool
	err       string

	// generation 请求代次令牌：过期代次的响应被丢弃
	// generation is the request-generation token; responses from stale
	// generations are discarded instead of applied.
	generation uint64
}

func NewEngine(svc *Service) *Engine {
	return &Engine{
		svc:       svc,
		mode:      ModeWelcome,
		responses: map[string]Response{},
	}
}

// SetChatSessionFallback wires the chat-session id used by ScheduleForLater
// when no conversation exists yet.
func (e *Engine) SetChatSessionFallback(fn func() string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallbackSession = fn
}

// View returns a copy of the observable engine state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := View{
		Mode:      e.mode,
		Selection: cloneSelection(e.selection),
		IsLoading: e.isLoading,
		Err:       e.err,
	}
	if e.state != nil {
		v.SessionID = e.state.SessionID
		v.Question = e.state.Question
		v.Timeline = append([]TimelineCategory(nil), e.state.Timeline...)
		v.Progress = e.state.Progress
		v.Categorization = e.state.Categorization
	}
	return v
}

// Start begins the guided flow. With reuse, the existing conversation id is
// kept so prior responses survive; otherwise a fresh id is minted. On
// failure the engine stays in welcome with a user-visible error.
func (e *Engine) Start(ctx context.Context, reuse bool) error {
	e.mu.Lock()
	if e.isLoading {
		e.mu.Unlock()
		return nil
	}
	gen := e.bumpLocked()
	e.isLoading = true
	e.err = ""
	e.selection = Selection{}

	sessionID := ""
	if reuse && e.state != nil {
		sessionID = e.state.SessionID
	}
	if sessionID == "" {
		sessionID = newConversationID()
		e.responses = map[string]Response{}
	}
	e.mu.Unlock()

	st, err := e.svc.Start(ctx, sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return nil
	}
	e.isLoading = false
	if err != nil {
		e.err = msgStartFailed
		return err
	}

	normalizeQuestion(st)
	e.adoptLocked(st, sessionID)
	e.mode = ModeStructured
	e.applySelectionLocked()
	return nil
}

// Resume re-enters the guided flow. With a live conversation the active
// question is re-fetched without restarting; otherwise this is a fresh
// Start.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.isLoading {
		e.mu.Unlock()
		return nil
	}
	if e.state == nil || e.state.SessionID == "" {
		e.mu.Unlock()
		return e.Start(ctx, true)
	}
	gen := e.bumpLocked()
	e.isLoading = true
	e.err = ""
	sessionID := e.state.SessionID
	e.mu.Unlock()

	st, err := e.svc.CurrentQuestion(ctx, sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return nil
	}
	e.isLoading = false
	if err != nil {
		e.err = msgStartFailed
		return err
	}

	normalizeQuestion(st)
	e.adoptLocked(st, sessionID)
	e.mode = ModeStructured
	e.applySelectionLocked()
	return nil
}

// CanSubmit reports whether the current selection is submittable. A false
// result is surfaced as a disabled action, never as an error message.
func (e *Engine) CanSubmit() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canSubmitLocked()
}

func (e *Engine) canSubmitLocked() bool {
	if e.state == nil || e.state.Question == nil || e.isLoading {
		return false
	}
	sel := e.selection
	switch e.state.Question.Type {
	case TypeMultipleChoice:
		if len(sel.Multi) == 0 {
			return false
		}
		if containsValue(sel.Multi, OtherValue) && strings.TrimSpace(sel.OtherText) == "" {
			return false
		}
		return true
	case TypeTextInput:
		return strings.TrimSpace(sel.OtherText) != ""
	default:
		if sel.Single == "" {
			return false
		}
		if sel.Single == OtherValue && strings.TrimSpace(sel.OtherText) == "" {
			return false
		}
		return true
	}
}

// Submit shapes the current selection into an answer and submits it. When
// "other" is among the choices the free text joins (multiple choice) or
// replaces (single choice) the fixed values.
func (e *Engine) Submit(ctx context.Context) error {
	e.mu.Lock()
	if e.state == nil || e.state.Question == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if !e.canSubmitLocked() {
		busy := e.isLoading
		e.mu.Unlock()
		if busy {
			return nil
		}
		return ErrNoSelection
	}

	var (
		answer    any
		isOther   bool
		otherText = e.selection.OtherText
	)
	switch e.state.Question.Type {
	case TypeMultipleChoice:
		isOther = containsValue(e.selection.Multi, OtherValue)
		values := make([]string, 0, len(e.selection.Multi))
		for _, v := range e.selection.Multi {
			if v != OtherValue {
				values = append(values, v)
			}
		}
		if isOther {
			answer = append(values, otherText)
		} else {
			answer = values
		}
	case TypeTextInput:
		answer = strings.TrimSpace(otherText)
	default:
		isOther = e.selection.Single == OtherValue
		if isOther {
			answer = otherText
		} else {
			answer = e.selection.Single
		}
	}
	e.mu.Unlock()

	return e.SubmitAnswer(ctx, answer, isOther, otherText)
}

// SubmitAnswer posts an answer for the active question and applies the
// replacement state: a next question continues the flow, a complete status
// finishes it, anything else is a protocol violation that leaves state
// untouched.
func (e *Engine) SubmitAnswer(ctx context.Context, answer any, isOther bool, otherText string) error {
	e.mu.Lock()
	if e.isLoading {
		e.mu.Unlock()
		return nil
	}
	if e.state == nil || e.state.Question == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	gen := e.bumpLocked()
	e.isLoading = true
	e.err = ""
	questionID := e.state.Question.ID
	req := AnswerRequest{
		SessionID:  e.state.SessionID,
		QuestionID: questionID,
		Answer:     answer,
		IsOther:    isOther,
		OtherText:  otherText,
	}
	e.mu.Unlock()

	st, err := e.svc.SubmitAnswer(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return nil
	}
	e.isLoading = false
	if err != nil {
		e.err = msgAnswerFailed
		return err
	}

	// 本地缓存答案，供重访同一问题时回填 / cache the answer for revisits
	e.responses[questionID] = Response{Value: answer, IsOther: isOther, OtherText: otherText}

	switch {
	case st.NextQuestion != nil:
		st.Question = st.NextQuestion
		e.adoptLocked(st, req.SessionID)
		e.selection = Selection{}
		e.applySelectionLocked()
	case st.Status == StatusComplete:
		e.adoptLocked(st, req.SessionID)
		e.mode = ModeComplete
		e.selection = Selection{}
	default:
		e.err = msgNoNextQuestion
		return ErrProtocol
	}
	return nil
}

// SkipCategory skips the active category. Only optional categories may be
// skipped; the check is local and costs no network round trip.
func (e *Engine) SkipCategory(ctx context.Context) error {
	e.mu.Lock()
	if e.isLoading {
		e.mu.Unlock()
		return nil
	}
	if e.state == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	cat, ok := e.state.ActiveCategory()
	if !ok || !cat.IsOptional {
		e.mu.Unlock()
		return ErrCategoryRequired
	}
	gen := e.bumpLocked()
	e.isLoading = true
	e.err = ""
	sessionID := e.state.SessionID
	e.mu.Unlock()

	st, err := e.svc.SkipCategory(ctx, sessionID, cat.ID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return nil
	}
	e.isLoading = false
	if err != nil {
		e.err = msgSkipFailed
		return err
	}

	normalizeQuestion(st)
	e.adoptLocked(st, sessionID)
	if st.Status == StatusComplete {
		e.mode = ModeComplete
	}
	e.selection = Selection{}
	e.applySelectionLocked()
	return nil
}

// AddCategoryNote attaches a note to the active category. The call does not
// alter question or progress state.
func (e *Engine) AddCategoryNote(ctx context.Context, note string) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	sessionID := e.state.SessionID
	categoryID := e.state.Progress.CurrentCategory
	e.mu.Unlock()

	return e.svc.AddCategoryNote(ctx, sessionID, categoryID, note)
}

// ScheduleForLater suspends the flow in favor of a later contact. It works
// before the questionnaire starts too, falling back to the chat session id
// and then to a synthetic one.
func (e *Engine) ScheduleForLater(ctx context.Context, phone, preferredTime, contactMethod string) error {
	e.mu.Lock()
	sessionID := ""
	if e.state != nil {
		sessionID = e.state.SessionID
	}
	if sessionID == "" && e.fallbackSession != nil {
		sessionID = strings.TrimSpace(e.fallbackSession())
	}
	if sessionID == "" {
		sessionID = "new"
	}
	wasStructured := e.mode == ModeStructured
	e.mu.Unlock()

	_, err := e.svc.ScheduleForLater(ctx, ScheduleRequest{
		SessionID:     sessionID,
		PhoneNumber:   phone,
		PreferredTime: preferredTime,
		ContactMethod: contactMethod,
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.err = msgScheduleFailed
		return err
	}
	if wasStructured {
		e.mode = ModeScheduled
	}
	return nil
}

// RefreshTimeline re-reads timeline and progress for the current session.
func (e *Engine) RefreshTimeline(ctx context.Context) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	sessionID := e.state.SessionID
	gen := e.generation
	e.mu.Unlock()

	ts, err := e.svc.TimelineStatus(ctx, sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen || e.state == nil {
		return nil
	}
	e.state.Timeline = ts.Timeline
	e.state.Progress = ts.Progress
	return nil
}

// Summary fetches the free-form summary payload for the current session.
func (e *Engine) Summary(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	sessionID := e.state.SessionID
	e.mu.Unlock()
	return e.svc.Summary(ctx, sessionID)
}

// EnterFreeform leaves the guided flow for freeform chat. Any in-flight
// guided response becomes stale and will be discarded on arrival.
func (e *Engine) EnterFreeform() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bumpLocked()
	e.isLoading = false
	e.mode = ModeFreeform
}

// BackToWelcome returns to the welcome screen, abandoning in-flight work.
func (e *Engine) BackToWelcome() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bumpLocked()
	e.isLoading = false
	e.err = ""
	e.mode = ModeWelcome
}

// ClearError drops the sticky user-facing error.
func (e *Engine) ClearError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = ""
}

// --- selection intents (forwarded by the presentation shell) ---

// SelectSingle picks one option. Picking a fixed option clears stale free
// text; picking "other" keeps it for editing.
func (e *Engine) SelectSingle(value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selection.Single = value
	if value != OtherValue {
		e.selection.OtherText = ""
	}
}

// ToggleMulti flips one option of a multiple-choice question. Deselecting
// "other" clears the free text.
func (e *Engine) ToggleMulti(value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if containsValue(e.selection.Multi, value) {
		out := make([]string, 0, len(e.selection.Multi))
		for _, v := range e.selection.Multi {
			if v != value {
				out = append(out, v)
			}
		}
		e.selection.Multi = out
		if value == OtherValue {
			e.selection.OtherText = ""
		}
		return
	}
	e.selection.Multi = append(e.selection.Multi, value)
}

// SetOtherText updates the free-text answer.
func (e *Engine) SetOtherText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selection.OtherText = text
}

// --- internals ---

// adoptLocked replaces the conversation state wholesale, carrying forward
// session_id and responses when the server omits them.
func (e *Engine) adoptLocked(st *State, sessionID string) {
	if strings.TrimSpace(st.SessionID) == "" {
		st.SessionID = sessionID
	}
	if st.Responses != nil {
		e.responses = st.Responses
	}
	st.Responses = nil
	e.state = st
}

// applySelectionLocked re-derives the selection for the active question from
// the local response cache, so revisiting an answered question renders
// identically without another round trip.
func (e *Engine) applySelectionLocked() {
	if e.state == nil || e.state.Question == nil {
		return
	}
	q := e.state.Question
	entry, ok := e.responses[q.ID]
	if !ok {
		e.selection = Selection{}
		return
	}

	sel := Selection{}
	if q.Type == TypeMultipleChoice {
		values := toStringSlice(entry.Value)
		if entry.IsOther {
			values = append(values, OtherValue)
		}
		sel.Multi = values
	} else {
		if entry.IsOther {
			sel.Single = OtherValue
		} else {
			sel.Single = toString(entry.Value)
		}
	}
	if entry.IsOther && entry.OtherText != "" {
		sel.OtherText = entry.OtherText
	}
	e.selection = sel
}

func (e *Engine) bumpLocked() uint64 {
	e.generation++
	return e.generation
}

func normalizeQuestion(st *State) {
	if st.Question == nil && st.CurrentQuestion != nil {
		st.Question = st.CurrentQuestion
	}
	if st.Question == nil && st.NextQuestion != nil {
		st.Question = st.NextQuestion
	}
}

func newConversationID() string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

func cloneSelection(sel Selection) Selection {
	sel.Multi = append([]string(nil), sel.Multi...)
	return sel
}

func containsValue(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toStringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, toString(item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{toString(val)}
	}
}
