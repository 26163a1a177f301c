package conversation

import (
	"context"
	"encoding/json"
	"net/url"

	"intake/internal/api"
)

// Service 引导式对话的服务端端点封装；所有请求经由 api.Client 发出
// Service wraps the guided-conversation endpoints. Every request goes out
// through the shared api.Client.
type Service struct {
	client *api.Client
}

func NewService(client *api.Client) *Service {
	return &Service{client: client}
}

// Start begins (or resumes) a guided conversation for the session.
func (s *Service) Start(ctx context.Context, sessionID string) (*State, error) {
	var out State
	path := "/api/conversation/start?session_id=" + url.QueryEscape(sessionID)
	if err := s.client.PostJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentQuestion fetches the active question without advancing the flow.
func (s *Service) CurrentQuestion(ctx context.Context, sessionID string) (*State, error) {
	var out State
	if err := s.client.GetJSON(ctx, "/api/conversation/question/"+url.PathEscape(sessionID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAnswer posts one answer and returns the replacement state.
func (s *Service) SubmitAnswer(ctx context.Context, req AnswerRequest) (*State, error) {
	var out State
	if err := s.client.PostJSON(ctx, "/api/conversation/answer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCategoryNote attaches a freeform note to a category. Fire-and-forget:
// the response body is discarded.
func (s *Service) AddCategoryNote(ctx context.Context, sessionID, categoryID, note string) error {
	body := map[string]string{
		"session_id":  sessionID,
		"category_id": categoryID,
		"note":        note,
	}
	return s.client.PostJSON(ctx, "/api/conversation/category-note", body, nil)
}

// SkipCategory skips an optional category and returns the replacement state.
func (s *Service) SkipCategory(ctx context.Context, sessionID, categoryID string) (*State, error) {
	var out State
	path := "/api/conversation/skip-category/" + url.PathEscape(sessionID) + "/" + url.PathEscape(categoryID)
	if err := s.client.PostJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TimelineStatus fetches the timeline and progress without the question.
func (s *Service) TimelineStatus(ctx context.Context, sessionID string) (TimelineStatus, error) {
	var out TimelineStatus
	if err := s.client.GetJSON(ctx, "/api/conversation/timeline/"+url.PathEscape(sessionID), &out); err != nil {
		return TimelineStatus{}, err
	}
	return out, nil
}

// ScheduleForLater suspends the flow in favor of a later contact.
func (s *Service) ScheduleForLater(ctx context.Context, req ScheduleRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := s.client.PostJSON(ctx, "/api/conversation/schedule-later", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary fetches the free-form summary/categorization payload.
func (s *Service) Summary(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := s.client.GetJSON(ctx, "/api/conversation/summary/"+url.PathEscape(sessionID), &out); err != nil {
		return nil, err
	}
	return out, nil
}
