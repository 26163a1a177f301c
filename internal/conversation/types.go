package conversation

import (
	"encoding/json"
)

// Conversation statuses reported by the server.
const (
	StatusStarted    = "started"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
	StatusScheduled  = "scheduled"
)

// Question types.
const (
	TypeSingleChoice   = "single_choice"
	TypeMultipleChoice = "multiple_choice"
	TypeTextInput      = "text_input"
	TypeRange          = "range"
)

// Timeline category statuses.
const (
	CategoryCompleted = "completed"
	CategoryActive    = "active"
	CategorySkipped   = "skipped"
	CategoryUpcoming  = "upcoming"
)

// OtherValue 选项值 "other" 重定向到自由文本输入
// OtherValue is the option value that redirects to free-text capture.
const OtherValue = "other"

// Option is one selectable answer.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Icon  string `json:"icon,omitempty"`
}

// Question is the active prompt of the guided flow.
type Question struct {
	ID          string   `json:"id"`
	Text        string   `json:"question"`
	Type        string   `json:"type"`
	Options     []Option `json:"options"`
	HasOther    bool     `json:"has_other"`
	OtherPrompt string   `json:"other_prompt,omitempty"`
	IsOptional  bool     `json:"is_optional"`
}

// TimelineCategory is one logical question group with its flow status.
type TimelineCategory struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Icon       string `json:"icon"`
	Status     string `json:"status"`
	IsOptional bool   `json:"is_optional"`
}

// Progress 服务端计算的进度指标；客户端只读，从不重算
// Progress carries server-computed metrics. The client only observes them.
type Progress struct {
	CurrentCategory     string   `json:"current_category"`
	CurrentCategoryName string   `json:"current_category_name"`
	CategoriesCompleted int      `json:"categories_completed"`
	TotalCategories     int      `json:"total_categories"`
	QuestionsAnswered   int      `json:"questions_answered"`
	TotalQuestions      int      `json:"total_questions"`
	PercentageComplete  float64  `json:"percentage_complete"`
	TimeElapsed         float64  `json:"time_elapsed"`
	EstimatedRemaining  float64  `json:"estimated_remaining"`
	SkippedCategories   []string `json:"skipped_categories"`
}

// Response is a locally cached answer, keyed by question id, used to
// re-render a previously answered question identically when revisited.
type Response struct {
	Value     any    `json:"value"`
	IsOther   bool   `json:"is_other"`
	OtherText string `json:"other_text,omitempty"`
}

// BuyerType is the server's classification label for a completed run.
type BuyerType struct {
	Label string `json:"label"`
}

// Categorization 评分结果：固定字段 + 未知字段袋，保持向前兼容
// Categorization is the scoring result: typed core fields plus an open bag
// of whatever else the server sends, preserving forward compatibility.
type Categorization struct {
	LeadScore float64                    `json:"lead_score"`
	BuyerType BuyerType                  `json:"buyer_type"`
	Extra     map[string]json.RawMessage `json:"-"`
}

func (c *Categorization) UnmarshalJSON(data []byte) error {
	type known struct {
		LeadScore float64   `json:"lead_score"`
		BuyerType BuyerType `json:"buyer_type"`
	}
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	delete(all, "lead_score")
	delete(all, "buyer_type")
	c.LeadScore = k.LeadScore
	c.BuyerType = k.BuyerType
	if len(all) > 0 {
		c.Extra = all
	} else {
		c.Extra = nil
	}
	return nil
}

func (c Categorization) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range c.Extra {
		out[k] = v
	}
	score, err := json.Marshal(c.LeadScore)
	if err != nil {
		return nil, err
	}
	buyer, err := json.Marshal(c.BuyerType)
	if err != nil {
		return nil, err
	}
	out["lead_score"] = score
	out["buyer_type"] = buyer
	return json.Marshal(out)
}

// State is the wholesale conversation state returned by the server. The
// client replaces its copy on every round trip, only carrying forward
// session_id and responses when the server omits them.
type State struct {
	SessionID       string              `json:"session_id"`
	Status          string              `json:"status"`
	Question        *Question           `json:"question,omitempty"`
	CurrentQuestion *Question           `json:"current_question,omitempty"`
	NextQuestion    *Question           `json:"next_question,omitempty"`
	Timeline        []TimelineCategory  `json:"timeline"`
	Progress        Progress            `json:"progress"`
	Summary         json.RawMessage     `json:"summary,omitempty"`
	Categorization  *Categorization     `json:"categorization,omitempty"`
	Responses       map[string]Response `json:"responses,omitempty"`
}

// ActiveCategory returns the timeline entry matching the progress pointer.
func (s *State) ActiveCategory() (TimelineCategory, bool) {
	if s == nil {
		return TimelineCategory{}, false
	}
	for _, c := range s.Timeline {
		if c.ID == s.Progress.CurrentCategory {
			return c, true
		}
	}
	return TimelineCategory{}, false
}

// AnswerRequest is the submit-answer payload.
type AnswerRequest struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	Answer     any    `json:"answer"`
	IsOther    bool   `json:"is_other"`
	OtherText  string `json:"other_text,omitempty"`
}

// ScheduleRequest asks the server to pick the conversation up later over a
// preferred contact channel.
type ScheduleRequest struct {
	SessionID     string `json:"session_id"`
	PhoneNumber   string `json:"phone_number"`
	PreferredTime string `json:"preferred_time"`
	ContactMethod string `json:"contact_method"`
}

// TimelineStatus is the response of the timeline endpoint.
type TimelineStatus struct {
	Timeline []TimelineCategory `json:"timeline"`
	Progress Progress           `json:"progress"`
}
