package models

import "time"

// SessionMode describes the logical operation a session is in.
type SessionMode string

// Session modes.
const (
	ModeIdle   SessionMode = "idle"
	ModeAnswer SessionMode = "answer"
	ModeEdit   SessionMode = "edit"
	ModeView   SessionMode = "view"
)

// CachedAnswer is a transient per-session answer; latest write wins per index.
type CachedAnswer struct {
	StepIndex int    `json:"step_index"`
	StepID    string `json:"step_id,omitempty"`
	Value     string `json:"value"`
}

// SessionState tracks one user's live progress through an active process.
// There is exactly one per user; it is reset, never deleted, when a new
// logical operation begins. CurrentStepIndex == len(steps) means complete.
type SessionState struct {
	UserID              string         `json:"user_id"`
	ProcessID           *string        `json:"process_id,omitempty"`
	CurrentStepIndex    int            `json:"current_step_index"`
	Mode                SessionMode    `json:"mode"`
	Answers             []CachedAnswer `json:"answers,omitempty"`
	IsProcessingStep    bool           `json:"is_processing_step"`
	ConversationHistory []string       `json:"conversation_history,omitempty"`
	SystemLanguage      string         `json:"system_language,omitempty"`
	Updated             time.Time      `json:"updated,omitempty"`
}

// CacheAnswer upserts a cached answer by step index.
func (s *SessionState) CacheAnswer(stepIndex int, stepID, value string) {
	for i := range s.Answers {
		if s.Answers[i].StepIndex == stepIndex {
			s.Answers[i].StepID = stepID
			s.Answers[i].Value = value
			return
		}
	}
	s.Answers = append(s.Answers, CachedAnswer{StepIndex: stepIndex, StepID: stepID, Value: value})
}

// CachedAnswerAt returns the cached answer for a step index, or "".
func (s *SessionState) CachedAnswerAt(stepIndex int) string {
	for i := range s.Answers {
		if s.Answers[i].StepIndex == stepIndex {
			return s.Answers[i].Value
		}
	}
	return ""
}
