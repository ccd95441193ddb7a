package models

import "time"

// AnswerEntry is one saved answer within an AnswerRecord. StepPrompt and
// StepDescription are snapshots taken at save time so exports stay readable
// even after the process definition changes. StepID ties the entry to the
// step identity rather than its position.
type AnswerEntry struct {
	StepIndex       int    `json:"step_index"`
	StepID          string `json:"step_id,omitempty"`
	StepPrompt      string `json:"step_prompt,omitempty"`
	StepDescription string `json:"step_description,omitempty"`
	Answer          string `json:"answer"`
}

// AnswerRecord is the durable store of a user's answers for one process.
// One record per (user, process) pair; it survives session resets. Archived
// records are kept after a destructive step regeneration instead of being
// silently orphaned.
type AnswerRecord struct {
	UserID     string        `json:"user_id"`
	ProcessID  string        `json:"process_id"`
	Answers    []AnswerEntry `json:"answers"`
	Archived   bool          `json:"archived,omitempty"`
	ArchivedAt *time.Time    `json:"archived_at,omitempty"`
	Created    time.Time     `json:"created,omitempty"`
	Updated    time.Time     `json:"updated,omitempty"`
}

// Upsert replaces the entry with the same step index or appends a new one.
// A step index never appears twice.
func (r *AnswerRecord) Upsert(entry AnswerEntry) {
	for i := range r.Answers {
		if r.Answers[i].StepIndex == entry.StepIndex {
			r.Answers[i] = entry
			return
		}
	}
	r.Answers = append(r.Answers, entry)
}

// EntryAt returns the entry for a step index, or nil.
func (r *AnswerRecord) EntryAt(stepIndex int) *AnswerEntry {
	for i := range r.Answers {
		if r.Answers[i].StepIndex == stepIndex {
			return &r.Answers[i]
		}
	}
	return nil
}
