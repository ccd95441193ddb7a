// Package models defines the core workflow types: processes, steps,
// sessions and answer records.
package models

import "time"

// StepType identifies the interaction protocol of a step.
type StepType string

// Step type constants.
const (
	StepText              StepType = "text"
	StepYesNo             StepType = "yesno"
	StepFile              StepType = "file"
	StepChoice            StepType = "choice"
	StepGenerateQuestions StepType = "generate_questions"
	StepFinal             StepType = "final"
	StepInfo              StepType = "info"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepText, StepYesNo, StepFile, StepChoice, StepGenerateQuestions, StepFinal, StepInfo:
		return true
	}
	return false
}

// Validation holds the per-step answer constraints.
type Validation struct {
	Required  bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Regex     *string  `json:"regex,omitempty" yaml:"regex,omitempty"`
	FileTypes []string `json:"file_types,omitempty" yaml:"file_types,omitempty"`
}

// StepMetadata holds optional step configuration.
type StepMetadata struct {
	NumQuestions *int `json:"num_questions,omitempty" yaml:"num_questions,omitempty"`
}

// Step is one typed unit of interaction within a process.
// SequenceNumber is 1-based and must always equal position+1 within
// ProcessDefinition.Steps; mutations go through the engine which
// resequences before persisting.
type Step struct {
	StepID         string       `json:"step_id" yaml:"step_id"`
	SequenceNumber int          `json:"sequence_number" yaml:"sequence_number"`
	Type           StepType     `json:"type" yaml:"type"`
	Prompt         string       `json:"prompt" yaml:"prompt"`
	Description    string       `json:"description,omitempty" yaml:"description,omitempty"`
	Options        []string     `json:"options,omitempty" yaml:"options,omitempty"`
	Validation     Validation   `json:"validation,omitempty" yaml:"validation,omitempty"`
	Metadata       StepMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ProcessDefinition is an authored, ordered workflow. Steps are embedded;
// the document is always persisted as a whole.
type ProcessDefinition struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Category    string    `json:"category,omitempty" yaml:"category,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Published   bool      `json:"published" yaml:"published"`
	Steps       []Step    `json:"steps" yaml:"steps"`
	Created     time.Time `json:"created,omitempty" yaml:"-"`
	Updated     time.Time `json:"updated,omitempty" yaml:"-"`
}

// ProcessHeaderPatch is a partial update of a process header.
// Nil fields are left unchanged.
type ProcessHeaderPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
}

// Resequence rewrites SequenceNumber so that steps[i].SequenceNumber == i+1.
// Called after every structural mutation, before persisting.
func Resequence(steps []Step) {
	for i := range steps {
		steps[i].SequenceNumber = i + 1
	}
}
