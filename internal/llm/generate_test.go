package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/stepflow/internal/models"
)

func TestParseSteps(t *testing.T) {
	reply := `Here are the steps:

STEP|info|Welcome to onboarding|We'll set up your account|
STEP|text|What's your full name?||
STEP|choice|Pick your department|Choose one|Engineering;Sales;Support
STEP|yesno|Will you work remotely?||
STEP|final|All set, confirm to finish||

Let me know if you need changes.`

	steps, err := parseSteps(reply)
	require.NoError(t, err)
	require.Len(t, steps, 5)

	assert.Equal(t, models.StepInfo, steps[0].Type)
	assert.Equal(t, "Welcome to onboarding", steps[0].Prompt)
	assert.Equal(t, "We'll set up your account", steps[0].Description)

	assert.Equal(t, models.StepChoice, steps[2].Type)
	assert.Equal(t, []string{"Engineering", "Sales", "Support"}, steps[2].Options)

	// IDs assigned and sequence numbers contiguous
	for i, step := range steps {
		assert.NotEmpty(t, step.StepID)
		assert.Equal(t, i+1, step.SequenceNumber)
	}
}

func TestParseStepsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"no step lines", "Sorry, I can't help with that."},
		{"unknown type", "STEP|ranking|Rate the options||"},
		{"empty prompt", "STEP|text|||"},
		{"choice without options", "STEP|choice|Pick one||"},
		{"generate_questions not allowed", "STEP|generate_questions|Dig deeper||"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSteps(tt.reply)
			assert.Error(t, err)
		})
	}
}

func TestParseQuestions(t *testing.T) {
	reply := `Sure! Here you go:
1. What motivated the decision?
2) How did the team respond?
- Was the timeline realistic?

That's all.`

	questions := parseQuestions(reply)
	require.Len(t, questions, 3)
	assert.Equal(t, "What motivated the decision?", questions[0])
	assert.Equal(t, "How did the team respond?", questions[1])
	assert.Equal(t, "Was the timeline realistic?", questions[2])
}

func TestParseQuestionsIgnoresProse(t *testing.T) {
	questions := parseQuestions("I could not come up with anything useful.")
	assert.Empty(t, questions)
}
