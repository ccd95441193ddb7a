package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/raphaelgruber/stepflow/internal/models"
)

// GenerateSteps asks the model for a full step sequence for a process and
// parses the pipe-delimited reply into step definitions.
func (m *Model) GenerateSteps(ctx context.Context, title, description string) ([]models.Step, error) {
	systemPrompt := `You are a workflow designer. Design a short sequence of chat-bot steps
that guides a user through the given process.

Step types: text (free-form answer), yesno (yes/no question), choice (pick
from options), file (document upload), info (instruction, no answer), final
(closing confirmation).

Output format (one step per line, nothing else):
STEP|type|prompt|description|options

Guidelines:
- 4 to 8 steps, ending with exactly one final step
- prompt is the question shown to the user; description may be empty
- options is only used for choice steps: semicolon-separated values
- never use the | character inside a field`

	userPrompt := fmt.Sprintf(`Process: %s
Description: %s

Steps:`, title, description)

	reply, err := m.GenerateWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	steps, err := parseSteps(reply)
	if err != nil {
		return nil, fmt.Errorf("parse steps: %w", err)
	}
	return steps, nil
}

// GenerateQuestions asks the model for n follow-up questions grounded in
// the conversation so far.
func (m *Model) GenerateQuestions(ctx context.Context, conversation string, n int) ([]string, error) {
	systemPrompt := fmt.Sprintf(`You are an interviewer. Based on the conversation so far, ask
exactly %d short follow-up questions that deepen the topic.

Output format: a numbered list, one question per line, nothing else.`, n)

	userPrompt := fmt.Sprintf(`Conversation:
%s

Questions:`, conversation)

	reply, err := m.GenerateWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	questions := parseQuestions(reply)
	if len(questions) == 0 {
		return nil, fmt.Errorf("parse questions: no questions in reply")
	}
	if len(questions) > n {
		questions = questions[:n]
	}
	return questions, nil
}

// parseSteps turns "STEP|type|prompt|description|options" lines into step
// definitions. Lines that don't start with the STEP marker are ignored;
// models tend to wrap the list in prose despite instructions.
func parseSteps(text string) ([]models.Step, error) {
	var steps []models.Step

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "STEP|") {
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) < 3 {
			continue
		}

		stepType := models.StepType(strings.ToLower(strings.TrimSpace(fields[1])))
		if !stepType.Valid() || stepType == models.StepGenerateQuestions {
			return nil, fmt.Errorf("unknown step type %q", fields[1])
		}

		prompt := strings.TrimSpace(fields[2])
		if prompt == "" {
			return nil, fmt.Errorf("step with empty prompt: %q", line)
		}

		step := models.Step{
			StepID: uuid.NewString(),
			Type:   stepType,
			Prompt: prompt,
		}
		if len(fields) > 3 {
			step.Description = strings.TrimSpace(fields[3])
		}
		if len(fields) > 4 && stepType == models.StepChoice {
			for _, opt := range strings.Split(fields[4], ";") {
				if opt = strings.TrimSpace(opt); opt != "" {
					step.Options = append(step.Options, opt)
				}
			}
		}
		if stepType == models.StepChoice && len(step.Options) == 0 {
			return nil, fmt.Errorf("choice step without options: %q", prompt)
		}

		steps = append(steps, step)
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("no STEP lines in reply")
	}
	models.Resequence(steps)
	return steps, nil
}

// parseQuestions extracts one question per line, stripping list markers.
func parseQuestions(text string) []string {
	var questions []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789")
		line = strings.TrimLeft(line, ".)- ")
		if line == "" || !strings.Contains(line, "?") {
			continue
		}
		questions = append(questions, line)
	}
	return questions
}
