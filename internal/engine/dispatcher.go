package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/raphaelgruber/stepflow/internal/chat"
	"github.com/raphaelgruber/stepflow/internal/metrics"
	"github.com/raphaelgruber/stepflow/internal/models"
)

// Button payloads understood by the dispatcher.
const (
	actionYes     = "yes"
	actionNo      = "no"
	actionDone    = "done"
	actionConfirm = "confirm"
	actionNext    = "next"
	actionPrev    = "prev"
	actionRetry   = "retry"
	actionFinish  = "finish"
	optionPrefix  = "opt:"
)

// choiceSeparator joins a multi-select answer into a single stored value.
const choiceSeparator = ", "

// defaultNumQuestions is used when a generate_questions step does not set
// metadata.num_questions.
const defaultNumQuestions = 3

// present renders the step at the session's current index and arms exactly
// one capture for it. Steps that need no user input (generate_questions)
// run inline and fall through to the next step; reaching the end of the
// step list triggers completion.
func (e *Engine) present(ctx context.Context, sess *models.SessionState, proc *models.ProcessDefinition) error {
	start := time.Now()
	defer func() {
		e.metrics.RecordTiming(metrics.OpStepPresent, time.Since(start))
	}()

	for {
		if sess.CurrentStepIndex >= len(proc.Steps) {
			return e.complete(ctx, sess, proc)
		}
		step := &proc.Steps[sess.CurrentStepIndex]

		if step.Type == models.StepGenerateQuestions {
			if err := e.runGenerateQuestions(ctx, sess, proc, step); err != nil {
				return err
			}
			sess.CurrentStepIndex++
			if err := e.sessions.Save(ctx, sess); err != nil {
				return err
			}
			continue
		}

		return e.presentInteractive(ctx, sess, proc, step)
	}
}

// presentInteractive sends the step prompt and arms the capture whose
// shape matches the step type.
func (e *Engine) presentInteractive(ctx context.Context, sess *models.SessionState, proc *models.ProcessDefinition, step *models.Step) error {
	switch step.Type {
	case models.StepText:
		return e.presentText(ctx, sess, step)
	case models.StepYesNo:
		return e.presentYesNo(ctx, sess, step)
	case models.StepChoice:
		return e.presentChoice(ctx, sess, step)
	case models.StepFile:
		return e.presentFile(ctx, sess, step)
	case models.StepFinal:
		return e.presentFinal(ctx, sess, step)
	case models.StepInfo:
		return e.presentInfo(ctx, sess, step)
	default:
		return fmt.Errorf("step %s: unknown type %q: %w", step.StepID, step.Type, ErrNotFound)
	}
}

// promptText combines prompt and description for display.
func promptText(step *models.Step) string {
	if step.Description == "" {
		return step.Prompt
	}
	return step.Prompt + "\n" + step.Description
}

// expect arms a capture that re-checks the event's user against the
// session owner before running. The router already keys captures by user,
// but the check stays: the channel multiplexes many users over one
// connection and a capture firing for the wrong user would corrupt a
// session.
func (e *Engine) expect(userID string, stepIndex int, fn captureFunc) {
	e.router.Expect(userID, stepIndex, func(ctx context.Context, ev chat.Event) error {
		if ev.UserID != userID {
			e.logger.Warn("capture received event for wrong user", "expected", userID, "got", ev.UserID)
			e.expect(userID, stepIndex, fn)
			return nil
		}
		return fn(ctx, ev)
	})
}

// reject tells the user why the answer was not accepted and re-presents
// the current step, arming a fresh capture. The step index never moves.
func (e *Engine) reject(ctx context.Context, userID, reason string) error {
	e.logger.Debug("answer rejected", "user_id", userID, "reason", reason)
	if err := e.say(ctx, userID, reason); err != nil {
		return err
	}
	return e.resume(ctx, userID)
}

func (e *Engine) presentText(ctx context.Context, sess *models.SessionState, step *models.Step) error {
	if err := e.say(ctx, sess.UserID, promptText(step)); err != nil {
		return err
	}

	userID, stepIndex := sess.UserID, sess.CurrentStepIndex
	e.expect(userID, stepIndex, func(ctx context.Context, ev chat.Event) error {
		if ev.Kind != chat.EventText {
			return e.reject(ctx, userID, "Please answer with a text message.")
		}
		answer := strings.TrimSpace(ev.Payload)
		if reason := validateText(step, answer); reason != "" {
			return e.reject(ctx, userID, reason)
		}
		return e.captureAndAdvance(ctx, userID, stepIndex, answer)
	})
	return nil
}

// validateText applies the step's required/regex rules; returns a
// user-facing reason, or "" when the answer is acceptable.
func validateText(step *models.Step, answer string) string {
	if step.Validation.Required && answer == "" {
		return "An answer is required for this step."
	}
	if step.Validation.Regex != nil && answer != "" {
		re, err := regexp.Compile(*step.Validation.Regex)
		if err != nil {
			// A broken pattern in the definition must not trap the user.
			return ""
		}
		if !re.MatchString(answer) {
			return "That answer doesn't match the expected format. Please try again."
		}
	}
	return ""
}

func (e *Engine) presentYesNo(ctx context.Context, sess *models.SessionState, step *models.Step) error {
	buttons := []chat.Button{
		{Label: "Yes", Data: actionYes},
		{Label: "No", Data: actionNo},
	}
	if _, err := e.channel.SendPrompt(ctx, sess.UserID, promptText(step), buttons); err != nil {
		return err
	}

	userID, stepIndex := sess.UserID, sess.CurrentStepIndex
	e.expect(userID, stepIndex, func(ctx context.Context, ev chat.Event) error {
		if ev.Kind != chat.EventButton || (ev.Payload != actionYes && ev.Payload != actionNo) {
			return e.reject(ctx, userID, "Please use the Yes or No button.")
		}
		answer := "Yes"
		if ev.Payload == actionNo {
			answer = "No"
		}
		return e.captureAndAdvance(ctx, userID, stepIndex, answer)
	})
	return nil
}

// presentChoice renders one button per option plus Done. Clicks toggle
// membership in the running selection and re-save it; only the explicit
// Done confirmation advances, so the user can keep toggling freely.
func (e *Engine) presentChoice(ctx context.Context, sess *models.SessionState, step *models.Step) error {
	selected := splitChoice(sess.CachedAnswerAt(sess.CurrentStepIndex))

	buttons := make([]chat.Button, 0, len(step.Options)+1)
	for _, opt := range step.Options {
		label := opt
		if _, ok := selected[opt]; ok {
			label = "✓ " + opt
		}
		buttons = append(buttons, chat.Button{Label: label, Data: optionPrefix + opt})
	}
	buttons = append(buttons, chat.Button{Label: "Done", Data: actionDone})

	if _, err := e.channel.SendPrompt(ctx, sess.UserID, promptText(step), buttons); err != nil {
		return err
	}

	userID, stepIndex := sess.UserID, sess.CurrentStepIndex
	e.expect(userID, stepIndex, func(ctx context.Context, ev chat.Event) error {
		if ev.Kind != chat.EventButton {
			return e.reject(ctx, userID, "Please use the option buttons.")
		}

		if ev.Payload == actionDone {
			if step.Validation.Required && len(selected) == 0 {
				return e.reject(ctx, userID, "Select at least one option before confirming.")
			}
			return e.advance(ctx, userID)
		}

		opt := strings.TrimPrefix(ev.Payload, optionPrefix)
		if !containsOption(step.Options, opt) {
			return e.resume(ctx, userID)
		}
		if _, ok := selected[opt]; ok {
			delete(selected, opt)
		} else {
			selected[opt] = struct{}{}
		}

		sess, proc, err := e.load(ctx, userID)
		if err != nil {
			return err
		}
		if err := e.answers.SaveAnswer(ctx, sess, proc, stepIndex, joinChoice(step.Options, selected)); err != nil {
			return err
		}
		// Re-render so the checkmarks reflect the new selection.
		return e.present(ctx, sess, proc)
	})
	return nil
}

func splitChoice(value string) map[string]struct{} {
	selected := map[string]struct{}{}
	if value == "" {
		return selected
	}
	for _, part := range strings.Split(value, choiceSeparator) {
		selected[part] = struct{}{}
	}
	return selected
}

// joinChoice serializes the selection in option order so the stored value
// is stable regardless of click order.
func joinChoice(options []string, selected map[string]struct{}) string {
	parts := make([]string, 0, len(selected))
	for _, opt := range options {
		if _, ok := selected[opt]; ok {
			parts = append(parts, opt)
		}
	}
	return strings.Join(parts, choiceSeparator)
}

func containsOption(options []string, opt string) bool {
	for _, o := range options {
		if o == opt {
			return true
		}
	}
	return false
}

func (e *Engine) presentFile(ctx context.Context, sess *models.SessionState, step *models.Step) error {
	text := promptText(step)
	if len(step.Validation.FileTypes) > 0 {
		text += "\nAccepted file types: " + strings.Join(step.Validation.FileTypes, ", ")
	}
	if err := e.say(ctx, sess.UserID, text); err != nil {
		return err
	}

	userID, stepIndex := sess.UserID, sess.CurrentStepIndex
	e.expect(userID, stepIndex, func(ctx context.Context, ev chat.Event) error {
		if ev.Kind != chat.EventFile {
			return e.reject(ctx, userID, "Please upload a file for this step.")
		}

		if !allowedFileType(step.Validation.FileTypes, ev.FileName) {
			// Re-prompt the same step; retries are unlimited.
			return e.reject(ctx, userID,
				fmt.Sprintf("File type not accepted. Allowed: %s.", strings.Join(step.Validation.FileTypes, ", ")))
		}

		if e.files == nil {
			return &ExternalServiceError{Op: "file retrieval", Err: fmt.Errorf("no retriever configured")}
		}
		_, fileName, err := e.files.Retrieve(ctx, ev.FileRef)
		if err != nil {
			if rerr := e.resume(ctx, userID); rerr != nil {
				return rerr
			}
			return &ExternalServiceError{Op: "file retrieval", Err: err}
		}
		return e.captureAndAdvance(ctx, userID, stepIndex, fileName)
	})
	return nil
}

// allowedFileType checks the extension against the allow list. An empty
// list accepts anything.
func allowedFileType(fileTypes []string, fileName string) bool {
	if len(fileTypes) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	for _, t := range fileTypes {
		if strings.TrimPrefix(strings.ToLower(t), ".") == ext {
			return true
		}
	}
	return false
}

// runGenerateQuestions asks the AI collaborator for follow-up questions,
// merges them into the conversation history and shows them to the user.
// The step advances on its own; on failure the user gets a Retry button
// and must resubmit, there is no automatic retry.
func (e *Engine) runGenerateQuestions(ctx context.Context, sess *models.SessionState, proc *models.ProcessDefinition, step *models.Step) error {
	if e.ai == nil {
		return &ExternalServiceError{Op: "question generation", Err: fmt.Errorf("no AI model configured")}
	}

	n := defaultNumQuestions
	if step.Metadata.NumQuestions != nil && *step.Metadata.NumQuestions > 0 {
		n = *step.Metadata.NumQuestions
	}

	conversation := strings.Join(sess.ConversationHistory, "\n")
	if conversation == "" {
		conversation = proc.Title + ": " + proc.Description
	}

	start := time.Now()
	questions, err := e.ai.GenerateQuestions(ctx, conversation, n)
	e.metrics.RecordTiming(metrics.OpLLMGenerate, time.Since(start))
	if err != nil {
		userID := sess.UserID
		buttons := []chat.Button{{Label: "Retry", Data: actionRetry}}
		if _, serr := e.channel.SendPrompt(ctx, userID, "Question generation failed. Retry when ready.", buttons); serr != nil {
			return serr
		}
		e.expect(userID, sess.CurrentStepIndex, func(ctx context.Context, ev chat.Event) error {
			return e.resume(ctx, userID)
		})
		return &ExternalServiceError{Op: "question generation", Err: err}
	}

	sess.ConversationHistory = append(sess.ConversationHistory, questions...)
	if err := e.sessions.Save(ctx, sess); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(promptText(step))
	b.WriteString("\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return e.say(ctx, sess.UserID, strings.TrimRight(b.String(), "\n"))
}

func (e *Engine) presentFinal(ctx context.Context, sess *models.SessionState, step *models.Step) error {
	buttons := []chat.Button{{Label: "Confirm", Data: actionConfirm}}
	if _, err := e.channel.SendPrompt(ctx, sess.UserID, promptText(step), buttons); err != nil {
		return err
	}

	userID := sess.UserID
	e.expect(userID, sess.CurrentStepIndex, func(ctx context.Context, ev chat.Event) error {
		if ev.Kind != chat.EventButton || ev.Payload != actionConfirm {
			return e.reject(ctx, userID, "Press Confirm to finish the process.")
		}
		return e.advance(ctx, userID)
	})
	return nil
}

// presentInfo renders an informational step. It never auto-advances: the
// user must press Next (or Previous), which is what separates it from the
// answer-bearing types.
func (e *Engine) presentInfo(ctx context.Context, sess *models.SessionState, step *models.Step) error {
	buttons := []chat.Button{
		{Label: "Previous", Data: actionPrev},
		{Label: "Next", Data: actionNext},
	}
	if _, err := e.channel.SendPrompt(ctx, sess.UserID, promptText(step), buttons); err != nil {
		return err
	}

	userID := sess.UserID
	e.expect(userID, sess.CurrentStepIndex, func(ctx context.Context, ev chat.Event) error {
		if ev.Kind != chat.EventButton {
			return e.reject(ctx, userID, "Use the Next or Previous button.")
		}
		switch ev.Payload {
		case actionNext:
			return e.advance(ctx, userID)
		case actionPrev:
			return e.retreat(ctx, userID)
		default:
			return e.resume(ctx, userID)
		}
	})
	return nil
}

// captureAndAdvance saves the answer for the captured step and moves on.
func (e *Engine) captureAndAdvance(ctx context.Context, userID string, stepIndex int, value string) error {
	sess, proc, err := e.load(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.answers.SaveAnswer(ctx, sess, proc, stepIndex, value); err != nil {
		return err
	}
	return e.advance(ctx, userID)
}
