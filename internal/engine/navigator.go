package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/stepflow/internal/chat"
	"github.com/raphaelgruber/stepflow/internal/models"
)

// load returns the user's session together with its active process.
// StateConflict when no process is active, NotFound when the referenced
// process has disappeared.
func (e *Engine) load(ctx context.Context, userID string) (*models.SessionState, *models.ProcessDefinition, error) {
	sess, err := e.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if sess.ProcessID == nil {
		return nil, nil, fmt.Errorf("no active process: %w", ErrStateConflict)
	}

	proc, err := e.store.GetProcess(ctx, *sess.ProcessID)
	if err != nil {
		return nil, nil, fmt.Errorf("get process: %w", err)
	}
	if proc == nil {
		return nil, nil, fmt.Errorf("process %s: %w", *sess.ProcessID, ErrNotFound)
	}
	return sess, proc, nil
}

// advance moves the session forward one step. The per-user guard is taken
// for the whole transition, so a duplicate event delivered while a
// transition is in flight fails fast with StateConflict instead of
// advancing twice. The guard is always released, success or error.
func (e *Engine) advance(ctx context.Context, userID string) error {
	if !e.sessions.AcquireGuard(userID) {
		return fmt.Errorf("advance: %w", ErrStateConflict)
	}
	defer e.sessions.ReleaseGuard(userID)

	sess, proc, err := e.load(ctx, userID)
	if err != nil {
		return err
	}

	if sess.CurrentStepIndex >= len(proc.Steps) {
		// Completion already ran; never trigger it twice.
		return e.say(ctx, userID, "This process is already complete.")
	}

	sess.CurrentStepIndex++
	if err := e.sessions.Save(ctx, sess); err != nil {
		return err
	}

	return e.present(ctx, sess, proc)
}

// retreat moves the session back one step, clamped at the first step:
// at index 0 the index stays put and the user just gets a note. Steps
// that run without input are skipped over so Previous always lands on
// something the user can interact with.
func (e *Engine) retreat(ctx context.Context, userID string) error {
	sess, proc, err := e.load(ctx, userID)
	if err != nil {
		return err
	}

	if sess.CurrentStepIndex <= 0 {
		if err := e.say(ctx, userID, "You're already at the first step."); err != nil {
			return err
		}
		return e.present(ctx, sess, proc)
	}

	sess.CurrentStepIndex--
	for sess.CurrentStepIndex > 0 && proc.Steps[sess.CurrentStepIndex].Type == models.StepGenerateQuestions {
		sess.CurrentStepIndex--
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return err
	}

	return e.present(ctx, sess, proc)
}

// resume re-presents the current step without moving the index, arming a
// fresh capture. Used after rejected answers and retries.
func (e *Engine) resume(ctx context.Context, userID string) error {
	sess, proc, err := e.load(ctx, userID)
	if err != nil {
		return err
	}
	return e.present(ctx, sess, proc)
}

// complete runs the finish sub-flow once the index has passed the last
// step: the durable answer record gets a full snapshot, the user sees a
// summary and a Finish action that closes the session back to idle.
func (e *Engine) complete(ctx context.Context, sess *models.SessionState, proc *models.ProcessDefinition) error {
	rec, err := e.answers.Snapshot(ctx, sess.UserID, proc)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "All done! Here's what you answered for %q:\n", proc.Title)
	for _, entry := range rec.Answers {
		fmt.Fprintf(&b, "- %s: %s\n", entry.StepPrompt, entry.Answer)
	}

	buttons := []chat.Button{{Label: "Finish", Data: actionFinish}}
	if _, err := e.channel.SendPrompt(ctx, sess.UserID, strings.TrimRight(b.String(), "\n"), buttons); err != nil {
		return err
	}

	e.logger.Info("process completed",
		"user_id", sess.UserID,
		"process_id", proc.ID,
		"answers", len(rec.Answers),
	)

	userID := sess.UserID
	stepIndex := sess.CurrentStepIndex
	var finish captureFunc
	finish = func(ctx context.Context, ev chat.Event) error {
		if ev.Kind != chat.EventButton || ev.Payload != actionFinish {
			// Only the Finish click closes the session; anything else
			// re-arms so a stray message is never silently swallowed.
			e.expect(userID, stepIndex, finish)
			return e.say(ctx, userID, "Press Finish to close the process.")
		}
		if _, err := e.sessions.Reset(ctx, userID, models.ModeIdle, nil); err != nil {
			return err
		}
		return e.say(ctx, userID, "Thanks! Send /processes whenever you want to start another one.")
	}
	e.expect(userID, stepIndex, finish)
	return nil
}
