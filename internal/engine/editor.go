package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/stepflow/internal/models"
)

// Editor applies structural mutations to process definitions. It operates
// out-of-band from live sessions: every operation is a single-document
// read-modify-write of the ProcessDefinition and never touches session or
// answer state, except that a full regeneration archives the process's
// answer records. Authors are expected to edit only unpublished drafts; a
// user mid-session through an edited process will see a mismatched step
// set.
type Editor struct {
	store  Store
	ai     StepGenerator
	logger *slog.Logger
	now    func() time.Time
}

// NewEditor creates a process editor.
func NewEditor(store Store, ai StepGenerator, logger *slog.Logger) *Editor {
	return &Editor{store: store, ai: ai, logger: logger, now: time.Now}
}

// getProcess loads a process or fails with ErrNotFound. Editor operations
// that fail must leave the stored document untouched, which holds
// trivially here because the mutation happens on the in-memory copy and
// is only persisted on success.
func (ed *Editor) getProcess(ctx context.Context, processID string) (*models.ProcessDefinition, error) {
	proc, err := ed.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("get process: %w", err)
	}
	if proc == nil {
		return nil, fmt.Errorf("process %s: %w", processID, ErrNotFound)
	}
	return proc, nil
}

func (ed *Editor) put(ctx context.Context, proc *models.ProcessDefinition) error {
	proc.Updated = ed.now()
	if err := ed.store.PutProcess(ctx, proc); err != nil {
		return fmt.Errorf("put process: %w", err)
	}
	return nil
}

// EditHeader applies a partial header update; only supplied fields change.
func (ed *Editor) EditHeader(ctx context.Context, processID string, patch models.ProcessHeaderPatch) (*models.ProcessDefinition, error) {
	proc, err := ed.getProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		proc.Title = *patch.Title
	}
	if patch.Description != nil {
		proc.Description = *patch.Description
	}
	if patch.ImageURL != nil {
		proc.ImageURL = *patch.ImageURL
	}

	if err := ed.put(ctx, proc); err != nil {
		return nil, err
	}
	ed.logger.Info("process header edited", "process_id", processID)
	return proc, nil
}

// MoveStepUp swaps the step with its predecessor. BoundaryError when the
// step is already first.
func (ed *Editor) MoveStepUp(ctx context.Context, processID, stepID string) (*models.ProcessDefinition, error) {
	return ed.moveAdjacent(ctx, processID, stepID, -1)
}

// MoveStepDown swaps the step with its successor. BoundaryError when the
// step is already last.
func (ed *Editor) MoveStepDown(ctx context.Context, processID, stepID string) (*models.ProcessDefinition, error) {
	return ed.moveAdjacent(ctx, processID, stepID, +1)
}

func (ed *Editor) moveAdjacent(ctx context.Context, processID, stepID string, delta int) (*models.ProcessDefinition, error) {
	proc, err := ed.getProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	from := stepIndexByID(proc, stepID)
	if from < 0 {
		return nil, fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	}
	to := from + delta
	if to < 0 || to >= len(proc.Steps) {
		return nil, fmt.Errorf("step %s: %w", stepID, ErrBoundary)
	}
	if err := moveStep(proc, from, to); err != nil {
		return nil, err
	}

	if err := ed.put(ctx, proc); err != nil {
		return nil, err
	}
	ed.logger.Info("step moved", "process_id", processID, "step_id", stepID, "from", from+1, "to", to+1)
	return proc, nil
}

// InsertStepBefore splices a new step in front of the step at anchorIndex
// and resequences the whole array.
func (ed *Editor) InsertStepBefore(ctx context.Context, processID string, anchorIndex int, step models.Step) (*models.ProcessDefinition, error) {
	return ed.insert(ctx, processID, anchorIndex, step)
}

// InsertStepAfter splices a new step behind the step at anchorIndex and
// resequences the whole array.
func (ed *Editor) InsertStepAfter(ctx context.Context, processID string, anchorIndex int, step models.Step) (*models.ProcessDefinition, error) {
	return ed.insert(ctx, processID, anchorIndex+1, step)
}

func (ed *Editor) insert(ctx context.Context, processID string, position int, step models.Step) (*models.ProcessDefinition, error) {
	if !step.Type.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown step type %q", step.Type)}
	}
	proc, err := ed.getProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	if step.StepID == "" {
		step.StepID = uuid.NewString()
	}
	insertStep(proc, position, step)

	if err := ed.put(ctx, proc); err != nil {
		return nil, err
	}
	ed.logger.Info("step inserted", "process_id", processID, "step_id", step.StepID, "position", position)
	return proc, nil
}

// DeleteStep removes the step at index and resequences.
func (ed *Editor) DeleteStep(ctx context.Context, processID string, index int) (*models.ProcessDefinition, error) {
	proc, err := ed.getProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if err := deleteStep(proc, index); err != nil {
		return nil, err
	}
	if err := ed.put(ctx, proc); err != nil {
		return nil, err
	}
	ed.logger.Info("step deleted", "process_id", processID, "index", index)
	return proc, nil
}

// RegenerateWithAI replaces the step sequence wholesale with freshly
// generated steps. There is no undo. Answers recorded against the old
// steps are keyed by positions that no longer exist, so every live answer
// record of the process is archived first rather than left orphaned.
func (ed *Editor) RegenerateWithAI(ctx context.Context, processID, title, description string) (*models.ProcessDefinition, error) {
	if ed.ai == nil {
		return nil, &ExternalServiceError{Op: "step generation", Err: fmt.Errorf("no AI model configured")}
	}

	proc, err := ed.getProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	steps, err := ed.ai.GenerateSteps(ctx, title, description)
	if err != nil {
		return nil, &ExternalServiceError{Op: "step generation", Err: err}
	}
	if len(steps) == 0 {
		return nil, &ExternalServiceError{Op: "step generation", Err: fmt.Errorf("model returned no steps")}
	}

	archived, err := ed.store.ArchiveAnswerRecords(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("archive answer records: %w", err)
	}

	for i := range steps {
		if steps[i].StepID == "" {
			steps[i].StepID = uuid.NewString()
		}
	}
	proc.Title = title
	proc.Description = description
	proc.Steps = steps
	models.Resequence(proc.Steps)

	if err := ed.put(ctx, proc); err != nil {
		return nil, err
	}
	ed.logger.Info("process regenerated",
		"process_id", processID,
		"steps", len(steps),
		"archived_answer_records", archived,
	)
	return proc, nil
}
