package engine

import (
	"fmt"

	"github.com/raphaelgruber/stepflow/internal/models"
)

// GetStep returns the step at index, or ErrNotFound when the index is out
// of range.
func GetStep(proc *models.ProcessDefinition, index int) (*models.Step, error) {
	if proc == nil {
		return nil, fmt.Errorf("process: %w", ErrNotFound)
	}
	if index < 0 || index >= len(proc.Steps) {
		return nil, fmt.Errorf("step %d of process %s: %w", index, proc.ID, ErrNotFound)
	}
	return &proc.Steps[index], nil
}

// insertStep splices step into proc.Steps at position (clamped to the
// valid range) and resequences the whole array. The caller persists.
func insertStep(proc *models.ProcessDefinition, position int, step models.Step) {
	if position < 0 {
		position = 0
	}
	if position > len(proc.Steps) {
		position = len(proc.Steps)
	}
	proc.Steps = append(proc.Steps, models.Step{})
	copy(proc.Steps[position+1:], proc.Steps[position:])
	proc.Steps[position] = step
	models.Resequence(proc.Steps)
}

// moveStep moves the step at from to position to and resequences.
func moveStep(proc *models.ProcessDefinition, from, to int) error {
	n := len(proc.Steps)
	if from < 0 || from >= n {
		return fmt.Errorf("step %d: %w", from, ErrNotFound)
	}
	if to < 0 || to >= n {
		return fmt.Errorf("position %d: %w", to, ErrBoundary)
	}
	if from == to {
		return nil
	}
	step := proc.Steps[from]
	rest := append(proc.Steps[:from], proc.Steps[from+1:]...)
	rest = append(rest, models.Step{})
	copy(rest[to+1:], rest[to:])
	rest[to] = step
	proc.Steps = rest
	models.Resequence(proc.Steps)
	return nil
}

// deleteStep removes the step at index and resequences.
func deleteStep(proc *models.ProcessDefinition, index int) error {
	if index < 0 || index >= len(proc.Steps) {
		return fmt.Errorf("step %d: %w", index, ErrNotFound)
	}
	proc.Steps = append(proc.Steps[:index], proc.Steps[index+1:]...)
	models.Resequence(proc.Steps)
	return nil
}

// stepIndexByID returns the position of the step with the given id, or -1.
func stepIndexByID(proc *models.ProcessDefinition, stepID string) int {
	for i := range proc.Steps {
		if proc.Steps[i].StepID == stepID {
			return i
		}
	}
	return -1
}
