package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/stepflow/internal/models"
)

// AnswerStore persists user answers. Each (user, process) pair owns one
// durable AnswerRecord which survives session resets; the session keeps a
// transient cache of the same values.
type AnswerStore struct {
	store    Store
	sessions *SessionStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnswerStore creates an answer store.
func NewAnswerStore(store Store, sessions *SessionStore, logger *slog.Logger) *AnswerStore {
	return &AnswerStore{
		store:    store,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// SaveAnswer records value for the step at stepIndex of proc: it upserts
// the session cache and the durable record, replacing any existing entry
// at that index. Info steps carry no answer and are a persistence no-op.
// While the record is open, entries from older saves that are missing
// their prompt/description snapshots are backfilled from the current
// process definition (lazy self-healing of old records).
func (a *AnswerStore) SaveAnswer(ctx context.Context, sess *models.SessionState, proc *models.ProcessDefinition, stepIndex int, value string) error {
	step, err := GetStep(proc, stepIndex)
	if err != nil {
		return err
	}

	if step.Type == models.StepInfo {
		return nil
	}

	sess.CacheAnswer(stepIndex, step.StepID, value)
	if err := a.sessions.Save(ctx, sess); err != nil {
		return err
	}

	rec, err := a.store.GetAnswerRecord(ctx, sess.UserID, proc.ID)
	if err != nil {
		return fmt.Errorf("get answer record: %w", err)
	}
	if rec == nil {
		rec = &models.AnswerRecord{
			UserID:    sess.UserID,
			ProcessID: proc.ID,
			Created:   a.now(),
		}
	}

	rec.Upsert(models.AnswerEntry{
		StepIndex:       stepIndex,
		StepID:          step.StepID,
		StepPrompt:      step.Prompt,
		StepDescription: step.Description,
		Answer:          value,
	})
	a.backfillSnapshots(rec, proc)
	rec.Updated = a.now()

	if err := a.store.PutAnswerRecord(ctx, rec); err != nil {
		return fmt.Errorf("put answer record: %w", err)
	}

	a.logger.Debug("answer saved",
		"user_id", sess.UserID,
		"process_id", proc.ID,
		"step_index", stepIndex,
		"step_type", step.Type,
	)
	return nil
}

// backfillSnapshots fills missing step prompt/description snapshots on
// existing entries. Records written before snapshots were captured only
// hold the raw answer; this heals them on the next save. Matches by step
// id first, position second.
func (a *AnswerStore) backfillSnapshots(rec *models.AnswerRecord, proc *models.ProcessDefinition) {
	for i := range rec.Answers {
		entry := &rec.Answers[i]
		if entry.StepPrompt != "" {
			continue
		}

		var step *models.Step
		if entry.StepID != "" {
			if idx := stepIndexByID(proc, entry.StepID); idx >= 0 {
				step = &proc.Steps[idx]
			}
		}
		if step == nil && entry.StepIndex >= 0 && entry.StepIndex < len(proc.Steps) {
			step = &proc.Steps[entry.StepIndex]
		}
		if step == nil {
			continue
		}

		entry.StepPrompt = step.Prompt
		entry.StepDescription = step.Description
		if entry.StepID == "" {
			entry.StepID = step.StepID
		}
	}
}

// Snapshot refreshes every entry's prompt/description from the current
// process definition and persists the record. Called once on completion.
func (a *AnswerStore) Snapshot(ctx context.Context, userID string, proc *models.ProcessDefinition) (*models.AnswerRecord, error) {
	rec, err := a.store.GetAnswerRecord(ctx, userID, proc.ID)
	if err != nil {
		return nil, fmt.Errorf("get answer record: %w", err)
	}
	if rec == nil {
		rec = &models.AnswerRecord{
			UserID:    userID,
			ProcessID: proc.ID,
			Created:   a.now(),
		}
	}

	for i := range rec.Answers {
		entry := &rec.Answers[i]
		idx := entry.StepIndex
		if entry.StepID != "" {
			if byID := stepIndexByID(proc, entry.StepID); byID >= 0 {
				idx = byID
			}
		}
		if idx < 0 || idx >= len(proc.Steps) {
			continue
		}
		entry.StepPrompt = proc.Steps[idx].Prompt
		entry.StepDescription = proc.Steps[idx].Description
	}
	rec.Updated = a.now()

	if err := a.store.PutAnswerRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("put answer record: %w", err)
	}
	return rec, nil
}
