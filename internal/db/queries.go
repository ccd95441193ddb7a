// Package db provides SurrealDB query functions for process, session and
// answer record operations. Client satisfies the engine's Store interface.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/stepflow/internal/models"
)

// processFields selects every process column with the record id rendered as
// a plain string, so results unmarshal straight into models.ProcessDefinition.
const processFields = `record::id(id) AS id, title, description, image_url,
	category, created_by, published, steps, created, updated`

// sessionFields and answerRecordFields follow the same pattern; sessions are
// addressed by user id so the record id itself is never selected.
const sessionFields = `user_id, process_id, current_step_index, mode, answers,
	is_processing_step, conversation_history, system_language, updated`

const answerRecordFields = `user_id, process_id, answers, archived,
	archived_at, created, updated`

// answerRecordRow carries the record id alongside the model fields; needed
// by the archive pass which copies and deletes live records by id.
type answerRecordRow struct {
	ID string `json:"id"`
	models.AnswerRecord
}

// GetProcess retrieves a process definition by ID.
// Returns nil if not found.
func (c *Client) GetProcess(ctx context.Context, id string) (*models.ProcessDefinition, error) {
	defer c.record(time.Now())

	results, err := surrealdb.Query[[]models.ProcessDefinition](ctx, c.db, fmt.Sprintf(`
		SELECT %s FROM type::record("process", $id)
	`, processFields), map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get process: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// PutProcess creates or updates a process definition by ID.
// The whole document, steps included, is written in one UPSERT.
func (c *Client) PutProcess(ctx context.Context, proc *models.ProcessDefinition) error {
	defer c.record(time.Now())

	steps := proc.Steps
	if steps == nil {
		steps = []models.Step{}
	}

	sql := `
		UPSERT type::record("process", $id) SET
			title = $title,
			description = $description,
			image_url = $image_url,
			category = $category,
			created_by = $created_by,
			published = $published,
			steps = $steps,
			created = IF created THEN created ELSE time::now() END,
			updated = time::now()
	`

	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":          proc.ID,
		"title":       proc.Title,
		"description": proc.Description,
		"image_url":   proc.ImageURL,
		"category":    proc.Category,
		"created_by":  proc.CreatedBy,
		"published":   proc.Published,
		"steps":       steps,
	})
	if err != nil {
		return fmt.Errorf("put process: %w", wrapQueryError(err))
	}
	return nil
}

// ListProcesses returns process definitions ordered by title. With
// publishedOnly, drafts are excluded.
func (c *Client) ListProcesses(ctx context.Context, publishedOnly bool) ([]models.ProcessDefinition, error) {
	defer c.record(time.Now())

	whereClause := ""
	if publishedOnly {
		whereClause = "WHERE published = true"
	}

	sql := fmt.Sprintf(`
		SELECT %s FROM process %s ORDER BY title
	`, processFields, whereClause)

	results, err := surrealdb.Query[[]models.ProcessDefinition](ctx, c.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.ProcessDefinition{}, nil
	}
	return (*results)[0].Result, nil
}

// GetSession retrieves a user's session state. The session record is
// addressed by user id, so there is at most one per user.
// Returns nil if not found.
func (c *Client) GetSession(ctx context.Context, userID string) (*models.SessionState, error) {
	defer c.record(time.Now())

	results, err := surrealdb.Query[[]models.SessionState](ctx, c.db, fmt.Sprintf(`
		SELECT %s FROM type::record("session", $user_id)
	`, sessionFields), map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// PutSession creates or updates a session state document.
func (c *Client) PutSession(ctx context.Context, sess *models.SessionState) error {
	defer c.record(time.Now())

	answers := sess.Answers
	if answers == nil {
		answers = []models.CachedAnswer{}
	}
	history := sess.ConversationHistory
	if history == nil {
		history = []string{}
	}

	sql := `
		UPSERT type::record("session", $user_id) SET
			user_id = $user_id,
			process_id = $process_id,
			current_step_index = $current_step_index,
			mode = $mode,
			answers = $answers,
			is_processing_step = $is_processing_step,
			conversation_history = $conversation_history,
			system_language = $system_language,
			updated = time::now()
	`

	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"user_id":              sess.UserID,
		"process_id":           sess.ProcessID,
		"current_step_index":   sess.CurrentStepIndex,
		"mode":                 string(sess.Mode),
		"answers":              answers,
		"is_processing_step":   sess.IsProcessingStep,
		"conversation_history": history,
		"system_language":      sess.SystemLanguage,
	})
	if err != nil {
		return fmt.Errorf("put session: %w", wrapQueryError(err))
	}
	return nil
}

// ListSessionsIdleSince returns sessions with an active process whose last
// update is older than the cutoff. Idle sessions are excluded; they have
// nothing to expire.
func (c *Client) ListSessionsIdleSince(ctx context.Context, cutoff time.Time) ([]models.SessionState, error) {
	defer c.record(time.Now())

	sql := fmt.Sprintf(`
		SELECT %s FROM session
		WHERE updated < $cutoff AND process_id != NONE
	`, sessionFields)

	results, err := surrealdb.Query[[]models.SessionState](ctx, c.db, sql, map[string]any{
		"cutoff": cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.SessionState{}, nil
	}
	return (*results)[0].Result, nil
}

// GetAnswerRecord retrieves the live (non-archived) answer record for a
// user and process. Returns nil if not found.
func (c *Client) GetAnswerRecord(ctx context.Context, userID, processID string) (*models.AnswerRecord, error) {
	defer c.record(time.Now())

	sql := fmt.Sprintf(`
		SELECT %s FROM answer_record
		WHERE user_id = $user_id AND process_id = $process_id AND archived = false
		LIMIT 1
	`, answerRecordFields)

	results, err := surrealdb.Query[[]models.AnswerRecord](ctx, c.db, sql, map[string]any{
		"user_id":    userID,
		"process_id": processID,
	})
	if err != nil {
		return nil, fmt.Errorf("get answer record: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// PutAnswerRecord creates or updates the live answer record of a user and
// process. The live record has a deterministic id derived from both keys;
// archived records get fresh random ids and are never touched here.
func (c *Client) PutAnswerRecord(ctx context.Context, rec *models.AnswerRecord) error {
	defer c.record(time.Now())

	answers := rec.Answers
	if answers == nil {
		answers = []models.AnswerEntry{}
	}

	sql := `
		UPSERT type::record("answer_record", string::concat($user_id, ":", $process_id)) SET
			user_id = $user_id,
			process_id = $process_id,
			answers = $answers,
			archived = false,
			archived_at = NONE,
			created = IF created THEN created ELSE time::now() END,
			updated = time::now()
	`

	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"user_id":    rec.UserID,
		"process_id": rec.ProcessID,
		"answers":    answers,
	})
	if err != nil {
		return fmt.Errorf("put answer record: %w", wrapQueryError(err))
	}
	return nil
}

// ArchiveAnswerRecords flags every live answer record of a process as
// archived. Archived copies move to fresh random record ids so the
// deterministic live id stays free for a new record; the two-step
// select-then-move mirrors the fact that the count must be captured before
// the mutation. Returns the number of records archived.
func (c *Client) ArchiveAnswerRecords(ctx context.Context, processID string) (int, error) {
	defer c.record(time.Now())

	// Step 1: capture the live records with their ids.
	selectSQL := fmt.Sprintf(`
		SELECT record::id(id) AS id, %s FROM answer_record
		WHERE process_id = $process_id AND archived = false
	`, answerRecordFields)

	results, err := surrealdb.Query[[]answerRecordRow](ctx, c.db, selectSQL, map[string]any{
		"process_id": processID,
	})
	if err != nil {
		return 0, fmt.Errorf("archive answer records: select: %w", wrapQueryError(err))
	}

	var rows []answerRecordRow
	if results != nil && len(*results) > 0 {
		rows = (*results)[0].Result
	}
	if len(rows) == 0 {
		return 0, nil
	}

	// Step 2: write each as an archived copy under a random id, then drop
	// the live record.
	moveSQL := `
		CREATE answer_record SET
			user_id = $user_id,
			process_id = $process_id,
			answers = $answers,
			archived = true,
			archived_at = time::now(),
			created = $created,
			updated = time::now();
		DELETE type::record("answer_record", $live_id);
	`

	for _, row := range rows {
		answers := row.Answers
		if answers == nil {
			answers = []models.AnswerEntry{}
		}
		_, err := surrealdb.Query[any](ctx, c.db, moveSQL, map[string]any{
			"user_id":    row.UserID,
			"process_id": row.ProcessID,
			"answers":    answers,
			"created":    row.Created,
			"live_id":    row.ID,
		})
		if err != nil {
			return 0, fmt.Errorf("archive answer records: move %s: %w", row.ID, wrapQueryError(err))
		}
	}

	return len(rows), nil
}

// ListAnswerRecords returns every answer record of a process, archived ones
// included, newest first. Used by the answers export command.
func (c *Client) ListAnswerRecords(ctx context.Context, processID string) ([]models.AnswerRecord, error) {
	defer c.record(time.Now())

	sql := fmt.Sprintf(`
		SELECT %s FROM answer_record
		WHERE process_id = $process_id
		ORDER BY updated DESC
	`, answerRecordFields)

	results, err := surrealdb.Query[[]models.AnswerRecord](ctx, c.db, sql, map[string]any{
		"process_id": processID,
	})
	if err != nil {
		return nil, fmt.Errorf("list answer records: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.AnswerRecord{}, nil
	}
	return (*results)[0].Result, nil
}
