package engine

import (
	"context"
	"time"

	"github.com/raphaelgruber/stepflow/internal/models"
)

// Store is the persistence boundary of the engine. Every entity is a
// self-contained document addressed by key; lookups return (nil, nil)
// when the document does not exist.
type Store interface {
	GetProcess(ctx context.Context, id string) (*models.ProcessDefinition, error)
	PutProcess(ctx context.Context, proc *models.ProcessDefinition) error
	ListProcesses(ctx context.Context, publishedOnly bool) ([]models.ProcessDefinition, error)

	GetSession(ctx context.Context, userID string) (*models.SessionState, error)
	PutSession(ctx context.Context, sess *models.SessionState) error
	// ListSessionsIdleSince returns non-idle sessions not updated since
	// the cutoff; used by the idle reaper.
	ListSessionsIdleSince(ctx context.Context, cutoff time.Time) ([]models.SessionState, error)

	GetAnswerRecord(ctx context.Context, userID, processID string) (*models.AnswerRecord, error)
	PutAnswerRecord(ctx context.Context, rec *models.AnswerRecord) error
	// ArchiveAnswerRecords flags every live answer record of a process as
	// archived. Returns the number of records affected.
	ArchiveAnswerRecords(ctx context.Context, processID string) (int, error)
}

// StepGenerator produces steps and follow-up questions with an LLM.
type StepGenerator interface {
	GenerateSteps(ctx context.Context, title, description string) ([]models.Step, error)
	GenerateQuestions(ctx context.Context, conversation string, n int) ([]string, error)
}

// FileRetriever fetches an uploaded file to local storage.
type FileRetriever interface {
	Retrieve(ctx context.Context, fileRef string) (localPath, fileName string, err error)
}
