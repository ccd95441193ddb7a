package engine_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/stepflow/internal/chat"
	"github.com/raphaelgruber/stepflow/internal/engine"
	"github.com/raphaelgruber/stepflow/internal/models"
)

// fakeStore is an in-memory Store for engine tests.
type fakeStore struct {
	mu        sync.Mutex
	processes map[string]models.ProcessDefinition
	sessions  map[string]models.SessionState
	answers   map[string]models.AnswerRecord // key: user|process, live only
	archived  []models.AnswerRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		processes: map[string]models.ProcessDefinition{},
		sessions:  map[string]models.SessionState{},
		answers:   map[string]models.AnswerRecord{},
	}
}

func answerKey(userID, processID string) string { return userID + "|" + processID }

func (s *fakeStore) GetProcess(_ context.Context, id string) (*models.ProcessDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.processes[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *fakeStore) PutProcess(_ context.Context, proc *models.ProcessDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[proc.ID] = *proc
	return nil
}

func (s *fakeStore) ListProcesses(_ context.Context, publishedOnly bool) ([]models.ProcessDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var procs []models.ProcessDefinition
	for _, p := range s.processes {
		if publishedOnly && !p.Published {
			continue
		}
		procs = append(procs, p)
	}
	return procs, nil
}

func (s *fakeStore) GetSession(_ context.Context, userID string) (*models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return &sess, nil
	}
	return nil, nil
}

func (s *fakeStore) PutSession(_ context.Context, sess *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = *sess
	return nil
}

func (s *fakeStore) ListSessionsIdleSince(_ context.Context, cutoff time.Time) ([]models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []models.SessionState
	for _, sess := range s.sessions {
		if sess.ProcessID != nil && sess.Updated.Before(cutoff) {
			stale = append(stale, sess)
		}
	}
	return stale, nil
}

func (s *fakeStore) GetAnswerRecord(_ context.Context, userID, processID string) (*models.AnswerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.answers[answerKey(userID, processID)]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (s *fakeStore) PutAnswerRecord(_ context.Context, rec *models.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[answerKey(rec.UserID, rec.ProcessID)] = *rec
	return nil
}

func (s *fakeStore) ArchiveAnswerRecords(_ context.Context, processID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	count := 0
	for key, rec := range s.answers {
		if rec.ProcessID != processID {
			continue
		}
		rec.Archived = true
		rec.ArchivedAt = &now
		s.archived = append(s.archived, rec)
		delete(s.answers, key)
		count++
	}
	return count, nil
}

// stale backdates a session so the reaper picks it up.
func (s *fakeStore) stale(userID string, age time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[userID]
	sess.Updated = time.Now().Add(-age)
	s.sessions[userID] = sess
}

// sentPrompt is one message captured by the fake channel.
type sentPrompt struct {
	UserID  string
	Text    string
	Buttons []chat.Button
}

type fakeChannel struct {
	mu      sync.Mutex
	prompts []sentPrompt
}

func (c *fakeChannel) SendPrompt(_ context.Context, userID, text string, buttons []chat.Button) (chat.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, sentPrompt{UserID: userID, Text: text, Buttons: buttons})
	return chat.MessageRef{ID: fmt.Sprintf("msg-%d", len(c.prompts))}, nil
}

func (c *fakeChannel) last(t *testing.T) sentPrompt {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.prompts, "expected at least one prompt")
	return c.prompts[len(c.prompts)-1]
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// fakeAI returns canned questions or an error.
type fakeAI struct {
	questions []string
	steps     []models.Step
	err       error
	calls     int
}

func (a *fakeAI) GenerateSteps(context.Context, string, string) ([]models.Step, error) {
	a.calls++
	return a.steps, a.err
}

func (a *fakeAI) GenerateQuestions(context.Context, string, int) ([]string, error) {
	a.calls++
	return a.questions, a.err
}

// fakeFiles accepts every retrieval, mapping the reference back to the
// uploaded file's name the way a real retriever resolves it.
type fakeFiles struct{ err error }

func (f *fakeFiles) Retrieve(_ context.Context, fileRef string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	name := strings.TrimPrefix(fileRef, "ref-")
	return "/tmp/" + name, name, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testProcess covers every interactive step type.
func testProcess() *models.ProcessDefinition {
	proc := &models.ProcessDefinition{
		ID:        "onboarding",
		Title:     "Onboarding",
		Published: true,
		Steps: []models.Step{
			{StepID: "s-info", Type: models.StepInfo, Prompt: "Welcome aboard"},
			{StepID: "s-name", Type: models.StepText, Prompt: "What's your name?",
				Validation: models.Validation{Required: true}},
			{StepID: "s-remote", Type: models.StepYesNo, Prompt: "Remote worker?"},
			{StepID: "s-tools", Type: models.StepChoice, Prompt: "Pick your tools",
				Options: []string{"Laptop", "Phone", "Monitor"}},
			{StepID: "s-final", Type: models.StepFinal, Prompt: "Confirm to finish"},
		},
	}
	models.Resequence(proc.Steps)
	return proc
}

type testEnv struct {
	eng   *engine.Engine
	store *fakeStore
	ch    *fakeChannel
	ai    *fakeAI
}

func newTestEnv(t *testing.T, proc *models.ProcessDefinition) *testEnv {
	t.Helper()
	store := newFakeStore()
	ch := &fakeChannel{}
	ai := &fakeAI{questions: []string{"Why?", "How?"}}

	if proc != nil {
		require.NoError(t, store.PutProcess(context.Background(), proc))
	}

	eng := engine.New(engine.Options{
		Store:   store,
		Channel: ch,
		AI:      ai,
		Files:   &fakeFiles{},
		Logger:  testLogger(),
	})
	return &testEnv{eng: eng, store: store, ch: ch, ai: ai}
}

func textEv(userID, text string) chat.Event {
	return chat.Event{UserID: userID, Kind: chat.EventText, Payload: text}
}

func btnEv(userID, data string) chat.Event {
	return chat.Event{UserID: userID, Kind: chat.EventButton, Payload: data}
}

func fileEv(userID, fileName string) chat.Event {
	return chat.Event{UserID: userID, Kind: chat.EventFile, FileRef: "ref-" + fileName, FileName: fileName}
}

func (env *testEnv) session(t *testing.T, userID string) *models.SessionState {
	t.Helper()
	sess, err := env.store.GetSession(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess
}

func (env *testEnv) record(t *testing.T, userID, processID string) *models.AnswerRecord {
	t.Helper()
	rec, err := env.store.GetAnswerRecord(context.Background(), userID, processID)
	require.NoError(t, err)
	return rec
}

// walkToFinal answers every step of testProcess up to the final one.
func (env *testEnv) walkToFinal(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.eng.StartProcess(ctx, userID, "onboarding"))
	env.eng.HandleEvent(ctx, btnEv(userID, "next"))        // info
	env.eng.HandleEvent(ctx, textEv(userID, "Alice"))      // text
	env.eng.HandleEvent(ctx, btnEv(userID, "yes"))         // yesno
	env.eng.HandleEvent(ctx, btnEv(userID, "opt:Laptop"))  // choice toggle
	env.eng.HandleEvent(ctx, btnEv(userID, "done"))        // choice confirm
}

func TestStartProcessPresentsFirstStep(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))

	prompt := env.ch.last(t)
	assert.Equal(t, "alice", prompt.UserID)
	assert.Contains(t, prompt.Text, "Welcome aboard")

	sess := env.session(t, "alice")
	assert.Equal(t, 0, sess.CurrentStepIndex)
	assert.Equal(t, models.ModeAnswer, sess.Mode)
}

func TestStartProcessUnknownID(t *testing.T) {
	env := newTestEnv(t, testProcess())

	err := env.eng.StartProcess(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestTextAnswerAdvancesAndRecords(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alice Smith"))

	sess := env.session(t, "alice")
	assert.Equal(t, 2, sess.CurrentStepIndex, "should sit on the yesno step")

	rec := env.record(t, "alice", "onboarding")
	require.NotNil(t, rec)
	require.Len(t, rec.Answers, 1)
	entry := rec.Answers[0]
	assert.Equal(t, 1, entry.StepIndex)
	assert.Equal(t, "s-name", entry.StepID)
	assert.Equal(t, "What's your name?", entry.StepPrompt)
	assert.Equal(t, "Alice Smith", entry.Answer)
}

func TestRequiredTextRejectedWithoutAdvancing(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))

	env.eng.HandleEvent(ctx, textEv("alice", "   "))
	assert.Contains(t, env.ch.last(t).Text, "What's your name?", "step must be re-presented")

	sess := env.session(t, "alice")
	assert.Equal(t, 1, sess.CurrentStepIndex, "rejection must not move the index")

	// The re-armed capture accepts a valid answer.
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))
	assert.Equal(t, 2, env.session(t, "alice").CurrentStepIndex)
}

func TestRegexValidation(t *testing.T) {
	proc := testProcess()
	pattern := `^\d{4}$`
	proc.Steps[1].Validation.Regex = &pattern
	env := newTestEnv(t, proc)
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))

	env.eng.HandleEvent(ctx, textEv("alice", "abcd"))
	assert.Equal(t, 1, env.session(t, "alice").CurrentStepIndex)

	env.eng.HandleEvent(ctx, textEv("alice", "1234"))
	assert.Equal(t, 2, env.session(t, "alice").CurrentStepIndex)
}

func TestYesNoRejectsText(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))

	env.eng.HandleEvent(ctx, textEv("alice", "yes please"))
	assert.Equal(t, 2, env.session(t, "alice").CurrentStepIndex)

	env.eng.HandleEvent(ctx, btnEv("alice", "no"))
	assert.Equal(t, 3, env.session(t, "alice").CurrentStepIndex)

	rec := env.record(t, "alice", "onboarding")
	entry := rec.EntryAt(2)
	require.NotNil(t, entry)
	assert.Equal(t, "No", entry.Answer)
}

func TestChoiceToggleThenDone(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))
	env.eng.HandleEvent(ctx, btnEv("alice", "yes"))

	// Toggle two options on, in reverse option order.
	env.eng.HandleEvent(ctx, btnEv("alice", "opt:Monitor"))
	env.eng.HandleEvent(ctx, btnEv("alice", "opt:Laptop"))
	assert.Equal(t, 3, env.session(t, "alice").CurrentStepIndex, "toggles must not advance")

	// Re-render shows checkmarks on the selected options.
	prompt := env.ch.last(t)
	var checked []string
	for _, b := range prompt.Buttons {
		if strings.HasPrefix(b.Label, "✓ ") {
			checked = append(checked, strings.TrimPrefix(b.Label, "✓ "))
		}
	}
	assert.ElementsMatch(t, []string{"Laptop", "Monitor"}, checked)

	// Toggle one back off, then confirm.
	env.eng.HandleEvent(ctx, btnEv("alice", "opt:Monitor"))
	env.eng.HandleEvent(ctx, btnEv("alice", "done"))

	assert.Equal(t, 4, env.session(t, "alice").CurrentStepIndex)
	entry := env.record(t, "alice", "onboarding").EntryAt(3)
	require.NotNil(t, entry)
	assert.Equal(t, "Laptop", entry.Answer)
}

func TestChoiceStoredInOptionOrder(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))
	env.eng.HandleEvent(ctx, btnEv("alice", "yes"))

	env.eng.HandleEvent(ctx, btnEv("alice", "opt:Monitor"))
	env.eng.HandleEvent(ctx, btnEv("alice", "opt:Laptop"))
	env.eng.HandleEvent(ctx, btnEv("alice", "done"))

	entry := env.record(t, "alice", "onboarding").EntryAt(3)
	require.NotNil(t, entry)
	assert.Equal(t, "Laptop, Monitor", entry.Answer, "click order must not matter")
}

func TestRequiredChoiceRejectsEmptyDone(t *testing.T) {
	proc := testProcess()
	proc.Steps[3].Validation.Required = true
	env := newTestEnv(t, proc)
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))
	env.eng.HandleEvent(ctx, btnEv("alice", "yes"))

	env.eng.HandleEvent(ctx, btnEv("alice", "done"))
	assert.Equal(t, 3, env.session(t, "alice").CurrentStepIndex, "empty required selection must not advance")

	env.eng.HandleEvent(ctx, btnEv("alice", "opt:Phone"))
	env.eng.HandleEvent(ctx, btnEv("alice", "done"))
	assert.Equal(t, 4, env.session(t, "alice").CurrentStepIndex)
}

func TestAnswerOverwritesInPlace(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))
	env.eng.HandleEvent(ctx, btnEv("alice", "yes"))

	// Go back to the text step and answer differently.
	env.eng.HandleEvent(ctx, btnEv("alice", "opt:Laptop"))
	// Choice toggles re-present; navigate back via a fresh start instead.
	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alicia"))

	rec := env.record(t, "alice", "onboarding")
	entry := rec.EntryAt(1)
	require.NotNil(t, entry)
	assert.Equal(t, "Alicia", entry.Answer, "same step index must be overwritten, not duplicated")

	indexes := map[int]int{}
	for _, e := range rec.Answers {
		indexes[e.StepIndex]++
	}
	for idx, n := range indexes {
		assert.Equal(t, 1, n, "step index %d appears %d times", idx, n)
	}
}

func TestRetreatClampsAtFirstStep(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "prev"))

	assert.Equal(t, 0, env.session(t, "alice").CurrentStepIndex)
	assert.Contains(t, env.ch.last(t).Text, "Welcome aboard", "first step must be re-presented")

	// The re-armed capture still works.
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	assert.Equal(t, 1, env.session(t, "alice").CurrentStepIndex)
}

func TestCompletionSummaryAndFinish(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	env.walkToFinal(t, "alice")
	env.eng.HandleEvent(ctx, btnEv("alice", "confirm"))

	summary := env.ch.last(t)
	assert.Contains(t, summary.Text, "All done!")
	assert.Contains(t, summary.Text, "Alice")
	assert.Contains(t, summary.Text, "Laptop")
	require.Len(t, summary.Buttons, 1)
	assert.Equal(t, "Finish", summary.Buttons[0].Label)

	// Finish resets the session to idle; answers survive.
	env.eng.HandleEvent(ctx, btnEv("alice", "finish"))
	sess := env.session(t, "alice")
	assert.Equal(t, models.ModeIdle, sess.Mode)
	assert.Nil(t, sess.ProcessID)

	rec := env.record(t, "alice", "onboarding")
	require.NotNil(t, rec)
	assert.Len(t, rec.Answers, 3)
}

func TestCompletionRunsOnce(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	env.walkToFinal(t, "alice")
	env.eng.HandleEvent(ctx, btnEv("alice", "confirm"))

	before := env.ch.count()
	// A stray command while the session sits past the last step must not
	// re-run completion.
	env.eng.HandleEvent(ctx, textEv("alice", "/help"))
	assert.Greater(t, env.ch.count(), before)
	for _, p := range env.ch.prompts[before:] {
		assert.NotContains(t, p.Text, "All done!")
	}
}

func TestDuplicateEventSingleAdvance(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))

	// Simulate a transition in flight: the guard is held.
	require.True(t, env.eng.Sessions().AcquireGuard("alice"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))

	assert.Equal(t, 1, env.session(t, "alice").CurrentStepIndex, "guarded session must not advance")
	assert.Contains(t, env.ch.last(t).Text, "still working")

	env.eng.Sessions().ReleaseGuard("alice")
}

func TestGuardIsCAS(t *testing.T) {
	env := newTestEnv(t, testProcess())

	require.True(t, env.eng.Sessions().AcquireGuard("alice"))
	assert.False(t, env.eng.Sessions().AcquireGuard("alice"), "second acquire must fail")
	env.eng.Sessions().ReleaseGuard("alice")
	assert.True(t, env.eng.Sessions().AcquireGuard("alice"), "release must free the guard")
	env.eng.Sessions().ReleaseGuard("alice")
}

func TestUsersAreIsolated(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	require.NoError(t, env.eng.StartProcess(ctx, "bob", "onboarding"))

	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))

	assert.Equal(t, 2, env.session(t, "alice").CurrentStepIndex)
	assert.Equal(t, 0, env.session(t, "bob").CurrentStepIndex, "bob must be untouched by alice's events")
}

func TestAbortKeepsAnswers(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))

	env.eng.HandleEvent(ctx, textEv("alice", "/abort"))

	sess := env.session(t, "alice")
	assert.Equal(t, models.ModeIdle, sess.Mode)
	assert.Nil(t, sess.ProcessID)
	assert.Empty(t, sess.Answers)

	rec := env.record(t, "alice", "onboarding")
	require.NotNil(t, rec)
	assert.Len(t, rec.Answers, 1, "durable answers survive abort")
}

func TestCommandsOutrankPendingCapture(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))

	// /processes answers mid-step without consuming the armed capture.
	env.eng.HandleEvent(ctx, textEv("alice", "/processes"))
	assert.Contains(t, env.ch.last(t).Text, "Available processes")
	assert.Equal(t, 1, env.session(t, "alice").CurrentStepIndex)

	// The capture is still armed: a plain answer advances as usual.
	env.eng.HandleEvent(ctx, textEv("alice", "Alice"))
	assert.Equal(t, 2, env.session(t, "alice").CurrentStepIndex)

	// /abort reaches the engine even while the yesno capture is waiting.
	env.eng.HandleEvent(ctx, textEv("alice", "/abort"))
	sess := env.session(t, "alice")
	assert.Equal(t, models.ModeIdle, sess.Mode)
	assert.Nil(t, sess.ProcessID)
}

func TestFinishRequiresButton(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	env.walkToFinal(t, "alice")
	env.eng.HandleEvent(ctx, btnEv("alice", "confirm"))

	// A stray message after completion neither closes the session nor
	// re-runs the summary.
	env.eng.HandleEvent(ctx, textEv("alice", "thanks!"))
	assert.Contains(t, env.ch.last(t).Text, "Press Finish")
	assert.Equal(t, models.ModeAnswer, env.session(t, "alice").Mode)

	env.eng.HandleEvent(ctx, btnEv("alice", "finish"))
	assert.Equal(t, models.ModeIdle, env.session(t, "alice").Mode)
}

func TestFileStep(t *testing.T) {
	proc := &models.ProcessDefinition{
		ID:        "docs",
		Title:     "Document upload",
		Published: true,
		Steps: []models.Step{
			{StepID: "f1", Type: models.StepFile, Prompt: "Upload your contract",
				Validation: models.Validation{FileTypes: []string{"pdf"}}},
			{StepID: "f2", Type: models.StepFinal, Prompt: "Done"},
		},
	}
	models.Resequence(proc.Steps)
	env := newTestEnv(t, proc)
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "docs"))

	// Wrong extension re-prompts without advancing.
	env.eng.HandleEvent(ctx, fileEv("alice", "contract.docx"))
	assert.Equal(t, 0, env.session(t, "alice").CurrentStepIndex)

	env.eng.HandleEvent(ctx, fileEv("alice", "contract.pdf"))
	assert.Equal(t, 1, env.session(t, "alice").CurrentStepIndex)

	entry := env.record(t, "alice", "docs").EntryAt(0)
	require.NotNil(t, entry)
	assert.Equal(t, "contract.pdf", entry.Answer)
}

func TestGenerateQuestionsAutoAdvances(t *testing.T) {
	proc := &models.ProcessDefinition{
		ID:        "interview",
		Title:     "Interview",
		Published: true,
		Steps: []models.Step{
			{StepID: "q1", Type: models.StepText, Prompt: "Describe your project"},
			{StepID: "q2", Type: models.StepGenerateQuestions, Prompt: "Follow-up questions"},
			{StepID: "q3", Type: models.StepText, Prompt: "Answer the first question"},
		},
	}
	models.Resequence(proc.Steps)
	env := newTestEnv(t, proc)
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "interview"))
	env.eng.HandleEvent(ctx, textEv("alice", "A workflow bot"))

	// The AI step ran inline and the session sits on the step after it.
	sess := env.session(t, "alice")
	assert.Equal(t, 2, sess.CurrentStepIndex)
	assert.Equal(t, 1, env.ai.calls)
	assert.Contains(t, sess.ConversationHistory, "Why?")

	// The questions were shown before the next prompt.
	var sawQuestions bool
	for _, p := range env.ch.prompts {
		if strings.Contains(p.Text, "1. Why?") {
			sawQuestions = true
		}
	}
	assert.True(t, sawQuestions, "generated questions must be shown")
}

func TestGenerateQuestionsFailureOffersRetry(t *testing.T) {
	proc := &models.ProcessDefinition{
		ID:        "interview",
		Title:     "Interview",
		Published: true,
		Steps: []models.Step{
			{StepID: "q1", Type: models.StepGenerateQuestions, Prompt: "Follow-ups"},
			{StepID: "q2", Type: models.StepText, Prompt: "Answer"},
		},
	}
	models.Resequence(proc.Steps)
	env := newTestEnv(t, proc)
	env.ai.err = fmt.Errorf("model unavailable")
	ctx := context.Background()

	err := env.eng.StartProcess(ctx, "alice", "interview")
	require.Error(t, err)
	var extErr *engine.ExternalServiceError
	assert.ErrorAs(t, err, &extErr)

	// The user got a Retry button and the index did not move.
	var sawRetry bool
	for _, p := range env.ch.prompts {
		for _, b := range p.Buttons {
			if b.Data == "retry" {
				sawRetry = true
			}
		}
	}
	assert.True(t, sawRetry)
	assert.Equal(t, 0, env.session(t, "alice").CurrentStepIndex)

	// Fixing the model and pressing Retry moves things along.
	env.ai.err = nil
	env.eng.HandleEvent(ctx, btnEv("alice", "retry"))
	assert.Equal(t, 1, env.session(t, "alice").CurrentStepIndex)
}

func TestRetreatSkipsGenerateQuestions(t *testing.T) {
	proc := &models.ProcessDefinition{
		ID:        "interview",
		Title:     "Interview",
		Published: true,
		Steps: []models.Step{
			{StepID: "q1", Type: models.StepInfo, Prompt: "Intro"},
			{StepID: "q2", Type: models.StepGenerateQuestions, Prompt: "Follow-ups"},
			{StepID: "q3", Type: models.StepInfo, Prompt: "Outro"},
		},
	}
	models.Resequence(proc.Steps)
	env := newTestEnv(t, proc)
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "interview"))
	env.eng.HandleEvent(ctx, btnEv("alice", "next"))
	assert.Equal(t, 2, env.session(t, "alice").CurrentStepIndex)

	// Previous skips the AI step instead of re-running it.
	calls := env.ai.calls
	env.eng.HandleEvent(ctx, btnEv("alice", "prev"))
	assert.Equal(t, 0, env.session(t, "alice").CurrentStepIndex)
	assert.Equal(t, calls, env.ai.calls, "going back must not re-run the AI step")
}

func TestListProcessesCommand(t *testing.T) {
	env := newTestEnv(t, testProcess())
	draft := testProcess()
	draft.ID = "draft-proc"
	draft.Published = false
	require.NoError(t, env.store.PutProcess(context.Background(), draft))

	env.eng.HandleEvent(context.Background(), textEv("alice", "/processes"))

	listing := env.ch.last(t)
	assert.Contains(t, listing.Text, "onboarding")
	assert.NotContains(t, listing.Text, "draft-proc", "drafts are hidden from users")
}

func TestUnknownCommand(t *testing.T) {
	env := newTestEnv(t, testProcess())

	env.eng.HandleEvent(context.Background(), textEv("alice", "hello there"))
	assert.Contains(t, env.ch.last(t).Text, "/help")
}

func TestReaperResetsStaleSessions(t *testing.T) {
	env := newTestEnv(t, testProcess())
	ctx := context.Background()

	require.NoError(t, env.eng.StartProcess(ctx, "alice", "onboarding"))
	require.NoError(t, env.eng.StartProcess(ctx, "bob", "onboarding"))
	env.store.stale("alice", time.Hour)

	reaperCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	env.eng.RunReaper(reaperCtx, 30*time.Minute, 20*time.Millisecond)

	alice := env.session(t, "alice")
	assert.Equal(t, models.ModeIdle, alice.Mode)
	assert.Nil(t, alice.ProcessID)

	bob := env.session(t, "bob")
	require.NotNil(t, bob.ProcessID, "fresh session must survive the sweep")

	var notified bool
	for _, p := range env.ch.prompts {
		if p.UserID == "alice" && strings.Contains(p.Text, "timed out") {
			notified = true
		}
	}
	assert.True(t, notified, "reaped user must be told")
}
