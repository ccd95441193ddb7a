package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raphaelgruber/stepflow/internal/models"
)

// SessionStore manages per-user session state. Persistence goes through
// the Store; the reentrancy guard is an in-memory compare-and-set because
// a session is owned by exactly one engine instance. The persisted
// is_processing_step field mirrors the guard for observability only.
type SessionStore struct {
	store    Store
	language string
	now      func() time.Time

	mu     sync.Mutex
	guards map[string]bool
}

// NewSessionStore creates a session store backed by store.
func NewSessionStore(store Store) *SessionStore {
	return &SessionStore{
		store:  store,
		now:    time.Now,
		guards: map[string]bool{},
	}
}

// GetOrCreate returns the user's session, creating an idle one lazily on
// first interaction.
func (s *SessionStore) GetOrCreate(ctx context.Context, userID string) (*models.SessionState, error) {
	sess, err := s.store.GetSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess != nil {
		return sess, nil
	}

	sess = &models.SessionState{
		UserID:         userID,
		Mode:           models.ModeIdle,
		SystemLanguage: s.language,
		Updated:        s.now(),
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Reset clears process id, step index, cached answers, conversation
// history and the guard regardless of mode, then applies mode-specific
// initialization: edit and answer modes bind processID immediately.
// The session row itself is never deleted.
func (s *SessionStore) Reset(ctx context.Context, userID string, mode models.SessionMode, processID *string) (*models.SessionState, error) {
	sess, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.ReleaseGuard(userID)

	sess.ProcessID = nil
	sess.CurrentStepIndex = 0
	sess.Answers = nil
	sess.ConversationHistory = nil
	sess.IsProcessingStep = false
	sess.Mode = mode
	sess.Updated = s.now()

	switch mode {
	case models.ModeAnswer, models.ModeEdit, models.ModeView:
		sess.ProcessID = processID
	}

	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Save persists the session, stamping Updated and mirroring the in-memory
// guard into is_processing_step.
func (s *SessionStore) Save(ctx context.Context, sess *models.SessionState) error {
	s.mu.Lock()
	sess.IsProcessingStep = s.guards[sess.UserID]
	s.mu.Unlock()

	sess.Updated = s.now()
	if err := s.store.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// AcquireGuard atomically sets the per-user reentrancy guard. Returns true
// only if the guard was previously clear; a duplicate or racing event gets
// false and must not advance the session.
func (s *SessionStore) AcquireGuard(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guards[userID] {
		return false
	}
	s.guards[userID] = true
	return true
}

// ReleaseGuard clears the per-user reentrancy guard.
func (s *SessionStore) ReleaseGuard(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.guards, userID)
}
