package engine

import (
	"context"
	"sync"

	"github.com/raphaelgruber/stepflow/internal/chat"
)

// captureFunc consumes one captured event for a user.
type captureFunc func(ctx context.Context, ev chat.Event) error

// capture is a one-shot subscription awaiting the next matching chat event
// for a specific user and step.
type capture struct {
	stepIndex int
	fn        captureFunc
}

// Router holds at most one pending capture per user. Captures are scoped
// to the step that created them: arming a new capture for a user detaches
// any previous one, and a capture is removed before it fires so it can
// never fire twice. Events for users without a pending capture are left
// to the command layer.
type Router struct {
	mu      sync.Mutex
	pending map[string]*capture
}

// NewRouter creates an empty capture router.
func NewRouter() *Router {
	return &Router{pending: map[string]*capture{}}
}

// Expect arms a capture for userID, replacing any pending one.
func (r *Router) Expect(userID string, stepIndex int, fn captureFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[userID] = &capture{stepIndex: stepIndex, fn: fn}
}

// Detach drops the pending capture for userID, if any. Reports whether a
// capture was pending.
func (r *Router) Detach(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[userID]
	delete(r.pending, userID)
	return ok
}

// Pending returns the step index of the pending capture for userID.
func (r *Router) Pending(userID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[userID]
	if !ok {
		return 0, false
	}
	return c.stepIndex, true
}

// Dispatch delivers ev to the pending capture for ev.UserID, detaching it
// first. Reports whether the event was consumed; the capture's error, if
// any, is returned for the engine's error boundary.
func (r *Router) Dispatch(ctx context.Context, ev chat.Event) (bool, error) {
	r.mu.Lock()
	c, ok := r.pending[ev.UserID]
	if ok {
		delete(r.pending, ev.UserID)
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, c.fn(ctx, ev)
}
