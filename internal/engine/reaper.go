package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/stepflow/internal/models"
)

// RunReaper periodically resets sessions that sat idle longer than ttl.
// A reaped user loses their position but not their recorded answers, and
// gets told what happened. Blocks until ctx is cancelled.
func (e *Engine) RunReaper(ctx context.Context, ttl, interval time.Duration) {
	e.logger.Info("session reaper started", "ttl", ttl, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			if err := e.reapIdleSessions(ctx, ttl); err != nil {
				e.logger.Error("reaper sweep failed", "error", err)
			}
		}
	}
}

// reapIdleSessions runs one sweep. Only sessions with an active process
// count as reapable; idle sessions have nothing to expire.
func (e *Engine) reapIdleSessions(ctx context.Context, ttl time.Duration) error {
	cutoff := time.Now().Add(-ttl)
	stale, err := e.store.ListSessionsIdleSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list idle sessions: %w", err)
	}

	for _, sess := range stale {
		if sess.ProcessID == nil {
			continue
		}

		e.router.Detach(sess.UserID)
		if _, err := e.sessions.Reset(ctx, sess.UserID, models.ModeIdle, nil); err != nil {
			e.logger.Error("failed to reset stale session", "user_id", sess.UserID, "error", err)
			continue
		}

		e.logger.Info("stale session reaped",
			"user_id", sess.UserID,
			"process_id", *sess.ProcessID,
			"last_active", sess.Updated,
		)
		if err := e.say(ctx, sess.UserID,
			"Your session timed out after inactivity. Your saved answers are kept; send /processes to pick up again."); err != nil {
			e.logger.Debug("could not notify reaped user", "user_id", sess.UserID, "error", err)
		}
	}
	return nil
}
