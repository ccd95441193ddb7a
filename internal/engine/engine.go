package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/stepflow/internal/chat"
	"github.com/raphaelgruber/stepflow/internal/metrics"
	"github.com/raphaelgruber/stepflow/internal/models"
)

// Engine drives users through processes over a chat channel. One engine
// instance serves many concurrent users; per-user state is isolated in the
// session store and coordinated through the capture router, so no event
// handling ever blocks another user.
type Engine struct {
	store    Store
	sessions *SessionStore
	answers  *AnswerStore
	router   *Router
	channel  chat.Channel
	ai       StepGenerator
	files    FileRetriever
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// Options configures a new Engine. Store, Channel and Logger are required;
// AI and Files may be nil, which disables the step types that need them.
type Options struct {
	Store    Store
	Channel  chat.Channel
	AI       StepGenerator
	Files    FileRetriever
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	Language string // stamped on lazily created sessions
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	sessions := NewSessionStore(opts.Store)
	sessions.language = opts.Language
	return &Engine{
		store:    opts.Store,
		sessions: sessions,
		answers:  NewAnswerStore(opts.Store, sessions, opts.Logger),
		router:   NewRouter(),
		channel:  opts.Channel,
		ai:       opts.AI,
		files:    opts.Files,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// Sessions exposes the session store (used by the reaper and tests).
func (e *Engine) Sessions() *SessionStore { return e.sessions }

// SetChannel wires the outbound channel after construction. The websocket
// gateway needs the engine as its handler before it exists, so the two are
// tied together in this order during startup.
func (e *Engine) SetChannel(ch chat.Channel) { e.channel = ch }

// HandleEvent is the error boundary for one inbound chat event. Slash
// commands outrank any pending capture, so a user mid-step can always
// reach /abort; every other event goes to the capture for that user first
// and is interpreted as a command only when none is pending. Errors become
// user-visible messages and never escape to the gateway, so one user's
// failure cannot affect another session.
func (e *Engine) HandleEvent(ctx context.Context, ev chat.Event) {
	start := time.Now()
	defer func() {
		e.metrics.RecordTiming(metrics.OpEventHandle, time.Since(start))
	}()

	if ev.Kind == chat.EventText && strings.HasPrefix(strings.TrimSpace(ev.Payload), "/") {
		if err := e.handleCommand(ctx, ev); err != nil {
			e.fail(ctx, ev.UserID, err)
		}
		return
	}

	consumed, err := e.router.Dispatch(ctx, ev)
	if err != nil {
		e.fail(ctx, ev.UserID, err)
		return
	}
	if consumed {
		return
	}

	if err := e.handleCommand(ctx, ev); err != nil {
		e.fail(ctx, ev.UserID, err)
	}
}

// handleCommand interprets events that no capture was waiting for.
func (e *Engine) handleCommand(ctx context.Context, ev chat.Event) error {
	if ev.Kind != chat.EventText {
		return e.say(ctx, ev.UserID, "Nothing is waiting for that input. Send /help for commands.")
	}

	text := strings.TrimSpace(ev.Payload)
	switch {
	case strings.HasPrefix(text, "/start "):
		return e.StartProcess(ctx, ev.UserID, strings.TrimSpace(strings.TrimPrefix(text, "/start ")))
	case text == "/abort":
		return e.Abort(ctx, ev.UserID)
	case text == "/processes":
		return e.listProcesses(ctx, ev.UserID)
	case text == "/help", text == "/start":
		return e.say(ctx, ev.UserID,
			"Commands:\n/processes - list available processes\n/start <id> - begin a process\n/abort - abandon the current process")
	default:
		return e.say(ctx, ev.UserID, "I didn't understand that. Send /help for commands.")
	}
}

// StartProcess resets the user's session into answer mode for processID
// and presents the first step. Any pending capture from a previous step is
// detached so it cannot fire against the new process.
func (e *Engine) StartProcess(ctx context.Context, userID, processID string) error {
	proc, err := e.store.GetProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}
	if proc == nil {
		return fmt.Errorf("process %s: %w", processID, ErrNotFound)
	}
	if len(proc.Steps) == 0 {
		return fmt.Errorf("process %s has no steps: %w", processID, ErrNotFound)
	}

	e.router.Detach(userID)
	sess, err := e.sessions.Reset(ctx, userID, models.ModeAnswer, &processID)
	if err != nil {
		return err
	}

	e.logger.Info("process started", "user_id", userID, "process_id", processID, "steps", len(proc.Steps))
	return e.present(ctx, sess, proc)
}

// Abort abandons the active process: the pending capture is detached and
// the session reset to idle. Recorded answers are kept.
func (e *Engine) Abort(ctx context.Context, userID string) error {
	e.router.Detach(userID)
	if _, err := e.sessions.Reset(ctx, userID, models.ModeIdle, nil); err != nil {
		return err
	}
	e.logger.Info("session aborted", "user_id", userID)
	return e.say(ctx, userID, "Process abandoned. Your saved answers are kept.")
}

func (e *Engine) listProcesses(ctx context.Context, userID string) error {
	procs, err := e.store.ListProcesses(ctx, true)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	if len(procs) == 0 {
		return e.say(ctx, userID, "No processes are published yet.")
	}

	var b strings.Builder
	b.WriteString("Available processes:\n")
	for _, p := range procs {
		fmt.Fprintf(&b, "- %s: %s (%d steps)\n", p.ID, p.Title, len(p.Steps))
	}
	b.WriteString("Send /start <id> to begin.")
	return e.say(ctx, userID, b.String())
}

// say sends a plain text message without buttons.
func (e *Engine) say(ctx context.Context, userID, text string) error {
	_, err := e.channel.SendPrompt(ctx, userID, text, nil)
	return err
}

// fail converts an engine error into a user-visible message. Unrecognized
// errors get a generic message and a log entry; nothing crashes the
// per-user task.
func (e *Engine) fail(ctx context.Context, userID string, err error) {
	var (
		valErr *ValidationError
		extErr *ExternalServiceError
		msg    string
	)
	switch {
	case errors.As(err, &valErr):
		msg = valErr.Reason
	case errors.As(err, &extErr):
		msg = "An external service failed: " + extErr.Op + ". Please try again."
	case errors.Is(err, ErrStateConflict):
		msg = "I'm still working on your previous input, or no process is active. Please wait a moment or send /start."
	case errors.Is(err, ErrNotFound):
		msg = "That process or step no longer exists. Send /processes to see what's available."
	case errors.Is(err, ErrBoundary):
		msg = "That step is already at the edge of the process."
	default:
		e.logger.Error("event handling failed", "user_id", userID, "error", err)
		msg = "Something went wrong. Please try again."
	}

	if sendErr := e.say(ctx, userID, msg); sendErr != nil {
		e.logger.Error("failed to deliver error message", "user_id", userID, "error", sendErr)
	}
}
