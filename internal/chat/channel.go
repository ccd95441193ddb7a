// Package chat defines the transport boundary between the workflow engine
// and whatever delivers messages to users, plus a websocket gateway
// implementation of it.
package chat

import "context"

// EventKind distinguishes inbound event payloads.
type EventKind string

// Inbound event kinds.
const (
	EventText   EventKind = "text"
	EventButton EventKind = "button"
	EventFile   EventKind = "file"
)

// Event is one inbound chat event. The underlying connection multiplexes
// many users, so UserID is mandatory on every event.
type Event struct {
	UserID  string    `json:"user_id"`
	Kind    EventKind `json:"kind"`
	Payload string    `json:"payload,omitempty"`
	// FileRef identifies an uploaded file for EventFile events; retrieval
	// goes through the files package.
	FileRef  string `json:"file_ref,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// Button is an inline action offered with a prompt. Data is echoed back
// as the Payload of the resulting button event.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// MessageRef identifies a delivered message.
type MessageRef struct {
	ID string `json:"id"`
}

// Channel delivers prompts to users. Implementations must be safe for
// concurrent use; the engine sends from many per-user goroutines.
type Channel interface {
	SendPrompt(ctx context.Context, userID, text string, buttons []Button) (MessageRef, error)
}

// Handler consumes inbound events. The gateway calls it once per event on
// its own goroutine; it must not block indefinitely.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}
