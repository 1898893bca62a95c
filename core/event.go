package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the streaming events a run emits to its caller.
type EventType string

const (
	// EventChunk carries an incremental fragment of response content.
	EventChunk EventType = "chunk"
	// EventStageStarted marks a delegation stage beginning execution.
	EventStageStarted EventType = "stage_started"
	// EventStageCompleted marks a delegation stage finishing (ok or failed).
	EventStageCompleted EventType = "stage_completed"
	// EventCompleted is the terminal event of a run. It carries the full
	// response text and the resolved session id.
	EventCompleted EventType = "completed"
	// EventError reports a non-recoverable run failure after work started.
	EventError EventType = "error"
)

// Event is the unit of communication between a run and external clients.
// After emission it should be treated as immutable. Stage fields are only
// populated for stage marker events; they are additive observability and
// never required for correctness.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Author    string    `json:"author"`
	Text      string    `json:"text,omitempty"`
	Stage     int       `json:"stage,omitempty"`
	Worker    string    `json:"worker,omitempty"`
	StageOK   *bool     `json:"stage_ok,omitempty"`
	Partial   bool      `json:"partial,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates a bare event authored by author, bound to a run/session.
func NewEvent(runID, sessionID, author string, typ EventType) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		SessionID: sessionID,
		Type:      typ,
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewChunkEvent creates an incremental content fragment event.
func NewChunkEvent(runID, sessionID, author, text string) Event {
	e := NewEvent(runID, sessionID, author, EventChunk)
	e.Text = text
	e.Partial = true
	return e
}

// NewStageStartedEvent marks a delegation stage beginning.
func NewStageStartedEvent(runID, sessionID, author string, stage int, worker string) Event {
	e := NewEvent(runID, sessionID, author, EventStageStarted)
	e.Stage = stage
	e.Worker = worker
	return e
}

// NewStageCompletedEvent marks a delegation stage finishing.
func NewStageCompletedEvent(runID, sessionID, author string, stage int, worker string, ok bool) Event {
	e := NewEvent(runID, sessionID, author, EventStageCompleted)
	e.Stage = stage
	e.Worker = worker
	e.StageOK = &ok
	return e
}

// NewCompletedEvent creates the terminal event carrying the final response
// text and the resolved session id.
func NewCompletedEvent(runID, sessionID, author, text string) Event {
	e := NewEvent(runID, sessionID, author, EventCompleted)
	e.Text = text
	return e
}

// NewErrorEvent reports a run failure to the caller.
func NewErrorEvent(runID, sessionID, author string, err error) Event {
	e := NewEvent(runID, sessionID, author, EventError)
	if err != nil {
		e.Text = err.Error()
	}
	return e
}

// IsTerminal reports whether this event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}

// NewID generates a new unique identifier for events, runs and sessions.
func NewID() string { return uuid.NewString() }
