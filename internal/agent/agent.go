// Package agent defines the boundary to the external conversational
// agent: a request built from plain role+content history, answered by
// an asynchronous stream of typed events.
package agent

import (
	"context"

	"github.com/parley-dev/parley/internal/models"
)

// TextMessage is one entry of the plain-text history sent to the agent.
type TextMessage struct {
	Role    models.Role
	Content string
}

// Request describes one agent invocation. Model and System may be empty,
// in which case the implementation falls back to its configured defaults.
type Request struct {
	Model     string
	System    string
	MaxTokens int
	Messages  []TextMessage
}

// EventType discriminates agent stream events.
type EventType string

const (
	EventTurnStart    EventType = "turn_start"
	EventTextDelta    EventType = "text_delta"
	EventTextComplete EventType = "text_complete"
	EventToolStart    EventType = "tool_start"
	EventToolResult   EventType = "tool_result"
	EventInfo         EventType = "info"
	EventError        EventType = "error"
	EventTurnEnd      EventType = "turn_end"
	EventDone         EventType = "done"
)

// Event is one item of the agent's output stream.
type Event struct {
	Type EventType

	// Text for text_delta and text_complete. Intermediate marks text
	// produced before further tool calls in the same turn.
	Text         string
	Intermediate bool

	// Tool fields for tool_start and tool_result.
	ToolName   string
	ToolCallID string
	ToolInput  string
	Result     string
	IsError    bool
	DurationMS int64

	// Usage on turn_end.
	Usage *models.TokenUsage

	// Err on error events.
	Err error

	// Info text for informational events.
	Message string
}

// Agent produces an event stream for a request. The returned channel is
// closed when the stream ends, whether normally or after an error event.
// Implementations must honor ctx cancellation between events.
type Agent interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
