// Package events defines the session-scoped notifications pushed to UI
// surfaces and the broker that fans them out.
package events

import "github.com/parley-dev/parley/internal/models"

// Type discriminates session events. The set is closed; the relay is
// the only producer.
type Type string

const (
	TypeUserMessage  Type = "user_message"
	TypeTurnStart    Type = "turn_start"
	TypeTurnEnd      Type = "turn_end"
	TypeTextDelta    Type = "text_delta"
	TypeTextComplete Type = "text_complete"
	TypeToolStart    Type = "tool_start"
	TypeToolResult   Type = "tool_result"
	TypeInfo         Type = "info"
	TypeError        Type = "error"
	TypeInterrupted  Type = "interrupted"
	TypeComplete     Type = "complete"
)

// Event is one session-scoped notification. SessionID is always set so
// multiple open sessions can be rendered without cross-talk.
type Event struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`

	// Message carries the persisted record for user_message and
	// non-intermediate text_complete events.
	Message *models.Message `json:"message,omitempty"`

	// Text carries streaming text for text_delta and intermediate
	// text_complete events.
	Text           string `json:"text,omitempty"`
	IsIntermediate bool   `json:"isIntermediate,omitempty"`

	// Tool fields, set for tool_start and tool_result.
	ToolName       string `json:"toolName,omitempty"`
	ToolInput      string `json:"toolInput,omitempty"`
	ToolCallID     string `json:"toolCallId,omitempty"`
	ToolResult     string `json:"toolResult,omitempty"`
	ToolIsError    bool   `json:"toolIsError,omitempty"`
	ToolDurationMS int64  `json:"toolDurationMs,omitempty"`

	// Error carries the failure description for error events.
	Error string `json:"error,omitempty"`

	// Usage carries cumulative token counters on turn_end.
	Usage *models.TokenUsage `json:"usage,omitempty"`
}
