package models

import "time"

// PermissionMode controls how much autonomy the agent gets within a session.
type PermissionMode string

const (
	PermissionSafe     PermissionMode = "safe"
	PermissionAsk      PermissionMode = "ask"
	PermissionAllowAll PermissionMode = "allow-all"
)

// Role identifies who (or what) produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleError     Role = "error"
	RoleWarning   Role = "warning"
)

// TokenUsage accumulates token counters across a session's turns.
type TokenUsage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Session is the persisted metadata record for a conversation.
// It is always the first line of the session's JSONL log.
type Session struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	WorkingDir     string         `json:"workingDir,omitempty"`
	PermissionMode PermissionMode `json:"permissionMode"`
	EnabledSources []string       `json:"enabledSources,omitempty"`
	Usage          *TokenUsage    `json:"usage,omitempty"`
}

// Message is a single entry in a session's append-only log. Once written
// it is never mutated; only whole-session deletion removes it.
type Message struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	IsIntermediate bool      `json:"isIntermediate,omitempty"`

	// Tool invocation fields, set only for tool messages.
	ToolName       string `json:"toolName,omitempty"`
	ToolInput      string `json:"toolInput,omitempty"`
	ToolResult     string `json:"toolResult,omitempty"`
	ToolStatus     string `json:"toolStatus,omitempty"`
	ToolDurationMS int64  `json:"toolDurationMs,omitempty"`
	ToolCallID     string `json:"toolCallId,omitempty"`
}

// SessionListItem is a session summary for listings: metadata plus a
// preview of the first user message.
type SessionListItem struct {
	Session
	Preview      string `json:"preview"`
	MessageCount int    `json:"messageCount"`
}

// SessionWithMessages is a fully loaded session.
type SessionWithMessages struct {
	Session
	Messages []Message `json:"messages"`
}
