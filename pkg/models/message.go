// Package models holds the data types shared across the orchestrator core:
// messages, execution plans, tool events, RAG chunks, and router artifacts.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a conversation. Once appended, it is immutable.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ToolCallRecord captures a tool invocation attached to an assistant message,
// kept for transcript/audit purposes distinct from the live ToolEvent stream.
type ToolCallRecord struct {
	ToolID   string          `json:"tool_id"`
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   string          `json:"result,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`
}

// Conversation is the top-level container for a thread of messages plus the
// running executive summary maintained by the memory service.
type Conversation struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	ExecutiveSummary string    `json:"executive_summary,omitempty"`
}

// ContextBlock is the bounded, deduplicated slice of conversation history
// handed to the router/planner/responder for one turn.
type ContextBlock struct {
	Messages []Message
	Summary  string
	Tokens   int
}
