package models

import (
	"encoding/json"
	"time"
)

// ToolEventKind enumerates the tool-lifecycle event kinds on the event bus.
type ToolEventKind string

const (
	ToolEventStart     ToolEventKind = "tool_start"
	ToolEventProgress  ToolEventKind = "tool_progress"
	ToolEventComplete  ToolEventKind = "tool_complete"
	ToolEventError     ToolEventKind = "tool_error"
)

// ToolEvent is one entry in the per-message topic described in §6.3. Every
// invocation emits exactly one start and one terminal (complete|error) event.
type ToolEvent struct {
	Kind      ToolEventKind  `json:"type"`
	ToolID    string         `json:"toolId"`
	ToolType  string         `json:"toolType"`
	ToolName  string         `json:"toolName"`
	Timestamp time.Time      `json:"timestamp"`
	Args      map[string]any `json:"args,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// StatusEvent is a high-level stage status sharing the same topic as
// ToolEvent, distinguished by its Type field (§4.7).
type StatusEvent struct {
	Type        string  `json:"type"` // routing | planning | thinking | tool_status
	Action      string  `json:"action"`
	Description string  `json:"description,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// ToolDescriptor is served by a tool server's directory (§6.2).
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolResult is the structured outcome of a tool invocation (§6.2).
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// ToolContent is one block of tool output content.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text concatenates all text content blocks, used by nodes that inject tool
// output into LLM context.
func (r ToolResult) Text() string {
	out := ""
	for _, c := range r.Content {
		out += c.Text
	}
	return out
}
