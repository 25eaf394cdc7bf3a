package ports

import (
	"context"
	"encoding/json"

	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// ToolInvocationContext carries correlation ids threaded through a tool call
// (§4.2).
type ToolInvocationContext struct {
	ConversationID string
	GenerationID   string
	MessageID      string
}

// ToolServer exposes a directory of tools and dispatches calls to them
// (§4.2, §6.2). It is an external collaborator; the core only holds this
// interface.
type ToolServer interface {
	Name() string
	Descriptors(ctx context.Context) ([]models.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args json.RawMessage, ictx ToolInvocationContext) (models.ToolResult, error)

	// Patterns returns the command patterns this server advertises at
	// pattern://... for the tier-0 precheck (§4.4, §6.2). Servers with no
	// patterns return an empty slice.
	Patterns(ctx context.Context) ([]models.CommandPattern, error)
}
