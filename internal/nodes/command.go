package nodes

import (
	"context"
	"time"

	"github.com/nexus-orchestrator/orchestrator/internal/events"
	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/tools"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// defaultCommandTool is used when a command step's Domain doesn't name a
// more specific command-capable tool.
const defaultCommandTool = "execute_command"

// Command dispatches a command-tagged step's shell command through the
// tool registry (§4.4).
type Command struct {
	registry *tools.Registry
}

// NewCommand builds a Command node.
func NewCommand(registry *tools.Registry) *Command {
	return &Command{registry: registry}
}

// Node builds the command graph node. It reads the current step, calls the
// command tool, appends the result to the message history, and advances
// currentStepIndex (§4.4).
func (c *Command) Node() graph.Node {
	return func(ctx context.Context, state *graph.State) (*graph.Partial, error) {
		plan := state.ExecutionPlan.Value
		idx := state.CurrentStepIndex.Value
		step := plan.Steps[idx]

		toolName := defaultCommandTool
		if step.Domain != "" {
			toolName = step.Domain
		}

		toolID := events.NewToolID(toolName, time.Now())
		ictx := ports.ToolInvocationContext{
			ConversationID: state.Options.Value.ConversationID,
			GenerationID:   state.Options.Value.GenerationID,
			MessageID:      state.MessageID.Value,
		}

		result, callErr := c.registry.Call(ctx, toolID, toolName, map[string]any{
			"command": step.CommandDetails,
		}, ictx)

		var resultText string
		isError := callErr != nil
		if callErr != nil {
			resultText = callErr.Error()
		} else {
			resultText = result.Text()
			isError = result.IsError
		}

		msg := models.Message{
			Role:      models.RoleSystem,
			Content:   "command result: " + resultText,
			CreatedAt: time.Now(),
			ToolCalls: []models.ToolCallRecord{{ToolID: toolID, ToolName: toolName, Result: resultText, IsError: isError}},
		}

		nextIdx := idx + 1
		return &graph.Partial{
			Messages:         []models.Message{msg},
			CurrentStepIndex: &nextIdx,
		}, nil
	}
}
