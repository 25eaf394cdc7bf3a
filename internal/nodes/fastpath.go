package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-orchestrator/orchestrator/internal/events"
	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/tools"
)

// FastpathExecutor dispatches the tool the tier-0 precheck matched,
// bypassing the classifier and planner entirely (§4.4).
type FastpathExecutor struct {
	registry *tools.Registry
}

// NewFastpathExecutor builds a FastpathExecutor over registry.
func NewFastpathExecutor(registry *tools.Registry) *FastpathExecutor {
	return &FastpathExecutor{registry: registry}
}

// Node builds the fastpath-executor graph node.
func (f *FastpathExecutor) Node() graph.Node {
	return func(ctx context.Context, state *graph.State) (*graph.Partial, error) {
		ticket := state.Fastpath.Value

		args := make(map[string]any, len(ticket.Parameters))
		for k, v := range ticket.Parameters {
			args[k] = v
		}

		toolID := events.NewToolID(ticket.Tool, time.Now())
		ictx := ports.ToolInvocationContext{
			ConversationID: state.Options.Value.ConversationID,
			GenerationID:   state.Options.Value.GenerationID,
			MessageID:      state.MessageID.Value,
		}

		result, err := f.registry.Call(ctx, toolID, ticket.Tool, args, ictx)
		if err != nil {
			ticket.Success = false
			ticket.Error = err.Error()
		} else {
			ticket.Success = !result.IsError
			ticket.Result = result.Text()
			if result.IsError {
				ticket.Error = result.Text()
			}
		}
		ticket.Complete = true

		return &graph.Partial{Fastpath: &ticket}, nil
	}
}

// TinyConfirmer turns a completed fastpath ticket into a short
// user-facing confirmation and ends the turn (§4.4 "fastpath-executor →
// tiny-confirmer → END").
type TinyConfirmer struct {
	llm   ports.LanguageModel
	model string
}

// NewTinyConfirmer builds a TinyConfirmer. llm may be nil, in which case a
// deterministic confirmation is used instead of a model call.
func NewTinyConfirmer(llm ports.LanguageModel, model string) *TinyConfirmer {
	return &TinyConfirmer{llm: llm, model: model}
}

const tinyConfirmerSystemPrompt = `Confirm the result of a completed action in one short, natural sentence for the user. Do not add caveats the result doesn't support.`

// Node builds the tiny-confirmer graph node. emit, if non-nil, receives the
// confirmation text as it is produced (the orchestrator wires this to the
// caller's stream for the single-sentence fastpath reply).
func (t *TinyConfirmer) Node(emit func(string)) graph.Node {
	return func(ctx context.Context, state *graph.State) (*graph.Partial, error) {
		ticket := state.Fastpath.Value

		message := deterministicConfirmation(ticket.Tool, ticket.Success, ticket.Result, ticket.Error)
		if t.llm != nil {
			req := ports.CompletionRequest{
				Model:  t.model,
				System: tinyConfirmerSystemPrompt,
				Messages: []ports.CompletionMessage{
					{Role: "user", Content: fmt.Sprintf("Tool: %s\nSucceeded: %v\nResult: %s\nError: %s", ticket.Tool, ticket.Success, ticket.Result, ticket.Error)},
				},
			}
			if resp, err := t.llm.Invoke(ctx, req); err == nil && resp.Text != "" {
				message = resp.Text
			}
		}

		if emit != nil {
			emit(message)
		}
		return &graph.Partial{Response: &message}, nil
	}
}

func deterministicConfirmation(tool string, success bool, result, errText string) string {
	if !success {
		if errText == "" {
			errText = "unknown error"
		}
		return fmt.Sprintf("I couldn't complete that with %s: %s", tool, errText)
	}
	if result == "" {
		return fmt.Sprintf("Done — %s completed successfully.", tool)
	}
	return fmt.Sprintf("Done — %s", result)
}
