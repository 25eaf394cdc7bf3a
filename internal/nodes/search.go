package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexus-orchestrator/orchestrator/internal/events"
	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/tools"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

const searchTool = "web_search"

const sufficiencySchema = `{
  "type": "object",
  "properties": {
    "sufficient": {"type": "boolean"},
    "reasoning": {"type": "string"},
    "newSearchQuery": {"type": "string"}
  },
  "required": ["sufficient", "reasoning"]
}`

const sufficiencySystemPrompt = `You judge whether web search results are sufficient to answer the user's question. If not, propose a refined search query. Respond with the required JSON only.`

type sufficiencyVerdict struct {
	Sufficient     bool   `json:"sufficient"`
	Reasoning      string `json:"reasoning"`
	NewSearchQuery string `json:"newSearchQuery"`
}

// Search implements the §4.5 search node: up to maxIterations rounds of
// web_search + sufficiency evaluation, injecting a refined query step when
// the evaluator asks for one.
type Search struct {
	registry      *tools.Registry
	llm           ports.LanguageModel
	model         string
	maxIterations int
}

// NewSearch builds a Search node. maxIterations defaults to 5.
func NewSearch(registry *tools.Registry, llm ports.LanguageModel, model string, maxIterations int) *Search {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	return &Search{registry: registry, llm: llm, model: model, maxIterations: maxIterations}
}

// Node builds the search graph node.
func (s *Search) Node(contextFor func(*graph.State) string) graph.Node {
	return func(ctx context.Context, state *graph.State) (*graph.Partial, error) {
		plan := state.ExecutionPlan.Value
		idx := state.CurrentStepIndex.Value
		step := plan.Steps[idx]

		userQuery := lastUserMessage(state)
		convContext := ""
		if contextFor != nil {
			convContext = contextFor(state)
		}

		iterations := state.SearchIterations.Value
		var messages []models.Message
		query := step.SearchQuery

		for {
			resultText, callErr := s.runSearch(ctx, state, query)
			messages = append(messages, models.Message{
				Role:      models.RoleSystem,
				Content:   "search result: " + resultText,
				CreatedAt: time.Now(),
			})
			iterations++

			if callErr != nil || iterations >= s.maxIterations {
				break
			}

			verdict := s.evaluate(ctx, userQuery, resultText, convContext)
			if verdict.Sufficient || verdict.NewSearchQuery == "" {
				break
			}

			newStep := models.Step{Tag: models.StepSearch, Purpose: step.Purpose, SearchQuery: verdict.NewSearchQuery}
			plan.InjectAfter(idx, newStep)
			idx++
			query = verdict.NewSearchQuery
		}

		nextIdx := idx + 1
		return &graph.Partial{
			Messages:         messages,
			ExecutionPlan:    plan,
			CurrentStepIndex: &nextIdx,
			SearchIterations: &iterations,
		}, nil
	}
}

func (s *Search) runSearch(ctx context.Context, state *graph.State, query string) (string, error) {
	toolID := events.NewToolID(searchTool, time.Now())
	ictx := ports.ToolInvocationContext{
		ConversationID: state.Options.Value.ConversationID,
		GenerationID:   state.Options.Value.GenerationID,
		MessageID:      state.MessageID.Value,
	}
	result, err := s.registry.Call(ctx, toolID, searchTool, map[string]any{"query": query}, ictx)
	if err != nil {
		return err.Error(), err
	}
	return result.Text(), nil
}

// evaluate asks the small model whether results are sufficient. Evaluator
// failure is treated as sufficient so the loop never stalls (§4.5).
func (s *Search) evaluate(ctx context.Context, userQuery, results, convContext string) sufficiencyVerdict {
	if s.llm == nil {
		return sufficiencyVerdict{Sufficient: true, Reasoning: "no evaluator configured"}
	}

	req := ports.CompletionRequest{
		Model:  s.model,
		System: sufficiencySystemPrompt,
		Messages: []ports.CompletionMessage{
			{Role: "user", Content: fmt.Sprintf("User question:\n%s\n\nConversation context:\n%s\n\nSearch results:\n%s", userQuery, convContext, results)},
		},
	}

	raw, err := s.llm.InvokeStructured(ctx, req, json.RawMessage(sufficiencySchema))
	if err != nil {
		return sufficiencyVerdict{Sufficient: true, Reasoning: "evaluator invocation failed: " + err.Error()}
	}

	var verdict sufficiencyVerdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return sufficiencyVerdict{Sufficient: true, Reasoning: "evaluator returned malformed JSON"}
	}
	return verdict
}

// lastUserMessage scans state.Messages backwards for the most recent user
// turn, falling back to the raw query text.
func lastUserMessage(state *graph.State) string {
	msgs := state.Messages.Value
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Content
		}
	}
	return state.Query.Value.Text
}
