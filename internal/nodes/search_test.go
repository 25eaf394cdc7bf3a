package nodes

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

func newSearchState(query string) *graph.State {
	state := graph.NewState()
	state.ExecutionPlan.Merge(&models.ExecutionPlan{Steps: []models.Step{
		{Tag: models.StepSearch, SearchQuery: query},
		{Tag: models.StepRespond},
	}})
	state.Messages.Merge([]models.Message{{Role: models.RoleUser, Content: "did the chiefs win"}})
	return state
}

func TestSearchStopsAfterOneIterationWhenSufficient(t *testing.T) {
	calls := 0
	reg := newRegistryWithTool(searchTool, func(_ context.Context, _ string, _ json.RawMessage) (models.ToolResult, error) {
		calls++
		return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: `{"results":[{"title":"score"}]}`}}}, nil
	})
	llm := &fakeStructuredLLM{structuredResp: json.RawMessage(`{"sufficient": true, "reasoning": "good enough"}`)}

	s := NewSearch(reg, llm, "small-model", 5)
	state := newSearchState("chiefs score")

	partial, err := s.Node(nil)(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.NotNil(t, partial.CurrentStepIndex)
	assert.Equal(t, 1, *partial.CurrentStepIndex)
	require.NotNil(t, partial.SearchIterations)
	assert.Equal(t, 1, *partial.SearchIterations)
}

func TestSearchInjectsRefinedQueryWhenInsufficient(t *testing.T) {
	calls := 0
	reg := newRegistryWithTool(searchTool, func(_ context.Context, _ string, args json.RawMessage) (models.ToolResult, error) {
		calls++
		return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: "hit " + string(args)}}}, nil
	})

	first := json.RawMessage(`{"sufficient": false, "reasoning": "too vague", "newSearchQuery": "chiefs final score january 2026"}`)
	second := json.RawMessage(`{"sufficient": true, "reasoning": "good"}`)
	llm := &sequencedStructuredLLM{responses: []json.RawMessage{first, second}}

	s := NewSearch(reg, llm, "small-model", 5)
	state := newSearchState("chiefs")

	partial, err := s.Node(nil)(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.NotNil(t, partial.ExecutionPlan)
	require.Len(t, partial.ExecutionPlan.Steps, 3) // original search, injected search, respond
	assert.Equal(t, "chiefs final score january 2026", partial.ExecutionPlan.Steps[1].SearchQuery)
	assert.Equal(t, 2, *partial.SearchIterations)
}

func TestSearchStopsAtMaxIterations(t *testing.T) {
	calls := 0
	reg := newRegistryWithTool(searchTool, func(_ context.Context, _ string, _ json.RawMessage) (models.ToolResult, error) {
		calls++
		return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: "hit"}}}, nil
	})
	llm := &fakeStructuredLLM{structuredResp: json.RawMessage(`{"sufficient": false, "reasoning": "still vague", "newSearchQuery": "refined"}`)}

	s := NewSearch(reg, llm, "small-model", 2)
	state := newSearchState("chiefs")

	partial, err := s.Node(nil)(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, *partial.SearchIterations)
}

func TestSearchEvaluatorFailureTreatsAsSufficient(t *testing.T) {
	calls := 0
	reg := newRegistryWithTool(searchTool, func(_ context.Context, _ string, _ json.RawMessage) (models.ToolResult, error) {
		calls++
		return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: "hit"}}}, nil
	})
	llm := &fakeStructuredLLM{structuredErr: assertAnError{}}

	s := NewSearch(reg, llm, "small-model", 5)
	state := newSearchState("chiefs")

	partial, err := s.Node(nil)(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, *partial.SearchIterations)
}

// sequencedStructuredLLM returns successive structured responses, one per
// call, for tests that need the evaluator's verdict to change between
// iterations.
type sequencedStructuredLLM struct {
	responses []json.RawMessage
	calls     int
}

func (s *sequencedStructuredLLM) Invoke(context.Context, ports.CompletionRequest) (ports.CompletionResponse, error) {
	panic("unused")
}

func (s *sequencedStructuredLLM) Stream(context.Context, ports.CompletionRequest) (<-chan ports.StreamChunk, error) {
	panic("unused")
}

func (s *sequencedStructuredLLM) InvokeStructured(context.Context, ports.CompletionRequest, json.RawMessage) (json.RawMessage, error) {
	resp := s.responses[s.calls]
	if s.calls < len(s.responses)-1 {
		s.calls++
	}
	return resp, nil
}

var _ ports.LanguageModel = (*sequencedStructuredLLM)(nil)
