package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

func TestPlannerNormalizesPlainShape(t *testing.T) {
	llm := &fakeStructuredLLM{response: json.RawMessage(`{
		"reasoning": "need to search",
		"steps": [{"type": "search", "purpose": "find score", "searchQuery": "chiefs score"}]
	}`)}
	p := NewPlanner(llm, "planner-model")

	plan := p.Plan(context.Background(), "did the chiefs win", "")
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, models.StepSearch, plan.Steps[0].Tag)
	assert.Equal(t, "chiefs score", plan.Steps[0].SearchQuery)
	assert.Equal(t, models.StepRespond, plan.Steps[1].Tag)
}

func TestPlannerUnwrapsPlanEnvelope(t *testing.T) {
	llm := &fakeStructuredLLM{response: json.RawMessage(`{"plan": {"reasoning": "r", "steps": [{"Type":"respond","Purpose":"answer"}]}}`)}
	p := NewPlanner(llm, "planner-model")

	plan := p.Plan(context.Background(), "hi", "")
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, models.StepRespond, plan.Steps[0].Tag)
}

func TestPlannerUnwrapsQuotedJSONString(t *testing.T) {
	inner := `{"reasoning":"r","steps":[{"type":"command","purpose":"run","commandDetails":"ls"}]}`
	quoted, err := json.Marshal(inner)
	require.NoError(t, err)

	llm := &fakeStructuredLLM{response: quoted}
	p := NewPlanner(llm, "planner-model")

	plan := p.Plan(context.Background(), "list files", "")
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, models.StepCommand, plan.Steps[0].Tag)
	assert.Equal(t, "ls", plan.Steps[0].CommandDetails)
}

func TestPlannerAcceptsBareStepArray(t *testing.T) {
	llm := &fakeStructuredLLM{response: json.RawMessage(`[{"type":"respond","purpose":"answer directly"}]`)}
	p := NewPlanner(llm, "planner-model")

	plan := p.Plan(context.Background(), "hi", "")
	require.Len(t, plan.Steps, 1)
}

func TestPlannerAppendsTerminalRespondWhenMissing(t *testing.T) {
	llm := &fakeStructuredLLM{response: json.RawMessage(`{"reasoning":"r","steps":[{"type":"search","purpose":"p","searchQuery":"q"}]}`)}
	p := NewPlanner(llm, "planner-model")

	plan := p.Plan(context.Background(), "hi", "")
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, models.StepRespond, plan.Steps[len(plan.Steps)-1].Tag)
}

func TestPlannerFallsBackOnModelError(t *testing.T) {
	llm := &fakeStructuredLLM{err: assert.AnError}
	p := NewPlanner(llm, "planner-model")

	plan := p.Plan(context.Background(), "hi", "")
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, models.StepRespond, plan.Steps[0].Tag)
}

func TestPlannerFallsBackOnMalformedJSON(t *testing.T) {
	llm := &fakeStructuredLLM{response: json.RawMessage(`not json at all`)}
	p := NewPlanner(llm, "planner-model")

	plan := p.Plan(context.Background(), "hi", "")
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, models.StepRespond, plan.Steps[0].Tag)
}

func TestPlannerNeverProducesEmptySteps(t *testing.T) {
	llm := &fakeStructuredLLM{response: json.RawMessage(`{"reasoning":"r","steps":[]}`)}
	p := NewPlanner(llm, "planner-model")

	plan := p.Plan(context.Background(), "hi", "")
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, models.StepRespond, plan.Steps[0].Tag)
}
