package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

func TestResponderStreamsAndAdvancesStepIndex(t *testing.T) {
	llm := &fakeStructuredLLM{streamChunks: []ports.StreamChunk{
		{Text: "The Chiefs "}, {Text: "won 24-17."},
	}}
	r := NewResponder(llm, "model")

	state := graph.NewState()
	state.ExecutionPlan.Merge(&models.ExecutionPlan{Steps: []models.Step{{Tag: models.StepRespond}}})
	state.Messages.Merge([]models.Message{{Role: models.RoleUser, Content: "did the chiefs win"}})

	var streamed string
	partial, err := r.Node(nil, func(tok string) { streamed += tok })(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, partial.Response)
	assert.Equal(t, "The Chiefs won 24-17.", *partial.Response)
	assert.Equal(t, *partial.Response, streamed)
	require.NotNil(t, partial.CurrentStepIndex)
	assert.Equal(t, 1, *partial.CurrentStepIndex)
	require.NotNil(t, partial.RequestReplan)
	assert.False(t, *partial.RequestReplan)
}

func TestResponderDoesNotAdvanceStepIndexWithoutPlan(t *testing.T) {
	llm := &fakeStructuredLLM{streamChunks: []ports.StreamChunk{{Text: "Hi there."}}}
	r := NewResponder(llm, "model")

	state := graph.NewState()
	state.Messages.Merge([]models.Message{{Role: models.RoleUser, Content: "hello"}})

	partial, err := r.Node(nil, nil)(context.Background(), state)
	require.NoError(t, err)
	assert.Nil(t, partial.CurrentStepIndex)
}

func TestResponderTriggersReplanOnInadequateOutput(t *testing.T) {
	llm := &fakeStructuredLLM{streamChunks: []ports.StreamChunk{{Text: "I don't know."}}}
	r := NewResponder(llm, "model")

	state := graph.NewState()
	state.ExecutionPlan.Merge(&models.ExecutionPlan{Steps: []models.Step{{Tag: models.StepRespond}}})
	state.Messages.Merge([]models.Message{{Role: models.RoleUser, Content: "did the chiefs win"}})

	partial, err := r.Node(nil, nil)(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, partial.RequestReplan)
	assert.True(t, *partial.RequestReplan)
	assert.NotEmpty(t, *partial.ReplanReason)
	assert.Nil(t, partial.CurrentStepIndex)
}

func TestResponderNeverReplansPastBudget(t *testing.T) {
	llm := &fakeStructuredLLM{streamChunks: []ports.StreamChunk{{Text: "I don't know."}}}
	r := NewResponder(llm, "model")

	state := graph.NewState()
	state.ExecutionPlan.Merge(&models.ExecutionPlan{Steps: []models.Step{{Tag: models.StepRespond}}})
	state.ReplannedCount.Merge(models.MaxReplans)

	partial, err := r.Node(nil, nil)(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, partial.RequestReplan)
	assert.False(t, *partial.RequestReplan)
}

func TestResponderSurfacesStreamError(t *testing.T) {
	llm := &fakeStructuredLLM{streamErr: assertAnError{}}
	r := NewResponder(llm, "model")

	state := graph.NewState()
	partial, err := r.Node(nil, nil)(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, *partial.Response, "problem generating a response")
}
