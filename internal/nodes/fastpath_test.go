package nodes

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

func TestFastpathExecutorDispatchesTicketTool(t *testing.T) {
	reg := newRegistryWithTool("execute_command", func(_ context.Context, _ string, args json.RawMessage) (models.ToolResult, error) {
		assert.JSONEq(t, `{"command":"pwd"}`, string(args))
		return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: "/home"}}}, nil
	})

	state := graph.NewState()
	state.Fastpath.Merge(graph.FastpathTicket{Tool: "execute_command", Parameters: map[string]string{"command": "pwd"}})

	exec := NewFastpathExecutor(reg)
	partial, err := exec.Node()(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, partial.Fastpath)
	assert.True(t, partial.Fastpath.Success)
	assert.Equal(t, "/home", partial.Fastpath.Result)
	assert.True(t, partial.Fastpath.Complete)
}

func TestFastpathExecutorRecordsFailure(t *testing.T) {
	reg := newRegistryWithTool("execute_command", func(_ context.Context, _ string, _ json.RawMessage) (models.ToolResult, error) {
		return models.ToolResult{}, assertAnError{}
	})

	state := graph.NewState()
	state.Fastpath.Merge(graph.FastpathTicket{Tool: "execute_command", Parameters: map[string]string{"command": "pwd"}})

	exec := NewFastpathExecutor(reg)
	partial, err := exec.Node()(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, partial.Fastpath.Success)
	assert.NotEmpty(t, partial.Fastpath.Error)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }

func TestTinyConfirmerDeterministicWithoutLLM(t *testing.T) {
	state := graph.NewState()
	state.Fastpath.Merge(graph.FastpathTicket{Tool: "execute_command", Success: true, Result: "/home"})

	var emitted string
	confirmer := NewTinyConfirmer(nil, "")
	partial, err := confirmer.Node(func(s string) { emitted = s })(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, partial.Response)
	assert.Contains(t, *partial.Response, "/home")
	assert.Equal(t, *partial.Response, emitted)
}

func TestTinyConfirmerReportsFailure(t *testing.T) {
	state := graph.NewState()
	state.Fastpath.Merge(graph.FastpathTicket{Tool: "execute_command", Success: false, Error: "denied"})

	confirmer := NewTinyConfirmer(nil, "")
	partial, err := confirmer.Node(nil)(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, *partial.Response, "denied")
}
