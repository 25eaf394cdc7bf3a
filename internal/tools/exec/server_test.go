package exec

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(Config{Workspace: t.TempDir(), Timeout: 5 * time.Second, MaxOutputBytes: 4096})
}

func TestCallToolRunsOrdinaryCommand(t *testing.T) {
	srv := newTestServer(t)
	args, err := json.Marshal(execArgs{Command: "echo hello"})
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), toolName, args, ports.ToolInvocationContext{})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Text(), "hello")
}

func TestCallToolBlocksDestructiveCommand(t *testing.T) {
	srv := newTestServer(t)
	args, err := json.Marshal(execArgs{Command: "rm -rf /"})
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), toolName, args, ports.ToolInvocationContext{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "blocked")
}

func TestCallToolRejectsEmptyCommand(t *testing.T) {
	srv := newTestServer(t)
	args, err := json.Marshal(execArgs{Command: "   "})
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), toolName, args, ports.ToolInvocationContext{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCallToolReportsNonZeroExit(t *testing.T) {
	srv := newTestServer(t)
	args, err := json.Marshal(execArgs{Command: "exit 3"})
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), toolName, args, ports.ToolInvocationContext{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "exit code 3")
}

func TestCallToolUnknownNameErrors(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.CallTool(context.Background(), "not_a_tool", json.RawMessage(`{}`), ports.ToolInvocationContext{})
	assert.Error(t, err)
}

func TestLimitedBufferCapsOutput(t *testing.T) {
	buf := newLimitedBuffer(4)
	n, err := buf.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 8, n) // Write reports the full input length consumed, even when truncated
	assert.Equal(t, "abcd", buf.String())
}

func TestDescriptorsAdvertiseExecuteCommand(t *testing.T) {
	srv := newTestServer(t)
	descs, err := srv.Descriptors(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, toolName, descs[0].Name)
}
