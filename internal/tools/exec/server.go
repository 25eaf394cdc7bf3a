// Package exec implements the execute_command ToolServer: a quote-agnostic
// shell invocation guarded by the destructive-command blocklist (§7),
// bounded by a default timeout and output size (§5). Grounded on the
// teacher's internal/tools/exec Manager (limitedBuffer output capping,
// exec.CommandContext via /bin/sh -c, exitCode extraction), trimmed to the
// synchronous path the orchestrator's tool protocol needs.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/security"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

const toolName = "execute_command"

// inputSchema is the JSON schema advertised via Descriptors and enforced by
// the tool registry before CallTool ever runs (§4.2).
const inputSchema = `{
  "type": "object",
  "properties": {
    "command": {"type": "string", "description": "Shell command to execute."},
    "cwd": {"type": "string", "description": "Working directory, relative to the sandbox root."}
  },
  "required": ["command"]
}`

// Server implements ports.ToolServer for shell command execution.
type Server struct {
	workspace     string
	timeout       time.Duration
	maxOutputSize int
}

// Config configures a Server.
type Config struct {
	// Workspace is the root directory commands execute relative to.
	Workspace string
	// Timeout bounds how long a single command may run. Defaults to 30s
	// per §5.
	Timeout time.Duration
	// MaxOutputBytes bounds captured stdout/stderr. Defaults to 4096 per
	// §5's tool-event truncation floor.
	MaxOutputBytes int
}

// NewServer builds an exec Server.
func NewServer(cfg Config) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 4096
	}
	return &Server{workspace: cfg.Workspace, timeout: cfg.Timeout, maxOutputSize: cfg.MaxOutputBytes}
}

func (s *Server) Name() string { return "exec" }

func (s *Server) Descriptors(context.Context) ([]models.ToolDescriptor, error) {
	return []models.ToolDescriptor{{
		Name:        toolName,
		Description: "Run a shell command in the sandbox workspace.",
		InputSchema: json.RawMessage(inputSchema),
	}}, nil
}

// Patterns advertises the tier-0 precheck fastpath rules this server
// supports: a small set of read-only, unambiguous commands that never need
// the classifier/planner tiers (§4.4).
func (s *Server) Patterns(context.Context) ([]models.CommandPattern, error) {
	return []models.CommandPattern{
		{
			ID:          "exec.pwd",
			Pattern:     `^\s*pwd\s*$`,
			Tool:        toolName,
			Description: "Print the current working directory.",
			Examples:    []string{"pwd", "what directory am I in"},
			Confidence:  0.95,
			ParameterMapping: map[string]int{},
		},
	}, nil
}

type execArgs struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

// CallTool runs the requested command after rejecting it against the
// destructive-command blocklist (§7). A blocked command returns a
// user-facing error result rather than a Go error: it's a normal, expected
// tool outcome, not a protocol failure.
func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage, _ ports.ToolInvocationContext) (models.ToolResult, error) {
	if name != toolName {
		return models.ToolResult{}, fmt.Errorf("exec: unknown tool %q", name)
	}

	var input execArgs
	if err := json.Unmarshal(args, &input); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return errorResult("command is required"), nil
	}

	if matches := security.FindDestructivePatterns(command); len(matches) > 0 {
		return errorResult(fmt.Sprintf("command blocked: matches %s pattern %q", matches[0].Category, matches[0].Pattern)), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dir := s.workspace
	if input.Cwd != "" {
		dir = filepath.Join(s.workspace, input.Cwd)
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}

	stdout := newLimitedBuffer(s.maxOutputSize)
	stderr := newLimitedBuffer(s.maxOutputSize)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n--- stderr ---\n" + stderr.String()
	}
	if runErr != nil {
		output += fmt.Sprintf("\n--- exit code %d ---\n%v", exitCode(runErr), runErr)
	}

	return models.ToolResult{
		Content: []models.ToolContent{{Type: "text", Text: output}},
		IsError: runErr != nil,
	}, nil
}

func errorResult(message string) models.ToolResult {
	return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: message}}, IsError: true}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer caps captured output at max bytes, silently dropping the
// remainder (§5 output-size bound).
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && b.buf.Len() >= b.max {
		return len(p), nil
	}
	remaining := b.max - b.buf.Len()
	if b.max > 0 && len(p) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *limitedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
