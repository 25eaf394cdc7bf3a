package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nexus-orchestrator/orchestrator/internal/events"
	"github.com/nexus-orchestrator/orchestrator/internal/observability"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// MaxToolNameLength bounds tool-name strings to prevent resource exhaustion
// (grounded on the teacher's ToolRegistry param limits).
const MaxToolNameLength = 256

// ErrDuplicateInvocation is returned when a tool call is already in flight
// for the same (messageId, toolId) pair.
var ErrDuplicateInvocation = fmt.Errorf("tools: invocation already in flight for this message/tool pair")

// Registry dispatches tool calls to the registered ToolServers, validating
// arguments against each tool's JSON schema, emitting lifecycle events, and
// enforcing per-call timeouts and the at-most-one-concurrent-invocation
// guarantee (§4.2).
type Registry struct {
	mu       sync.RWMutex
	servers  map[string]ports.ToolServer   // toolName -> owning server
	schemas  map[string]*jsonschema.Schema // toolName -> compiled input schema
	descs    map[string]models.ToolDescriptor

	publisher *events.Publisher
	locker    invocationLocker
	metrics   *observability.Metrics
	logger    *observability.Logger

	defaultTimeout time.Duration
}

// NewRegistry builds an empty Registry. Call RegisterServer for each
// ToolServer before first use.
func NewRegistry(publisher *events.Publisher, metrics *observability.Metrics, logger *observability.Logger, defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Registry{
		servers:        map[string]ports.ToolServer{},
		schemas:        map[string]*jsonschema.Schema{},
		descs:          map[string]models.ToolDescriptor{},
		publisher:      publisher,
		metrics:        metrics,
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
}

// RegisterServer pulls the server's tool directory and compiles each tool's
// input schema, replacing any earlier registration of the same tool name.
func (r *Registry) RegisterServer(ctx context.Context, server ports.ToolServer) error {
	descriptors, err := server.Descriptors(ctx)
	if err != nil {
		return fmt.Errorf("tools: list descriptors for %s: %w", server.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, desc := range descriptors {
		schema, err := compileSchema(desc.Name, desc.InputSchema)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %s: %w", desc.Name, err)
		}
		r.servers[desc.Name] = server
		r.schemas[desc.Name] = schema
		r.descs[desc.Name] = desc
	}
	return nil
}

// Descriptors returns every registered tool's directory entry, e.g. for
// inclusion in an LLM's tool list.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(r.descs))
	for _, d := range r.descs {
		out = append(out, d)
	}
	return out
}

// Call validates args against the tool's schema, acquires the invocation
// lock, emits tool_start, dispatches to the owning server under
// defaultTimeout, and emits exactly one terminal event before returning.
func (r *Registry) Call(ctx context.Context, toolID, toolName string, args map[string]any, ictx ports.ToolInvocationContext) (models.ToolResult, error) {
	if len(toolName) > MaxToolNameLength {
		return models.ToolResult{}, fmt.Errorf("tools: tool name exceeds %d characters", MaxToolNameLength)
	}

	r.mu.RLock()
	server, ok := r.servers[toolName]
	schema := r.schemas[toolName]
	r.mu.RUnlock()
	if !ok {
		return models.ToolResult{}, fmt.Errorf("tools: unknown tool %q", toolName)
	}

	if err := validateArgs(schema, args); err != nil {
		return models.ToolResult{}, fmt.Errorf("tools: invalid arguments for %s: %w", toolName, err)
	}

	if !r.locker.TryAcquire(ictx.MessageID, toolID) {
		return models.ToolResult{}, ErrDuplicateInvocation
	}
	defer r.locker.Release(ictx.MessageID, toolID)

	r.publishStart(ctx, ictx.MessageID, toolID, toolName, args)
	r.recordMetric(toolName, "start")

	argBytes, err := json.Marshal(args)
	if err != nil {
		return models.ToolResult{}, fmt.Errorf("tools: encode arguments: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.defaultTimeout)
	defer cancel()

	result, err := server.CallTool(callCtx, toolName, argBytes, ictx)
	if err != nil {
		r.publishError(ctx, ictx.MessageID, toolID, toolName, err)
		r.recordMetric(toolName, "error")
		return models.ToolResult{}, err
	}

	r.publishComplete(ctx, ictx.MessageID, toolID, toolName, result)
	r.recordMetric(toolName, "complete")
	return result, nil
}

func (r *Registry) publishStart(ctx context.Context, messageID, toolID, toolName string, args map[string]any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishStart(ctx, messageID, models.ToolEvent{
		ToolID:    toolID,
		ToolType:  toolName,
		ToolName:  toolName,
		Timestamp: time.Now(),
		Args:      args,
	}); err != nil && r.logger != nil {
		r.logger.Warn(ctx, "failed to publish tool_start event", "error", err, "tool", toolName)
	}
}

func (r *Registry) publishComplete(ctx context.Context, messageID, toolID, toolName string, result models.ToolResult) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishComplete(ctx, messageID, models.ToolEvent{
		ToolID:    toolID,
		ToolType:  toolName,
		ToolName:  toolName,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"isError": result.IsError, "text": result.Text()},
	}); err != nil && r.logger != nil {
		r.logger.Warn(ctx, "failed to publish tool_complete event", "error", err, "tool", toolName)
	}
}

func (r *Registry) publishError(ctx context.Context, messageID, toolID, toolName string, callErr error) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishError(ctx, messageID, models.ToolEvent{
		ToolID:    toolID,
		ToolType:  toolName,
		ToolName:  toolName,
		Timestamp: time.Now(),
		Error:     callErr.Error(),
	}); err != nil && r.logger != nil {
		r.logger.Warn(ctx, "failed to publish tool_error event", "error", err, "tool", toolName)
	}
}

func (r *Registry) recordMetric(toolName, kind string) {
	if r.metrics == nil {
		return
	}
	r.metrics.ToolEventsTotal.WithLabelValues(kind, toolName).Inc()
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}
