package nodes

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nexus-orchestrator/orchestrator/internal/events"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/tools"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// fakeKV is a minimal in-memory ports.KVStore sufficient to back a
// tools.Registry in tests; pub/sub fan-out isn't exercised here.
type fakeKV struct{ mu sync.Mutex }

func (f *fakeKV) Get(context.Context, string) (string, bool, error)    { return "", false, nil }
func (f *fakeKV) Set(context.Context, string, string, int) error       { return nil }
func (f *fakeKV) Delete(context.Context, string) error                 { return nil }
func (f *fakeKV) ScanPrefix(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeKV) Publish(context.Context, string, []byte) error        { return nil }
func (f *fakeKV) Subscribe(context.Context, string) (<-chan []byte, func(), error) {
	ch := make(chan []byte)
	return ch, func() {}, nil
}

var _ ports.KVStore = (*fakeKV)(nil)

// fakeToolServer implements ports.ToolServer with an injectable CallTool
// behavior, a name, and a schema for each advertised tool.
type fakeToolServer struct {
	name        string
	descriptors []models.ToolDescriptor
	callFn      func(ctx context.Context, name string, args json.RawMessage) (models.ToolResult, error)
}

func (f *fakeToolServer) Name() string { return f.name }
func (f *fakeToolServer) Descriptors(context.Context) ([]models.ToolDescriptor, error) {
	return f.descriptors, nil
}
func (f *fakeToolServer) CallTool(ctx context.Context, name string, args json.RawMessage, _ ports.ToolInvocationContext) (models.ToolResult, error) {
	return f.callFn(ctx, name, args)
}
func (f *fakeToolServer) Patterns(context.Context) ([]models.CommandPattern, error) { return nil, nil }

var _ ports.ToolServer = (*fakeToolServer)(nil)

const openSchema = `{"type": "object"}`

func newRegistryWithTool(name string, callFn func(ctx context.Context, name string, args json.RawMessage) (models.ToolResult, error)) *tools.Registry {
	reg := tools.NewRegistry(events.NewPublisher(&fakeKV{}), nil, nil, 0)
	server := &fakeToolServer{
		name:        name,
		descriptors: []models.ToolDescriptor{{Name: name, InputSchema: json.RawMessage(openSchema)}},
		callFn:      callFn,
	}
	_ = reg.RegisterServer(context.Background(), server)
	return reg
}

// fakeStructuredLLM is a ports.LanguageModel stub covering Invoke, Stream,
// and InvokeStructured independently so tests can exercise whichever path
// a node uses.
type fakeStructuredLLM struct {
	invokeResp      ports.CompletionResponse
	invokeErr       error
	streamChunks    []ports.StreamChunk
	streamErr       error
	structuredResp  json.RawMessage
	structuredErr   error
}

func (f *fakeStructuredLLM) Invoke(context.Context, ports.CompletionRequest) (ports.CompletionResponse, error) {
	return f.invokeResp, f.invokeErr
}

func (f *fakeStructuredLLM) Stream(context.Context, ports.CompletionRequest) (<-chan ports.StreamChunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan ports.StreamChunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeStructuredLLM) InvokeStructured(context.Context, ports.CompletionRequest, json.RawMessage) (json.RawMessage, error) {
	return f.structuredResp, f.structuredErr
}

var _ ports.LanguageModel = (*fakeStructuredLLM)(nil)
