package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/internal/events"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

type fakeKV struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{subs: map[string][]chan []byte{}}
}

func (f *fakeKV) Get(context.Context, string) (string, bool, error)    { return "", false, nil }
func (f *fakeKV) Set(context.Context, string, string, int) error       { return nil }
func (f *fakeKV) Delete(context.Context, string) error                 { return nil }
func (f *fakeKV) ScanPrefix(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeKV) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (f *fakeKV) Subscribe(_ context.Context, topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 16)
	f.mu.Lock()
	f.subs[topic] = append(f.subs[topic], ch)
	f.mu.Unlock()
	return ch, func() {}, nil
}

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

const echoSchema = `{
  "type": "object",
  "properties": {"query": {"type": "string"}},
  "required": ["query"]
}`

func newEchoServer() *fakeToolServer {
	return &fakeToolServer{
		name: "echo-server",
		descriptors: []models.ToolDescriptor{
			{Name: "echo", Description: "echoes input", InputSchema: json.RawMessage(echoSchema)},
		},
		callFn: func(_ context.Context, _ string, args json.RawMessage) (models.ToolResult, error) {
			return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: string(args)}}}, nil
		},
	}
}

func TestRegistryCallValidatesAndDispatches(t *testing.T) {
	kv := newFakeKV()
	reg := NewRegistry(events.NewPublisher(kv), nil, nil, time.Second)
	require.NoError(t, reg.RegisterServer(context.Background(), newEchoServer()))

	result, err := reg.Call(context.Background(), "echo_1", "echo", map[string]any{"query": "hi"}, ports.ToolInvocationContext{MessageID: "m1"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestRegistryCallRejectsInvalidArgs(t *testing.T) {
	kv := newFakeKV()
	reg := NewRegistry(events.NewPublisher(kv), nil, nil, time.Second)
	require.NoError(t, reg.RegisterServer(context.Background(), newEchoServer()))

	_, err := reg.Call(context.Background(), "echo_1", "echo", map[string]any{}, ports.ToolInvocationContext{MessageID: "m1"})
	require.Error(t, err)
}

func TestRegistryCallUnknownToolErrors(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, time.Second)
	_, err := reg.Call(context.Background(), "id", "nonexistent", nil, ports.ToolInvocationContext{MessageID: "m1"})
	require.Error(t, err)
}

func TestRegistryRejectsConcurrentDuplicateInvocation(t *testing.T) {
	kv := newFakeKV()
	reg := NewRegistry(events.NewPublisher(kv), nil, nil, time.Second)

	release := make(chan struct{})
	server := &fakeToolServer{
		name: "slow-server",
		descriptors: []models.ToolDescriptor{
			{Name: "slow", InputSchema: json.RawMessage(`{}`)},
		},
		callFn: func(ctx context.Context, _ string, _ json.RawMessage) (models.ToolResult, error) {
			<-release
			return models.ToolResult{}, nil
		},
	}
	require.NoError(t, reg.RegisterServer(context.Background(), server))

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = reg.Call(context.Background(), "slow_1", "slow", map[string]any{}, ports.ToolInvocationContext{MessageID: "m1"})
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the first call acquire its lock

	_, err := reg.Call(context.Background(), "slow_1", "slow", map[string]any{}, ports.ToolInvocationContext{MessageID: "m1"})
	require.ErrorIs(t, err, ErrDuplicateInvocation)
	close(release)
}

func TestRegistryPublishesStartAndCompleteEvents(t *testing.T) {
	kv := newFakeKV()
	pub := events.NewPublisher(kv)
	reg := NewRegistry(pub, nil, nil, time.Second)
	require.NoError(t, reg.RegisterServer(context.Background(), newEchoServer()))

	received, unsubscribe, err := pub.Subscribe(context.Background(), "m1")
	require.NoError(t, err)
	defer unsubscribe()

	_, err = reg.Call(context.Background(), "echo_1", "echo", map[string]any{"query": "hi"}, ports.ToolInvocationContext{MessageID: "m1"})
	require.NoError(t, err)

	first := <-received
	second := <-received
	assert.Equal(t, models.ToolEventStart, first.Kind)
	assert.Equal(t, models.ToolEventComplete, second.Kind)
}
