package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/internal/config"
	"github.com/nexus-orchestrator/orchestrator/internal/memory"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/tools"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// fakeDocStore is an in-memory ports.DocStore, grounded on the memory
// package's own test double.
type fakeDocStore struct {
	byConversation map[string][]models.Message
	ids            map[string]bool
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{byConversation: map[string][]models.Message{}, ids: map[string]bool{}}
}

func (f *fakeDocStore) InsertMessage(_ context.Context, msg models.Message) (string, error) {
	if f.ids[msg.ID] {
		return msg.ID, nil
	}
	f.ids[msg.ID] = true
	f.byConversation[msg.ConversationID] = append(f.byConversation[msg.ConversationID], msg)
	return msg.ID, nil
}

func (f *fakeDocStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	return f.byConversation[conversationID], nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

// fakeToolServer implements ports.ToolServer with a fixed set of patterns
// and a single callable tool.
type fakeToolServer struct {
	name        string
	descriptors []models.ToolDescriptor
	patterns    []models.CommandPattern
	callFn      func(ctx context.Context, name string, args json.RawMessage) (models.ToolResult, error)
}

func (f *fakeToolServer) Name() string { return f.name }
func (f *fakeToolServer) Descriptors(context.Context) ([]models.ToolDescriptor, error) {
	return f.descriptors, nil
}
func (f *fakeToolServer) Patterns(context.Context) ([]models.CommandPattern, error) {
	return f.patterns, nil
}
func (f *fakeToolServer) CallTool(ctx context.Context, name string, args json.RawMessage, _ ports.ToolInvocationContext) (models.ToolResult, error) {
	return f.callFn(ctx, name, args)
}

const openSchema = `{"type": "object"}`

// fakeLLM is a scripted ports.LanguageModel: InvokeStructured responses are
// consumed in order (classifier decision, then planner plan, then search
// evaluator verdicts as needed); Stream always yields one chunk of fixed
// text plus a terminal usage chunk.
type fakeLLM struct {
	structuredResponses []json.RawMessage
	structuredCalls     int
	streamText          string
}

func (f *fakeLLM) Invoke(context.Context, ports.CompletionRequest) (ports.CompletionResponse, error) {
	return ports.CompletionResponse{Text: f.streamText}, nil
}

func (f *fakeLLM) Stream(context.Context, ports.CompletionRequest) (<-chan ports.StreamChunk, error) {
	ch := make(chan ports.StreamChunk, 2)
	usage := ports.UsageMetadata{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	ch <- ports.StreamChunk{Text: f.streamText}
	ch <- ports.StreamChunk{Usage: &usage}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) InvokeStructured(context.Context, ports.CompletionRequest, json.RawMessage) (json.RawMessage, error) {
	if f.structuredCalls >= len(f.structuredResponses) {
		return f.structuredResponses[len(f.structuredResponses)-1], nil
	}
	resp := f.structuredResponses[f.structuredCalls]
	f.structuredCalls++
	return resp, nil
}

func newTestOrchestrator(t *testing.T, llm ports.LanguageModel, server *fakeToolServer) (*Orchestrator, *fakeDocStore) {
	t.Helper()
	docs := newFakeDocStore()
	mem := memory.NewManager(docs, wordCounter{}, llm, memory.Config{DefaultContextTokens: 4000, SummarizeAfterMessages: 40}, nil)
	summarizer := memory.NewSummarizer(mem, memory.SummarizeConfig{})

	registry := tools.NewRegistry(nil, nil, nil, 0)
	if server != nil {
		require.NoError(t, registry.RegisterServer(context.Background(), server))
	}

	o := New(Deps{
		Memory:     mem,
		Summarizer: summarizer,
		Registry:   registry,
		LLM:        llm,
		Config:     *config.Default(),
	})
	if server != nil {
		require.NoError(t, o.RefreshPatterns(context.Background(), []ports.ToolServer{server}))
	}
	return o, docs
}

// TestRespondFastpathSkipsClassifierAndPlanner covers §8's fastpath scenario:
// a high-confidence pattern match dispatches straight to the tool and
// confirms, never touching the classifier or planner.
func TestRespondFastpathSkipsClassifierAndPlanner(t *testing.T) {
	server := &fakeToolServer{
		name: "lights",
		descriptors: []models.ToolDescriptor{
			{Name: "control_light", Description: "control a light", InputSchema: json.RawMessage(openSchema)},
		},
		patterns: []models.CommandPattern{
			{ID: "lights-on", Pattern: `turn on the (\w+) lights?`, Flags: "i", Tool: "control_light",
				ParameterMapping: map[string]int{"room": 1}, Confidence: 0.95},
		},
		callFn: func(_ context.Context, name string, args json.RawMessage) (models.ToolResult, error) {
			assert.Equal(t, "control_light", name)
			return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: "kitchen lights on"}}}, nil
		},
	}

	// The tiny confirmer's single Invoke reply becomes the assistant message.
	llm := &fakeLLM{streamText: "Done, kitchen lights on."}
	o, _ := newTestOrchestrator(t, llm, server)

	result, err := o.Respond(context.Background(), "turn on the kitchen lights", Options{}, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Message.Content, "kitchen lights on")
	assert.Zero(t, llm.structuredCalls, "classifier/planner must not run on the fastpath")
}

// TestRespondDirectClassificationNeverBuildsPlan covers §8's direct-answer
// scenario: the classifier decides "direct" and the responder answers
// without a planner ever constructing an ExecutionPlan.
func TestRespondDirectClassificationNeverBuildsPlan(t *testing.T) {
	classifierDecision, _ := json.Marshal(map[string]any{
		"decision":   "direct",
		"confidence": 0.92,
		"reasoning":  "general knowledge question",
	})

	llm := &fakeLLM{
		structuredResponses: []json.RawMessage{classifierDecision},
		streamText:          "Recursion is when a function calls itself.",
	}
	o, _ := newTestOrchestrator(t, llm, nil)

	result, err := o.Respond(context.Background(), "What is recursion?", Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Recursion is when a function calls itself.", result.Message.Content)
	assert.Equal(t, 1, llm.structuredCalls, "only the classifier's structured call should fire")
}

// TestRespondPlannedSearchReachesResponder covers §8's plan/search scenario:
// the classifier routes to "plan", the planner emits a search+respond plan,
// the search node calls the tool once, and the responder answers.
func TestRespondPlannedSearchReachesResponder(t *testing.T) {
	classifierDecision, _ := json.Marshal(map[string]any{
		"decision":   "plan",
		"confidence": 0.9,
		"reasoning":  "requires current information",
	})
	plan, _ := json.Marshal(map[string]any{
		"reasoning": "need to search for the game result",
		"steps": []map[string]any{
			{"type": "search", "purpose": "find game result", "searchQuery": "Chiefs game tonight result"},
			{"type": "respond", "purpose": "answer the user"},
		},
	})
	sufficiencyVerdict, _ := json.Marshal(map[string]any{
		"sufficient": true,
		"reasoning":  "result found",
	})

	server := &fakeToolServer{
		name: "websearch",
		descriptors: []models.ToolDescriptor{
			{Name: "web_search", Description: "search the web", InputSchema: json.RawMessage(openSchema)},
		},
		callFn: func(_ context.Context, name string, _ json.RawMessage) (models.ToolResult, error) {
			assert.Equal(t, "web_search", name)
			return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: "Chiefs won 27-20"}}}, nil
		},
	}

	llm := &fakeLLM{
		structuredResponses: []json.RawMessage{classifierDecision, plan, sufficiencyVerdict},
		streamText:          "Yes, the Chiefs won 27-20 tonight.",
	}
	o, _ := newTestOrchestrator(t, llm, server)

	result, err := o.Respond(context.Background(), "Did the Chiefs win tonight?", Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Yes, the Chiefs won 27-20 tonight.", result.Message.Content)
}

// TestRespondPersistsBothTurns verifies the user and assistant messages are
// both appended to the conversation's document store (§6.1, §6.5).
func TestRespondPersistsBothTurns(t *testing.T) {
	classifierDecision, _ := json.Marshal(map[string]any{"decision": "direct", "confidence": 0.9})
	llm := &fakeLLM{structuredResponses: []json.RawMessage{classifierDecision}, streamText: "hello"}
	o, docs := newTestOrchestrator(t, llm, nil)

	opts := Options{ConversationID: "conv_fixed"}
	_, err := o.Respond(context.Background(), "hi", opts, nil)
	require.NoError(t, err)

	messages := docs.byConversation["conv_fixed"]
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
}

// TestRespondStreamsTokensThroughOnToken verifies the streaming callback
// receives the responder's text when the direct path is taken.
func TestRespondStreamsTokensThroughOnToken(t *testing.T) {
	classifierDecision, _ := json.Marshal(map[string]any{"decision": "direct", "confidence": 0.9})
	llm := &fakeLLM{structuredResponses: []json.RawMessage{classifierDecision}, streamText: "streamed answer"}
	o, _ := newTestOrchestrator(t, llm, nil)

	var streamed strings.Builder
	_, err := o.Respond(context.Background(), "hi", Options{Stream: true}, func(tok string) { streamed.WriteString(tok) })
	require.NoError(t, err)
	assert.Equal(t, "streamed answer", streamed.String())
}

func TestDeriveConversationIDIsStableAndPrefixed(t *testing.T) {
	id1 := DeriveConversationID("hello world")
	id2 := DeriveConversationID("hello world")
	id3 := DeriveConversationID("a different message")

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.True(t, strings.HasPrefix(id1, "conv_"))
	assert.Len(t, strings.TrimPrefix(id1, "conv_"), 16)
}
