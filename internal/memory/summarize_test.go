package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

type fakeLLM struct {
	response string
	calls    int
}

func (f *fakeLLM) Invoke(context.Context, ports.CompletionRequest) (ports.CompletionResponse, error) {
	f.calls++
	return ports.CompletionResponse{Text: f.response}, nil
}

func (f *fakeLLM) Stream(context.Context, ports.CompletionRequest) (<-chan ports.StreamChunk, error) {
	return nil, nil
}

func (f *fakeLLM) InvokeStructured(context.Context, ports.CompletionRequest, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

func TestSummarizerGeneratesSummaryWhenThresholdCrossed(t *testing.T) {
	docs := newFakeDocStore()
	llm := &fakeLLM{response: "condensed summary"}
	mgr := NewManager(docs, wordCounter{}, llm, Config{SummarizeAfterMessages: 2}, nil)

	require.NoError(t, mgr.AppendMessage(context.Background(), models.Message{ID: "m0", ConversationID: "c1", Content: "hi"}))
	require.NoError(t, mgr.AppendMessage(context.Background(), models.Message{ID: "m1", ConversationID: "c1", Content: "hello back"}))

	summarizer := NewSummarizer(mgr, SummarizeConfig{PollInterval: 5 * time.Millisecond})
	summarizer.ScheduleSummarize("c1", 2)
	summarizer.runDue(context.Background())

	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, "condensed summary", mgr.GetExecutiveSummary("c1"))
}

func TestSummarizerSkipsBelowThreshold(t *testing.T) {
	docs := newFakeDocStore()
	llm := &fakeLLM{response: "condensed"}
	mgr := NewManager(docs, wordCounter{}, llm, Config{SummarizeAfterMessages: 10}, nil)

	summarizer := NewSummarizer(mgr, SummarizeConfig{})
	summarizer.ScheduleSummarize("c1", 2)
	summarizer.runDue(context.Background())

	assert.Equal(t, 0, llm.calls)
	assert.Equal(t, "", mgr.GetExecutiveSummary("c1"))
}

func TestSummarizerMissingLLMFailsWithoutPanicking(t *testing.T) {
	docs := newFakeDocStore()
	mgr := NewManager(docs, wordCounter{}, nil, Config{SummarizeAfterMessages: 1}, nil)
	require.NoError(t, mgr.AppendMessage(context.Background(), models.Message{ID: "m0", ConversationID: "c1", Content: "hi"}))

	summarizer := NewSummarizer(mgr, SummarizeConfig{})
	summarizer.ScheduleSummarize("c1", 1)
	assert.NotPanics(t, func() { summarizer.runDue(context.Background()) })
	assert.Equal(t, "", mgr.GetExecutiveSummary("c1"))
}

var _ ports.LanguageModel = (*fakeLLM)(nil)
