package nodes

import (
	"context"
	"strings"

	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// inadequatePhrases flags responses that dodge the question rather than
// answer it, triggering one bounded replan round (§4.4, §7 "exact phrase
// list is tuned via tests rather than frozen").
var inadequatePhrases = []string{
	"i don't know",
	"i do not know",
	"i cannot find",
	"i can't find",
	"i'm not sure",
	"i am not sure",
	"no information available",
	"unable to find",
	"i do not have access",
	"i don't have access",
	"as an ai language model",
}

// Responder streams the final assistant answer and detects inadequate
// replies (§4.4).
type Responder struct {
	llm   ports.LanguageModel
	model string
}

// NewResponder builds a Responder.
func NewResponder(llm ports.LanguageModel, model string) *Responder {
	return &Responder{llm: llm, model: model}
}

const responderSystemPrompt = `You are a helpful assistant. Use the conversation context and any tool results already gathered to answer the user's request directly and completely.`

// Node builds the responder graph node. emit, if non-nil, receives each
// streamed token as it arrives. contextFor builds the conversation context
// string (prior messages, tool results, executive summary) for this turn.
func (r *Responder) Node(contextFor func(*graph.State) string, emit func(string)) graph.Node {
	return func(ctx context.Context, state *graph.State) (*graph.Partial, error) {
		userMessage := lastUserMessage(state)
		convContext := ""
		if contextFor != nil {
			convContext = contextFor(state)
		}

		req := ports.CompletionRequest{
			Model:  r.model,
			System: responderSystemPrompt,
			Messages: []ports.CompletionMessage{
				{Role: "user", Content: "Conversation context:\n" + convContext + "\n\nUser request:\n" + userMessage},
			},
		}

		text, usage, err := r.stream(ctx, req, emit)
		if err != nil {
			text = "I ran into a problem generating a response: " + err.Error()
			if emit != nil {
				emit(text)
			}
		}

		plan := state.ExecutionPlan.Value
		idx := state.CurrentStepIndex.Value

		replan, reason := shouldReplan(state.ReplannedCount.Value, text)
		noReplan := false
		partial := &graph.Partial{
			Response:      &text,
			RequestReplan: &noReplan,
			Usage:         &usage,
		}

		if replan {
			yes := true
			partial.RequestReplan = &yes
			partial.ReplanReason = &reason
			return partial, nil
		}

		if plan != nil {
			nextIdx := idx + 1
			partial.CurrentStepIndex = &nextIdx
		}
		return partial, nil
	}
}

func (r *Responder) stream(ctx context.Context, req ports.CompletionRequest, emit func(string)) (string, ports.UsageMetadata, error) {
	chunks, err := r.llm.Stream(ctx, req)
	if err != nil {
		return "", ports.UsageMetadata{}, err
	}

	var b strings.Builder
	var usage ports.UsageMetadata
	for chunk := range chunks {
		if chunk.Error != nil {
			return b.String(), usage, chunk.Error
		}
		if chunk.Text != "" {
			b.WriteString(chunk.Text)
			if emit != nil {
				emit(chunk.Text)
			}
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	return b.String(), usage, nil
}

// shouldReplan reports whether text looks inadequate and a further replan
// is still permitted by the replan budget (§4.4: exactly one replan per
// inadequate output, bounded by models.MaxReplans).
func shouldReplan(replannedCount int, text string) (bool, string) {
	if (&models.ExecutionPlan{ReplannedCount: replannedCount}).MaxReplansReached() {
		return false, ""
	}
	lower := strings.ToLower(text)
	for _, phrase := range inadequatePhrases {
		if strings.Contains(lower, phrase) {
			return true, "responder output matched inadequate-response phrase: " + phrase
		}
	}
	return false, ""
}
