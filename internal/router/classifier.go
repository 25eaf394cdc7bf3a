package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
)

// classifierSchema constrains the small model's tier-1 decision to exactly
// the shape §4.4 names.
const classifierSchema = `{
  "type": "object",
  "properties": {
    "decision": {"type": "string", "enum": ["direct", "plan"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"}
  },
  "required": ["decision", "confidence", "reasoning"]
}`

const classifierSystemPrompt = `You classify a user's message as either "direct" (answerable immediately without tools or planning) or "plan" (requires search, a tool, or multiple steps). Respond with the required JSON only.`

// classifierDecision is the tier-1 model's structured response.
type classifierDecision struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classifier is the tier-1 small-model router stage (§4.4).
type Classifier struct {
	llm     ports.LanguageModel
	model   string
	minConf float64
}

// NewClassifier builds a Classifier. minConfidence defaults to 0.5.
func NewClassifier(llm ports.LanguageModel, model string, minConfidence float64) *Classifier {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &Classifier{llm: llm, model: model, minConf: minConfidence}
}

// Classify asks the configured model to decide direct vs. plan. A
// low-confidence or malformed response is coerced to "plan" — when the
// classifier isn't sure, the safer fallback is to let the planner reason
// it through rather than answer directly (§4.4).
func (c *Classifier) Classify(ctx context.Context, userMessage, conversationContext string) (decision string, confidence float64, reasoning string, err error) {
	req := ports.CompletionRequest{
		Model:  c.model,
		System: classifierSystemPrompt,
		Messages: []ports.CompletionMessage{
			{Role: "user", Content: fmt.Sprintf("Conversation context:\n%s\n\nUser message:\n%s", conversationContext, userMessage)},
		},
	}

	raw, err := c.llm.InvokeStructured(ctx, req, json.RawMessage(classifierSchema))
	if err != nil {
		return "plan", 0, "classifier invocation failed: " + err.Error(), nil
	}

	var out classifierDecision
	if err := json.Unmarshal(raw, &out); err != nil {
		return "plan", 0, "classifier returned malformed JSON", nil
	}

	if out.Confidence < c.minConf {
		return "plan", out.Confidence, out.Reasoning, nil
	}
	if out.Decision != "direct" && out.Decision != "plan" {
		return "plan", out.Confidence, out.Reasoning, nil
	}
	return out.Decision, out.Confidence, out.Reasoning, nil
}

// Node builds the classifier graph node, setting routerDecision to "direct"
// or "plan".
func (c *Classifier) Node(contextFor func(state *graph.State) string) graph.Node {
	return func(ctx context.Context, state *graph.State) (*graph.Partial, error) {
		userMessage := lastUserMessage(state)
		convContext := ""
		if contextFor != nil {
			convContext = contextFor(state)
		}

		decision, _, _, err := c.Classify(ctx, userMessage, convContext)
		if err != nil {
			decision = "plan"
		}
		return &graph.Partial{RouterDecision: &decision}, nil
	}
}
