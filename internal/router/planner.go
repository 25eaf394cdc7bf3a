package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

const plannerSchema = `{
  "type": "object",
  "properties": {
    "reasoning": {"type": "string"},
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "type": {"type": "string", "enum": ["search", "command", "respond"]},
          "purpose": {"type": "string"},
          "searchQuery": {"type": "string"},
          "domain": {"type": "string"},
          "commandDetails": {"type": "string"}
        },
        "required": ["type", "purpose"]
      }
    }
  },
  "required": ["reasoning", "steps"]
}`

const plannerSystemPrompt = `You are a planner that decomposes a user's request into an ordered list of steps. Each step is one of: search (requires a web search with searchQuery), command (requires running a shell command described by commandDetails and domain), or respond (produce the final answer, always last). Respond with the required JSON only.`

// Planner is the tier-2 planner stage (§4.4): a larger model constrained by
// plannerSchema, with defensive normalization for the many shapes models
// actually return.
type Planner struct {
	llm   ports.LanguageModel
	model string
}

// NewPlanner builds a Planner.
func NewPlanner(llm ports.LanguageModel, model string) *Planner {
	return &Planner{llm: llm, model: model}
}

// Plan produces an ExecutionPlan for userMessage. On any failure — model
// error, malformed JSON, unrecognized envelope — it falls back to a single
// respond step rather than propagating the error, matching §4.4's planner
// contract: the planner must never leave the turn without a usable plan.
func (p *Planner) Plan(ctx context.Context, userMessage, conversationContext string) *models.ExecutionPlan {
	req := ports.CompletionRequest{
		Model:  p.model,
		System: plannerSystemPrompt,
		Messages: []ports.CompletionMessage{
			{Role: "user", Content: fmt.Sprintf("Conversation context:\n%s\n\nUser request:\n%s", conversationContext, userMessage)},
		},
	}

	raw, err := p.llm.InvokeStructured(ctx, req, json.RawMessage(plannerSchema))
	if err != nil {
		return fallbackPlan()
	}

	plan, err := normalizePlan(raw)
	if err != nil {
		return fallbackPlan()
	}
	return plan
}

func fallbackPlan() *models.ExecutionPlan {
	return &models.ExecutionPlan{
		Reasoning: "planner unavailable",
		Steps:     []models.Step{{Tag: models.StepRespond, Purpose: "Provide direct answer"}},
	}
}

// normalizePlan unwraps common envelopes (quoted JSON strings, {plan:…},
// {executionPlan:…}, {data:…}, a bare array of steps) and accepts alternate
// key casings before building the ExecutionPlan (§4.4).
func normalizePlan(raw json.RawMessage) (*models.ExecutionPlan, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("router: unmarshal planner output: %w", err)
	}
	decoded = unwrapEnvelope(decoded, 0)

	var reasoning string
	var rawSteps []any

	switch v := decoded.(type) {
	case []any:
		rawSteps = v
	case map[string]any:
		if s, ok := lookupCI(v, "reasoning"); ok {
			reasoning, _ = s.(string)
		}
		if steps, ok := lookupCI(v, "steps"); ok {
			if arr, ok := steps.([]any); ok {
				rawSteps = arr
			}
		}
	default:
		return nil, fmt.Errorf("router: unrecognized planner output shape")
	}

	steps := make([]models.Step, 0, len(rawSteps))
	for _, item := range rawSteps {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		step := models.Step{Tag: models.StepRespond, Purpose: "Provide final answer"}
		if v, ok := lookupCI(m, "type"); ok {
			if s, ok := v.(string); ok {
				step.Tag = normalizeStepTag(s)
			}
		}
		if v, ok := lookupCI(m, "purpose"); ok {
			if s, ok := v.(string); ok {
				step.Purpose = s
			}
		}
		if v, ok := lookupCIAny(m, "searchQuery", "search_query"); ok {
			if s, ok := v.(string); ok {
				step.SearchQuery = s
			}
		}
		if v, ok := lookupCI(m, "domain"); ok {
			if s, ok := v.(string); ok {
				step.Domain = s
			}
		}
		if v, ok := lookupCIAny(m, "commandDetails", "command_details"); ok {
			if s, ok := v.(string); ok {
				step.CommandDetails = s
			}
		}
		steps = append(steps, step)
	}

	plan := &models.ExecutionPlan{Reasoning: reasoning, Steps: steps}
	plan.EnsureTerminalRespond()
	return plan, nil
}

func normalizeStepTag(raw string) models.StepTag {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "search":
		return models.StepSearch
	case "command":
		return models.StepCommand
	default:
		return models.StepRespond
	}
}

// maxEnvelopeDepth bounds the unwrap recursion so a maliciously nested
// structure can't cause unbounded recursion.
const maxEnvelopeDepth = 5

// unwrapEnvelope peels off quoted-JSON-string and {plan:…}/{executionPlan:…}/
// {data:…} wrappers the teacher's model outputs sometimes carry.
func unwrapEnvelope(v any, depth int) any {
	if depth >= maxEnvelopeDepth {
		return v
	}
	switch t := v.(type) {
	case string:
		var inner any
		if err := json.Unmarshal([]byte(t), &inner); err == nil {
			return unwrapEnvelope(inner, depth+1)
		}
		return v
	case map[string]any:
		for _, key := range []string{"plan", "executionPlan", "data"} {
			if inner, ok := lookupCI(t, key); ok {
				return unwrapEnvelope(inner, depth+1)
			}
		}
		return t
	default:
		return v
	}
}

func lookupCI(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func lookupCIAny(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := lookupCI(m, key); ok {
			return v, true
		}
	}
	return nil, false
}

// Node builds the planner graph node. When RequestReplan is set, it injects
// the replan reason into the context and increments ReplannedCount,
// bounded at models.MaxReplans (§4.4).
func (p *Planner) Node(contextFor func(state *graph.State) string) graph.Node {
	return func(ctx context.Context, state *graph.State) (*graph.Partial, error) {
		userMessage := lastUserMessage(state)
		convContext := ""
		if contextFor != nil {
			convContext = contextFor(state)
		}

		replannedCount := state.ReplannedCount.Value
		if state.RequestReplan.Value && !((&models.ExecutionPlan{ReplannedCount: replannedCount}).MaxReplansReached()) {
			reason := state.ReplanReason.Value
			convContext = fmt.Sprintf("%s\n\nThe previous plan's answer was inadequate and must be replanned. Reason: %s", convContext, reason)
			replannedCount++
		}

		plan := p.Plan(ctx, userMessage, convContext)
		plan.ReplannedCount = replannedCount

		zero := 0
		noReplan := false
		return &graph.Partial{
			ExecutionPlan:    plan,
			CurrentStepIndex: &zero,
			RequestReplan:    &noReplan,
			ReplannedCount:   &replannedCount,
		}, nil
	}
}
