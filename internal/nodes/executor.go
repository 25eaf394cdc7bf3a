// Package nodes implements the specialized graph nodes dispatched by the
// executor: search (with its overlap-aware iteration loop), command,
// respond, and the tier-0 fastpath-executor/tiny-confirmer chain (§4.4,
// §4.5). Grounded on the teacher's agent/routing and tool-calling node
// style: small structs wrapping an LLM/registry collaborator, a Node()
// method closing over per-turn context builders.
package nodes

import (
	"context"

	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// Graph node labels the executor routes between.
const (
	LabelSearch  = "search"
	LabelCommand = "command"
	LabelRespond = "respond"
)

// PriorityOrder is the tie-break precedence named in §4.4: when more than
// one destination would otherwise be equally valid, research wins over
// command, command wins over respond.
var PriorityOrder = []string{LabelSearch, LabelCommand, LabelRespond}

// Executor reads steps[currentStepIndex] and sets nextGraph accordingly
// (§4.4). It holds no collaborators, so it is a bare graph.Node rather than
// a constructed struct.
func Executor(_ context.Context, state *graph.State) (*graph.Partial, error) {
	plan := state.ExecutionPlan.Value
	idx := state.CurrentStepIndex.Value

	if plan == nil || idx >= len(plan.Steps) {
		end := graph.End
		return &graph.Partial{NextGraph: &end}, nil
	}

	label := tagToLabel(plan.Steps[idx].Tag)
	return &graph.Partial{NextGraph: &label}, nil
}

func tagToLabel(tag models.StepTag) string {
	switch tag {
	case models.StepSearch:
		return LabelSearch
	case models.StepCommand:
		return LabelCommand
	default:
		return LabelRespond
	}
}

// tieBreak resolves PriorityOrder against a set of equally eligible
// candidate labels, used defensively where a step's shape admits more than
// one destination.
func tieBreak(candidates map[string]bool) string {
	for _, label := range PriorityOrder {
		if candidates[label] {
			return label
		}
	}
	return LabelRespond
}
