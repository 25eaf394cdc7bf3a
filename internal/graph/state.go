package graph

import (
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// Query is the caller's original request payload (§4.6 "query" channel).
type Query struct {
	Text string
}

// Options mirrors the orchestrator's per-turn caller options (§6.1).
type Options struct {
	ConversationID string
	GenerationID   string
	Stream         bool
	Source         Source
}

// Source identifies the caller's application and device, per §6.1.
type Source struct {
	Application string
	Device      string
}

// FastpathTicket carries the tier-0 precheck's fastpath dispatch state.
type FastpathTicket struct {
	Tool       string
	Server     string
	Parameters map[string]string
	Success    bool
	Result     string
	Error      string
	Message    string
	Complete   bool
}

// State is the per-turn graph state: one instance per Respond call, discarded
// after streaming (§3, §4.6). Each field is a Channel so the scheduler can
// apply channel-specific reducers (append for Messages, replace elsewhere)
// when merging a node's PartialState.
type State struct {
	Query             *Channel[Query]
	Options           *Channel[Options]
	Messages          *Channel[[]models.Message]
	Response          *Channel[string]
	NextGraph         *Channel[string]
	MessageID         *Channel[string]
	ContextMessages   *Channel[[]models.Message]
	ExecutionPlan     *Channel[*models.ExecutionPlan]
	CurrentStepIndex  *Channel[int]
	RequestReplan     *Channel[bool]
	ReplanReason      *Channel[string]
	ReplannedCount    *Channel[int]
	SearchIterations  *Channel[int]
	PrecheckDecision  *Channel[string]
	Fastpath          *Channel[FastpathTicket]
	RouterDecision    *Channel[string]
	NodeNumber        *Channel[int]
	Usage             *Channel[ports.UsageMetadata]
}

// NewState constructs a fresh State with every channel at its zero value and
// the correct reducer kind (messages/contextMessages append or replace per
// §4.6; here only Messages truly accumulates across the turn, matching the
// table).
func NewState() *State {
	return &State{
		Query:            NewChannel(Query{}, Replace[Query]),
		Options:          NewChannel(Options{}, Replace[Options]),
		Messages:         NewChannel[[]models.Message](nil, Append[models.Message]),
		Response:         NewChannel("", Replace[string]),
		NextGraph:        NewChannel("", Replace[string]),
		MessageID:        NewChannel("", Replace[string]),
		ContextMessages:  NewChannel[[]models.Message](nil, Replace[[]models.Message]),
		ExecutionPlan:    NewChannel[*models.ExecutionPlan](nil, Replace[*models.ExecutionPlan]),
		CurrentStepIndex: NewChannel(0, Replace[int]),
		RequestReplan:    NewChannel(false, Replace[bool]),
		ReplanReason:     NewChannel("", Replace[string]),
		ReplannedCount:   NewChannel(0, Replace[int]),
		SearchIterations: NewChannel(0, Replace[int]),
		PrecheckDecision: NewChannel("", Replace[string]),
		Fastpath:         NewChannel(FastpathTicket{}, Replace[FastpathTicket]),
		RouterDecision:   NewChannel("", Replace[string]),
		NodeNumber:       NewChannel(0, Replace[int]),
		Usage:            NewChannel(ports.UsageMetadata{}, Replace[ports.UsageMetadata]),
	}
}

// Partial is a node's proposed update. Only non-nil pointer fields are
// merged; this lets a node touch just the channels relevant to it without
// clobbering the rest of the state (§4.3 "nodes must not mutate shared state
// outside the returned partial").
type Partial struct {
	Messages         []models.Message
	Response         *string
	NextGraph        *string
	MessageID        *string
	ContextMessages  []models.Message
	ExecutionPlan    *models.ExecutionPlan
	CurrentStepIndex *int
	RequestReplan    *bool
	ReplanReason     *string
	ReplannedCount   *int
	SearchIterations *int
	PrecheckDecision *string
	Fastpath         *FastpathTicket
	RouterDecision   *string
	NodeNumber       *int
	Usage            *ports.UsageMetadata
}

// Merge folds a node's Partial into the state through each channel's reducer.
func (s *State) Merge(p *Partial) {
	if p == nil {
		return
	}
	if p.Messages != nil {
		s.Messages.Merge(p.Messages)
	}
	if p.Response != nil {
		s.Response.Merge(*p.Response)
	}
	if p.NextGraph != nil {
		s.NextGraph.Merge(*p.NextGraph)
	}
	if p.MessageID != nil {
		s.MessageID.Merge(*p.MessageID)
	}
	if p.ContextMessages != nil {
		s.ContextMessages.Merge(p.ContextMessages)
	}
	if p.ExecutionPlan != nil {
		s.ExecutionPlan.Merge(p.ExecutionPlan)
	}
	if p.CurrentStepIndex != nil {
		s.CurrentStepIndex.Merge(*p.CurrentStepIndex)
	}
	if p.RequestReplan != nil {
		s.RequestReplan.Merge(*p.RequestReplan)
	}
	if p.ReplanReason != nil {
		s.ReplanReason.Merge(*p.ReplanReason)
	}
	if p.ReplannedCount != nil {
		s.ReplannedCount.Merge(*p.ReplannedCount)
	}
	if p.SearchIterations != nil {
		s.SearchIterations.Merge(*p.SearchIterations)
	}
	if p.PrecheckDecision != nil {
		s.PrecheckDecision.Merge(*p.PrecheckDecision)
	}
	if p.Fastpath != nil {
		s.Fastpath.Merge(*p.Fastpath)
	}
	if p.RouterDecision != nil {
		s.RouterDecision.Merge(*p.RouterDecision)
	}
	if p.NodeNumber != nil {
		s.NodeNumber.Merge(*p.NodeNumber)
	}
	if p.Usage != nil {
		s.Usage.Merge(*p.Usage)
	}
}
