// Package orchestrator wires the three-tier router, the specialized
// execution-graph nodes, and the memory/tool collaborators into the single
// Respond(query, options) entrypoint described in §6.1. Grounded on the
// teacher's top-level agent orchestration entrypoint: a capability-bundle
// constructor plus one exported turn method, assembling a fresh graph per
// call rather than holding long-lived per-conversation state (§9 "replace
// the god-object with a capability bundle").
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-orchestrator/orchestrator/internal/config"
	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/memory"
	"github.com/nexus-orchestrator/orchestrator/internal/nodes"
	"github.com/nexus-orchestrator/orchestrator/internal/observability"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/router"
	"github.com/nexus-orchestrator/orchestrator/internal/tools"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// Source identifies the caller's application and device (§6.1).
type Source struct {
	Application string
	Device      string
}

// Options mirrors the per-turn caller options named in §6.1.
type Options struct {
	ConversationID string
	GenerationID   string
	Stream         bool
	Source         Source
}

// Result is the non-streaming turn outcome: the persisted assistant message
// plus usage metadata (§6.1).
type Result struct {
	Message models.Message
	Usage   ports.UsageMetadata
}

// Orchestrator assembles one execution graph per turn over a fixed set of
// collaborators built once at process startup.
type Orchestrator struct {
	memory     *memory.Manager
	summarizer *memory.Summarizer
	registry   *tools.Registry

	precheck   *router.Precheck
	classifier *router.Classifier
	planner    *router.Planner

	search        *nodes.Search
	command       *nodes.Command
	responder     *nodes.Responder
	fastpathExec  *nodes.FastpathExecutor
	tinyConfirmer *nodes.TinyConfirmer

	logger *observability.Logger
	config config.Config
}

// Deps bundles the collaborators New needs, grouped the way the teacher
// groups its agent constructor's dependencies.
type Deps struct {
	Memory     *memory.Manager
	Summarizer *memory.Summarizer
	Registry   *tools.Registry
	LLM        ports.LanguageModel
	Logger     *observability.Logger
	Config     config.Config
}

// New builds an Orchestrator, constructing the three router tiers and the
// specialized nodes from the supplied LLM port and model names (§4.4, §4.5).
func New(deps Deps) *Orchestrator {
	cfg := deps.Config
	return &Orchestrator{
		memory:     deps.Memory,
		summarizer: deps.Summarizer,
		registry:   deps.Registry,

		precheck:   router.NewPrecheck(nil, cfg.Router.PrecheckConfidenceMin),
		classifier: router.NewClassifier(deps.LLM, cfg.Models.ClassifierModel, cfg.Router.ClassifierConfidenceMin),
		planner:    router.NewPlanner(deps.LLM, cfg.Models.PlannerModel),

		search:        nodes.NewSearch(deps.Registry, deps.LLM, cfg.Models.SearchEvaluatorModel, cfg.Router.MaxSearchIterations),
		command:       nodes.NewCommand(deps.Registry),
		responder:     nodes.NewResponder(deps.LLM, cfg.Models.ResponderModel),
		fastpathExec:  nodes.NewFastpathExecutor(deps.Registry),
		tinyConfirmer: nodes.NewTinyConfirmer(deps.LLM, cfg.Models.TinyConfirmerModel),

		logger: deps.Logger,
		config: cfg,
	}
}

// RefreshPatterns reloads the tier-0 precheck's pattern registry from every
// registered tool server (§4.4: "once on startup and on explicit refresh").
func (o *Orchestrator) RefreshPatterns(ctx context.Context, servers []ports.ToolServer) error {
	precheck := router.NewPrecheck(servers, o.config.Router.PrecheckConfidenceMin)
	precheck.SetLogger(o.logger)
	precheck.SetPatternsDir(o.config.Router.PatternsDir)
	o.precheck = precheck
	return o.precheck.Refresh(ctx)
}

// StartPatternWatch starts watching the configured patterns directory (if
// any) for changes, hot-reloading the precheck's pattern registry. It is a
// no-op unless both Router.PatternsDir and Router.WatchPatterns are set.
func (o *Orchestrator) StartPatternWatch(ctx context.Context) error {
	if !o.config.Router.WatchPatterns || o.config.Router.PatternsDir == "" {
		return nil
	}
	return o.precheck.StartWatching(ctx)
}

// StopPatternWatch stops the pattern-directory watcher started by
// StartPatternWatch, if any.
func (o *Orchestrator) StopPatternWatch() error {
	return o.precheck.Close()
}

// graph node labels.
const (
	labelPrecheck        = "precheck"
	labelClassifier      = "classifier"
	labelPlanner         = "planner"
	labelExecutor        = "executor"
	labelSearch          = "search"
	labelCommand         = "command"
	labelRespond         = "respond"
	labelFastpathExec    = "fastpath_exec"
	labelFastpathConfirm = "fastpath_confirm"
)

// Respond executes one turn: persists the user message, runs the routing
// graph, streams the assistant's reply through onToken, persists the
// assistant message, and schedules background summarization (§6.1).
// onToken may be nil for non-streaming callers; the full text is always
// returned in Result regardless.
func (o *Orchestrator) Respond(ctx context.Context, queryText string, opts Options, onToken func(string)) (Result, error) {
	conversationID := opts.ConversationID
	if strings.TrimSpace(conversationID) == "" {
		conversationID = DeriveConversationID(queryText)
	}

	contextBlock, err := o.memory.GetContext(ctx, conversationID, o.config.Memory.DefaultContextTokens)
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: load context: %w", err)
	}

	userMsg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        queryText,
		CreatedAt:      time.Now(),
	}
	if err := o.memory.AppendMessage(ctx, userMsg); err != nil {
		return Result{}, fmt.Errorf("orchestrator: persist user message: %w", err)
	}

	messageID := uuid.New().String()

	state := graph.NewState()
	state.Query.Merge(graph.Query{Text: queryText})
	state.Options.Merge(graph.Options{
		ConversationID: conversationID,
		GenerationID:   opts.GenerationID,
		Stream:         opts.Stream,
		Source:         graph.Source{Application: opts.Source.Application, Device: opts.Source.Device},
	})
	state.MessageID.Merge(messageID)
	state.ContextMessages.Merge(contextBlock.Messages)
	state.Messages.Merge(append(append([]models.Message{}, contextBlock.Messages...), userMsg))

	contextFor := func(s *graph.State) string {
		return buildTurnContext(contextBlock.Summary, s.Messages.Value)
	}

	g := o.buildGraph(contextFor, onToken)

	if err := g.Run(ctx, state); err != nil {
		return Result{}, fmt.Errorf("orchestrator: graph run: %w", err)
	}

	assistantMsg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        state.Response.Value,
		CreatedAt:      time.Now(),
	}
	if err := o.memory.AppendMessage(ctx, assistantMsg); err != nil && o.logger != nil {
		o.logger.Warn(ctx, "orchestrator: failed to persist assistant message", "error", err, "conversationId", conversationID)
	}

	if o.summarizer != nil {
		o.summarizer.ScheduleSummarize(conversationID, len(contextBlock.Messages)+2)
	}

	return Result{Message: assistantMsg, Usage: state.Usage.Value}, nil
}

func (o *Orchestrator) buildGraph(contextFor func(*graph.State) string, onToken func(string)) *graph.Graph {
	g := graph.NewGraph(labelPrecheck)

	g.AddNode(labelPrecheck, o.precheck.Node())
	g.AddEdge(labelPrecheck, func(s *graph.State) string {
		if s.PrecheckDecision.Value == "fastpath" {
			return labelFastpathExec
		}
		return labelClassifier
	})

	g.AddNode(labelClassifier, o.classifier.Node(contextFor))
	g.AddEdge(labelClassifier, func(s *graph.State) string {
		if s.RouterDecision.Value == "direct" {
			return labelRespond
		}
		return labelPlanner
	})

	g.AddNode(labelPlanner, o.planner.Node(contextFor))
	g.AddEdge(labelPlanner, func(*graph.State) string { return labelExecutor })

	g.AddNode(labelExecutor, nodes.Executor)
	g.AddEdge(labelExecutor, func(s *graph.State) string { return s.NextGraph.Value })

	g.AddNode(labelSearch, o.search.Node(contextFor))
	g.AddEdge(labelSearch, func(*graph.State) string { return labelExecutor })

	g.AddNode(labelCommand, o.command.Node())
	g.AddEdge(labelCommand, func(*graph.State) string { return labelExecutor })

	g.AddNode(labelRespond, o.responder.Node(contextFor, onToken))
	g.AddEdge(labelRespond, func(s *graph.State) string {
		if s.RequestReplan.Value {
			return labelPlanner
		}
		return graph.End
	})

	g.AddNode(labelFastpathExec, o.fastpathExec.Node())
	g.AddEdge(labelFastpathExec, func(*graph.State) string { return labelFastpathConfirm })

	g.AddNode(labelFastpathConfirm, o.tinyConfirmer.Node(onToken))
	g.AddEdge(labelFastpathConfirm, func(*graph.State) string { return graph.End })

	return g
}

// buildTurnContext assembles the conversation-context string handed to the
// classifier/planner/search/respond stages: the running executive summary
// followed by the turn's accumulated messages (preloaded history plus any
// tool results gathered so far).
func buildTurnContext(summary string, messages []models.Message) string {
	var b strings.Builder
	if summary != "" {
		b.WriteString("Summary of earlier conversation:\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// DeriveConversationID hashes the first user message to a stable id when
// the caller supplies none (§6.4): SHA-256, first 16 hex chars, prefix
// "conv_".
func DeriveConversationID(firstUserMessage string) string {
	sum := sha256.Sum256([]byte(firstUserMessage))
	return "conv_" + hex.EncodeToString(sum[:])[:16]
}
