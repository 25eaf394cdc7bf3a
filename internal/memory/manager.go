// Package memory assembles conversation context for the orchestrator core:
// durable message append, deduplicated context windows bounded by a token
// budget, and background executive-summary generation (Summarizer) once a
// conversation passes a message-count threshold (§4.1). Grounded on the teacher's internal/memory Manager
// shape (config-with-defaults constructor, mutex-guarded state, logger
// field) adapted from semantic vector recall to conversational context
// assembly.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// Config configures the Manager's context-assembly defaults.
type Config struct {
	// DefaultContextTokens is the token budget GetContext enforces when the
	// caller doesn't specify one.
	DefaultContextTokens int

	// SummarizeAfterMessages is how many persisted messages accumulate
	// before ScheduleSummarize considers a conversation due.
	SummarizeAfterMessages int
}

// Manager coordinates message persistence and context assembly.
type Manager struct {
	docs     ports.DocStore
	counter  ports.TokenCounter
	llm      ports.LanguageModel
	config   Config
	logger   *slog.Logger
	mu       sync.RWMutex
	cache    map[string][]models.Message // conversationId -> ordered messages, id-deduplicated
	summary  map[string]string           // conversationId -> executive summary
}

// NewManager builds a Manager. llm may be nil if executive summarization is
// disabled at this deployment; GetExecutiveSummary then always returns "".
func NewManager(docs ports.DocStore, counter ports.TokenCounter, llm ports.LanguageModel, cfg Config, logger *slog.Logger) *Manager {
	if cfg.DefaultContextTokens <= 0 {
		cfg.DefaultContextTokens = 4000
	}
	if cfg.SummarizeAfterMessages <= 0 {
		cfg.SummarizeAfterMessages = 40
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		docs:    docs,
		counter: counter,
		llm:     llm,
		config:  cfg,
		logger:  logger.With("component", "memory"),
		cache:   make(map[string][]models.Message),
		summary: make(map[string]string),
	}
}

// AppendMessage persists msg and refreshes the in-memory cache for its
// conversation, deduplicated by message id (§4.1).
func (m *Manager) AppendMessage(ctx context.Context, msg models.Message) error {
	if _, err := m.docs.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("memory: append message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.cache[msg.ConversationID]
	for _, have := range existing {
		if have.ID == msg.ID {
			return nil // already cached, id-unique persistence already enforced the append
		}
	}
	m.cache[msg.ConversationID] = append(existing, msg)
	return nil
}

// GetContext returns a token-bounded, id-deduplicated context block for
// conversationID (§4.1). Messages are ordered oldest-first by
// first-occurrence. When the full message history exceeds maxTokens, the
// oldest messages are dropped in favor of the newest ones that fit the
// budget (keepNewestWithinBudget); a cached executive summary, if one
// exists, is prepended and its tokens reserved from the budget first. The
// returned block never exceeds maxTokens, with or without a summary.
func (m *Manager) GetContext(ctx context.Context, conversationID string, maxTokens int) (models.ContextBlock, error) {
	if maxTokens <= 0 {
		maxTokens = m.config.DefaultContextTokens
	}

	messages, err := m.messagesFor(ctx, conversationID)
	if err != nil {
		return models.ContextBlock{}, err
	}

	deduped := dedupeByID(messages)
	total := m.countTokens(deduped)
	if total <= maxTokens {
		return models.ContextBlock{Messages: deduped, Tokens: total}, nil
	}

	summary := m.getCachedSummary(conversationID)
	summaryTokens := 0
	if summary != "" {
		summaryTokens = m.counter.Count(summary)
	}
	budget := maxTokens - summaryTokens
	kept := keepNewestWithinBudget(deduped, budget, m.counter)

	block := models.ContextBlock{
		Summary:  summary,
		Messages: kept,
		Tokens:   summaryTokens + m.countTokens(kept),
	}
	return block, nil
}

// GetExecutiveSummary returns the cached executive summary for
// conversationID, or "" if none has been generated.
func (m *Manager) GetExecutiveSummary(conversationID string) string {
	return m.getCachedSummary(conversationID)
}

// SetExecutiveSummary stores a freshly generated executive summary,
// overwriting any previous one. Used by the Summarizer's polling loop and
// by callers that generate summaries out of band.
func (m *Manager) SetExecutiveSummary(conversationID, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary[conversationID] = summary
}

func (m *Manager) getCachedSummary(conversationID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary[conversationID]
}

func (m *Manager) messagesFor(ctx context.Context, conversationID string) ([]models.Message, error) {
	m.mu.RLock()
	cached, ok := m.cache[conversationID]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	loaded, err := m.docs.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("memory: list messages: %w", err)
	}

	m.mu.Lock()
	m.cache[conversationID] = loaded
	m.mu.Unlock()
	return loaded, nil
}

func (m *Manager) countTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.counter.Count(msg.Content)
	}
	return total
}

// dedupeByID keeps the first occurrence of each message id, preserving
// order (§4.1 "dedup by id, first-occurrence-wins").
func dedupeByID(messages []models.Message) []models.Message {
	seen := make(map[string]bool, len(messages))
	out := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		out = append(out, msg)
	}
	return out
}

// keepNewestWithinBudget walks messages from the end, keeping as many of the
// most recent as fit within budget tokens, preserving chronological order.
func keepNewestWithinBudget(messages []models.Message, budget int, counter ports.TokenCounter) []models.Message {
	if budget <= 0 {
		return nil
	}
	kept := make([]models.Message, 0, len(messages))
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := counter.Count(messages[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		kept = append(kept, messages[i])
	}
	for left, right := 0, len(kept)-1; left < right; left, right = left+1, right-1 {
		kept[left], kept[right] = kept[right], kept[left]
	}
	return kept
}
