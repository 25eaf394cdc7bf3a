package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/schedule"
)

// SummarizeConfig configures the background executive-summary job, grounded
// on the teacher's tasks.SchedulerConfig poll/defaults shape.
type SummarizeConfig struct {
	// PollInterval is how often due conversations are checked. Defaults to
	// 30 seconds.
	PollInterval time.Duration

	// PollCron, if set, overrides PollInterval with a robfig/cron
	// expression so the poll can run on a calendar boundary rather than a
	// fixed interval.
	PollCron string

	// Model is the model name passed to the summarization completion
	// request.
	Model string
}

func (c SummarizeConfig) schedule() (schedule.Schedule, error) {
	if strings.TrimSpace(c.PollCron) != "" {
		return schedule.Parse(c.PollCron)
	}
	return schedule.EveryInterval(c.PollInterval), nil
}

// summaryPrompt is the system prompt used to compress a conversation into
// an executive summary that GetContext can substitute for trimmed history.
const summaryPrompt = "Summarize the conversation so far in a few dense sentences. " +
	"Preserve names, decisions, and open questions. Do not add commentary."

// Summarizer runs a background loop that regenerates executive summaries for
// conversations whose message count has crossed SummarizeAfterMessages.
// Failures are logged and retried on the next tick, never surfaced to the
// caller (§4.1 "generation failures are logged, never fatal").
type Summarizer struct {
	manager  *Manager
	config   SummarizeConfig
	schedule schedule.Schedule

	mu      sync.Mutex
	due     map[string]int // conversationId -> message count at last summarization
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewSummarizer builds a Summarizer bound to manager. A malformed PollCron
// expression falls back to the fixed PollInterval and is logged as a warning
// here in NewSummarizer rather than failing construction.
func NewSummarizer(manager *Manager, cfg SummarizeConfig) *Summarizer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "default"
	}
	sched, err := cfg.schedule()
	if err != nil {
		sched = schedule.EveryInterval(cfg.PollInterval)
		if manager != nil && manager.logger != nil {
			manager.logger.Warn("memory: invalid summarize poll schedule, falling back to fixed interval", "error", err)
		}
	}
	return &Summarizer{
		manager:  manager,
		config:   cfg,
		schedule: sched,
		due:      make(map[string]int),
		stopped:  make(chan struct{}),
	}
}

// ScheduleSummarize marks conversationID as needing a summary refresh check
// on the next tick once its message count passes the configured threshold.
// The actual generation happens asynchronously off the calling goroutine.
func (s *Summarizer) ScheduleSummarize(conversationID string, messageCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.due[conversationID] = messageCount
}

// Start launches the background polling loop. Call Stop to release it.
func (s *Summarizer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.stopped)
		for {
			next, err := s.schedule.Next(time.Now())
			if err != nil {
				if s.manager != nil && s.manager.logger != nil {
					s.manager.logger.Warn("memory: summarize schedule error, retrying in PollInterval", "error", err)
				}
				next = time.Now().Add(s.config.PollInterval)
			}

			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop halts the background loop and waits for it to exit.
func (s *Summarizer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.stopped
}

func (s *Summarizer) runDue(ctx context.Context) {
	s.mu.Lock()
	candidates := make([]string, 0, len(s.due))
	for conversationID, count := range s.due {
		if count >= s.manager.config.SummarizeAfterMessages {
			candidates = append(candidates, conversationID)
		}
	}
	s.mu.Unlock()

	for _, conversationID := range candidates {
		if err := s.summarizeOne(ctx, conversationID); err != nil {
			s.manager.logger.Warn("executive summary generation failed", "conversation_id", conversationID, "error", err)
			continue
		}
		s.mu.Lock()
		delete(s.due, conversationID)
		s.mu.Unlock()
	}
}

func (s *Summarizer) summarizeOne(ctx context.Context, conversationID string) error {
	if s.manager.llm == nil {
		return fmt.Errorf("no language model configured for summarization")
	}

	messages, err := s.manager.messagesFor(ctx, conversationID)
	if err != nil {
		return err
	}
	deduped := dedupeByID(messages)
	if len(deduped) == 0 {
		return nil
	}

	transcript := make([]ports.CompletionMessage, 0, len(deduped))
	for _, msg := range deduped {
		transcript = append(transcript, ports.CompletionMessage{Role: string(msg.Role), Content: msg.Content})
	}

	resp, err := s.manager.llm.Invoke(ctx, ports.CompletionRequest{
		Model:    s.config.Model,
		System:   summaryPrompt,
		Messages: transcript,
	})
	if err != nil {
		return fmt.Errorf("summarize invoke: %w", err)
	}

	s.manager.SetExecutiveSummary(conversationID, resp.Text)
	return nil
}
