// Package router implements the three-tier router (§4.4): a tier-0 regex
// precheck, a tier-1 small-model classifier, and a tier-2 planner, modeled
// after the teacher's internal/agent/routing rule-then-heuristic dispatch
// (Router.selectProvider's first-match-wins rule list), generalized from
// provider selection to step/tool dispatch.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nexus-orchestrator/orchestrator/internal/graph"
	"github.com/nexus-orchestrator/orchestrator/internal/observability"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// Precheck is the tier-0 regex-pattern matcher. It loads CommandPatterns
// from every registered tool server once at startup (and on Refresh), then
// matches the turn's last user message against all of them (§4.4). It can
// additionally load patterns from a directory of JSON files and hot-reload
// them on change, grounded on the teacher's skills.Manager file-watch loop.
type Precheck struct {
	servers []ports.ToolServer
	minConf float64
	logger  *observability.Logger

	mu       sync.RWMutex
	patterns []compiledPattern

	patternsDir   string
	watchMu       sync.Mutex
	watcher       *fsnotify.Watcher
	watchCancel   context.CancelFunc
	watchWg       sync.WaitGroup
	watchDebounce time.Duration
}

type compiledPattern struct {
	source models.CommandPattern
	re     *regexp.Regexp
}

// NewPrecheck builds a Precheck over the given tool servers.
func NewPrecheck(servers []ports.ToolServer, minConfidence float64) *Precheck {
	if minConfidence <= 0 {
		minConfidence = 0.8
	}
	return &Precheck{servers: servers, minConf: minConfidence, watchDebounce: 250 * time.Millisecond}
}

// SetLogger attaches a logger used for watch-loop warnings. Safe to call
// before or after StartWatching.
func (p *Precheck) SetLogger(logger *observability.Logger) {
	p.watchMu.Lock()
	p.logger = logger
	p.watchMu.Unlock()
}

// SetPatternsDir configures a directory of *.json pattern files (each a JSON
// array of models.CommandPattern) to load alongside tool-server patterns.
// Must be called before Refresh/StartWatching to take effect.
func (p *Precheck) SetPatternsDir(dir string) {
	p.watchMu.Lock()
	p.patternsDir = dir
	p.watchMu.Unlock()
}

// Refresh reloads CommandPatterns from every tool server and, if configured,
// from the patterns directory, compiling each pattern's regex. A pattern
// that fails to compile is skipped. A patterns-directory read or decode
// failure is logged as a warning and keeps the patterns decoded before it.
// An error from a tool server's Patterns call aborts the refresh and leaves
// the previously loaded patterns in place.
func (p *Precheck) Refresh(ctx context.Context) error {
	var compiled []compiledPattern
	for _, server := range p.servers {
		patterns, err := server.Patterns(ctx)
		if err != nil {
			return fmt.Errorf("router: load patterns from %s: %w", server.Name(), err)
		}
		for _, pat := range patterns {
			pat.Source = server.Name()
			if c, ok := compilePattern(pat); ok {
				compiled = append(compiled, c)
			}
		}
	}

	p.watchMu.Lock()
	dir := p.patternsDir
	logger := p.logger
	p.watchMu.Unlock()
	if dir != "" {
		local, err := loadPatternDir(dir)
		if err != nil {
			if logger != nil {
				logger.Warn(ctx, "router: precheck pattern directory load failed", "error", err, "dir", dir)
			}
		}
		for _, pat := range local {
			if pat.Source == "" {
				pat.Source = "patterns-dir"
			}
			if c, ok := compilePattern(pat); ok {
				compiled = append(compiled, c)
			}
		}
	}

	p.mu.Lock()
	p.patterns = compiled
	p.mu.Unlock()
	return nil
}

func compilePattern(pat models.CommandPattern) (compiledPattern, bool) {
	flags := ""
	if strings.Contains(pat.Flags, "i") {
		flags = "(?i)"
	}
	re, err := regexp.Compile(flags + pat.Pattern)
	if err != nil {
		return compiledPattern{}, false
	}
	return compiledPattern{source: pat, re: re}, true
}

// loadPatternDir reads every *.json file directly under dir, each expected
// to contain a JSON array of models.CommandPattern.
func loadPatternDir(dir string) ([]models.CommandPattern, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("router: read patterns dir: %w", err)
	}

	var all []models.CommandPattern
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return all, fmt.Errorf("router: read pattern file %s: %w", entry.Name(), err)
		}
		var patterns []models.CommandPattern
		if err := json.Unmarshal(data, &patterns); err != nil {
			return all, fmt.Errorf("router: decode pattern file %s: %w", entry.Name(), err)
		}
		all = append(all, patterns...)
	}
	return all, nil
}

// StartWatching watches the configured patterns directory for changes and
// calls Refresh (debounced) on create/write/remove/rename events. It is a
// no-op if no patterns directory is configured. Call Close to stop.
func (p *Precheck) StartWatching(ctx context.Context) error {
	p.watchMu.Lock()
	dir := p.patternsDir
	if dir == "" || p.watcher != nil {
		p.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.watchMu.Unlock()
		return fmt.Errorf("router: create pattern watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		p.watchMu.Unlock()
		return fmt.Errorf("router: watch patterns dir %s: %w", dir, err)
	}
	p.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	p.watchCancel = cancel
	debounce := p.watchDebounce
	logger := p.logger
	p.watchMu.Unlock()

	p.watchWg.Add(1)
	go p.watchLoop(watchCtx, watcher, debounce, logger)
	return nil
}

// Close stops the pattern-directory watcher, if running.
func (p *Precheck) Close() error {
	p.watchMu.Lock()
	if p.watchCancel != nil {
		p.watchCancel()
		p.watchCancel = nil
	}
	watcher := p.watcher
	p.watcher = nil
	p.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	p.watchWg.Wait()
	return nil
}

func (p *Precheck) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration, logger *observability.Logger) {
	defer p.watchWg.Done()
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleRefresh := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := p.Refresh(context.Background()); err != nil && logger != nil {
				logger.Warn(context.Background(), "router: precheck refresh failed during watch", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleRefresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if logger != nil {
				logger.Warn(ctx, "router: precheck pattern watch error", "error", err)
			}
		}
	}
}

// Match evaluates text against every loaded pattern, returning the
// highest-confidence match at or above the configured minimum confidence.
// ok is false when no pattern qualifies.
func (p *Precheck) Match(text string) (matched models.CommandPattern, params map[string]string, ok bool) {
	p.mu.RLock()
	patterns := p.patterns
	p.mu.RUnlock()

	var best *compiledPattern
	var bestGroups []string
	for i := range patterns {
		pat := &patterns[i]
		if pat.source.Confidence < p.minConf {
			continue
		}
		groups := pat.re.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		if best == nil || pat.source.Confidence > best.source.Confidence {
			best = pat
			bestGroups = groups
		}
	}
	if best == nil {
		return models.CommandPattern{}, nil, false
	}

	params = make(map[string]string, len(best.source.ParameterMapping))
	for name, idx := range best.source.ParameterMapping {
		if idx >= 0 && idx < len(bestGroups) {
			params[name] = bestGroups[idx]
		}
	}
	return best.source, params, true
}

// Node builds the precheck graph node: on a qualifying match it sets
// precheckDecision=fastpath and populates the FastpathTicket; otherwise it
// sets precheckDecision=classifier so the graph falls through to tier 1.
func (p *Precheck) Node() graph.Node {
	return func(_ context.Context, state *graph.State) (*graph.Partial, error) {
		text := lastUserMessage(state)
		pattern, params, ok := p.Match(text)
		if !ok {
			decision := "classifier"
			return &graph.Partial{PrecheckDecision: &decision}, nil
		}

		decision := "fastpath"
		ticket := graph.FastpathTicket{Tool: pattern.Tool, Server: pattern.Source, Parameters: params}
		return &graph.Partial{PrecheckDecision: &decision, Fastpath: &ticket}, nil
	}
}

func lastUserMessage(state *graph.State) string {
	messages := state.Messages.Value
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return state.Query.Value.Text
}

// sortByConfidenceDesc sorts patterns by descending confidence. Nothing in
// the package calls it; Match selects the highest-confidence match itself.
func sortByConfidenceDesc(patterns []models.CommandPattern) {
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Confidence > patterns[j].Confidence })
}
