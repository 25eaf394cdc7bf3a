// Package websearch implements the web_search and scrape_url tools (§4.6,
// §6.2). Grounded on the teacher's internal/tools/websearch package
// (WebSearchTool/WebFetchTool, DuckDuckGo Instant Answer backend, the
// readability-style ContentExtractor), adapted to route all outbound
// requests through internal/security's SSRF validation instead of the
// teacher's local validateURLForSSRF, and trimmed to the single
// DuckDuckGo backend the spec names rather than the teacher's
// SearXNG/Brave/DuckDuckGo trio.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nexus-orchestrator/orchestrator/internal/observability"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/security"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

const (
	toolSearch = "web_search"
	toolFetch  = "scrape_url"
)

const searchInputSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The search query."},
    "count": {"type": "integer", "description": "Number of results to return (default 5, max 20).", "minimum": 1, "maximum": 20}
  },
  "required": ["query"]
}`

const fetchInputSchema = `{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "URL to fetch (http/https only)."}
  },
  "required": ["url"]
}`

// Config controls default result counts, cache lifetime, and per-request
// timeouts for the web tools.
type Config struct {
	DefaultResultCount int
	CacheTTL           time.Duration
	SearchTimeout      time.Duration
	FetchTimeout       time.Duration
	MaxFetchChars      int
}

func (c *Config) applyDefaults() {
	if c.DefaultResultCount <= 0 {
		c.DefaultResultCount = 5
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 8 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 12 * time.Second
	}
	if c.MaxFetchChars <= 0 {
		c.MaxFetchChars = 10000
	}
}

// Server implements ports.ToolServer for web_search and scrape_url.
type Server struct {
	config     Config
	httpClient *http.Client
	validator  *security.Validator

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	response  SearchResponse
	expiresAt time.Time
}

// NewServer builds a web tool Server with defaults applied. logger, if
// non-nil, receives a warning log for every SSRF-blocked fetch attempt,
// attributed to the conversation/generation that issued it.
func NewServer(cfg Config, logger *observability.Logger) *Server {
	cfg.applyDefaults()
	return &Server{
		config:     cfg,
		httpClient: &http.Client{},
		validator:  security.NewValidator(logger),
		cache:      map[string]cacheEntry{},
	}
}

func (s *Server) Name() string { return "websearch" }

func (s *Server) Descriptors(context.Context) ([]models.ToolDescriptor, error) {
	return []models.ToolDescriptor{
		{Name: toolSearch, Description: "Search the web for information.", InputSchema: json.RawMessage(searchInputSchema)},
		{Name: toolFetch, Description: "Fetch a URL and extract its readable content.", InputSchema: json.RawMessage(fetchInputSchema)},
	}, nil
}

func (s *Server) Patterns(context.Context) ([]models.CommandPattern, error) { return nil, nil }

func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage, ictx ports.ToolInvocationContext) (models.ToolResult, error) {
	switch name {
	case toolSearch:
		return s.callSearch(ctx, args)
	case toolFetch:
		return s.callFetch(ctx, ictx, args)
	default:
		return models.ToolResult{}, fmt.Errorf("websearch: unknown tool %q", name)
	}
}

// SearchResult is a single web_search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResponse is the JSON payload returned as the web_search tool result.
type SearchResponse struct {
	Query       string         `json:"query"`
	Results     []SearchResult `json:"results"`
	ResultCount int            `json:"resultCount"`
}

type searchArgs struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

func (s *Server) callSearch(ctx context.Context, raw json.RawMessage) (models.ToolResult, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return errorResult("query is required"), nil
	}
	if args.Count <= 0 {
		args.Count = s.config.DefaultResultCount
	}
	if args.Count > 20 {
		args.Count = 20
	}

	cacheKey := fmt.Sprintf("%s:%d", args.Query, args.Count)
	if cached, ok := s.fromCache(cacheKey); ok {
		return successResult(cached)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.SearchTimeout)
	defer cancel()

	response, err := s.searchDuckDuckGo(runCtx, args.Query, args.Count)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	s.putCache(cacheKey, *response)
	return successResult(*response)
}

func (s *Server) fromCache(key string) (SearchResponse, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return SearchResponse{}, false
	}
	return entry.response, true
}

func (s *Server) putCache(key string, response SearchResponse) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	now := time.Now()
	for k, v := range s.cache {
		if now.After(v.expiresAt) {
			delete(s.cache, k)
		}
	}
	s.cache[key] = cacheEntry{response: response, expiresAt: now.Add(s.config.CacheTTL)}
}

// searchDuckDuckGo queries DuckDuckGo's Instant Answer API. It has no API
// key requirement, matching the teacher's no-backend-configured fallback
// path.
func (s *Server) searchDuckDuckGo(ctx context.Context, query string, count int) (*SearchResponse, error) {
	instantURL := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instantURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OrchestratorBot/1.0)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var ddg struct {
		AbstractText string `json:"AbstractText"`
		AbstractURL  string `json:"AbstractURL"`
		Heading      string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := make([]SearchResult, 0, count)
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		results = append(results, SearchResult{Title: ddg.Heading, URL: ddg.AbstractURL, Snippet: ddg.AbstractText})
	}
	for i := 0; i < len(ddg.RelatedTopics) && len(results) < count; i++ {
		topic := ddg.RelatedTopics[i]
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, SearchResult{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}

	return &SearchResponse{Query: query, Results: results, ResultCount: len(results)}, nil
}

type fetchArgs struct {
	URL string `json:"url"`
}

func (s *Server) callFetch(ctx context.Context, ictx ports.ToolInvocationContext, raw json.RawMessage) (models.ToolResult, error) {
	var args fetchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	args.URL = strings.TrimSpace(args.URL)
	if args.URL == "" {
		return errorResult("url is required"), nil
	}
	if err := s.validator.ValidateFetchURL(ctx, ictx, args.URL); err != nil {
		return errorResult(fmt.Sprintf("url rejected: %v", err)), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	content, err := s.fetchAndExtract(runCtx, args.URL)
	if err != nil {
		return errorResult(fmt.Sprintf("fetch failed: %v", err)), nil
	}

	truncated := false
	if len(content) > s.config.MaxFetchChars {
		content = content[:s.config.MaxFetchChars] + "..."
		truncated = true
	}

	payload, err := json.MarshalIndent(map[string]any{
		"url":       args.URL,
		"content":   content,
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("format response: %v", err)), nil
	}

	return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: string(payload)}}}, nil
}

func (s *Server) fetchAndExtract(ctx context.Context, targetURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OrchestratorBot/1.0)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return extractReadableText(string(body)), nil
}

func errorResult(message string) models.ToolResult {
	return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: message}}, IsError: true}
}

func successResult(response SearchResponse) (models.ToolResult, error) {
	payload, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("format response: %v", err)), nil
	}
	return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: string(payload)}}}, nil
}
