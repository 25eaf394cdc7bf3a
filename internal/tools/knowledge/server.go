// Package knowledge exposes the RAG retrieval service (internal/vector) as a
// ToolServer, registered in the tool registry the same way as web search and
// shell execution (§4.5, §6.2). The graph's search node calls only
// web_search, and this server advertises no precheck patterns. Grounded on the shape of internal/tools/websearch.Server:
// a thin ToolServer adapting an already-built service, JSON-schema argument
// structs decoded per call, no state of its own beyond the wrapped service.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/internal/vector"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

const (
	toolSearch = "search_knowledge_base"
	toolAdd    = "add_document"
)

const searchInputSchema = `{
  "type": "object",
  "properties": {
    "collection": {"type": "string", "description": "Collection to search."},
    "query": {"type": "string", "description": "Natural-language query."},
    "topK": {"type": "integer", "description": "Maximum chunks to return.", "minimum": 1, "maximum": 50}
  },
  "required": ["collection", "query"]
}`

const addInputSchema = `{
  "type": "object",
  "properties": {
    "collection": {"type": "string", "description": "Collection to index into."},
    "source": {"type": "string", "description": "Identifier for the source document."},
    "text": {"type": "string", "description": "Full document text to chunk and embed."}
  },
  "required": ["collection", "source", "text"]
}`

// Server implements ports.ToolServer over a vector.Service.
type Server struct {
	service *vector.Service
}

// NewServer wraps an already-constructed vector.Service.
func NewServer(service *vector.Service) *Server {
	return &Server{service: service}
}

func (s *Server) Name() string { return "knowledge" }

func (s *Server) Descriptors(context.Context) ([]models.ToolDescriptor, error) {
	return []models.ToolDescriptor{
		{Name: toolSearch, Description: "Search an indexed document collection for relevant passages.", InputSchema: json.RawMessage(searchInputSchema)},
		{Name: toolAdd, Description: "Chunk, embed, and index a document into a collection.", InputSchema: json.RawMessage(addInputSchema)},
	}, nil
}

// Patterns carries no fast-path command patterns: retrieval always goes
// through the planner's search step rather than tier-0 precheck.
func (s *Server) Patterns(context.Context) ([]models.CommandPattern, error) {
	return nil, nil
}

type searchArgs struct {
	Collection string `json:"collection"`
	Query      string `json:"query"`
	TopK       int    `json:"topK"`
}

type addArgs struct {
	Collection string `json:"collection"`
	Source     string `json:"source"`
	Text       string `json:"text"`
}

func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage, _ ports.ToolInvocationContext) (models.ToolResult, error) {
	switch name {
	case toolSearch:
		return s.callSearch(ctx, args)
	case toolAdd:
		return s.callAdd(ctx, args)
	default:
		return models.ToolResult{}, fmt.Errorf("knowledge: unknown tool %q", name)
	}
}

func (s *Server) callSearch(ctx context.Context, raw json.RawMessage) (models.ToolResult, error) {
	var a searchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return models.ToolResult{}, fmt.Errorf("knowledge: decode search args: %w", err)
	}
	resp, err := s.service.Search(ctx, vector.SearchRequest{Collection: a.Collection, Query: a.Query, TopK: a.TopK, Merge: true})
	if err != nil {
		return models.ToolResult{IsError: true, Content: []models.ToolContent{{Type: "text", Text: err.Error()}}}, nil
	}
	if len(resp.Merged) == 0 {
		return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: "no matching passages found"}}}, nil
	}

	var b strings.Builder
	for i, m := range resp.Merged {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s, score %.3f]\n%s", m.Source, m.AvgScore, m.Text)
	}
	return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: b.String()}}}, nil
}

func (s *Server) callAdd(ctx context.Context, raw json.RawMessage) (models.ToolResult, error) {
	var a addArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return models.ToolResult{}, fmt.Errorf("knowledge: decode add args: %w", err)
	}
	ids, err := s.service.AddDocument(ctx, a.Collection, a.Source, a.Text)
	if err != nil {
		return models.ToolResult{IsError: true, Content: []models.ToolContent{{Type: "text", Text: err.Error()}}}, nil
	}
	return models.ToolResult{Content: []models.ToolContent{{Type: "text", Text: fmt.Sprintf("indexed %d chunks", len(ids))}}}, nil
}
