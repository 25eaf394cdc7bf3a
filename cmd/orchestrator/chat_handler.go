package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nexus-orchestrator/orchestrator/internal/observability"
	"github.com/nexus-orchestrator/orchestrator/internal/orchestrator"
)

// chatRequest is the OpenAI-compatible chat-completions request body (§6.1,
// §6.4). Only the fields the router actually consumes are decoded; the rest
// of the OpenAI surface (n, temperature, tool choice, ...) is out of scope.
type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Stream         bool   `json:"stream"`
	ConversationID string `json:"conversation_id"`
	GenerationID   string `json:"generation_id"`
	Application    string `json:"application"`
	Device         string `json:"device"`
}

// chatResponse is the non-streaming reply shape.
type chatResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Usage          struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// lastUserContent picks the final user-role message as the turn's query
// text, matching the teacher's convention of treating the latest message as
// the active prompt and everything before it as already-persisted history.
func lastUserContent(req chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "user") {
			return req.Messages[i].Content
		}
	}
	return ""
}

// conversationIDFromRequest prefers the explicit field, then the
// X-Conversation-Id header, and otherwise derives one from the request's
// first user message via orchestrator.DeriveConversationID (§6.1).
func conversationIDFromRequest(r *http.Request, req chatRequest) string {
	if strings.TrimSpace(req.ConversationID) != "" {
		return req.ConversationID
	}
	if header := r.Header.Get("X-Conversation-Id"); strings.TrimSpace(header) != "" {
		return header
	}
	for _, m := range req.Messages {
		if strings.EqualFold(m.Role, "user") && strings.TrimSpace(m.Content) != "" {
			return orchestrator.DeriveConversationID(strings.TrimSpace(m.Content))
		}
	}
	return ""
}

// newChatHandler serves POST /chat/completions, branching between a single
// JSON response and an SSE token stream depending on the request's stream
// field, grounded on the teacher's chat-completions handler: decode once,
// hand the query to the one entrypoint, emit deltas as "data: {...}\n\n"
// frames with a final frame carrying the full text (§6.1, §6.4).
func newChatHandler(orc *orchestrator.Orchestrator, logger *observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req chatRequest
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		queryText := strings.TrimSpace(lastUserContent(req))
		if queryText == "" {
			http.Error(w, "messages must contain at least one user message", http.StatusBadRequest)
			return
		}

		opts := orchestrator.Options{
			ConversationID: conversationIDFromRequest(r, req),
			GenerationID:   req.GenerationID,
			Stream:         req.Stream,
			Source:         orchestrator.Source{Application: req.Application, Device: req.Device},
		}

		if req.Stream {
			serveStream(w, r, orc, queryText, opts, logger)
			return
		}
		serveComplete(w, r, orc, queryText, opts, logger)
	}
}

func serveComplete(w http.ResponseWriter, r *http.Request, orc *orchestrator.Orchestrator, queryText string, opts orchestrator.Options, logger *observability.Logger) {
	result, err := orc.Respond(r.Context(), queryText, opts, nil)
	if err != nil {
		logger.Error(r.Context(), "chat completion failed", "error", err, "conversationId", opts.ConversationID)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := chatResponse{
		ID:             result.Message.ID,
		ConversationID: result.Message.ConversationID,
		Role:           string(result.Message.Role),
		Content:        result.Message.Content,
	}
	resp.Usage.InputTokens = result.Usage.InputTokens
	resp.Usage.OutputTokens = result.Usage.OutputTokens
	resp.Usage.TotalTokens = result.Usage.TotalTokens

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func serveStream(w http.ResponseWriter, r *http.Request, orc *orchestrator.Orchestrator, queryText string, opts orchestrator.Options, logger *observability.Logger) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var mu sync.Mutex
	writeSSE := func(payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "data: %s\n\n", b)
		fl.Flush()
	}

	onToken := func(token string) {
		writeSSE(map[string]string{"type": "delta", "content": token})
	}

	result, err := orc.Respond(r.Context(), queryText, opts, onToken)
	if err != nil {
		logger.Error(r.Context(), "chat completion stream failed", "error", err, "conversationId", opts.ConversationID)
		writeSSE(map[string]string{"type": "error", "error": err.Error()})
		return
	}

	writeSSE(map[string]any{
		"type":            "final",
		"id":              result.Message.ID,
		"conversation_id": result.Message.ConversationID,
		"content":         result.Message.Content,
		"usage": map[string]int{
			"input_tokens":  result.Usage.InputTokens,
			"output_tokens": result.Usage.OutputTokens,
			"total_tokens":  result.Usage.TotalTokens,
		},
	})
}
