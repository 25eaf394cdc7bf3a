// Package ports defines the capability interfaces the core consumes:
// LLM, KV, document, vector, and tool-server ports. These are pure
// contracts with no policy — implementations are external collaborators
// (§1, §2.1, §9 "capability bundle" redesign note).
package ports

import (
	"context"
	"encoding/json"

	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// LanguageModel is the abstraction over an LLM backend.
type LanguageModel interface {
	// Invoke performs a single non-streaming completion.
	Invoke(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream performs a streaming completion, sending tokens on the returned
	// channel followed by exactly one terminal chunk carrying usage metadata.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// InvokeStructured performs a completion constrained to return JSON
	// matching schema, used by the classifier and planner tiers.
	InvokeStructured(ctx context.Context, req CompletionRequest, schema json.RawMessage) (json.RawMessage, error)
}

// CompletionMessage is one turn in an LLM completion request.
type CompletionMessage struct {
	Role    string
	Content string
}

// CompletionRequest is the input to a LanguageModel call.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	MaxTokens int
}

// CompletionResponse is a non-streaming completion result.
type CompletionResponse struct {
	Text  string
	Usage UsageMetadata
}

// StreamChunk is one element of a streaming completion.
type StreamChunk struct {
	Text  string
	Usage *UsageMetadata // set only on the final chunk
	Error error
}

// UsageMetadata reports token accounting for a completion (§6.1).
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// KVStore is the ephemeral key/value + pub/sub + heartbeat collaborator
// (§1, §6.5).
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Publish/Subscribe back the per-message event topic (§6.3).
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error)
}

// DocStore is the persistent message collaborator with a unique sparse index
// on messageId (§1, §6.5).
type DocStore interface {
	InsertMessage(ctx context.Context, msg models.Message) (string, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// VectorStore is the embedding-indexed chunk collaborator, one collection per
// logical namespace, cosine metric (§1, §6.5).
type VectorStore interface {
	AddChunks(ctx context.Context, collection string, chunks []models.Chunk) error
	Search(ctx context.Context, collection string, embedding []float32, topK int) ([]models.Chunk, error)
	DeleteChunks(ctx context.Context, collection string, chunkIDs []string) error
	ListCollections(ctx context.Context) ([]string, error)
	CollectionStats(ctx context.Context, collection string) (CollectionStats, error)
}

// CollectionStats summarizes a vector collection.
type CollectionStats struct {
	ChunkCount int
}

// Embedder turns text into a vector, used by the vector retrieval component.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TokenCounter counts tokens for context-budget enforcement (§4.1).
type TokenCounter interface {
	Count(text string) int
}
