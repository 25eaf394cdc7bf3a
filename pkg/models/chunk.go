package models

import "time"

// Chunk is a text fragment stored in a vector collection, grounded on the
// teacher's internal/rag/chunker document-chunk shape.
type Chunk struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Embedding   []float32      `json:"embedding,omitempty"`
	Score       float32        `json:"score,omitempty"`
	Metadata    ChunkMetadata  `json:"metadata"`
}

// ChunkMetadata carries the positional information the chunk-merge algorithm
// (§4.5) needs: which source document a chunk came from and its position
// within that document.
type ChunkMetadata struct {
	Source      string         `json:"source"`
	ChunkIndex  int            `json:"chunkIndex"`
	TotalChunks int            `json:"totalChunks"`
	CreatedAt   time.Time      `json:"createdAt"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// MergedChunk is the result of folding a group of same-source chunks via the
// overlap-aware merge algorithm.
type MergedChunk struct {
	Source       string  `json:"source"`
	Text         string  `json:"text"`
	AvgScore     float32 `json:"avgScore"`
	MergedChunks int     `json:"mergedChunks"`
}
