package vector

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// embedConcurrency bounds how many chunks of a single document are embedded
// at once, the same fan-out-with-a-cap shape as fetch_tool.go's bulk fetch.
const embedConcurrency = 8

// Config controls the vector retrieval service's defaults, grounded on the
// teacher's index.Config (chunk size/overlap) plus a default topK (§4.5,
// §6.5). The score threshold and the merge switch are per-request
// SearchRequest fields.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 2000
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 200
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
}

// Service coordinates chunking, embedding, storage, and overlap-aware
// retrieval over a ports.VectorStore collection (§6.5).
type Service struct {
	store    ports.VectorStore
	embedder ports.Embedder
	config   Config
}

// NewService builds a vector Service with defaults applied.
func NewService(store ports.VectorStore, embedder ports.Embedder, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{store: store, embedder: embedder, config: cfg}
}

// AddDocument chunks text, embeds each chunk, and indexes the result into
// collection, returning the stored chunk ids.
func (s *Service) AddDocument(ctx context.Context, collection, source, text string) ([]string, error) {
	chunks := ChunkDocument(source, text, ChunkConfig{ChunkSize: s.config.ChunkSize, ChunkOverlap: s.config.ChunkOverlap})
	if len(chunks) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			embedding, err := s.embedder.Embed(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("vector: embed chunk %d of %s: %w", i, source, err)
			}
			chunks[i].Embedding = embedding
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.store.AddChunks(ctx, collection, chunks); err != nil {
		return nil, fmt.Errorf("vector: add chunks for %s: %w", source, err)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids, nil
}

// SearchRequest parameterizes a vector search (§6.5, §9.3 in spec's example
// walkthroughs).
type SearchRequest struct {
	Collection string
	Query      string
	TopK       int
	Threshold  float32
	Merge      bool
}

// SearchResponse is the result of a vector search: either raw chunks (when
// Merge is false) or merged groups (§4.5).
type SearchResponse struct {
	Chunks []models.Chunk
	Merged []models.MergedChunk
}

// Search embeds the query, retrieves the topK nearest chunks above
// threshold, and optionally folds same-source chunks via MergeChunks.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = s.config.TopK
	}

	embedding, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("vector: embed query: %w", err)
	}

	hits, err := s.store.Search(ctx, req.Collection, embedding, topK)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("vector: search collection %s: %w", req.Collection, err)
	}

	filtered := hits
	if req.Threshold > 0 {
		filtered = make([]models.Chunk, 0, len(hits))
		for _, h := range hits {
			if h.Score >= req.Threshold {
				filtered = append(filtered, h)
			}
		}
	}

	if !req.Merge {
		return SearchResponse{Chunks: filtered}, nil
	}
	return SearchResponse{Merged: MergeChunks(filtered)}, nil
}

// DeleteDocuments removes the given chunk ids from a collection.
func (s *Service) DeleteDocuments(ctx context.Context, collection string, chunkIDs []string) error {
	return s.store.DeleteChunks(ctx, collection, chunkIDs)
}

// ListCollections returns every known collection name.
func (s *Service) ListCollections(ctx context.Context) ([]string, error) {
	return s.store.ListCollections(ctx)
}

// CollectionStats reports chunk counts for a collection.
func (s *Service) CollectionStats(ctx context.Context, collection string) (ports.CollectionStats, error) {
	return s.store.CollectionStats(ctx, collection)
}
