// Package qdrant implements ports.VectorStore over Qdrant, grounded on
// intelligencedev-manifold's internal/persistence/databases/qdrant_vector.go:
// lazy per-collection creation sized from the first embedding seen, points
// addressed by UUID, payload carrying chunk text/metadata as a value map, and
// cosine-distance nearest-neighbor search via the Query API.
package qdrant

import (
	"context"
	"fmt"
	"time"

	qdrantgo "github.com/qdrant/go-client/qdrant"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// Config holds Qdrant connection settings (§10.2).
type Config struct {
	Host   string
	Port   int
	UseTLS bool
	APIKey string
}

// Store implements ports.VectorStore over a single Qdrant client, one
// collection per logical namespace (§1, §6.5).
type Store struct {
	client *qdrantgo.Client
}

// New dials Qdrant.
func New(cfg Config) (*Store, error) {
	client, err := qdrantgo.NewClient(&qdrantgo.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: new client: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the client's connection.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ ports.VectorStore = (*Store)(nil)

func (s *Store) ensureCollection(ctx context.Context, collection string, vectorSize uint64) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("qdrant: collection exists %q: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrantgo.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrantgo.NewVectorsConfig(&qdrantgo.VectorParams{
			Size:     vectorSize,
			Distance: qdrantgo.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %q: %w", collection, err)
	}
	return nil
}

// AddChunks upserts chunks into collection, creating the collection sized
// from the first chunk's embedding if it does not yet exist.
func (s *Store) AddChunks(ctx context.Context, collection string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection, uint64(len(chunks[0].Embedding))); err != nil {
		return err
	}

	points := make([]*qdrantgo.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrantgo.PointStruct{
			Id:      qdrantgo.NewIDUUID(c.ID),
			Vectors: qdrantgo.NewVectorsDense(c.Embedding),
			Payload: qdrantgo.NewValueMap(map[string]any{
				"text":        c.Text,
				"source":      c.Metadata.Source,
				"chunkIndex":  c.Metadata.ChunkIndex,
				"totalChunks": c.Metadata.TotalChunks,
				"createdAt":   c.Metadata.CreatedAt.Format(time.RFC3339),
				"custom":      c.Metadata.Custom,
			}),
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrantgo.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant: upsert into %q: %w", collection, err)
	}
	return nil
}

// Search returns the topK nearest chunks to embedding within collection.
func (s *Store) Search(ctx context.Context, collection string, embedding []float32, topK int) ([]models.Chunk, error) {
	limit := uint64(topK)
	hits, err := s.client.Query(ctx, &qdrantgo.QueryPoints{
		CollectionName: collection,
		Query:          qdrantgo.NewQueryDense(embedding),
		Limit:          &limit,
		WithPayload:    qdrantgo.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %q: %w", collection, err)
	}

	chunks := make([]models.Chunk, 0, len(hits))
	for _, hit := range hits {
		createdAt, _ := time.Parse(time.RFC3339, hit.Payload["createdAt"].GetStringValue())
		chunks = append(chunks, models.Chunk{
			ID:    hit.Id.GetUuid(),
			Text:  hit.Payload["text"].GetStringValue(),
			Score: hit.Score,
			Metadata: models.ChunkMetadata{
				Source:      hit.Payload["source"].GetStringValue(),
				ChunkIndex:  int(hit.Payload["chunkIndex"].GetIntegerValue()),
				TotalChunks: int(hit.Payload["totalChunks"].GetIntegerValue()),
				CreatedAt:   createdAt,
			},
		})
	}
	return chunks, nil
}

// DeleteChunks removes the given chunk ids from collection.
func (s *Store) DeleteChunks(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*qdrantgo.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, qdrantgo.NewIDUUID(id))
	}
	if _, err := s.client.Delete(ctx, &qdrantgo.DeletePoints{
		CollectionName: collection,
		Points:         qdrantgo.NewPointsSelector(ids),
	}); err != nil {
		return fmt.Errorf("qdrant: delete from %q: %w", collection, err)
	}
	return nil
}

// ListCollections returns every collection name known to the cluster.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections: %w", err)
	}
	return names, nil
}

// CollectionStats reports the point count for collection.
func (s *Store) CollectionStats(ctx context.Context, collection string) (ports.CollectionStats, error) {
	count, err := s.client.Count(ctx, &qdrantgo.CountPoints{CollectionName: collection})
	if err != nil {
		return ports.CollectionStats{}, fmt.Errorf("qdrant: count %q: %w", collection, err)
	}
	return ports.CollectionStats{ChunkCount: int(count)}, nil
}
