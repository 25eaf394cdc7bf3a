// Package vector implements document chunking, embedding-backed indexing
// and search, and the overlap-aware chunk-merge retrieval algorithm (§4.5).
// Grounded on the teacher's internal/rag/chunker (RecursiveCharacterTextSplitter)
// and internal/rag/search, adapted to the orchestrator's ports.VectorStore/
// ports.Embedder contracts and models.Chunk shape.
package vector

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// defaultSeparators mirrors the teacher's separator hierarchy: largest
// semantic units first, falling back to individual characters.
var defaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ": ", ", ", " ", ""}

// ChunkConfig controls the recursive splitter.
type ChunkConfig struct {
	// ChunkSize is the target chunk size in characters.
	ChunkSize int
	// ChunkOverlap is the number of characters repeated at the start of
	// each chunk after the first, taken from the tail of the previous
	// chunk.
	ChunkOverlap int
	// MinChunkSize discards trailing fragments smaller than this.
	MinChunkSize int
}

func (c *ChunkConfig) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 2000
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 200
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = 50
	}
}

// splitPiece is an intermediate chunk before overlap and metadata are
// applied.
type splitPiece struct {
	text string
}

// ChunkDocument splits text into overlapping chunks and stamps each with
// source/positional metadata ready for embedding and indexing.
func ChunkDocument(source, text string, cfg ChunkConfig) []models.Chunk {
	cfg.applyDefaults()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := splitText(text, defaultSeparators, cfg)
	withOverlap := applyOverlap(pieces, cfg.ChunkOverlap)

	now := time.Now()
	chunks := make([]models.Chunk, 0, len(withOverlap))
	for i, piece := range withOverlap {
		chunks = append(chunks, models.Chunk{
			ID:   chunkID(source, i, now),
			Text: piece.text,
			Metadata: models.ChunkMetadata{
				Source:      source,
				ChunkIndex:  i,
				TotalChunks: len(withOverlap),
				CreatedAt:   now,
			},
		})
	}
	return chunks
}

func chunkID(source string, index int, now time.Time) string {
	return source + "_chunk_" + itoa(index) + "_" + itoa(int(now.UnixMilli()))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// splitText recursively splits text on the separator hierarchy, merging
// pieces up to cfg.ChunkSize and dropping fragments below cfg.MinChunkSize.
func splitText(text string, separators []string, cfg ChunkConfig) []splitPiece {
	if len(text) == 0 {
		return nil
	}

	separator := ""
	for _, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			break
		}
	}

	var splits []string
	if separator == "" {
		splits = make([]string, 0, len(text))
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		splits = strings.Split(text, separator)
	}

	var result []splitPiece
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		content := strings.TrimSpace(current.String())
		if len(content) >= cfg.MinChunkSize {
			result = append(result, splitPiece{text: content})
		}
		current.Reset()
	}

	for i, split := range splits {
		piece := split
		if separator != "" && i < len(splits)-1 {
			piece = split + separator
		}

		if current.Len() > 0 && current.Len()+len(piece) > cfg.ChunkSize {
			flush()
		}

		if len(piece) > cfg.ChunkSize && len(separators) > 1 {
			flush()
			result = append(result, splitText(piece, separators[1:], cfg)...)
			continue
		}

		current.WriteString(piece)
	}
	flush()

	return result
}

// applyOverlap prefixes each chunk (after the first) with the tail of the
// previous chunk, matching the teacher's mergeChunksWithOverlap.
func applyOverlap(pieces []splitPiece, overlap int) []splitPiece {
	if len(pieces) <= 1 || overlap <= 0 {
		return pieces
	}

	result := make([]splitPiece, len(pieces))
	result[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		prev := pieces[i-1].text
		o := overlap
		if o > len(prev) {
			o = len(prev)
		}
		result[i] = splitPiece{text: prev[len(prev)-o:] + pieces[i].text}
	}
	return result
}

// NewChunkID allocates a fresh random (UUID) chunk id. ChunkDocument does not
// use it: its chunks get source-derived ids from chunkID.
func NewChunkID() string {
	return uuid.New().String()
}
