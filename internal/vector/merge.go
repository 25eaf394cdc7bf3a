package vector

import (
	"sort"

	"github.com/nexus-orchestrator/orchestrator/pkg/models"
)

// minSeamLength and maxSeamFraction bound the overlap-seam search in
// MergeChunks (§4.5): a candidate seam must be at least 50 characters, and
// no more than 80% of the shorter of the two chunks, so that near-identical
// short chunks don't collapse into one another entirely.
const (
	minSeamLength   = 50
	maxSeamFraction = 0.8
)

// MergeChunks groups hits by metadata.source, folds each group into a
// single reconstructed text using the overlap-aware seam search, and
// returns the merged groups sorted by avgScore descending (§4.5).
func MergeChunks(hits []models.Chunk) []models.MergedChunk {
	groups := groupBySource(hits)

	merged := make([]models.MergedChunk, 0, len(groups))
	for source, group := range groups {
		merged = append(merged, mergeGroup(source, group))
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].AvgScore > merged[j].AvgScore
	})
	return merged
}

func groupBySource(hits []models.Chunk) map[string][]models.Chunk {
	groups := map[string][]models.Chunk{}
	for _, h := range hits {
		groups[h.Metadata.Source] = append(groups[h.Metadata.Source], h)
	}
	return groups
}

// mergeGroup sorts a single source's chunks by chunkIndex (falling back to
// score descending) and folds them left-to-right.
func mergeGroup(source string, group []models.Chunk) models.MergedChunk {
	sorted := make([]models.Chunk, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Metadata.ChunkIndex != b.Metadata.ChunkIndex {
			return a.Metadata.ChunkIndex < b.Metadata.ChunkIndex
		}
		return a.Score > b.Score
	})

	var acc string
	var scoreSum float32
	for i, chunk := range sorted {
		scoreSum += chunk.Score
		if i == 0 {
			acc = chunk.Text
			continue
		}
		acc = foldSeam(acc, chunk.Text)
	}

	avg := float32(0)
	if len(sorted) > 0 {
		avg = scoreSum / float32(len(sorted))
	}

	return models.MergedChunk{
		Source:       source,
		Text:         acc,
		AvgScore:     avg,
		MergedChunks: len(sorted),
	}
}

// foldSeam appends b onto acc, searching for the longest overlap L with
// 50 ≤ L ≤ 0.8·min(|acc|,|b|) such that the last L characters of acc equal
// the first L characters of b. If found, only b[L:] is appended (the seam
// is not duplicated); otherwise b is appended after a blank-line separator.
func foldSeam(acc, b string) string {
	maxLen := minInt(len(acc), len(b))
	upper := int(float64(maxLen) * maxSeamFraction)
	if upper < minSeamLength {
		return acc + "\n\n" + b
	}

	for l := upper; l >= minSeamLength; l-- {
		if acc[len(acc)-l:] == b[:l] {
			return acc + b[l:]
		}
	}
	return acc + "\n\n" + b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
