// Package qa answers questions over the ingested corpus: retrieve, assemble
// a bounded context, and generate.
package qa

import (
	"strings"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

const chunkSeparator = "\n\n"

// assembleContext packs retrieved chunks into a rune budget. Chunks are
// taken greedily in ranked order; a chunk either fits whole or is skipped.
// Chunks of the same document whose source offsets overlap are deduplicated,
// keeping the higher-ranked one.
func assembleContext(hits []domain.ScoredChunk, budget int) (string, []domain.ScoredChunk) {
	if budget <= 0 || len(hits) == 0 {
		return "", nil
	}

	var b strings.Builder
	included := make([]domain.ScoredChunk, 0, len(hits))
	used := 0

	for _, hit := range hits {
		if overlapsIncluded(hit, included) {
			continue
		}

		need := len([]rune(hit.Chunk.Text))
		if len(included) > 0 {
			need += len(chunkSeparator)
		}
		if used+need > budget {
			continue
		}

		if len(included) > 0 {
			b.WriteString(chunkSeparator)
		}
		b.WriteString(hit.Chunk.Text)
		used += need
		included = append(included, hit)
	}

	return b.String(), included
}

func overlapsIncluded(hit domain.ScoredChunk, included []domain.ScoredChunk) bool {
	for _, in := range included {
		if in.Chunk.DocumentID == hit.Chunk.DocumentID && in.Chunk.Overlaps(hit.Chunk) {
			return true
		}
	}
	return false
}
