package llm

import (
	"math"

	"github.com/pgvector/pgvector-go"
)

// FallbackEmbedding builds a deterministic pseudo-embedding: a multiplicative
// hash seeded from the text's characters, expanded to dims values through a
// fixed linear congruential recurrence, mapped to [-1, 1], then L2-normalized.
// The same text always yields a bit-identical vector, so retrieval degrades
// gracefully instead of becoming nondeterministic when the embedding provider
// is down.
func FallbackEmbedding(text string, dims int) pgvector.Vector {
	const mask = 0x7fffffff

	var hash int64
	for _, r := range text {
		hash = (hash*31 + int64(r)) & mask
	}

	values := make([]float32, dims)
	var sumSquares float64
	for i := range values {
		hash = (hash*1103515245 + 12345) & mask
		v := float64(hash)/float64(mask)*2 - 1
		values[i] = float32(v)
		sumSquares += v * v
	}

	mag := math.Sqrt(sumSquares)
	if mag > 0 {
		for i := range values {
			values[i] = float32(float64(values[i]) / mag)
		}
	}
	return pgvector.NewVector(values)
}
