package similarity

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashingEmbedder returns a deterministic feature-hashing embedder over
// lowercase word bigrams. It stands in for an external embedding model in
// development and tests; production deployments inject a real model client.
func HashingEmbedder(dim int) Embedder {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		words := strings.Fields(strings.ToLower(text))
		for i := range words {
			feature := words[i]
			if i+1 < len(words) {
				feature += " " + words[i+1]
			}
			h := fnv.New32a()
			h.Write([]byte(feature))
			vec[h.Sum32()%uint32(dim)]++
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for i := range vec {
				vec[i] *= scale
			}
		}
		return vec, nil
	}
}
