package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns text into a dense vector. The embedding algorithm is
// pluggable; the default is a deterministic local token-hashing embedder
// so retrieval works without an external provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

const defaultEmbedderDims = 256

// hashingEmbedder maps tokens into a fixed number of buckets via FNV-1a
// and L2-normalizes the result. Identical text always yields identical
// vectors.
type hashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates the default local embedder.
func NewHashingEmbedder(dims int) Embedder {
	if dims <= 0 {
		dims = defaultEmbedderDims
	}
	return &hashingEmbedder{dims: dims}
}

func (e *hashingEmbedder) Dimensions() int { return e.dims }

func (e *hashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%e.dims]++
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

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// cosine computes the cosine similarity of two vectors, 0 on mismatch.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
