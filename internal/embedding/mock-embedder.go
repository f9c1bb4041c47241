package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/hyperjump/crmrecall/pkg/utils"
)

// MockEmbedder is a deterministic embedder. The same text always maps to the same unit
// vector, and texts sharing tokens land closer together than unrelated ones, which is
// enough for tests and for running without a model.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed hashes each token of text into a bucket and returns the normalized bucket counts.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, tok := range SplitWords(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		emb[sum%uint64(e.dimensions)] += 1
		// second, signed bucket reduces collisions on small dimensions
		j := (sum >> 32) % uint64(e.dimensions)
		if sum&1 == 0 {
			emb[j] += 0.5
		} else {
			emb[j] -= 0.5
		}
	}
	if utils.SumSquares(emb) == 0 {
		for i := range emb {
			emb[i] = float32(math.Sin(float64(i+1))) * 0.1
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
