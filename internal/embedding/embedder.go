// Package embedding turns record text into fixed-dimension vectors via ONNX, with an
// LRU cache and a deterministic mock for tests and model-less setups.
package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Options selects and sizes an embedder.
type Options struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
}

// New returns the ONNX embedder for opts.ModelPath, falling back to the mock embedder when
// no model is configured or the runtime is unavailable. The result is wrapped in an LRU
// cache when opts.CacheSize > 0.
func New(opts Options, logger *zap.Logger) Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	var inner Embedder
	if opts.ModelPath != "" {
		onnx, err := NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock embeddings",
				zap.String("model", opts.ModelPath), zap.Error(err))
		} else {
			inner = onnx
		}
	}
	if inner == nil {
		inner = NewMockEmbedder(opts.Dimensions)
	}
	if opts.CacheSize > 0 {
		return NewCachedEmbedder(inner, opts.CacheSize)
	}
	return inner
}

// CheckDimensions verifies that every vector has the embedder's dimension.
func CheckDimensions(e Embedder, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != e.Dimensions() {
			return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), e.Dimensions())
		}
	}
	return nil
}

// CachedEmbedder memoizes another Embedder by exact input text.
type CachedEmbedder struct {
	inner Embedder
	cache *EmbeddingCache
}

// NewCachedEmbedder wraps inner with an LRU cache of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: NewEmbeddingCache(capacity)}
}

// Embed returns the cached embedding for text or computes and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

// EmbedBatch embeds only the cache misses through the inner embedder, preserving order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	computed, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(computed), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = computed[j]
		c.cache.Set(missTexts[j], computed[j])
	}
	return out, nil
}

// Dimensions returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }
