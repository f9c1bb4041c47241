// Package search embeds queries and answers them from the rolling vector index.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/crmrecall/internal/config"
	"github.com/hyperjump/crmrecall/internal/embedding"
	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/rolling"
	"github.com/hyperjump/crmrecall/internal/shard"
	"github.com/hyperjump/crmrecall/internal/vector"
)

// Index is the part of the index manager the engine reads from.
type Index interface {
	Search(ctx context.Context, query []float32, k int, criteria shard.Criteria) ([]rolling.Result, error)
}

// Engine runs similarity search over ingested records.
type Engine struct {
	index    Index
	embedder embedding.Embedder
	config   *config.SearchConfig
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(index Index, embedder embedding.Embedder, cfg *config.SearchConfig) *Engine {
	if cfg == nil {
		cfg = &config.SearchConfig{}
	}
	return &Engine{
		index:    index,
		embedder: embedder,
		config:   cfg,
	}
}

// Search embeds the query text and returns the nearest records across all retained days,
// ranked by ascending distance.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query, e.config); err != nil {
		return nil, err
	}

	queryEmbedding, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	results, err := e.index.Search(ctx, queryEmbedding, query.Limit, CriteriaFor(query))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	response := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, len(results)),
		Total:   len(results),
		Query:   query.Query,
	}
	for i, r := range results {
		response.Results = append(response.Results, &models.SearchResult{
			Rank:      i + 1,
			Score:     vector.Similarity(r.Distance),
			Distance:  r.Distance,
			ShardDate: r.ShardDate,
			Category:  r.Metadata.Category,
			Data:      r.Metadata.Payload,
			Tags:      r.Metadata.Tags,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	return response, nil
}

// CriteriaFor maps the query filters onto shard search criteria.
func CriteriaFor(query *models.SearchQuery) shard.Criteria {
	if !query.HasFilter() {
		return shard.Criteria{}
	}
	return shard.Criteria{Category: query.Category, Tags: query.Tags}
}
