package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/hyperjump/crmrecall/internal/ingest"
	"github.com/hyperjump/crmrecall/internal/models"
)

// SearchInput is the input schema for the search_data tool.
type SearchInput struct {
	Query    string            `json:"query" jsonschema:"text query to search for"`
	Limit    int               `json:"limit,omitempty" jsonschema:"maximum number of results to return (default 10)"`
	Category string            `json:"category,omitempty" jsonschema:"only return records of this type, e.g. contacts"`
	Tags     map[string]string `json:"tags,omitempty" jsonschema:"only return records carrying all of these tag values"`
}

// SearchOutput is the output schema for the search_data tool.
type SearchOutput struct {
	Results []ResultOutput `json:"results"`
	Count   int            `json:"count"`
}

// ResultOutput is one search hit.
type ResultOutput struct {
	Rank      int               `json:"rank"`
	Score     float64           `json:"score"`
	ShardDate string            `json:"shard_date"`
	Type      string            `json:"type"`
	Data      any               `json:"data"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// StoreInput is the input schema for the store_records tool.
type StoreInput struct {
	Category string           `json:"category" jsonschema:"record type, e.g. contacts or deals"`
	Records  []map[string]any `json:"records" jsonschema:"records to store, one JSON object each"`
	Tags     map[string]any   `json:"tags,omitempty" jsonschema:"extra values attached to every stored record"`
}

// StoreOutput is the output schema for the store_records tool.
type StoreOutput struct {
	BatchID   string `json:"batch_id,omitempty"`
	Stored    int    `json:"stored"`
	Total     int    `json:"total"`
	ShardDate string `json:"shard_date,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_data",
		Description: "Search stored CRM records by semantic similarity across the retained days",
	}, s.handleSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "store_records",
		Description: "Embed and store CRM records in today's shard so they can be searched later",
	}, s.handleStore)
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	resp, err := s.ports.Search.Search(ctx, &models.SearchQuery{
		Query:    input.Query,
		Limit:    input.Limit,
		Category: input.Category,
		Tags:     input.Tags,
	})
	if err != nil {
		s.logger.Error("mcp search failed", zap.Error(err))
		return nil, SearchOutput{}, err
	}
	out := SearchOutput{Results: make([]ResultOutput, len(resp.Results)), Count: len(resp.Results)}
	for i, r := range resp.Results {
		var data any
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return nil, SearchOutput{}, fmt.Errorf("decode result %d: %w", r.Rank, err)
		}
		out.Results[i] = ResultOutput{
			Rank:      r.Rank,
			Score:     r.Score,
			ShardDate: r.ShardDate,
			Type:      r.Category,
			Data:      data,
			Tags:      r.Tags,
		}
	}
	return nil, out, nil
}

func (s *Server) handleStore(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StoreInput,
) (*mcp.CallToolResult, StoreOutput, error) {
	records := make([]models.Record, len(input.Records))
	for i, r := range input.Records {
		if r == nil {
			return nil, StoreOutput{}, fmt.Errorf("record %d is null", i)
		}
		records[i] = models.Record(r)
	}
	res, err := s.ports.Ingest.Ingest(ctx, input.Category, records, input.Tags)
	var warning string
	if ingest.NotPersisted(err) && res != nil {
		s.logger.Warn("mcp store saved in memory only", zap.String("category", input.Category), zap.Error(err))
		warning = err.Error()
	} else if err != nil {
		s.logger.Error("mcp store failed", zap.String("category", input.Category), zap.Error(err))
		return nil, StoreOutput{}, err
	}
	return nil, StoreOutput{
		BatchID:   res.BatchID,
		Stored:    res.Count,
		Total:     res.Total,
		ShardDate: res.ShardDate,
		Warning:   warning,
	}, nil
}
