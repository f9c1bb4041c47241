package models

import "encoding/json"

// SearchResult represents a single search hit.
type SearchResult struct {
	Rank      int               `json:"rank"`
	Score     float64           `json:"score"`
	Distance  float32           `json:"distance"`
	ShardDate string            `json:"shard_date"`
	Category  string            `json:"type"`
	Data      json.RawMessage   `json:"data"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}

// ShardInfo describes one in-memory shard.
type ShardInfo struct {
	Date    string `json:"date"`
	Vectors int    `json:"vectors"`
}

// Status summarizes the state of the index.
type Status struct {
	Shards       []ShardInfo `json:"shards"`
	TotalVectors int         `json:"total_vectors"`
	Dimension    int         `json:"dimension"`
	MaxDays      int         `json:"max_days"`
	Batches      int         `json:"batches"`
	Records      int         `json:"records"`
	DiskBytes    int64       `json:"disk_bytes"`
}
