package models

import "errors"

// ErrEmptyQuery is returned when a search query has no text.
var ErrEmptyQuery = errors.New("query cannot be empty")

// SearchQuery represents a similarity search request with optional filters.
type SearchQuery struct {
	Query    string            `json:"query"`
	Limit    int               `json:"limit,omitempty"`
	Category string            `json:"category,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty; otherwise applies defaultLimit and caps at maxLimit.
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if maxLimit <= 0 {
		maxLimit = 100
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}

// HasFilter reports whether the query restricts results by category or tags.
func (q *SearchQuery) HasFilter() bool {
	return q.Category != "" || len(q.Tags) > 0
}
