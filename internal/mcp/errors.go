// Package mcp exposes the record store to AI assistants over the Model Context Protocol.
package mcp

import "errors"

var (
	// ErrMissingSearcher is returned when no search service is provided.
	ErrMissingSearcher = errors.New("mcp: searcher is required")

	// ErrMissingIngester is returned when no ingest service is provided.
	ErrMissingIngester = errors.New("mcp: ingester is required")
)
