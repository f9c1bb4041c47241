package mcp

import (
	"context"

	"github.com/hyperjump/crmrecall/internal/models"
)

// Searcher runs similarity searches. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// Ingester stores records. *ingest.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, category string, records []models.Record, extras map[string]any) (*models.IngestResult, error)
}

// Ports aggregates the services the MCP server drives.
type Ports struct {
	Search Searcher
	Ingest Ingester

	// Status is optional; when nil the status resource is not registered.
	Status func(ctx context.Context) (*models.Status, error)
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearcher
	}
	if p.Ingest == nil {
		return ErrMissingIngester
	}
	return nil
}
