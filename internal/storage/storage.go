// Package storage keeps the ingestion journal: one row per ingested batch, keyed by the
// shard date it landed in so rows can be pruned when that shard is evicted.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/crmrecall/internal/models"
)

// ErrBatchNotFound is returned by GetBatch for an unknown id.
var ErrBatchNotFound = errors.New("batch not found")

// Journal records ingestion batches.
type Journal interface {
	CreateBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context, offset, limit int) ([]*models.Batch, error)

	// DeleteBatchesForDates removes batches whose shard date is in dates and returns the count removed.
	DeleteBatchesForDates(ctx context.Context, dates []string) (int64, error)

	CountBatches(ctx context.Context) (int64, error)
	CountRecords(ctx context.Context) (int64, error)

	Close() error
}
