package server

import (
	"context"
	"fmt"

	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/rolling"
	"github.com/hyperjump/crmrecall/internal/storage"
)

// CollectStatus gathers shard counts, journal totals and disk usage into one report.
// journal may be nil.
func CollectStatus(ctx context.Context, index *rolling.Manager, journal storage.Journal, dbPath string) (*models.Status, error) {
	stats := index.Stats()
	status := &models.Status{
		Shards:       stats.Shards,
		TotalVectors: stats.TotalVectors,
		Dimension:    stats.Dimension,
		MaxDays:      stats.MaxDays,
	}
	if journal != nil {
		batches, err := journal.CountBatches(ctx)
		if err != nil {
			return nil, fmt.Errorf("count batches: %w", err)
		}
		records, err := journal.CountRecords(ctx)
		if err != nil {
			return nil, fmt.Errorf("count records: %w", err)
		}
		status.Batches = int(batches)
		status.Records = int(records)
	}
	var extra []string
	if dbPath != "" {
		extra = append(extra, dbPath)
	}
	usage, err := storage.DiskUsage(index.Root(), extra...)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	status.DiskBytes = usage.Total()
	return status, nil
}
