// Package ingest turns structured records into embeddings plus metadata envelopes and
// appends them to the rolling vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/crmrecall/internal/embedding"
	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/shard"
	"github.com/hyperjump/crmrecall/internal/storage"
)

// ErrMissingCategory is returned when records are ingested without a category.
var ErrMissingCategory = errors.New("category is required")

// NotPersisted reports whether err only says that an ingested batch could not be saved to
// disk. The records are then in memory and searchable, and the next flush retries the save.
func NotPersisted(err error) bool {
	var persistErr *shard.PersistenceError
	return errors.As(err, &persistErr)
}

// VectorStore is the part of the index manager the pipeline writes to.
type VectorStore interface {
	Add(ctx context.Context, vectors [][]float32, metas []models.Metadata) (int, error)
	Today() string
}

// Pipeline embeds records and stores them with their envelopes.
type Pipeline struct {
	store    VectorStore
	embedder embedding.Embedder
	journal  storage.Journal // optional
	logger   *zap.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithJournal records every ingested batch in j.
func WithJournal(j storage.Journal) PipelineOption {
	return func(p *Pipeline) { p.journal = j }
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(store VectorStore, embedder embedding.Embedder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:    store,
		embedder: embedder,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest embeds the canonical text of each record, wraps each record in a metadata envelope
// carrying category and the stringified extras, and appends the batch to today's shard.
//
// An empty record list is a no-op. If the append committed but today's shard could not be
// saved, the result is returned together with the *shard.PersistenceError.
func (p *Pipeline) Ingest(ctx context.Context, category string, records []models.Record, extras map[string]any) (*models.IngestResult, error) {
	return p.ingest(ctx, category, records, extras, "")
}

func (p *Pipeline) ingest(ctx context.Context, category string, records []models.Record, extras map[string]any, source string) (*models.IngestResult, error) {
	if category == "" {
		return nil, ErrMissingCategory
	}
	if len(records) == 0 {
		return &models.IngestResult{}, nil
	}

	texts := make([]string, len(records))
	metas := make([]models.Metadata, len(records))
	for i, rec := range records {
		text, err := rec.CanonicalText()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		texts[i] = text
		meta, err := models.NewMetadata(category, rec, extras)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		metas[i] = meta
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if err := embedding.CheckDimensions(p.embedder, vectors); err != nil {
		return nil, err
	}

	shardDate := p.store.Today()
	total, err := p.store.Add(ctx, vectors, metas)
	var persistErr *shard.PersistenceError
	if err != nil && !errors.As(err, &persistErr) {
		return nil, fmt.Errorf("failed to index vectors: %w", err)
	}

	result := &models.IngestResult{
		BatchID:   uuid.New().String(),
		Count:     len(records),
		Total:     total,
		ShardDate: shardDate,
	}
	if p.journal != nil {
		batch := &models.Batch{
			ID:        result.BatchID,
			Category:  category,
			ShardDate: shardDate,
			Count:     len(records),
			Source:    source,
		}
		if jerr := p.journal.CreateBatch(ctx, batch); jerr != nil {
			p.logger.Warn("failed to journal batch", zap.String("batch", batch.ID), zap.Error(jerr))
		}
	}
	p.logger.Debug("ingested records",
		zap.String("category", category),
		zap.Int("count", len(records)),
		zap.String("date", shardDate),
		zap.Int("total", total))

	if persistErr != nil {
		return result, err
	}
	return result, nil
}

// IngestFile loads a record file and ingests it, journaling path as the batch source.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	rf, err := LoadRecordFile(path)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, rf.Category, rf.Records, rf.Tags, path)
}

// PruneJournal drops journal rows for evicted shard dates. It is meant to be registered as
// the index manager's eviction hook.
func (p *Pipeline) PruneJournal(ctx context.Context, dates []string) {
	if p.journal == nil || len(dates) == 0 {
		return
	}
	n, err := p.journal.DeleteBatchesForDates(ctx, dates)
	if err != nil {
		p.logger.Warn("failed to prune journal", zap.Strings("dates", dates), zap.Error(err))
		return
	}
	p.logger.Info("pruned journal", zap.Strings("dates", dates), zap.Int64("batches", n))
}
