package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/crmrecall/internal/config"
	"github.com/hyperjump/crmrecall/internal/embedding"
	"github.com/hyperjump/crmrecall/internal/ingest"
	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/rolling"
	"github.com/hyperjump/crmrecall/internal/search"
	"github.com/hyperjump/crmrecall/internal/server"
	"github.com/hyperjump/crmrecall/internal/storage"
)

// Components holds the wired application services.
type Components struct {
	Config   *config.Config
	Journal  *storage.SQLiteJournal
	Embedder embedding.Embedder
	Index    *rolling.Manager
	Pipeline *ingest.Pipeline
	Engine   *search.Engine
}

// Close flushes the index and releases the embedder and journal.
func (c *Components) Close() error {
	var errs []error
	if c.Index != nil {
		if err := c.Index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if c.Embedder != nil {
		if err := c.Embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
	}
	if c.Journal != nil {
		if err := c.Journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Status reports the state of the index, journal and storage.
func (c *Components) Status(ctx context.Context) (*models.Status, error) {
	return server.CollectStatus(ctx, c.Index, c.Journal, c.Config.Storage.DatabasePath)
}

// initializeComponents validates cfg and opens journal, embedder and index, in that order.
// Shards evicted by retention have their journal rows pruned.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Components{Config: cfg}

	journal, err := storage.NewSQLiteJournal(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}
	c.Journal = journal

	c.Embedder = embedding.New(embedding.Options{
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	}, logger)

	var pipeline *ingest.Pipeline
	index, err := rolling.New(rolling.Options{
		Root:      cfg.Storage.Root,
		MaxDays:   cfg.Storage.MaxDays,
		Dimension: cfg.Embedding.Dimensions,
	},
		rolling.WithLogger(logger),
		rolling.WithEvictHook(func(dates []string) {
			pipeline.PruneJournal(context.Background(), dates)
		}),
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	pipeline = ingest.NewPipeline(index, c.Embedder, ingest.WithLogger(logger), ingest.WithJournal(journal))

	if err := index.Open(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	c.Index = index
	c.Pipeline = pipeline
	c.Engine = search.NewEngine(index, c.Embedder, &cfg.Search)
	return c, nil
}
