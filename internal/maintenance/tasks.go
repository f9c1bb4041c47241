package maintenance

import (
	"context"

	"go.uber.org/zap"
)

// Index is the part of the shard manager that housekeeping drives.
type Index interface {
	Flush() error
	Maintain(ctx context.Context) ([]string, error)
}

// FlushTask persists every loaded shard.
type FlushTask struct {
	index Index
}

// NewFlushTask creates a flush task over index.
func NewFlushTask(index Index) *FlushTask {
	return &FlushTask{index: index}
}

func (t *FlushTask) Name() string        { return "flush" }
func (t *FlushTask) Description() string { return "persist all loaded shards to disk" }

func (t *FlushTask) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.index.Flush()
}

// RetentionTask rolls the index over to the current day and evicts shards outside the window.
type RetentionTask struct {
	index  Index
	logger *zap.Logger
}

// NewRetentionTask creates a retention task over index.
func NewRetentionTask(index Index, logger *zap.Logger) *RetentionTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionTask{index: index, logger: logger}
}

func (t *RetentionTask) Name() string        { return "retention" }
func (t *RetentionTask) Description() string { return "roll over to today's shard and evict expired shards" }

func (t *RetentionTask) Execute(ctx context.Context) error {
	evicted, err := t.index.Maintain(ctx)
	if err != nil {
		return err
	}
	if len(evicted) > 0 {
		t.logger.Info("retention evicted shards", zap.Strings("dates", evicted))
	}
	return nil
}
