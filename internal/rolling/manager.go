// Package rolling provides the day-sharded vector index manager: writes go to today's
// shard, searches merge the nearest neighbors of every retained shard.
package rolling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/shard"
	"github.com/hyperjump/crmrecall/internal/vector"
)

// ErrNotReady is returned when the manager is used before Open or after Close.
var ErrNotReady = errors.New("index manager not ready")

// Options are the construction parameters of a Manager.
type Options struct {
	Root      string
	MaxDays   int
	Dimension int
}

// Result is one merged search hit.
type Result struct {
	Metadata  models.Metadata
	Distance  float32
	ShardDate string
}

// Stats describes the loaded shards.
type Stats struct {
	Shards       []models.ShardInfo
	TotalVectors int
	Dimension    int
	MaxDays      int
}

// Manager is the public face of the shard store. Mutations (add, flush, maintenance)
// are serialized; searches run concurrently with each other and with appends, but not
// with shard creation or eviction.
type Manager struct {
	opts    Options
	logger  *zap.Logger
	clock   func() time.Time
	onEvict func(dates []string)

	writeMu sync.Mutex
	store   *shard.Store
	ready   atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the clock used to pick today's shard.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithEvictHook is called with the dates of shards dropped by retention.
func WithEvictHook(fn func(dates []string)) Option {
	return func(m *Manager) { m.onEvict = fn }
}

// New validates opts and returns an unopened manager.
func New(opts Options, options ...Option) (*Manager, error) {
	if opts.Root == "" {
		return nil, &shard.ConfigurationError{Field: "storage root", Reason: "must not be empty"}
	}
	if opts.Dimension <= 0 {
		return nil, &shard.ConfigurationError{Field: "dimension", Reason: "must be positive"}
	}
	if opts.MaxDays < 0 {
		return nil, &shard.ConfigurationError{Field: "max_days", Reason: "must not be negative"}
	}
	m := &Manager{
		opts:   opts,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, o := range options {
		o(m)
	}
	m.store = shard.NewStore(opts.Root, opts.MaxDays, opts.Dimension,
		shard.WithLogger(m.logger.Named("shards")),
		shard.WithClock(m.clock),
		shard.WithEvictHook(m.onEvict),
	)
	return m, nil
}

// Open scans storage, applies retention, loads the retained shards, and ensures today's
// shard exists. The manager accepts Add and Search only after Open succeeds.
func (m *Manager) Open(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.store.Initialize(ctx); err != nil {
		return err
	}
	m.ready.Store(true)
	m.logger.Info("vector index ready",
		zap.String("root", m.opts.Root),
		zap.Int("shards", len(m.store.Dates())),
		zap.Int("max_days", m.opts.MaxDays),
		zap.Int("dimension", m.opts.Dimension))
	return nil
}

// Ready reports whether the manager has been opened.
func (m *Manager) Ready() bool { return m.ready.Load() }

// Dimension returns the configured vector dimension.
func (m *Manager) Dimension() int { return m.opts.Dimension }

// Root returns the storage root.
func (m *Manager) Root() string { return m.opts.Root }

// Today returns today's shard date key.
func (m *Manager) Today() string { return m.store.Today() }

// Add appends vectors with their metadata to today's shard and persists that shard only.
// It returns the shard's new count. On a save failure the data stays in memory and
// searchable, and the returned error is a *shard.PersistenceError.
func (m *Manager) Add(ctx context.Context, vectors [][]float32, metas []models.Metadata) (int, error) {
	if !m.ready.Load() {
		return 0, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	sh, err := m.store.GetOrCreateToday()
	if err != nil {
		return 0, err
	}
	n, err := sh.Append(vectors, metas)
	if err != nil {
		return 0, err
	}
	if err := m.store.Save(sh.Date()); err != nil {
		return n, err
	}
	m.logger.Debug("added vectors", zap.String("date", sh.Date()), zap.Int("added", len(vectors)), zap.Int("total", n))
	return n, nil
}

// Search returns the global k nearest entries across every loaded shard, nearest first.
// Each shard contributes its own top k, which is sufficient for the global top k.
func (m *Manager) Search(ctx context.Context, query []float32, k int, criteria shard.Criteria) ([]Result, error) {
	if !m.ready.Load() {
		return nil, ErrNotReady
	}
	if k < 1 {
		return nil, vector.ErrInvalidK
	}
	if len(query) != m.opts.Dimension {
		return nil, &vector.DimensionMismatchError{Expected: m.opts.Dimension, Actual: len(query)}
	}

	var candidates []Result
	err := m.store.View(func(shards []*shard.Shard) error {
		for _, sh := range shards {
			if err := ctx.Err(); err != nil {
				return err
			}
			hits, err := sh.Search(query, k, criteria)
			if err != nil {
				m.logger.Error("shard search failed", zap.String("date", sh.Date()), zap.Error(err))
				continue
			}
			for _, h := range hits {
				candidates = append(candidates, Result{Metadata: h.Metadata, Distance: h.Distance, ShardDate: h.Date})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mergeTopK(candidates, k), nil
}

// mergeTopK sorts candidates by ascending distance and keeps the first k. Equal distances
// keep their input order (newer shards first).
func mergeTopK(candidates []Result, k int) []Result {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	if candidates == nil {
		return []Result{}
	}
	return candidates
}

// Flush saves every shard. Failures of individual shards are joined; the rest are still saved.
func (m *Manager) Flush() error {
	if !m.ready.Load() {
		return ErrNotReady
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.store.SaveAll()
}

// Maintain rolls over to today's shard when the date has changed and applies retention.
// It returns the evicted dates.
func (m *Manager) Maintain(ctx context.Context) ([]string, error) {
	if !m.ready.Load() {
		return nil, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_, evicted, err := m.store.Rollover()
	if err != nil {
		return nil, err
	}
	return append(evicted, m.store.EvictIfNeeded()...), nil
}

// Stats reports per-shard counts, most recent first.
func (m *Manager) Stats() Stats {
	st := Stats{Dimension: m.opts.Dimension, MaxDays: m.opts.MaxDays, Shards: []models.ShardInfo{}}
	_ = m.store.View(func(shards []*shard.Shard) error {
		for _, sh := range shards {
			n := sh.Len()
			st.Shards = append(st.Shards, models.ShardInfo{Date: sh.Date(), Vectors: n})
			st.TotalVectors += n
		}
		return nil
	})
	return st
}

// Close flushes all shards and marks the manager not ready.
func (m *Manager) Close() error {
	if !m.ready.Load() {
		return nil
	}
	err := m.Flush()
	m.ready.Store(false)
	return err
}
