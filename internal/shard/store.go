package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const loadConcurrency = 4

// Store owns the date → shard map for one storage root and enforces the retention window.
// Today's shard always exists after Initialize and is never evicted.
type Store struct {
	root       string
	maxDays    int
	dimensions int
	clock      func() time.Time
	logger     *zap.Logger
	onEvict    func(dates []string)

	mu     sync.RWMutex
	shards map[string]*Shard
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the wall clock used to determine today's date.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithEvictHook registers fn to be called with the dates removed by retention.
func WithEvictHook(fn func(dates []string)) StoreOption {
	return func(s *Store) { s.onEvict = fn }
}

// NewStore creates a store. Call Initialize before use.
// maxDays == 0 keeps only today's shard.
func NewStore(root string, maxDays, dimensions int, opts ...StoreOption) *Store {
	s := &Store{
		root:       root,
		maxDays:    maxDays,
		dimensions: dimensions,
		clock:      time.Now,
		logger:     zap.NewNop(),
		shards:     make(map[string]*Shard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the storage directory.
func (s *Store) Root() string { return s.root }

// Dimensions returns the vector dimension of every shard.
func (s *Store) Dimensions() int { return s.dimensions }

// Today returns the current date key.
func (s *Store) Today() string {
	return s.clock().Format(DateLayout)
}

// Initialize scans the storage root, deletes artifacts outside the retention window,
// loads the rest, and makes sure today's shard exists. Shards that fail to load are
// logged and skipped; only a failure to read the root itself is returned.
func (s *Store) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	dates, orphans, err := s.scan(true)
	if err != nil {
		return err
	}
	today := s.Today()
	keep, drop := s.partition(dates, today)

	removed := s.removeAll(drop, "deleted expired shard")
	removed = append(removed, s.removeAll(orphans, "deleted metadata without index")...)
	if len(removed) > 0 && s.onEvict != nil {
		s.onEvict(removed)
	}

	loaded := make([]*Shard, len(keep))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, date := range keep {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sh, err := Load(s.root, date, s.dimensions, s.logger)
			if err != nil {
				s.logger.Error("skipping shard", zap.String("date", date), zap.Error(err))
				return nil
			}
			s.logger.Info("loaded shard", zap.String("date", date), zap.Int("vectors", sh.Len()))
			loaded[i] = sh
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards = make(map[string]*Shard, len(keep)+1)
	for _, sh := range loaded {
		if sh != nil {
			s.shards[sh.Date()] = sh
		}
	}
	if _, err := s.todayLocked(today); err != nil {
		return err
	}
	s.evictLocked(today)
	return nil
}

// scan returns the dates that have an index artifact, most recent first, and the dates
// that only have a metadata artifact. Only index dates take part in retention.
func (s *Store) scan(warn bool) (dates, orphans []string, err error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, nil, fmt.Errorf("read storage root: %w", err)
	}
	indexed := make(map[string]bool)
	withMeta := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		date, ok := ParseArtifactName(e.Name())
		if !ok {
			if warn && IsArtifactName(e.Name()) {
				s.logger.Warn("skipping artifact with unparsable date", zap.String("file", e.Name()))
			}
			continue
		}
		if strings.HasPrefix(e.Name(), indexPrefix) {
			indexed[date] = true
		} else {
			withMeta[date] = true
		}
	}
	for d := range indexed {
		dates = append(dates, d)
	}
	for d := range withMeta {
		if !indexed[d] {
			orphans = append(orphans, d)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	sort.Strings(orphans)
	return dates, orphans, nil
}

// removeAll deletes the artifacts of dates and returns the dates actually removed.
func (s *Store) removeAll(dates []string, msg string) []string {
	var removed []string
	for _, date := range dates {
		if err := Remove(s.root, date); err != nil {
			s.logger.Error("failed to delete shard artifacts", zap.String("date", date), zap.Error(err))
			continue
		}
		s.logger.Info(msg, zap.String("date", date))
		removed = append(removed, date)
	}
	return removed
}

// partition splits dates (descending) into those to load and those to delete. One slot
// of the window is always reserved for today, whether or not it is persisted yet.
func (s *Store) partition(dates []string, today string) (keep, drop []string) {
	budget := s.maxDays - 1
	for _, d := range dates {
		if d == today {
			keep = append(keep, d)
			continue
		}
		if budget > 0 {
			keep = append(keep, d)
			budget--
			continue
		}
		drop = append(drop, d)
	}
	return keep, drop
}

// GetOrCreateToday returns today's shard, creating it (and evicting beyond the window)
// when the day has rolled over.
func (s *Store) GetOrCreateToday() (*Shard, error) {
	sh, _, err := s.Rollover()
	return sh, err
}

// Rollover is GetOrCreateToday that also reports the dates evicted by the rollover.
func (s *Store) Rollover() (*Shard, []string, error) {
	today := s.Today()
	s.mu.RLock()
	sh, ok := s.shards[today]
	s.mu.RUnlock()
	if ok {
		return sh, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := s.todayLocked(today)
	if err != nil {
		return nil, nil, err
	}
	return sh, s.evictLocked(today), nil
}

func (s *Store) todayLocked(today string) (*Shard, error) {
	if sh, ok := s.shards[today]; ok {
		return sh, nil
	}
	sh, err := New(today, s.dimensions)
	if err != nil {
		return nil, err
	}
	s.shards[today] = sh
	s.logger.Info("created shard", zap.String("date", today))
	return sh, nil
}

// EvictIfNeeded removes the oldest shards until at most maxDays remain, never removing
// today's shard. It returns the evicted dates.
func (s *Store) EvictIfNeeded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(s.Today())
}

func (s *Store) evictLocked(today string) []string {
	limit := s.maxDays
	if limit < 1 {
		limit = 1
	}
	var evicted []string
	if len(s.shards) > limit {
		dates := s.datesLocked()
		// dates is most recent first; walk from the oldest end.
		for i := len(dates) - 1; i >= 0 && len(s.shards) > limit; i-- {
			date := dates[i]
			if date == today {
				continue
			}
			delete(s.shards, date)
			evicted = append(evicted, date)
			if err := Remove(s.root, date); err != nil {
				s.logger.Error("failed to delete evicted shard", zap.String("date", date), zap.Error(err))
			}
			s.logger.Info("evicted shard", zap.String("date", date))
		}
	}
	evicted = append(evicted, s.sweepLocked(today)...)
	if len(evicted) > 0 && s.onEvict != nil {
		s.onEvict(evicted)
	}
	return evicted
}

// sweepLocked deletes on-disk artifacts of dates that are not loaded (shards skipped as
// corrupt, metadata without an index) once they fall outside the retention window.
func (s *Store) sweepLocked(today string) []string {
	dates, orphans, err := s.scan(false)
	if err != nil {
		s.logger.Warn("failed to scan storage root", zap.Error(err))
		return nil
	}
	_, drop := s.partition(dates, today)
	var stale []string
	for _, date := range append(drop, orphans...) {
		if _, loaded := s.shards[date]; !loaded {
			stale = append(stale, date)
		}
	}
	return s.removeAll(stale, "deleted stale shard artifacts")
}

// Save persists the shard for date. Saving an unknown date is a no-op.
func (s *Store) Save(date string) error {
	s.mu.RLock()
	sh, ok := s.shards[date]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := sh.Save(s.root); err != nil {
		s.logger.Error("failed to save shard", zap.String("date", date), zap.Error(err))
		return err
	}
	s.logger.Debug("saved shard", zap.String("date", date), zap.Int("vectors", sh.Len()))
	return nil
}

// SaveAll persists every shard. A failing shard does not stop the others; all failures
// are returned joined.
func (s *Store) SaveAll() error {
	var errs []error
	for _, date := range s.Dates() {
		if err := s.Save(date); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dates returns the loaded date keys, most recent first.
func (s *Store) Dates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.datesLocked()
}

func (s *Store) datesLocked() []string {
	dates := make([]string, 0, len(s.shards))
	for d := range s.shards {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

// Get returns the shard for date.
func (s *Store) Get(date string) (*Shard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shards[date]
	return sh, ok
}

// View calls fn with the loaded shards (most recent first) while holding the map read
// lock, so no shard is added or evicted until fn returns.
func (s *Store) View(fn func(shards []*Shard) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dates := s.datesLocked()
	shards := make([]*Shard, len(dates))
	for i, d := range dates {
		shards[i] = s.shards[d]
	}
	return fn(shards)
}

// ParseArtifactName extracts the date key from an index or metadata artifact name.
func ParseArtifactName(name string) (string, bool) {
	var raw string
	switch {
	case strings.HasPrefix(name, indexPrefix) && strings.HasSuffix(name, indexSuffix):
		raw = strings.TrimSuffix(strings.TrimPrefix(name, indexPrefix), indexSuffix)
	case strings.HasPrefix(name, metadataPrefix) && strings.HasSuffix(name, metadataSuffix):
		raw = strings.TrimSuffix(strings.TrimPrefix(name, metadataPrefix), metadataSuffix)
	default:
		return "", false
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil || t.Format(DateLayout) != raw {
		return "", false
	}
	return raw, true
}

// IsArtifactName reports whether name has the shape of a shard artifact, regardless of
// whether its date parses.
func IsArtifactName(name string) bool {
	return (strings.HasPrefix(name, indexPrefix) && strings.HasSuffix(name, indexSuffix)) ||
		(strings.HasPrefix(name, metadataPrefix) && strings.HasSuffix(name, metadataSuffix))
}
