// Package shard holds day-keyed vector shards and the store that loads, saves, and evicts them.
package shard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/vector"
)

// DateLayout is the date key format used in artifact names.
const DateLayout = "2006-01-02"

const (
	indexPrefix    = "index_"
	indexSuffix    = ".vec"
	metadataPrefix = "metadata_"
	metadataSuffix = ".json"
)

// IndexPath returns the index artifact path for date under dir.
func IndexPath(dir, date string) string {
	return filepath.Join(dir, indexPrefix+date+indexSuffix)
}

// MetadataPath returns the metadata artifact path for date under dir.
func MetadataPath(dir, date string) string {
	return filepath.Join(dir, metadataPrefix+date+metadataSuffix)
}

// Hit is one shard search result.
type Hit struct {
	Metadata models.Metadata
	Distance float32
	Date     string
}

// Shard is one day's vectors and their positionally aligned metadata.
// len(metadata) == index.Size() holds after every completed operation.
type Shard struct {
	date     string
	index    *vector.FlatIndex
	metadata []models.Metadata
	tags     *tagIndex
	mu       sync.RWMutex
}

// New creates an empty shard for date.
func New(date string, dimensions int) (*Shard, error) {
	idx, err := vector.NewFlatIndex(dimensions)
	if err != nil {
		return nil, err
	}
	return &Shard{date: date, index: idx, tags: newTagIndex()}, nil
}

// Date returns the shard's date key.
func (s *Shard) Date() string { return s.date }

// Dimensions returns the configured vector dimension.
func (s *Shard) Dimensions() int { return s.index.Dimensions() }

// Len returns the number of entries.
func (s *Shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metadata)
}

// Metadata returns the metadata at position i.
func (s *Shard) Metadata(i int) (models.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.metadata) {
		return models.Metadata{}, false
	}
	return s.metadata[i], true
}

// Append adds vectors and their metadata as a pair and returns the new count.
// Either both sequences grow or the shard is left untouched.
func (s *Shard) Append(vectors [][]float32, metas []models.Metadata) (int, error) {
	if len(vectors) != len(metas) {
		return 0, &LengthMismatchError{Vectors: len(vectors), Metadata: len(metas)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.index.Add(vectors); err != nil {
		return 0, err
	}
	base := len(s.metadata)
	s.metadata = append(s.metadata, metas...)
	for i, m := range metas {
		s.tags.add(uint32(base+i), m)
	}
	return len(s.metadata), nil
}

// Search returns up to min(k, Len()) nearest entries, nearest first. An empty shard
// returns an empty result.
func (s *Shard) Search(query []float32, k int, c Criteria) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var filter vector.Filter
	if !c.IsZero() {
		filter = s.tags.compile(c)
	}
	neighbors, err := s.index.Search(query, k, filter)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(neighbors))
	for _, n := range neighbors {
		hits = append(hits, Hit{Metadata: s.metadata[n.Position], Distance: n.Distance, Date: s.date})
	}
	return hits, nil
}

// Save writes the index artifact and then the metadata artifact into dir.
func (s *Shard) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.index.Save(IndexPath(dir, s.date), s.date); err != nil {
		return &PersistenceError{Date: s.date, Op: "save index", Err: err}
	}
	metas := s.metadata
	if metas == nil {
		metas = []models.Metadata{}
	}
	data, err := json.Marshal(metas)
	if err != nil {
		return &PersistenceError{Date: s.date, Op: "encode metadata", Err: err}
	}
	if err := writeFileAtomic(MetadataPath(dir, s.date), data); err != nil {
		return &PersistenceError{Date: s.date, Op: "save metadata", Err: err}
	}
	return nil
}

// Load restores the shard for date from dir.
//
// A missing or unreadable index artifact yields a *CorruptShardError. A missing metadata
// artifact is treated as empty. When the index holds more vectors than there are metadata
// entries (a crash between the two writes of Save), the unmatched tail vectors are dropped.
// More metadata than vectors cannot be repaired and is reported as corrupt.
func Load(dir, date string, dimensions int, logger *zap.Logger) (*Shard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx, label, err := vector.LoadFlatIndex(IndexPath(dir, date))
	if err != nil {
		return nil, &CorruptShardError{Date: date, Err: err}
	}
	if idx.Dimensions() != dimensions {
		return nil, &CorruptShardError{Date: date, Err: &vector.DimensionMismatchError{Expected: dimensions, Actual: idx.Dimensions()}}
	}
	if label != date {
		logger.Warn("index header date differs from file name, using file name",
			zap.String("date", date), zap.String("header", label))
	}

	var metas []models.Metadata
	data, err := os.ReadFile(MetadataPath(dir, date))
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("metadata artifact missing, treating as empty", zap.String("date", date))
	case err != nil:
		return nil, &PersistenceError{Date: date, Op: "read metadata", Err: err}
	default:
		if err := json.Unmarshal(data, &metas); err != nil {
			return nil, &CorruptShardError{Date: date, Err: fmt.Errorf("decode metadata: %w", err)}
		}
	}

	switch n := idx.Size(); {
	case len(metas) > n:
		return nil, &CorruptShardError{Date: date, Err: fmt.Errorf("%d metadata entries for %d vectors", len(metas), n)}
	case len(metas) < n:
		logger.Warn("dropping vectors without metadata",
			zap.String("date", date), zap.Int("vectors", n), zap.Int("metadata", len(metas)))
		idx.Truncate(len(metas))
	}

	s := &Shard{date: date, index: idx, metadata: metas, tags: newTagIndex()}
	for i, m := range metas {
		s.tags.add(uint32(i), m)
	}
	return s, nil
}

// Remove deletes both artifacts for date. Missing files are not an error.
func Remove(dir, date string) error {
	var errs []error
	for _, p := range []string{IndexPath(dir, date), MetadataPath(dir, date)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &PersistenceError{Date: date, Op: "delete", Err: errors.Join(errs...)}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
