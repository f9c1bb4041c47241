// Package vector provides an exact (brute-force) L2 vector index with positional addressing.
package vector

import (
	"sort"
	"sync"
)

// Neighbor is a single search hit: the position of the vector in insertion order and its
// squared L2 distance to the query.
type Neighbor struct {
	Position int
	Distance float32
}

// Filter restricts a search to a subset of positions. *roaring.Bitmap satisfies it.
type Filter interface {
	Contains(x uint32) bool
}

// FlatIndex stores fixed-dimension vectors contiguously and answers k-nearest-neighbor
// queries by scanning every vector. Vectors are addressed by insertion position; the index
// only grows (or is truncated during recovery), so positions are stable.
type FlatIndex struct {
	dimensions int
	data       []float32
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty index for vectors of the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, &InvalidDimensionError{Dimension: dimensions}
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// Dimensions returns the configured vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dimensions
}

// Add appends vectors in input order and returns the new total count.
// Every vector is validated before any is appended, so a dimension error leaves the index unchanged.
func (f *FlatIndex) Add(vectors [][]float32) (int, error) {
	for _, vec := range vectors {
		if len(vec) != f.dimensions {
			return 0, &DimensionMismatchError{Expected: f.dimensions, Actual: len(vec)}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, vec := range vectors {
		f.data = append(f.data, vec...)
	}
	return len(f.data) / f.dimensions, nil
}

// Vector returns a copy of the vector at position i, or nil if i is out of range.
func (f *FlatIndex) Vector(i int) []float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i < 0 || (i+1)*f.dimensions > len(f.data) {
		return nil
	}
	out := make([]float32, f.dimensions)
	copy(out, f.data[i*f.dimensions:(i+1)*f.dimensions])
	return out
}

// Truncate drops every vector at position n and beyond. It is a no-op when n >= Size().
func (f *FlatIndex) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n*f.dimensions < len(f.data) {
		f.data = f.data[:n*f.dimensions]
	}
}

// Search returns up to min(k, Size()) neighbors ordered by ascending distance; ties keep
// insertion order. When filter is non-nil only positions it contains are considered.
// An empty index yields an empty result, never an error.
func (f *FlatIndex) Search(query []float32, k int, filter Filter) ([]Neighbor, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(query) != f.dimensions {
		return nil, &DimensionMismatchError{Expected: f.dimensions, Actual: len(query)}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.data) / f.dimensions
	if n == 0 {
		return []Neighbor{}, nil
	}
	candidates := make([]Neighbor, 0, n)
	for i := 0; i < n; i++ {
		if filter != nil && !filter.Contains(uint32(i)) {
			continue
		}
		vec := f.data[i*f.dimensions : (i+1)*f.dimensions]
		candidates = append(candidates, Neighbor{Position: i, Distance: SquaredL2(query, vec)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates, nil
}
