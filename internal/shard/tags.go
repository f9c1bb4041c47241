package shard

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hyperjump/crmrecall/internal/models"
)

// Criteria restricts a shard search to entries with a category and/or exact tag values.
type Criteria struct {
	Category string
	Tags     map[string]string
}

// IsZero reports whether the criteria match everything.
func (c Criteria) IsZero() bool {
	return c.Category == "" && len(c.Tags) == 0
}

// tagIndex maps categories and tag key/value pairs to the positions carrying them.
// It is derived from metadata and rebuilt on load, never persisted.
type tagIndex struct {
	categories map[string]*roaring.Bitmap
	tags       map[string]map[string]*roaring.Bitmap // key -> value -> positions
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		categories: make(map[string]*roaring.Bitmap),
		tags:       make(map[string]map[string]*roaring.Bitmap),
	}
}

func (t *tagIndex) add(pos uint32, meta models.Metadata) {
	posting(t.categories, meta.Category).Add(pos)
	for k, v := range meta.Tags {
		values, ok := t.tags[k]
		if !ok {
			values = make(map[string]*roaring.Bitmap)
			t.tags[k] = values
		}
		posting(values, v).Add(pos)
	}
}

func posting(m map[string]*roaring.Bitmap, key string) *roaring.Bitmap {
	bm, ok := m[key]
	if !ok {
		bm = roaring.New()
		m[key] = bm
	}
	return bm
}

// compile intersects the postings named by c. The result is never nil; an empty bitmap
// means nothing in the shard matches.
func (t *tagIndex) compile(c Criteria) *roaring.Bitmap {
	var result *roaring.Bitmap
	intersect := func(bm *roaring.Bitmap) bool {
		if bm == nil {
			result = roaring.New()
			return false
		}
		if result == nil {
			result = bm.Clone()
		} else {
			result.And(bm)
		}
		return !result.IsEmpty()
	}
	if c.Category != "" && !intersect(t.categories[c.Category]) {
		return result
	}
	for k, v := range c.Tags {
		if !intersect(t.tags[k][v]) {
			return result
		}
	}
	if result == nil {
		return roaring.New()
	}
	return result
}
