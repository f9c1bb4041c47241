package shard

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/vector"
)

func meta(category string, payload string, tags map[string]string) models.Metadata {
	return models.Metadata{Category: category, Payload: json.RawMessage(payload), Tags: tags}
}

func TestNew_InvalidDimension(t *testing.T) {
	_, err := New("2024-01-01", 0)
	var invalid *vector.InvalidDimensionError
	require.ErrorAs(t, err, &invalid)
}

func TestShard_AppendPreservesAlignment(t *testing.T) {
	sh, err := New("2024-01-01", 2)
	require.NoError(t, err)

	n, err := sh.Append([][]float32{{0, 0}, {5, 5}}, []models.Metadata{
		meta("contact", `{"id":1}`, nil),
		meta("ticket", `{"id":2}`, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sh.Append([][]float32{{9, 9}}, []models.Metadata{meta("contact", `{"id":3}`, nil)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for i, want := range []string{`{"id":1}`, `{"id":2}`, `{"id":3}`} {
		m, ok := sh.Metadata(i)
		require.True(t, ok)
		assert.JSONEq(t, want, string(m.Payload))
	}

	hits, err := sh.Search([]float32{5, 5}, 1, Criteria{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.JSONEq(t, `{"id":2}`, string(hits[0].Metadata.Payload))
	assert.Equal(t, "2024-01-01", hits[0].Date)
}

func TestShard_AppendLengthMismatch(t *testing.T) {
	sh, _ := New("2024-01-01", 384)
	vecs := make([][]float32, 3)
	for i := range vecs {
		vecs[i] = make([]float32, 384)
	}
	_, err := sh.Append(vecs, []models.Metadata{meta("contact", `{}`, nil), meta("contact", `{}`, nil)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLengthMismatch)
	var lm *LengthMismatchError
	require.ErrorAs(t, err, &lm)
	assert.Equal(t, 3, lm.Vectors)
	assert.Equal(t, 2, lm.Metadata)
	assert.Equal(t, 0, sh.Len())
}

func TestShard_AppendDimensionMismatch(t *testing.T) {
	sh, _ := New("2024-01-01", 3)
	_, err := sh.Append([][]float32{{1, 2}}, []models.Metadata{meta("x", `{}`, nil)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, sh.Len())
}

func TestShard_SearchEmpty(t *testing.T) {
	sh, _ := New("2024-01-01", 2)
	hits, err := sh.Search([]float32{1, 1}, 5, Criteria{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestShard_SearchWithCriteria(t *testing.T) {
	sh, _ := New("2024-01-01", 1)
	_, err := sh.Append([][]float32{{0}, {1}, {2}, {3}}, []models.Metadata{
		meta("contact", `{"n":0}`, map[string]string{"region": "eu"}),
		meta("ticket", `{"n":1}`, map[string]string{"region": "eu"}),
		meta("contact", `{"n":2}`, map[string]string{"region": "us"}),
		meta("contact", `{"n":3}`, map[string]string{"region": "eu"}),
	})
	require.NoError(t, err)

	hits, err := sh.Search([]float32{0}, 10, Criteria{Category: "contact", Tags: map[string]string{"region": "eu"}})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.JSONEq(t, `{"n":0}`, string(hits[0].Metadata.Payload))
	assert.JSONEq(t, `{"n":3}`, string(hits[1].Metadata.Payload))

	hits, err = sh.Search([]float32{0}, 10, Criteria{Category: "deal"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = sh.Search([]float32{0, 0}, 10, Criteria{Category: "deal"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestShard_SearchTagsWithEqualsSigns(t *testing.T) {
	sh, _ := New("2024-01-01", 1)
	_, err := sh.Append([][]float32{{0}, {1}}, []models.Metadata{
		meta("contact", `{"n":0}`, map[string]string{"a=b": "c"}),
		meta("contact", `{"n":1}`, map[string]string{"a": "b=c"}),
	})
	require.NoError(t, err)

	hits, err := sh.Search([]float32{0}, 10, Criteria{Tags: map[string]string{"a": "b=c"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.JSONEq(t, `{"n":1}`, string(hits[0].Metadata.Payload))

	hits, err = sh.Search([]float32{0}, 10, Criteria{Tags: map[string]string{"a=b": "c"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.JSONEq(t, `{"n":0}`, string(hits[0].Metadata.Payload))
}

func TestShard_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sh, _ := New("2024-01-02", 2)
	_, err := sh.Append([][]float32{{1, 0}, {0, 1}}, []models.Metadata{
		meta("contact", `{"id":1}`, map[string]string{"q": "a"}),
		meta("ticket", `{"id":2}`, nil),
	})
	require.NoError(t, err)
	require.NoError(t, sh.Save(dir))

	loaded, err := Load(dir, "2024-01-02", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	for i := 0; i < 2; i++ {
		want, _ := sh.Metadata(i)
		got, _ := loaded.Metadata(i)
		assert.Equal(t, want.Category, got.Category)
		assert.JSONEq(t, string(want.Payload), string(got.Payload))
		assert.Equal(t, want.Tags, got.Tags)
	}

	hits, err := loaded.Search([]float32{0, 1}, 1, Criteria{Tags: map[string]string{"q": "a"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "contact", hits[0].Metadata.Category)
}

func TestLoad_EmptyShardSavesEmptyArray(t *testing.T) {
	dir := t.TempDir()
	sh, _ := New("2024-01-02", 2)
	require.NoError(t, sh.Save(dir))
	raw, err := os.ReadFile(MetadataPath(dir, "2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestLoad_MissingIndexIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(MetadataPath(dir, "2024-01-02"), []byte(`[{"type":"x","data":{}}]`), 0644))
	_, err := Load(dir, "2024-01-02", 2, nil)
	assert.ErrorIs(t, err, ErrCorruptShard)
}

func TestLoad_MissingMetadataTruncatesVectors(t *testing.T) {
	dir := t.TempDir()
	sh, _ := New("2024-01-02", 2)
	_, _ = sh.Append([][]float32{{1, 0}}, []models.Metadata{meta("x", `{}`, nil)})
	require.NoError(t, sh.Save(dir))
	require.NoError(t, os.Remove(MetadataPath(dir, "2024-01-02")))

	loaded, err := Load(dir, "2024-01-02", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	hits, err := loaded.Search([]float32{1, 0}, 3, Criteria{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLoad_StaleMetadataTruncatesIndexTail(t *testing.T) {
	dir := t.TempDir()
	sh, _ := New("2024-01-02", 1)
	_, _ = sh.Append([][]float32{{1}}, []models.Metadata{meta("x", `{"i":0}`, nil)})
	require.NoError(t, sh.Save(dir))
	staleMeta, _ := os.ReadFile(MetadataPath(dir, "2024-01-02"))

	// Simulate a crash after the index write of the next save.
	_, _ = sh.Append([][]float32{{2}}, []models.Metadata{meta("x", `{"i":1}`, nil)})
	require.NoError(t, sh.Save(dir))
	require.NoError(t, os.WriteFile(MetadataPath(dir, "2024-01-02"), staleMeta, 0644))

	loaded, err := Load(dir, "2024-01-02", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	hits, _ := loaded.Search([]float32{2}, 5, Criteria{})
	require.Len(t, hits, 1)
	assert.JSONEq(t, `{"i":0}`, string(hits[0].Metadata.Payload))
}

func TestLoad_MoreMetadataThanVectorsIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	sh, _ := New("2024-01-02", 1)
	require.NoError(t, sh.Save(dir))
	require.NoError(t, os.WriteFile(MetadataPath(dir, "2024-01-02"), []byte(`[{"type":"x","data":{}}]`), 0644))
	_, err := Load(dir, "2024-01-02", 1, nil)
	assert.ErrorIs(t, err, ErrCorruptShard)
}

func TestLoad_DimensionChangeIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	sh, _ := New("2024-01-02", 3)
	require.NoError(t, sh.Save(dir))
	_, err := Load(dir, "2024-01-02", 4, nil)
	require.ErrorIs(t, err, ErrCorruptShard)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRemove_MissingIsNotError(t *testing.T) {
	assert.NoError(t, Remove(t.TempDir(), "2024-01-02"))
}

func TestPersistenceError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := error(&PersistenceError{Date: "2024-01-01", Op: "save index", Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "2024-01-01")
}
