package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/crmrecall/internal/embedding"
	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/rolling"
	"github.com/hyperjump/crmrecall/internal/shard"
	"github.com/hyperjump/crmrecall/internal/storage"
)

const testDim = 32

func fixedNow() time.Time {
	return time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
}

func newTestPipeline(t *testing.T) (*Pipeline, *rolling.Manager, *storage.SQLiteJournal) {
	t.Helper()
	dir := t.TempDir()
	m, err := rolling.New(rolling.Options{Root: filepath.Join(dir, "index"), MaxDays: 7, Dimension: testDim},
		rolling.WithClock(fixedNow))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	j, err := storage.NewSQLiteJournal(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = j.Close() })
	p := NewPipeline(m, embedding.NewMockEmbedder(testDim), WithJournal(j))
	return p, m, j
}

func TestPipeline_Ingest(t *testing.T) {
	p, m, j := newTestPipeline(t)
	ctx := context.Background()

	records := []models.Record{
		{"id": "1", "name": "Ada Lovelace", "company": "Analytical"},
		{"id": "2", "name": "Grace Hopper", "company": "Navy"},
	}
	res, err := p.Ingest(ctx, "contacts", records, map[string]any{"query": "engineers", "page": 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 || res.Total != 2 || res.ShardDate != "2024-03-15" || res.BatchID == "" {
		t.Errorf("result = %+v", res)
	}

	b, err := j.GetBatch(ctx, res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Count != 2 || b.ShardDate != "2024-03-15" || b.Category != "contacts" {
		t.Errorf("journal batch = %+v", b)
	}

	// Querying with a record's exact canonical text finds that record first.
	text, _ := records[1].CanonicalText()
	q, _ := embedding.NewMockEmbedder(testDim).Embed(ctx, text)
	hits, err := m.Search(ctx, q, 1, shard.Criteria{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	meta := hits[0].Metadata
	if meta.Category != "contacts" || meta.Tags["query"] != "engineers" || meta.Tags["page"] != "2" {
		t.Errorf("metadata = %+v", meta)
	}
	var payload map[string]any
	if err := json.Unmarshal(meta.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["name"] != "Grace Hopper" {
		t.Errorf("payload = %v", payload)
	}
	if hits[0].Distance > 1e-5 {
		t.Errorf("distance = %f, want ~0", hits[0].Distance)
	}
}

func TestPipeline_IngestEmptyIsNoop(t *testing.T) {
	p, m, j := newTestPipeline(t)
	res, err := p.Ingest(context.Background(), "contacts", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 0 || res.BatchID != "" {
		t.Errorf("result = %+v", res)
	}
	if m.Stats().TotalVectors != 0 {
		t.Error("no vectors should be added")
	}
	if n, _ := j.CountBatches(context.Background()); n != 0 {
		t.Errorf("batches = %d", n)
	}
}

func TestPipeline_IngestRequiresCategory(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	if _, err := p.Ingest(context.Background(), "", []models.Record{{"a": 1}}, nil); err == nil {
		t.Error("expected error for missing category")
	}
}

type wrongDimEmbedder struct{ *embedding.MockEmbedder }

func (w wrongDimEmbedder) Dimensions() int { return testDim + 1 }

func TestPipeline_EmbeddingDimensionMismatch(t *testing.T) {
	_, m, _ := newTestPipeline(t)
	p := NewPipeline(m, wrongDimEmbedder{embedding.NewMockEmbedder(testDim)})
	_, err := p.Ingest(context.Background(), "contacts", []models.Record{{"a": 1}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if m.Stats().TotalVectors != 0 {
		t.Error("nothing should be added")
	}
}

type failingStore struct{ err error }

func (f failingStore) Add(context.Context, [][]float32, []models.Metadata) (int, error) {
	return 5, f.err
}
func (f failingStore) Today() string { return "2024-03-15" }

func TestPipeline_PersistenceErrorStillReturnsResult(t *testing.T) {
	perr := &shard.PersistenceError{Date: "2024-03-15", Op: "save index", Err: errors.New("disk full")}
	p := NewPipeline(failingStore{err: perr}, embedding.NewMockEmbedder(testDim))
	res, err := p.Ingest(context.Background(), "contacts", []models.Record{{"a": 1}}, nil)
	var pe *shard.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if res == nil || res.Total != 5 {
		t.Errorf("result = %+v", res)
	}

	p = NewPipeline(failingStore{err: shard.ErrLengthMismatch}, embedding.NewMockEmbedder(testDim))
	res, err = p.Ingest(context.Background(), "contacts", []models.Record{{"a": 1}}, nil)
	if !errors.Is(err, shard.ErrLengthMismatch) || res != nil {
		t.Errorf("res=%v err=%v", res, err)
	}
}

func TestPipeline_IngestFileAndPrune(t *testing.T) {
	p, _, j := newTestPipeline(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tickets.json")
	content := `{"category":"tickets","tags":{"pipeline":"support"},"records":[{"id":"t1","subject":"Login broken"}]}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := p.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := j.GetBatch(ctx, res.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Source != path || b.Category != "tickets" {
		t.Errorf("batch = %+v", b)
	}

	p.PruneJournal(ctx, []string{"2024-03-15"})
	if n, _ := j.CountBatches(ctx); n != 0 {
		t.Errorf("batches after prune = %d", n)
	}
}
