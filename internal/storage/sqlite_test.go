package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/crmrecall/internal/models"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "nested", "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestSQLiteJournal_CreateGetList(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"b1", "b2", "b3"} {
		b := &models.Batch{
			ID:         id,
			Category:   "contacts",
			ShardDate:  "2024-01-02",
			Count:      i + 1,
			Source:     "api",
			IngestedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := j.CreateBatch(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	got, err := j.GetBatch(ctx, "b2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Count != 2 || got.Category != "contacts" || got.Source != "api" {
		t.Errorf("got %+v", got)
	}
	if _, err := j.GetBatch(ctx, "missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("missing batch err = %v, want ErrBatchNotFound", err)
	}

	list, err := j.ListBatches(ctx, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "b3" {
		t.Errorf("list = %+v", list)
	}

	nb, _ := j.CountBatches(ctx)
	nr, _ := j.CountRecords(ctx)
	if nb != 3 || nr != 6 {
		t.Errorf("counts = %d batches, %d records", nb, nr)
	}
}

func TestSQLiteJournal_DeleteBatchesForDates(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	for _, b := range []*models.Batch{
		{ID: "a", Category: "x", ShardDate: "2024-01-01", Count: 1},
		{ID: "b", Category: "x", ShardDate: "2024-01-02", Count: 2},
		{ID: "c", Category: "x", ShardDate: "2024-01-03", Count: 3},
	} {
		if err := j.CreateBatch(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	n, err := j.DeleteBatchesForDates(ctx, []string{"2024-01-01", "2024-01-02"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if n, _ := j.DeleteBatchesForDates(ctx, nil); n != 0 {
		t.Errorf("empty delete removed %d", n)
	}
	nr, _ := j.CountRecords(ctx)
	if nr != 3 {
		t.Errorf("records left = %d, want 3", nr)
	}
}

func TestSQLiteJournal_EmptyCounts(t *testing.T) {
	j := newTestJournal(t)
	nr, err := j.CountRecords(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if nr != 0 {
		t.Errorf("CountRecords on empty journal = %d", nr)
	}
}
