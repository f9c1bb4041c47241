package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/shard"
)

func writeShard(t *testing.T, dir, date string, vectors [][]float32) {
	t.Helper()
	sh, err := shard.New(date, len(vectors[0]))
	if err != nil {
		t.Fatal(err)
	}
	metas := make([]models.Metadata, len(vectors))
	for i := range metas {
		metas[i], err = models.NewMetadata("lead", models.Record{"n": i}, nil)
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := sh.Append(vectors, metas); err != nil {
		t.Fatal(err)
	}
	if err := sh.Save(dir); err != nil {
		t.Fatal(err)
	}
}

func TestExportRestore_RoundTrip(t *testing.T) {
	src := t.TempDir()
	writeShard(t, src, "2024-01-03", [][]float32{{1, 0}, {0, 1}})
	writeShard(t, src, "2024-01-04", [][]float32{{0.5, 0.5}})
	if err := os.WriteFile(filepath.Join(src, "notes.txt"), []byte("not a shard"), 0644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	sum, err := Export(context.Background(), src, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Files != 4 {
		t.Errorf("exported %d files, want 4", sum.Files)
	}
	if len(sum.Dates) != 2 || sum.Dates[0] != "2024-01-04" {
		t.Errorf("dates = %v", sum.Dates)
	}

	dst := filepath.Join(t.TempDir(), "restored")
	rsum, err := Restore(context.Background(), &buf, dst)
	if err != nil {
		t.Fatal(err)
	}
	if rsum.Files != 4 || rsum.Bytes != sum.Bytes {
		t.Errorf("restore summary = %+v, export summary = %+v", rsum, sum)
	}
	if _, err := os.Stat(filepath.Join(dst, "notes.txt")); !os.IsNotExist(err) {
		t.Error("non-artifact file should not be exported")
	}

	sh, err := shard.Load(dst, "2024-01-03", 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sh.Len() != 2 {
		t.Errorf("restored shard has %d vectors, want 2", sh.Len())
	}
}

func TestExportFile_RestoreFile(t *testing.T) {
	src := t.TempDir()
	writeShard(t, src, "2024-02-10", [][]float32{{1, 2, 3}})
	snap := filepath.Join(t.TempDir(), "out", "snap.tar.zst")

	if _, err := ExportFile(context.Background(), src, snap, WithLevel(3)); err != nil {
		t.Fatal(err)
	}
	dst := t.TempDir()
	sum, err := RestoreFile(context.Background(), snap, dst)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Files != 2 {
		t.Errorf("restored %d files, want 2", sum.Files)
	}
	if _, err := os.Stat(shard.IndexPath(dst, "2024-02-10")); err != nil {
		t.Error(err)
	}
}

func TestExport_EmptyRoot(t *testing.T) {
	var buf bytes.Buffer
	sum, err := Export(context.Background(), t.TempDir(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Files != 0 || len(sum.Dates) != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if _, err := Export(context.Background(), filepath.Join(t.TempDir(), "missing"), &buf); err == nil {
		t.Error("expected error for missing root")
	}
}

func snapshot(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(zw)
	for name, body := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestRestore_RejectsTraversal(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "shards")
	buf := snapshot(t, map[string]string{"../metadata_2024-01-01.json": "[]"})

	_, err := Restore(context.Background(), buf, root)
	if !errors.Is(err, ErrUnsafeEntry) {
		t.Fatalf("err = %v, want ErrUnsafeEntry", err)
	}
	if _, err := os.Stat(filepath.Join(base, "metadata_2024-01-01.json")); !os.IsNotExist(err) {
		t.Error("entry escaped the storage root")
	}
}

func TestRestore_SkipsUnknownEntries(t *testing.T) {
	root := t.TempDir()
	buf := snapshot(t, map[string]string{
		"./metadata_2024-01-01.json": "[]",
		"metadata_2024-13-40.json":   "[]",
		"readme.md":                  "hi",
	})
	sum, err := Restore(context.Background(), buf, root)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Files != 1 || len(sum.Dates) != 1 || sum.Dates[0] != "2024-01-01" {
		t.Errorf("summary = %+v", sum)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Errorf("root holds %d entries, want 1", len(entries))
	}
}

func TestEntryName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"index_2024-01-01.vec", "index_2024-01-01.vec", true},
		{"./index_2024-01-01.vec", "index_2024-01-01.vec", true},
		{"sub/index_2024-01-01.vec", "", false},
		{"/etc/passwd", "", false},
		{"..", "", false},
		{"..\\evil", "", false},
	}
	for _, tt := range tests {
		got, err := entryName(tt.raw)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("entryName(%q) = %q, %v", tt.raw, got, err)
		}
	}
}
