// Package backup exports and restores shard artifacts as zstd-compressed tar snapshots.
package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/hyperjump/crmrecall/internal/shard"
)

// ErrUnsafeEntry is returned when a snapshot entry would escape the storage root.
var ErrUnsafeEntry = errors.New("unsafe snapshot entry")

// Summary describes what a snapshot export or restore touched.
type Summary struct {
	Files int      `json:"files"`
	Bytes int64    `json:"bytes"`
	Dates []string `json:"dates"`
}

type options struct {
	logger *zap.Logger
	level  zstd.EncoderLevel
}

// Option configures Export and Restore.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLevel sets the zstd compression level (1 fastest, 22 smallest).
func WithLevel(level int) Option {
	return func(o *options) { o.level = zstd.EncoderLevelFromZstd(level) }
}

func newOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop(), level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Export writes every shard artifact in root to w. Other files in root are ignored.
// Callers flush the index first so the snapshot matches memory.
func Export(ctx context.Context, root string, w io.Writer, opts ...Option) (Summary, error) {
	o := newOptions(opts)
	names, err := artifactNames(root)
	if err != nil {
		return Summary{}, err
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(o.level))
	if err != nil {
		return Summary{}, fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	var sum Summary
	dates := make(map[string]bool)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return sum, err
		}
		n, err := addFile(tw, filepath.Join(root, name), name)
		if err != nil {
			zw.Close()
			return sum, err
		}
		date, _ := shard.ParseArtifactName(name)
		dates[date] = true
		sum.Files++
		sum.Bytes += n
		o.logger.Debug("exported artifact", zap.String("file", name), zap.Int64("bytes", n))
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return sum, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return sum, fmt.Errorf("close zstd: %w", err)
	}
	sum.Dates = sortedKeys(dates)
	o.logger.Info("exported snapshot", zap.Int("files", sum.Files), zap.Strings("dates", sum.Dates))
	return sum, nil
}

func artifactNames(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, ok := shard.ParseArtifactName(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func addFile(tw *tar.Writer, src, name string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", name, err)
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("write header %s: %w", name, err)
	}
	n, err := io.Copy(tw, f)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", name, err)
	}
	return n, nil
}

// Restore extracts the shard artifacts in r into root, replacing files of the same name.
// Entries that are not shard artifacts are skipped; entries with path components are
// rejected with ErrUnsafeEntry. Restore into a root that no running process is serving.
func Restore(ctx context.Context, r io.Reader, root string, opts ...Option) (Summary, error) {
	o := newOptions(opts)
	if err := os.MkdirAll(root, 0755); err != nil {
		return Summary{}, fmt.Errorf("create storage root: %w", err)
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Summary{}, fmt.Errorf("open zstd stream: %w", err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)

	var sum Summary
	dates := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("read snapshot: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			o.logger.Warn("skipping non-file snapshot entry", zap.String("name", hdr.Name))
			continue
		}
		name, err := entryName(hdr.Name)
		if err != nil {
			return sum, err
		}
		date, ok := shard.ParseArtifactName(name)
		if !ok {
			o.logger.Warn("skipping unknown snapshot entry", zap.String("name", hdr.Name))
			continue
		}
		n, err := extract(tr, filepath.Join(root, name))
		if err != nil {
			return sum, fmt.Errorf("restore %s: %w", name, err)
		}
		dates[date] = true
		sum.Files++
		sum.Bytes += n
		o.logger.Debug("restored artifact", zap.String("file", name), zap.Int64("bytes", n))
	}
	sum.Dates = sortedKeys(dates)
	o.logger.Info("restored snapshot", zap.Int("files", sum.Files), zap.Strings("dates", sum.Dates))
	return sum, nil
}

// entryName returns the bare file name of a tar entry, allowing a leading "./".
func entryName(raw string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(raw, "\\", "/"))
	if clean == "." || strings.Contains(clean, "/") || clean == ".." {
		return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, raw)
	}
	return clean, nil
}

func extract(r io.Reader, dst string) (int64, error) {
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		os.Remove(tmp)
		return n, err
	}
	return n, nil
}

// ExportFile writes a snapshot of root to path.
func ExportFile(ctx context.Context, root, path string, opts ...Option) (Summary, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Summary{}, err
	}
	f, err := os.Create(path)
	if err != nil {
		return Summary{}, fmt.Errorf("create snapshot: %w", err)
	}
	sum, err := Export(ctx, root, f, opts...)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close snapshot: %w", cerr)
	}
	if err != nil {
		os.Remove(path)
	}
	return sum, err
}

// RestoreFile restores the snapshot at path into root.
func RestoreFile(ctx context.Context, path, root string, opts ...Option) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Restore(ctx, f, root, opts...)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}
