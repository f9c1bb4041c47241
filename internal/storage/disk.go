package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Usage is the on-disk footprint of a storage root.
type Usage struct {
	IndexBytes    int64 `json:"index_bytes"`
	MetadataBytes int64 `json:"metadata_bytes"`
	OtherBytes    int64 `json:"other_bytes"`
}

// Total returns the sum of all categories.
func (u Usage) Total() int64 {
	return u.IndexBytes + u.MetadataBytes + u.OtherBytes
}

// DiskUsage walks root and sums file sizes by artifact kind. A missing root is empty usage.
// extraPaths (e.g. the journal database) are counted as other bytes when they exist.
func DiskUsage(root string, extraPaths ...string) (Usage, error) {
	var u Usage
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		name := d.Name()
		switch {
		case strings.HasPrefix(name, "index_") && strings.HasSuffix(name, ".vec"):
			u.IndexBytes += info.Size()
		case strings.HasPrefix(name, "metadata_") && strings.HasSuffix(name, ".json"):
			u.MetadataBytes += info.Size()
		default:
			u.OtherBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	for _, p := range extraPaths {
		if p == "" || strings.HasPrefix(p, root+string(filepath.Separator)) {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Usage{}, err
		}
		if !info.IsDir() {
			u.OtherBytes += info.Size()
		}
	}
	return u, nil
}
