package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/crmrecall/internal/models"
)

// LoadRecordFile reads a record file. Two shapes are accepted:
//
//	{"category": "contacts", "tags": {...}, "records": [{...}, ...]}
//	[{...}, ...]   // category taken from the file name, e.g. contacts.json
func LoadRecordFile(path string) (*models.RecordFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record file: %w", err)
	}
	return ParseRecordFile(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// ParseRecordFile decodes record file content; defaultCategory applies to bare arrays
// and to objects without a category.
func ParseRecordFile(data []byte, defaultCategory string) (*models.RecordFile, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("record file is empty")
	}
	rf := &models.RecordFile{}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &rf.Records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, rf); err != nil {
		return nil, fmt.Errorf("decode record file: %w", err)
	}
	if rf.Category == "" {
		rf.Category = defaultCategory
	}
	for i, r := range rf.Records {
		if r == nil {
			return nil, fmt.Errorf("record %d is null", i)
		}
	}
	return rf, nil
}
