// Package models defines core data structures for records, metadata envelopes, queries, and search results.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Record is one structured input item. Its canonical JSON encoding is what gets embedded.
type Record map[string]any

// CanonicalText returns the deterministic JSON encoding of the record (keys sorted).
func (r Record) CanonicalText() (string, error) {
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(b), nil
}

// Metadata is the envelope stored alongside each vector, in the same position.
type Metadata struct {
	Category string            `json:"type"`
	Payload  json.RawMessage   `json:"data"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// NewMetadata builds an envelope for record under category with stringified extras.
func NewMetadata(category string, record Record, extras map[string]any) (Metadata, error) {
	payload, err := json.Marshal(map[string]any(record))
	if err != nil {
		return Metadata{}, fmt.Errorf("marshal record: %w", err)
	}
	return Metadata{Category: category, Payload: payload, Tags: StringifyTags(extras)}, nil
}

// StringifyTags converts arbitrary extras into string tags. Strings are kept as-is,
// composite values are JSON-encoded, everything else goes through fmt.Sprint.
func StringifyTags(extras map[string]any) map[string]string {
	if len(extras) == 0 {
		return nil
	}
	tags := make(map[string]string, len(extras))
	for k, v := range extras {
		switch val := v.(type) {
		case string:
			tags[k] = val
		case map[string]any, []any:
			b, err := json.Marshal(val)
			if err != nil {
				tags[k] = fmt.Sprint(val)
				continue
			}
			tags[k] = string(b)
		default:
			tags[k] = fmt.Sprint(val)
		}
	}
	return tags
}

// TagPairs returns tags as sorted "key=value" strings.
func TagPairs(tags map[string]string) []string {
	out := make([]string, 0, len(tags))
	for k, v := range tags {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// RecordFile is the on-disk shape accepted by the watcher and the ingest command.
type RecordFile struct {
	Category string         `json:"category"`
	Tags     map[string]any `json:"tags,omitempty"`
	Records  []Record       `json:"records"`
}

// Batch is one ingestion call as recorded in the journal.
type Batch struct {
	ID         string    `json:"id" db:"id"`
	Category   string    `json:"category" db:"category"`
	ShardDate  string    `json:"shard_date" db:"shard_date"`
	Count      int       `json:"count" db:"record_count"`
	Source     string    `json:"source,omitempty" db:"source"`
	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`
}

// IngestResult summarizes an ingestion call.
type IngestResult struct {
	BatchID   string `json:"batch_id,omitempty"`
	Count     int    `json:"count"`
	Total     int    `json:"total"`
	ShardDate string `json:"shard_date,omitempty"`
	Warning   string `json:"warning,omitempty"`
}
