// Package cli formats command output for crmrecall.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const dataPreviewLen = 200

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Day: %s | Type: %s\n", r.Rank, r.Score, r.ShardDate, r.Category)
		if len(r.Tags) > 0 {
			fmt.Fprintf(w, "Tags: %s\n", formatTags(r.Tags))
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(compactJSON(r.Data), dataPreviewLen))
	}
	return nil
}

// WriteStatus writes an index status report.
func WriteStatus(w io.Writer, status *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, status)
	}
	fmt.Fprintf(w, "Vectors:    %d\n", status.TotalVectors)
	fmt.Fprintf(w, "Dimension:  %d\n", status.Dimension)
	fmt.Fprintf(w, "Retention:  %d days\n", status.MaxDays)
	fmt.Fprintf(w, "Batches:    %d (%d records)\n", status.Batches, status.Records)
	fmt.Fprintf(w, "Disk usage: %s\n", HumanBytes(status.DiskBytes))
	if len(status.Shards) == 0 {
		fmt.Fprintln(w, "\nNo shards.")
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tVECTORS")
	for _, s := range status.Shards {
		fmt.Fprintf(tw, "%s\t%d\n", s.Date, s.Vectors)
	}
	return tw.Flush()
}

// WriteIngestResult writes the outcome of one ingested batch. source names the file or
// request it came from and may be empty.
func WriteIngestResult(w io.Writer, source string, result *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, result)
	}
	if source != "" {
		source += ": "
	}
	if result.Count == 0 {
		fmt.Fprintf(w, "%sno records\n", source)
		return nil
	}
	fmt.Fprintf(w, "%sstored %d records in shard %s (batch %s, %d total)\n",
		source, result.Count, result.ShardDate, result.BatchID, result.Total)
	return nil
}

// HumanBytes formats n using binary units.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func formatTags(tags map[string]string) string {
	return strings.Join(models.TagPairs(tags), ", ")
}
