package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// JSONFile writes each partition's records to {dir}/{partition}.json
type JSONFile struct {
	dir string
}

// NewJSONFile creates a JSON file sink rooted at dir
func NewJSONFile(dir string) *JSONFile {
	return &JSONFile{dir: dir}
}

// Name returns "json"
func (s *JSONFile) Name() string { return "json" }

// Path returns the file a partition is written to
func (s *JSONFile) Path(partition string) string {
	return filepath.Join(s.dir, partition+".json")
}

// Write replaces the partition's file with the result's records
func (s *JSONFile) Write(ctx context.Context, result domain.PartitionResult) error {
	records := result.Records
	if records == nil {
		records = []*domain.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return writeFileAtomic(s.Path(result.Partition), append(data, '\n'))
}

// Close is a no-op
func (s *JSONFile) Close() error { return nil }

// CSVFile writes each partition's records to {dir}/{partition}.csv. Columns are
// the fixed record columns followed by every attribute present in the result.
type CSVFile struct {
	dir string
}

// NewCSVFile creates a CSV file sink rooted at dir
func NewCSVFile(dir string) *CSVFile {
	return &CSVFile{dir: dir}
}

// Name returns "csv"
func (s *CSVFile) Name() string { return "csv" }

// Path returns the file a partition is written to
func (s *CSVFile) Path(partition string) string {
	return filepath.Join(s.dir, partition+".csv")
}

var csvFixedColumns = []string{"key", "url", "partition", "scraped_at", "detail_merged"}

var featureGroups = []domain.FeatureGroup{domain.FeatureSafety, domain.FeatureComfort, domain.FeatureGeneral}

// Write replaces the partition's file with the result's records
func (s *CSVFile) Write(ctx context.Context, result domain.PartitionResult) error {
	fields := attributeColumns(result.Records)

	header := append([]string(nil), csvFixedColumns...)
	for _, f := range fields {
		header = append(header, string(f))
	}
	for _, g := range featureGroups {
		header = append(header, "features_"+string(g))
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range result.Records {
		row := []string{r.Key, r.URL, r.Partition, r.ScrapedAt.UTC().Format(time.RFC3339), strconv.FormatBool(r.DetailMerged)}
		for _, f := range fields {
			row = append(row, r.Attrs.Text(f))
		}
		for _, g := range featureGroups {
			row = append(row, strings.Join(r.Features[g], "; "))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", r.Key, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return writeFileAtomic(s.Path(result.Partition), buf.Bytes())
}

// Close is a no-op
func (s *CSVFile) Close() error { return nil }

// attributeColumns is the sorted union of the fields set on any record
func attributeColumns(records []*domain.Record) []domain.Field {
	seen := map[domain.Field]bool{}
	var fields []domain.Field
	for _, r := range records {
		for _, f := range r.Attrs.Fields() {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
