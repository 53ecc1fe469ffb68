// Package catalog loads the reference product catalog from CSV and
// serializes catalog snapshots (records plus embeddings) for incremental
// re-indexing. The pipeline core treats catalog ingestion as external; this
// package belongs to the shell side of that boundary.
package catalog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"invoicemap/internal/logger"
	"invoicemap/pkg/models"
)

// wellKnownColumns are mapped onto named ProductRecord fields; every other
// header becomes a metadata key.
var wellKnownColumns = map[string]string{
	"id":         "id",
	"product_id": "id",
	"sku":        "id",
	"name":       "name",
	"product":    "name",
	"local_name": "local_name",
	"localname":  "local_name",
	"unit":       "unit",
	"uom":        "unit",
	"category":   "category",
}

// Reader parses catalog CSV files into ProductRecords.
type Reader struct {
	log zerolog.Logger
}

// NewReader creates a catalog reader.
func NewReader() *Reader {
	return &Reader{log: logger.WithComponent("catalog-reader")}
}

// Read parses CSV from r. The first row is the header; rows missing an id or
// a name are logged and skipped rather than aborting the load. Unrecognized
// columns land in Metadata with their header as key.
func (cr *Reader) Read(r io.Reader) ([]models.ProductRecord, error) {
	const op = "Read"

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header row: %w", op, err)
	}

	fields := make([]string, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if mapped, ok := wellKnownColumns[key]; ok {
			fields[i] = mapped
		} else {
			fields[i] = "meta:" + strings.TrimSpace(h)
		}
	}

	var records []models.ProductRecord
	rowNum := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			cr.log.Warn().Err(err).Int("row", rowNum).Msg("Skipping malformed CSV row")
			continue
		}

		record := cr.parseRow(fields, row)
		if record.ID == "" || record.Name == "" {
			cr.log.Warn().
				Int("row", rowNum).
				Str("id", record.ID).
				Str("name", record.Name).
				Msg("Skipping catalog row without id or name")
			continue
		}
		records = append(records, record)
	}

	cr.log.Info().
		Int("total_rows", rowNum-1).
		Int("parsed_records", len(records)).
		Msg("Catalog loaded")

	return records, nil
}

func (cr *Reader) parseRow(fields []string, row []string) models.ProductRecord {
	var record models.ProductRecord
	for i, field := range fields {
		if i >= len(row) {
			break
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}
		switch field {
		case "id":
			record.ID = value
		case "name":
			record.Name = value
		case "local_name":
			record.LocalName = value
		case "unit":
			record.Unit = value
		case "category":
			record.Category = value
		default:
			if record.Metadata == nil {
				record.Metadata = make(map[string]string)
			}
			record.Metadata[strings.TrimPrefix(field, "meta:")] = value
		}
	}
	return record
}

// LoadSnapshot reads a previously saved catalog snapshot (records with
// embeddings) from a JSON file.
func LoadSnapshot(path string) ([]models.ProductRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog snapshot: %w", err)
	}
	var records []models.ProductRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse catalog snapshot: %w", err)
	}
	return records, nil
}

// SaveSnapshot writes the catalog (including any embeddings) to a JSON file
// so a later run can re-index only new records.
func SaveSnapshot(path string, records []models.ProductRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog snapshot: %w", err)
	}
	return nil
}

// Merge overlays embeddings from a previous snapshot onto freshly loaded
// records, matching by id. Records whose embedding is already present are
// untouched.
func Merge(fresh []models.ProductRecord, snapshot []models.ProductRecord) []models.ProductRecord {
	embedded := make(map[string][]float64, len(snapshot))
	for _, rec := range snapshot {
		if rec.HasEmbedding() {
			embedded[rec.ID] = rec.Embedding
		}
	}
	for i := range fresh {
		if !fresh[i].HasEmbedding() {
			if vec, ok := embedded[fresh[i].ID]; ok {
				fresh[i].Embedding = vec
			}
		}
	}
	return fresh
}
