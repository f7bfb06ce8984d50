package validate

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// RowsSchema is the default schema for JSON exports: a list of row objects.
const RowsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {"type": "object"}
}`

// CSVStats summarizes a parsed CSV export
type CSVStats struct {
	Columns []string
	Rows    int
}

// CSV parses data as RFC 4180 text with a header row. An empty body is
// accepted as an export with no columns; a header with no data rows is valid.
func CSV(data []byte) (*CSVStats, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &CSVStats{}, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 0 // enforce the header's column count

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	for i, col := range header {
		if strings.TrimSpace(col) == "" {
			return nil, fmt.Errorf("CSV header column %d is empty", i+1)
		}
	}

	stats := &CSVStats{Columns: header}
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++
	}
	return stats, nil
}

// JSON validates data against schema, or RowsSchema when schema is empty.
func JSON(data []byte, schema string) error {
	if schema == "" {
		schema = RowsSchema
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if result.Valid() {
		return nil
	}

	var msgs []string
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}
