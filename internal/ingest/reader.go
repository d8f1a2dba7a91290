package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/tphakala/voterimport/internal/errors"
)

// ctxCheckInterval is how many records are read between context checks.
const ctxCheckInterval = 1000

// Table is a fully read CSV file.
type Table struct {
	Header []string
	Rows   []RawRow
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// HasColumn reports whether the header contains name.
func (t *Table) HasColumn(name string) bool {
	for _, h := range t.Header {
		if h == name {
			return true
		}
	}
	return false
}

// SchemaError rejects a whole file before any batch is dispatched.
type SchemaError struct {
	Missing []string
	Column  string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required columns: " + strings.Join(e.Missing, ", ")
	}
	if e.Column != "" {
		return fmt.Sprintf("column %s %s", e.Column, e.Reason)
	}
	return e.Reason
}

// ReadRows reads a whole CSV file. A leading UTF-8 byte order mark is
// stripped and header names are trimmed.
func ReadRows(ctx context.Context, r io.Reader) (*Table, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, schemaFailure(&SchemaError{Reason: "file is empty"})
	}
	if err != nil {
		return nil, parseFailure(err, 1)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	table := &Table{Header: header}
	for line := 2; ; line++ {
		if line%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.New(err).
					Component("ingest").
					Category(errors.CategoryTimeout).
					Context("operation", "read_rows").
					Context("rows_read", len(table.Rows)).
					Build()
			}
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseFailure(err, line)
		}

		row := make(RawRow, len(header))
		for i, value := range record {
			if i < len(header) {
				row[header[i]] = value
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// ValidateSchema checks required columns and that VoterID and Age parse as
// integers in at least one row.
func ValidateSchema(table *Table) error {
	var missing []string
	for _, col := range RequiredColumns {
		if !table.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return schemaFailure(&SchemaError{Missing: missing})
	}

	if table.Len() == 0 {
		return nil
	}
	for _, col := range []string{ColVoterID, ColAge} {
		if !anyInteger(table.Rows, col) {
			return schemaFailure(&SchemaError{Column: col, Reason: "has no integer values"})
		}
	}
	return nil
}

func anyInteger(rows []RawRow, col string) bool {
	for _, row := range rows {
		if _, err := strconv.ParseInt(strings.TrimSpace(row[col]), 10, 64); err == nil {
			return true
		}
	}
	return false
}

func schemaFailure(se *SchemaError) error {
	return errors.New(se).
		Component("ingest").
		Category(errors.CategoryValidation).
		Context("operation", "validate_schema").
		Build()
}

func parseFailure(err error, line int) error {
	return errors.New(err).
		Component("ingest").
		Category(errors.CategoryFileParsing).
		Context("operation", "read_rows").
		Context("line", line).
		Build()
}
