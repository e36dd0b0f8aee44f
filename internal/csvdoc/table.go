package csvdoc

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Table is a CSV document with arbitrary columns.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable parses CSV with a header line. Rows may have a different
// number of fields than the header.
func ReadTable(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	cr := csv.NewReader(bytes.NewReader(stripBOM(data)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("csv has no header")
	}
	return &Table{Header: records[0], Rows: records[1:]}, nil
}

// Encode writes the header and rows as CSV.
func (t *Table) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// Bytes returns the encoded table.
func (t *Table) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// recordSize is the number of bytes one record takes once encoded.
func recordSize(record []string) int {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	_ = cw.Write(record)
	cw.Flush()
	return buf.Len()
}
