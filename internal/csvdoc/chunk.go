package csvdoc

import (
	"errors"
	"fmt"
)

// DefaultRowsPerPart is the row count used by ChunkByRows when none is given.
const DefaultRowsPerPart = 30

// ErrRowTooLarge is returned when a single row cannot fit in a part.
var ErrRowTooLarge = errors.New("row exceeds part size")

// ChunkBySize splits t into parts whose encoded size, header included, is at
// most maxBytes. Rows are never split and keep their order.
func ChunkBySize(t *Table, maxBytes int) ([]*Table, error) {
	if maxBytes <= 0 {
		return []*Table{t}, nil
	}

	headerSize := recordSize(t.Header)
	var (
		parts   []*Table
		current *Table
		size    int
	)
	for i, row := range t.Rows {
		rowSize := recordSize(row)
		if headerSize+rowSize > maxBytes {
			return nil, fmt.Errorf("%w: row %d is %d bytes, limit %d", ErrRowTooLarge, i+1, headerSize+rowSize, maxBytes)
		}
		if current == nil || size+rowSize > maxBytes {
			current = &Table{Header: t.Header}
			parts = append(parts, current)
			size = headerSize
		}
		current.Rows = append(current.Rows, row)
		size += rowSize
	}
	return parts, nil
}

// ChunkByRows splits t into parts of at most n rows each.
func ChunkByRows(t *Table, n int) []*Table {
	if n <= 0 {
		n = DefaultRowsPerPart
	}
	var parts []*Table
	for start := 0; start < len(t.Rows); start += n {
		end := start + n
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		parts = append(parts, &Table{Header: t.Header, Rows: t.Rows[start:end]})
	}
	return parts
}
