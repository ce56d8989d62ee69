package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Column describes one table column. Width is a relative weight used by the
// PDF renderer; zero means an equal share.
type Column struct {
	Title string
	Width float64
	Right bool
}

// Table is the tabular content shared by every renderer. Each row must have
// one cell per column.
type Table struct {
	Title   string
	Columns []Column
	Rows    [][]string
	Footer  []string
}

func (t Table) validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table requires at least one column")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

// CSVExporter renders tables as CSV. Titles and footers are not emitted so
// the output stays machine-readable.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV bytes for the table.
func (e *CSVExporter) Render(table Table) ([]byte, error) {
	if err := table.validate(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	header := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		header[i] = col.Title
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := writer.WriteAll(table.Rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}
