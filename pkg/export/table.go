package export

import (
	"fmt"
	"strings"
)

// Table is an ordered tabular report body.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// AddRow appends a row; missing trailing cells are left blank.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.Headers))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Renderer turns a Table into file bytes.
type Renderer interface {
	Render(table Table) ([]byte, error)
	Extension() string
}

// NewRenderer returns the renderer registered for format ("csv" or "pdf").
func NewRenderer(format string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		return NewCSVRenderer(), nil
	case "pdf":
		return NewPDFRenderer(), nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}
