package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRendererWritesHeadersAndRows(t *testing.T) {
	table := Table{Headers: []string{"Program ID", "Status"}}
	table.AddRow("prog-1", "READY")
	table.AddRow("prog-1")

	out, err := NewCSVRenderer().Render(table)
	require.NoError(t, err)
	assert.Equal(t, "Program ID,Status\nprog-1,READY\nprog-1,\n", string(out))
}

func TestRenderersRequireHeaders(t *testing.T) {
	_, err := NewCSVRenderer().Render(Table{})
	require.Error(t, err)
	_, err = NewPDFRenderer().Render(Table{})
	require.Error(t, err)
}

func TestPDFRendererProducesDocument(t *testing.T) {
	table := Table{Title: "Closure report", Headers: []string{"A", "B"}}
	for i := 0; i < 80; i++ {
		table.AddRow("value", "a much longer comment that has to wrap inside its column on the page")
	}
	out, err := NewPDFRenderer().Render(table)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer("")
	require.NoError(t, err)
	assert.Equal(t, ".csv", r.Extension())

	r, err = NewRenderer("PDF")
	require.NoError(t, err)
	assert.Equal(t, ".pdf", r.Extension())

	_, err = NewRenderer("xlsx")
	require.Error(t, err)
}
