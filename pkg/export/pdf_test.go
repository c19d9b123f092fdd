package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFExporterRender(t *testing.T) {
	exporter := NewPDFExporter()

	data, err := exporter.Render(Document{
		Heading: "Change Request Document",
		Rows: []Row{
			{Label: "Title", Value: "Upgrade router firmware"},
			{Label: "Status", Value: "Pending"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestPDFExporterRequiresRows(t *testing.T) {
	exporter := NewPDFExporter()

	_, err := exporter.Render(Document{Heading: "Empty"})
	assert.Error(t, err)
}
