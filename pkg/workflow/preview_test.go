package workflow_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/synthdata/pkg/workflow"
)

func TestPreview(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.txt":       "text",
		"b.md":        "# md",
		"c.pdf":       "%PDF",
		"d.json":      `{"qa_pairs":[]}`,
		"e.csv":       "x,y",
		"notes.TXT":   "upper",
		"chat.json":   `[]`,
		"archive.zip": "zip",
	})

	tests := []struct {
		name        string
		stage       string
		contentType string
		supported   int
		byExtension map[string]int
	}{
		{name: "ingest", stage: "ingest", supported: 4, byExtension: map[string]int{".txt": 2, ".md": 1, ".pdf": 1}},
		{name: "create", stage: "create", supported: 3, byExtension: map[string]int{".txt": 2, ".md": 1}},
		{name: "cot-enhance", stage: "create", contentType: workflow.TypeCoTEnhance, supported: 2, byExtension: map[string]int{".json": 2}},
		{name: "curate", stage: "curate", supported: 2, byExtension: map[string]int{".json": 2}},
		{name: "save-as", stage: "save-as", supported: 2, byExtension: map[string]int{".json": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats, err := workflow.Preview(tt.stage, dir, tt.contentType)
			require.NoError(t, err)
			assert.Equal(t, 8, stats.TotalFiles)
			assert.Equal(t, tt.supported, stats.SupportedFiles)
			assert.Equal(t, 8-tt.supported, stats.UnsupportedFiles)
			assert.Equal(t, tt.byExtension, stats.ByExtension)
			assert.Len(t, stats.Files, tt.supported)
			assert.IsIncreasing(t, stats.Files)
		})
	}
}

func TestPreview_SingleSourceAndErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{"doc.txt": "text"})

	stats, err := workflow.Preview("create", filepath.Join(dir, "doc.txt"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SupportedFiles)

	stats, err = workflow.Preview("curate", filepath.Join(dir, "doc.txt"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnsupportedFiles)
	assert.Empty(t, stats.Files)

	stats, err = workflow.Preview("ingest", "https://example.com/docs", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"url": 1}, stats.ByExtension)

	_, err = workflow.Preview("ingest", filepath.Join(dir, "missing"), "")
	assert.ErrorContains(t, err, "input not found")

	_, err = workflow.Preview("train", dir, "")
	assert.ErrorContains(t, err, "unknown stage")
}
