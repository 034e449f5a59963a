package format_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/synthdata/internal/models"
	"github.com/xhad/synthdata/pkg/format"
)

var pairs = format.Dataset{Pairs: []models.QAPair{
	{Question: "What is synthetic data?", Answer: "Data generated by a model."},
	{Question: "Why fine-tune?", Answer: "To adapt a model to a task."},
}}

func TestEncode_JSONL(t *testing.T) {
	data, err := format.Encode(pairs, format.JSONL, true)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first models.QAPair
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, pairs.Pairs[0], first)
}

func TestEncode_Alpaca(t *testing.T) {
	data, err := format.Encode(pairs, format.Alpaca, false)
	require.NoError(t, err)

	var records []map[string]string
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, map[string]string{
		"instruction": "What is synthetic data?",
		"input":       "",
		"output":      "Data generated by a model.",
	}, records[0])
}

func TestEncode_FT(t *testing.T) {
	data, err := format.Encode(pairs, format.FT, true)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  ", "pretty output is indented")

	var records []struct {
		Messages models.Conversation `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)

	msgs := records[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, models.Message{Role: models.RoleSystem, Content: "You are a helpful assistant."}, msgs[0])
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "What is synthetic data?"}, msgs[1])
	assert.Equal(t, models.Message{Role: models.RoleAssistant, Content: "Data generated by a model."}, msgs[2])
}

func TestEncode_ChatMLIsLineDelimited(t *testing.T) {
	data, err := format.Encode(pairs, format.ChatML, true)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)))
		assert.Contains(t, line, `"messages"`)
	}
}

func TestEncode_UnknownFormat(t *testing.T) {
	_, err := format.Encode(pairs, "csv", false)
	assert.Error(t, err)
}

func TestEncode_ConversationsToPairs(t *testing.T) {
	d := format.Dataset{Conversations: []models.Conversation{{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	}}}

	data, err := format.Encode(d, format.Alpaca, false)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"instruction":"q","input":"","output":"a"}]`, string(data))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantPairs int
		wantConvs int
		wantErr   bool
	}{
		{
			name:      "generated qa",
			input:     `{"summary":"s","qa_pairs":[{"question":"q","answer":"a"}]}`,
			wantPairs: 1,
		},
		{
			name:      "curated pairs win over qa pairs",
			input:     `{"qa_pairs":[{"question":"q","answer":"a"},{"question":"q2","answer":"a2"}],"filtered_pairs":[{"question":"q","answer":"a","rating":8}]}`,
			wantPairs: 1,
		},
		{
			name:      "cot result",
			input:     `{"cot_examples":[{"question":"q","reasoning":"r","answer":"a"}],"conversations":[[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]]}`,
			wantPairs: 1,
			wantConvs: 1,
		},
		{
			name:      "bare pair array",
			input:     `[{"question":"q","answer":"a"},{"question":"q2","answer":"a2"}]`,
			wantPairs: 2,
		},
		{
			name:      "bare conversation array",
			input:     `[[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]]`,
			wantConvs: 1,
		},
		{
			name:    "no known keys",
			input:   `{"items":[]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `question: q`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := format.Parse([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, d.Pairs, tt.wantPairs)
			assert.Len(t, d.Conversations, tt.wantConvs)
		})
	}
}

func TestWriteFileAndLoad(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "doc_qa_pairs.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"qa_pairs":[{"question":"q","answer":"a"}]}`), 0o644))

	d, err := format.Load(src)
	require.NoError(t, err)

	out := filepath.Join(dir, "final", "doc"+format.Extension(format.ChatML))
	require.NoError(t, format.WriteFile(out, d, format.ChatML, false))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, ".jsonl", filepath.Ext(out))
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestRecords(t *testing.T) {
	for _, f := range format.Formats {
		t.Run(f, func(t *testing.T) {
			records, err := format.Records(pairs, f)
			require.NoError(t, err)
			assert.Len(t, records, 2)
		})
	}
}
