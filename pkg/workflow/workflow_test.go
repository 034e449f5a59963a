package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/synthdata/internal/models"
	"github.com/xhad/synthdata/internal/types"
	"github.com/xhad/synthdata/pkg/config"
	"github.com/xhad/synthdata/pkg/llm"
	"github.com/xhad/synthdata/pkg/store"
	"github.com/xhad/synthdata/pkg/workflow"
)

// backend answers by prompt kind. Text containing FAIL gets a permanent
// error.
type backend struct {
	checkErr error
}

func (b *backend) Name() string { return "fake" }

func (b *backend) Check(context.Context) error { return b.checkErr }

func (b *backend) Send(_ context.Context, messages []models.Message, _ llm.Params) (string, error) {
	all := ""
	for _, m := range messages {
		all += m.Content + "\n"
	}
	if strings.Contains(all, "FAIL") {
		return "", &llm.Error{Kind: llm.Permanent, Provider: "fake", Status: 400, Message: "bad request"}
	}

	switch {
	case len(messages) == 2 && strings.HasPrefix(messages[0].Content, "Summarize"):
		return "A short summary.", nil
	case strings.Contains(all, "Rate each"):
		return `[{"rating": 9}, {"rating": 4}]`, nil
	case strings.Contains(all, "question-answer pairs"):
		return `[{"question":"Q1?","answer":"A1."},{"question":"Q2?","answer":"A2."}]`, nil
	case strings.Contains(all, "reasoning examples"):
		return `[{"question":"Why?","reasoning":"Because.","answer":"So."}]`, nil
	case strings.Contains(all, "enhance the given conversation"):
		return `[{"role":"user","content":"q"},{"role":"assistant","content":"Step 1. a"}]`, nil
	}
	return "", errors.New("unexpected prompt")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	root := t.TempDir()
	cfg.Paths.Parsed = filepath.Join(root, "parsed")
	cfg.Paths.Generated = filepath.Join(root, "generated")
	cfg.Paths.Curated = filepath.Join(root, "curated")
	cfg.Paths.Final = filepath.Join(root, "final")
	return cfg
}

func newWorkflow(t *testing.T, cfg *config.Config, b *backend) *workflow.Workflow {
	t.Helper()
	w, err := workflow.NewWithConfig(workflow.WorkflowConfig{
		Config: cfg,
		Client: llm.NewWithBackend(b, llm.ClientConfig{MaxRetries: 1}),
	})
	require.NoError(t, err)
	return w
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestIngest_Directory(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{
		"a.txt":    "Plain text.\r\n",
		"b.md":     "# Heading\n\n\n\nBody.",
		"c.csv":    "skipped,file",
		"page.htm": "<html><body><p>From HTML.</p></body></html>",
	})

	var (
		mu     sync.Mutex
		events []workflow.Event
	)
	w, err := workflow.NewWithConfig(workflow.WorkflowConfig{
		Config: cfg,
		OnProgress: func(e workflow.Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	summary, err := w.Ingest(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Successful)
	assert.Zero(t, summary.Failed)

	data, err := os.ReadFile(filepath.Join(cfg.Paths.Parsed, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "# Heading\n\nBody.", string(data))

	data, err = os.ReadFile(filepath.Join(cfg.Paths.Parsed, "page.txt"))
	require.NoError(t, err)
	assert.Equal(t, "From HTML.", string(data))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, workflow.Event{Stage: "ingest", Done: 3, Total: 3}, last)
}

type failingParser struct{}

func (failingParser) Parse(_ context.Context, source string) (string, error) {
	if strings.HasSuffix(source, "bad.txt") {
		return "", errors.New("corrupt file")
	}
	return "ok", nil
}

func TestIngest_IsolatesFailures(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{"bad.txt": "x", "good.txt": "y"})

	w, err := workflow.NewWithConfig(workflow.WorkflowConfig{Config: cfg, Parser: failingParser{}})
	require.NoError(t, err)

	summary, err := w.Ingest(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, filepath.Join(dir, "bad.txt"), summary.Errors[0].Source)
	assert.Contains(t, summary.Errors[0].Error, "corrupt file")
}

func TestIngest_URLReportsFetchedPages(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><body><main><p>Index page.</p><a href="/guide">Guide</a></main></body></html>`)
		case "/guide":
			fmt.Fprint(w, `<html><body><main><p>Guide page.</p></main></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer site.Close()

	cfg := testConfig(t)
	cfg.Ingest.MaxDepth = 1
	cfg.Ingest.RateLimit = 100

	var (
		mu      sync.Mutex
		fetched []string
	)
	w, err := workflow.NewWithConfig(workflow.WorkflowConfig{
		Config: cfg,
		OnProgress: func(e workflow.Event) {
			if e.Stage == workflow.StageFetch {
				mu.Lock()
				fetched = append(fetched, e.Source)
				mu.Unlock()
			}
		},
	})
	require.NoError(t, err)

	summary, err := w.Ingest(context.Background(), site.URL+"/", "")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Successful)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{site.URL + "/", site.URL + "/guide"}, fetched)
}

func TestIngest_MissingInput(t *testing.T) {
	w := newWorkflow(t, testConfig(t), &backend{})
	_, err := w.Ingest(context.Background(), filepath.Join(t.TempDir(), "nope"), "")
	assert.Error(t, err)
}

func TestCreate_QA(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{
		"good.txt":   "Cats are mammals.",
		"broken.txt": "FAIL this one.",
		"ignored.md.bak": "not a source",
	})
	w := newWorkflow(t, cfg, &backend{})

	summary, err := w.Create(context.Background(), dir, "", workflow.CreateOptions{Type: workflow.TypeQA, Num: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 1, summary.Results[0].Items)

	var result models.QAResult
	readJSON(t, filepath.Join(cfg.Paths.Generated, "good_qa_pairs.json"), &result)
	assert.Equal(t, "A short summary.", result.Summary)
	assert.Equal(t, []models.QAPair{{Question: "Q1?", Answer: "A1."}}, result.QAPairs)
}

func TestCreate_SummaryAndCoT(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{"doc.txt": "Some text."})
	w := newWorkflow(t, cfg, &backend{})

	_, err := w.Create(context.Background(), dir, "", workflow.CreateOptions{Type: workflow.TypeSummary})
	require.NoError(t, err)
	var summary map[string]string
	readJSON(t, filepath.Join(cfg.Paths.Generated, "doc_summary.json"), &summary)
	assert.Equal(t, "A short summary.", summary["summary"])

	_, err = w.Create(context.Background(), dir, "", workflow.CreateOptions{Type: workflow.TypeCoT})
	require.NoError(t, err)
	var cot models.CotResult
	readJSON(t, filepath.Join(cfg.Paths.Generated, "doc_cot_examples.json"), &cot)
	require.Len(t, cot.Examples, 1)
	require.Len(t, cot.Conversations, 1)
}

func TestCreate_CoTEnhance(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{
		"single.json": `[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]`,
		"many.json":   `{"conversations":[[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]]}`,
	})
	w := newWorkflow(t, cfg, &backend{})

	summary, err := w.Create(context.Background(), dir, "", workflow.CreateOptions{Type: workflow.TypeCoTEnhance})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Successful)

	var out struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	readJSON(t, filepath.Join(cfg.Paths.Generated, "single_enhanced.json"), &out)
	require.Len(t, out.Conversations, 1)
	assert.Equal(t, "Step 1. a", out.Conversations[0][1].Content)
}

func TestCreate_CoTEnhanceLimit(t *testing.T) {
	cfg := testConfig(t)
	conv := `[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]`
	dir := writeFiles(t, map[string]string{
		"many.json": `{"conversations":[` + conv + `,` + conv + `,` + conv + `]}`,
	})
	w := newWorkflow(t, cfg, &backend{})

	summary, err := w.Create(context.Background(), dir, "", workflow.CreateOptions{Type: workflow.TypeCoTEnhance, Num: 2})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 2, summary.Results[0].Items)

	var out struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	readJSON(t, filepath.Join(cfg.Paths.Generated, "many_enhanced.json"), &out)
	assert.Len(t, out.Conversations, 2)
}

func TestCreate_Preconditions(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{"doc.txt": "text"})

	w := newWorkflow(t, cfg, &backend{})
	_, err := w.Create(context.Background(), dir, "", workflow.CreateOptions{Type: "poem"})
	assert.ErrorContains(t, err, "unknown content type")

	down := newWorkflow(t, cfg, &backend{checkErr: errors.New("connection refused")})
	_, err = down.Create(context.Background(), dir, "", workflow.CreateOptions{})
	assert.ErrorContains(t, err, "not available")
}

func TestCurate(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{
		"doc_qa_pairs.json": `{"summary":"s","qa_pairs":[{"question":"Q1?","answer":"A1."},{"question":"Q2?","answer":"A2."}]}`,
		"empty.json":        `{"summary":"s","qa_pairs":[]}`,
	})
	w := newWorkflow(t, cfg, &backend{})

	summary, err := w.Curate(context.Background(), dir, "", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)

	var result models.CurateResult
	readJSON(t, filepath.Join(cfg.Paths.Curated, "doc_qa_pairs_curated.json"), &result)
	assert.Equal(t, "s", result.Summary)
	require.Len(t, result.FilteredPairs, 1)
	assert.Equal(t, "Q1?", result.FilteredPairs[0].Question)
	assert.Equal(t, 9.0, result.FilteredPairs[0].Rating)
	assert.Equal(t, 0.5, result.Metrics.RetentionRate)
}

func TestSaveAs_JSON(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{
		"doc_curated.json": `{"filtered_pairs":[{"question":"Q1?","answer":"A1.","rating":9}],"metrics":{"total":2}}`,
	})
	w := newWorkflow(t, cfg, &backend{})

	summary, err := w.SaveAs(context.Background(), dir, "", "alpaca", "")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Successful)

	out := filepath.Join(cfg.Paths.Final, "doc_curated_alpaca.json")
	assert.Equal(t, out, summary.Results[0].Output)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"instruction":"Q1?","input":"","output":"A1."}]`, string(data))

	_, err = w.SaveAs(context.Background(), dir, "", "csv", "")
	assert.Error(t, err)

	_, err = w.SaveAs(context.Background(), dir, "", "jsonl", "s3")
	assert.ErrorContains(t, err, "unknown storage")
}

type memoryStore struct {
	datasets map[string][]json.RawMessage
	closed   bool
}

func (m *memoryStore) Store(_ context.Context, dataset, _ string, records []json.RawMessage) (int, error) {
	m.datasets[dataset] = records
	return len(records), nil
}

func (m *memoryStore) Query(context.Context, string, int) ([]store.Record, error) { return nil, nil }

func (m *memoryStore) Close() { m.closed = true }

func TestSaveAs_Postgres(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{
		"doc.json": `{"qa_pairs":[{"question":"Q1?","answer":"A1."},{"question":"Q2?","answer":"A2."}]}`,
	})

	mem := &memoryStore{datasets: map[string][]json.RawMessage{}}
	w, err := workflow.NewWithConfig(workflow.WorkflowConfig{
		Config:    cfg,
		OpenStore: func(context.Context) (types.DatasetStore, error) { return mem, nil },
	})
	require.NoError(t, err)

	summary, err := w.SaveAs(context.Background(), dir, "", "chatml", workflow.StoragePostgres)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, "postgres:doc", summary.Results[0].Output)
	assert.Len(t, mem.datasets["doc"], 2)
	assert.True(t, mem.closed)
}

func TestEach_StopsOnCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	dir := writeFiles(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	w, err := workflow.NewWithConfig(workflow.WorkflowConfig{Config: cfg, Parser: failingParser{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := w.Ingest(ctx, dir, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Successful)
}
