package parser_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/synthdata/pkg/parser"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_Text(t *testing.T) {
	path := writeFile(t, "notes.txt", "First line.  \r\nSecond line.\r\n\r\n\r\n\r\nNext paragraph.")

	text, err := parser.New().Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "First line.\nSecond line.\n\nNext paragraph.", text)
}

func TestParse_HTMLFile(t *testing.T) {
	path := writeFile(t, "page.html", `
		<html>
			<head><title>Guide</title><style>body { color: red; }</style></head>
			<body>
				<nav>Home | About</nav>
				<main>
					<h1>Installing</h1>
					<p>Run   the installer.</p>
					<ul><li>Step one</li><li>Step two</li></ul>
				</main>
				<footer>Privacy Policy</footer>
			</body>
		</html>`)

	text, err := parser.New().Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Installing\n\nRun the installer.\n\nStep one\n\nStep two", text)
}

func TestParse_Unsupported(t *testing.T) {
	path := writeFile(t, "data.csv", "a,b\n1,2")

	_, err := parser.New().Parse(context.Background(), path)
	assert.ErrorIs(t, err, parser.ErrUnsupported)
}

func TestParse_MissingFile(t *testing.T) {
	_, err := parser.New().Parse(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, parser.ErrUnsupported)
}

func TestSupported(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"doc.pdf", true},
		{"doc.PDF", true},
		{"slides.pptx", true},
		{"notes.md", true},
		{"https://example.com/docs", true},
		{"data.csv", false},
		{"archive.zip", false},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, parser.Supported(tt.source))
		})
	}
}

func TestParse_Tika(t *testing.T) {
	var (
		mu     sync.Mutex
		accept string
		body   string
	)
	tikaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tika":
			data, _ := io.ReadAll(r.Body)
			mu.Lock()
			accept = r.Header.Get("Accept")
			body = string(data)
			mu.Unlock()
			fmt.Fprint(w, "Extracted text.\n\n\n\nMore text.")
		case "/version":
			fmt.Fprint(w, "Apache Tika 2.9.1")
		default:
			http.NotFound(w, r)
		}
	}))
	defer tikaServer.Close()

	p := parser.NewWithConfig(parser.ParserConfig{TikaURL: tikaServer.URL})
	path := writeFile(t, "report.pdf", "%PDF-1.4 fake")

	text, err := p.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Extracted text.\n\nMore text.", text)

	mu.Lock()
	assert.Equal(t, "text/plain", accept)
	assert.Equal(t, "%PDF-1.4 fake", body)
	mu.Unlock()

	version, err := p.CheckTika(context.Background())
	require.NoError(t, err)
	assert.Contains(t, version, "Tika")
}

func TestParse_URLCrawl(t *testing.T) {
	var (
		mu      sync.Mutex
		fetched []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body><main>
			<p>Welcome page.</p>
			<a href="/docs/">Docs</a>
			<a href="/ignore/secret.html">Hidden</a>
			<a href="/manual.pdf">Manual</a>
			<a href="https://other.example.org/">Elsewhere</a>
		</main></body></html>`)
	})
	mux.HandleFunc("/docs/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Docs</title></head><body><article><p>Documentation body.</p></article></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := parser.NewWithConfig(parser.ParserConfig{
		MaxDepth:       1,
		RateLimit:      1000,
		IgnorePatterns: []string{"/ignore/"},
		OnProgress: func(url string) {
			mu.Lock()
			fetched = append(fetched, url)
			mu.Unlock()
		},
	})

	text, err := p.Parse(context.Background(), server.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, text, "# Home\n\nWelcome page.")
	assert.Contains(t, text, "# Docs\n\nDocumentation body.")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{server.URL + "/", server.URL + "/docs/"}, fetched)
}

func TestParse_URLSinglePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>Only page.</p><a href="/next">Next</a></body></html>`)
	}))
	defer server.Close()

	text, err := parser.NewWithConfig(parser.ParserConfig{RateLimit: 1000}).Parse(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Only page.", text)
}

func TestParse_URLErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := parser.NewWithConfig(parser.ParserConfig{RateLimit: 1000}).Parse(context.Background(), server.URL)
	assert.ErrorContains(t, err, "status code 404")
}
