// Package parser turns source documents into plain text for generation.
package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xhad/synthdata/pkg/processor"
)

// ErrUnsupported is returned for sources with no registered parser.
var ErrUnsupported = errors.New("unsupported source type")

// Extensions lists the file extensions Parse accepts.
var Extensions = []string{".txt", ".md", ".html", ".htm", ".pdf", ".docx", ".pptx"}

type ParserConfig struct {
	// TikaURL is the Tika server used for PDF, DOCX and PPTX files.
	TikaURL string
	// MaxDepth is how many links deep a URL ingest follows on the same host.
	// Zero fetches only the given page.
	MaxDepth int
	// RateLimit is the page fetch rate in requests per second.
	RateLimit float64
	Timeout   time.Duration
	// IgnorePatterns skips crawled URLs containing any of the patterns.
	IgnorePatterns []string
	HTTPClient     *http.Client
	OnProgress     func(url string)
}

type Parser struct {
	config ParserConfig
	client *http.Client
}

func NewWithConfig(config ParserConfig) *Parser {
	if config.TikaURL == "" {
		config.TikaURL = "http://localhost:9998"
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 2
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Parser{config: config, client: client}
}

func New() *Parser {
	return NewWithConfig(ParserConfig{})
}

// Supported reports whether source has a parser.
func Supported(source string) bool {
	if isURL(source) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(source))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Parse reads source, a file path or an http(s) URL, and returns its text
// with line endings and blank runs normalised.
func (p *Parser) Parse(ctx context.Context, source string) (string, error) {
	logger := log.Ctx(ctx)

	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(source)); {
	case isURL(source):
		text, err = p.parseURL(ctx, source)
	case ext == ".txt" || ext == ".md":
		text, err = readText(source)
	case ext == ".html" || ext == ".htm":
		text, err = p.parseHTMLFile(source)
	case ext == ".pdf" || ext == ".docx" || ext == ".pptx":
		text, err = p.parseTika(ctx, source)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, source)
	}
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", source, err)
	}

	text = processor.Clean(text)
	logger.Debug().Str("source", source).Int("chars", len([]rune(text))).Msg("parsed document")
	return text, nil
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
