package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/xhad/synthdata/internal/models"
	"golang.org/x/time/rate"
)

var (
	contentSelectors = []string{"main", "article", ".content", "#content", ".documentation", "#documentation"}
	blockSelector    = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td"
	noisePatterns    = []string{"Cookie Policy", "Accept Cookies", "Privacy Policy", "Terms of Service"}
)

// crawl fetches one page and, up to maxDepth, same-host pages it links to.
type crawl struct {
	parser   *Parser
	limiter  *rate.Limiter
	visited  map[string]bool
	baseHost string
	docs     []models.Document
}

func (p *Parser) newCrawl(baseURL string) (*crawl, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &crawl{
		parser:   p,
		limiter:  rate.NewLimiter(rate.Limit(p.config.RateLimit), 1),
		visited:  make(map[string]bool),
		baseHost: parsed.Host,
	}, nil
}

func (p *Parser) parseURL(ctx context.Context, source string) (string, error) {
	c, err := p.newCrawl(source)
	if err != nil {
		return "", err
	}
	if err := c.fetch(ctx, source, 0); err != nil {
		return "", err
	}
	if len(c.docs) == 0 {
		return "", fmt.Errorf("no content retrieved from %s", source)
	}
	return joinDocuments(c.docs), nil
}

func (p *Parser) parseHTMLFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", err
	}
	return mainContent(doc), nil
}

func (c *crawl) shouldProcessURL(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsed.Host != c.baseHost {
		return false
	}

	// Pages only: directory-style paths, extensionless paths or HTML files.
	path := strings.ToLower(parsed.Path)
	if !strings.HasSuffix(path, ".html") && !strings.HasSuffix(path, ".htm") && strings.Contains(pathBase(path), ".") {
		return false
	}

	for _, pattern := range c.parser.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}
	return true
}

func (c *crawl) fetch(ctx context.Context, urlStr string, depth int) error {
	logger := log.Ctx(ctx)

	if depth > c.parser.config.MaxDepth || c.visited[urlStr] {
		return nil
	}
	// The requested page is always fetched; links it leads to are filtered.
	if depth > 0 && !c.shouldProcessURL(urlStr) {
		return nil
	}

	c.visited[urlStr] = true
	if c.parser.config.OnProgress != nil {
		c.parser.config.OnProgress(urlStr)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	resp, err := c.parser.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	c.docs = append(c.docs, models.Document{
		ID:      urlStr,
		Source:  urlStr,
		Title:   strings.TrimSpace(doc.Find("title").Text()),
		Content: mainContent(doc),
		Metadata: map[string]interface{}{
			"depth":        depth,
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	})

	if depth >= c.parser.config.MaxDepth {
		return nil
	}

	base := resp.Request.URL
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			logger.Debug().Err(err).Str("href", href).Msg("skipping unparseable link")
			return
		}
		next := base.ResolveReference(ref)
		next.Fragment = ""
		if err := c.fetch(ctx, next.String(), depth+1); err != nil {
			logger.Warn().Err(err).Str("url", next.String()).Msg("error crawling page")
		}
	})
	return nil
}

// mainContent returns the text of the page's main content area, one block
// element per paragraph.
func mainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	root := doc.Find("body")
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			root = selected.First()
			break
		}
	}

	var blocks []string
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are emitted by their innermost element.
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if text := cleanContent(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return cleanContent(root.Text())
	}
	return strings.Join(blocks, "\n\n")
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return strings.TrimSpace(content)
}

func joinDocuments(docs []models.Document) string {
	if len(docs) == 1 {
		return docs[0].Content
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Content == "" {
			continue
		}
		if d.Title != "" {
			parts = append(parts, "# "+d.Title+"\n\n"+d.Content)
		} else {
			parts = append(parts, d.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func pathBase(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
