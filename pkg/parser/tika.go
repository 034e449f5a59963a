package parser

import (
	"context"
	"net/http"
	"os"

	"github.com/google/go-tika/tika"
)

// parseTika sends a binary office or PDF document to the Tika server and
// returns its plain text.
func (p *Parser) parseTika(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	client := tika.NewClient(p.client, p.config.TikaURL)

	hdr := http.Header{}
	hdr.Set("Accept", "text/plain")

	return client.ParseWithHeader(ctx, f, hdr)
}

// CheckTika reports whether the Tika server answers.
func (p *Parser) CheckTika(ctx context.Context) (string, error) {
	return tika.NewClient(p.client, p.config.TikaURL).Version(ctx)
}
