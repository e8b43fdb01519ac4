package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the shortest extracted text worth keeping.
const minContentLength = 100

// ContentFetcher extracts readable article text over HTTP.
type ContentFetcher struct {
	client *http.Client
}

// NewContentFetcher creates a fetcher. A nil client gets a 15s timeout.
func NewContentFetcher(client *http.Client) *ContentFetcher {
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}
	}
	return &ContentFetcher{client: client}
}

// Extract returns the main text of articleURL, or "" when nothing readable
// was found.
func (f *ContentFetcher) Extract(ctx context.Context, articleURL string) (string, error) {
	parsed, err := url.Parse(articleURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "stockanalyzer/1.0 (news search)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: %s", articleURL, http.StatusText(resp.StatusCode))
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < minContentLength {
		return "", nil
	}
	return text, nil
}
