package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// FeedProvider searches an RSS endpoint whose URL is built from a template
// with a single %s for the escaped query (e.g. Google News search RSS).
type FeedProvider struct {
	template string
	parser   *gofeed.Parser
	now      func() time.Time
}

// NewFeedProvider creates a provider over urlTemplate.
func NewFeedProvider(urlTemplate string, client *http.Client) *FeedProvider {
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	parser.UserAgent = "stockanalyzer/1.0 (news search)"
	return &FeedProvider{template: urlTemplate, parser: parser, now: time.Now}
}

func (p *FeedProvider) Name() string { return "rss" }

func (p *FeedProvider) IsAvailable() bool {
	return strings.Contains(p.template, "%s")
}

// Search returns up to maxResults entries published within daysBack days.
func (p *FeedProvider) Search(ctx context.Context, query string, maxResults, daysBack int) ([]models.IntelResult, error) {
	feedURL := fmt.Sprintf(p.template, url.QueryEscape(query))
	feed, err := p.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	cutoff := p.now().AddDate(0, 0, -daysBack)
	var results []models.IntelResult
	for _, item := range feed.Items {
		if len(results) >= maxResults {
			break
		}
		r := parseItem(item)
		if r == nil || !isWithinWindow(r.Published, cutoff) {
			continue
		}
		results = append(results, *r)
	}
	return results, nil
}

func parseItem(item *gofeed.Item) *models.IntelResult {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	var published string
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.Format(models.DateLayout)
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.Format(models.DateLayout)
	}

	var snippet string
	if item.Content != "" {
		snippet = stripHTML(item.Content)
	} else if item.Description != "" {
		snippet = stripHTML(item.Description)
	}

	source := ""
	if item.Author != nil {
		source = item.Author.Name
	}
	if src, ok := item.Custom["source"]; ok && src != "" {
		source = src
	}
	if source == "" {
		source = sourceFromURL(itemURL)
	}

	return &models.IntelResult{
		Title:     title,
		URL:       itemURL,
		Snippet:   snippet,
		Source:    source,
		Published: published,
	}
}

func isWithinWindow(published string, cutoff time.Time) bool {
	if published == "" {
		return true
	}
	pub, err := time.Parse(models.DateLayout, published)
	if err != nil {
		return true
	}
	return !pub.Before(models.DateOf(cutoff))
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			result.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}

	s := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	).Replace(result.String())
	return strings.Join(strings.Fields(s), " ")
}

func sourceFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
