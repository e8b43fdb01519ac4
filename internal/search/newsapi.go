package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIProvider searches newsapi.org.
type NewsAPIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewNewsAPIProvider reads the API key from apiKeyEnv.
func NewNewsAPIProvider(apiKeyEnv string, client *http.Client) *NewsAPIProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &NewsAPIProvider{
		apiKey:  os.Getenv(apiKeyEnv),
		baseURL: newsAPIBaseURL,
		client:  client,
		now:     time.Now,
	}
}

func (p *NewsAPIProvider) Name() string { return "newsapi" }

// IsAvailable returns whether the API key is available.
func (p *NewsAPIProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Search returns articles matching query, most relevant first.
func (p *NewsAPIProvider) Search(ctx context.Context, query string, maxResults, daysBack int) ([]models.IntelResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("newsapi key not configured")
	}
	if maxResults > 100 {
		maxResults = 100
	}

	now := p.now()
	params := url.Values{
		"q":        {query},
		"from":     {now.AddDate(0, 0, -daysBack).Format(models.DateLayout)},
		"to":       {now.Format(models.DateLayout)},
		"language": {"en"},
		"pageSize": {fmt.Sprintf("%d", maxResults)},
		"sortBy":   {"relevancy"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("newsapi HTTP %d", resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Description string `json:"description"`
			Content     string `json:"content"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding newsapi response: %w", err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %s: %s", result.Status, result.Message)
	}

	var out []models.IntelResult
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var published string
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			published = t.Format(models.DateLayout)
		}

		snippet := strings.TrimSpace(a.Description)
		if snippet == "" {
			snippet = strings.TrimSpace(a.Content)
		}

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		out = append(out, models.IntelResult{
			Title:     strings.TrimSpace(a.Title),
			URL:       a.URL,
			Snippet:   snippet,
			Source:    source,
			Published: published,
		})
	}
	return out, nil
}
