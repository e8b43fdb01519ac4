// Package search gathers news intelligence about a symbol across several
// query dimensions.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// Dimension is one angle of the intel search.
type Dimension struct {
	Name  string
	Label string
	// Query is a format string taking the display name and the symbol.
	Query string
}

// Dimensions in priority order. maxSearches keeps a prefix of this list.
var Dimensions = []Dimension{
	{Name: "latest_news", Label: "Latest news", Query: "%s %s stock news"},
	{Name: "risk_check", Label: "Risk check", Query: "%s %s lawsuit OR downgrade OR investigation"},
	{Name: "earnings", Label: "Earnings", Query: "%s %s earnings guidance"},
	{Name: "industry", Label: "Industry", Query: "%s %s industry outlook"},
	{Name: "market_sentiment", Label: "Market sentiment", Query: "%s %s analyst rating"},
}

// Provider is a news search backend.
type Provider interface {
	Name() string
	IsAvailable() bool
	Search(ctx context.Context, query string, maxResults, daysBack int) ([]models.IntelResult, error)
}

// Service runs dimension searches against providers in order, stopping at the
// first provider that returns results.
type Service struct {
	enabled    bool
	providers  []Provider
	maxResults int
	daysBack   int
	content    *ContentFetcher
	logger     zerolog.Logger
}

// NewService creates a search service. content may be nil to skip article
// text extraction.
func NewService(cfg config.Search, providers []Provider, content *ContentFetcher, logger zerolog.Logger) *Service {
	return &Service{
		enabled:    cfg.Enabled,
		providers:  providers,
		maxResults: cfg.MaxResults,
		daysBack:   cfg.DaysBack,
		content:    content,
		logger:     logger.With().Str("component", "search").Logger(),
	}
}

// NewFromConfig wires NewsAPI (when enabled) ahead of the RSS search feed.
func NewFromConfig(cfg config.Search, client *http.Client, logger zerolog.Logger) *Service {
	var providers []Provider
	if cfg.NewsAPI.Enabled {
		providers = append(providers, NewNewsAPIProvider(cfg.NewsAPI.APIKeyEnv, client))
	}
	if cfg.FeedURLTemplate != "" {
		providers = append(providers, NewFeedProvider(cfg.FeedURLTemplate, client))
	}

	var content *ContentFetcher
	if cfg.FetchContent {
		content = NewContentFetcher(client)
	}
	return NewService(cfg, providers, content, logger)
}

// IsAvailable reports whether search is enabled and any provider can serve.
func (s *Service) IsAvailable() bool {
	if !s.enabled {
		return false
	}
	for _, p := range s.providers {
		if p.IsAvailable() {
			return true
		}
	}
	return false
}

// SearchComprehensiveIntel queries the first maxSearches dimensions for
// symbol. A dimension that no provider could serve is returned with
// Success=false.
func (s *Service) SearchComprehensiveIntel(ctx context.Context, symbol, name string, maxSearches int) []*models.IntelResponse {
	if maxSearches > len(Dimensions) {
		maxSearches = len(Dimensions)
	}
	if name == "" {
		name = symbol
	}

	var out []*models.IntelResponse
	for _, dim := range Dimensions[:max(0, maxSearches)] {
		if ctx.Err() != nil {
			break
		}
		query := fmt.Sprintf(dim.Query, name, symbol)
		resp := s.searchDimension(ctx, dim.Name, query)
		if resp.Success {
			s.logger.Debug().Str("symbol", symbol).Str("dimension", dim.Name).
				Int("results", len(resp.Results)).Str("provider", resp.Provider).Msg("Intel search done")
		} else {
			s.logger.Info().Str("symbol", symbol).Str("dimension", dim.Name).Str("error", resp.Error).Msg("Intel search empty")
		}
		out = append(out, resp)
	}
	return out
}

func (s *Service) searchDimension(ctx context.Context, dimension, query string) *models.IntelResponse {
	resp := &models.IntelResponse{Dimension: dimension, Query: query}

	var errs []string
	for _, p := range s.providers {
		if !p.IsAvailable() {
			continue
		}
		results, err := p.Search(ctx, query, s.maxResults, s.daysBack)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", p.Name(), err))
			continue
		}
		if len(results) == 0 {
			continue
		}

		if s.content != nil {
			if text, err := s.content.Extract(ctx, results[0].URL); err == nil && text != "" {
				results[0].Content = text
			}
		}

		resp.Provider = p.Name()
		resp.Success = true
		resp.Results = results
		return resp
	}

	if len(errs) > 0 {
		resp.Error = strings.Join(errs, "; ")
	} else {
		resp.Error = "no results"
	}
	return resp
}

// FormatIntelReport renders successful responses as a markdown digest for the
// scoring prompt. Returns "" when nothing was found.
func FormatIntelReport(responses []*models.IntelResponse, name string) string {
	var b strings.Builder
	for _, resp := range responses {
		if resp == nil || !resp.Success || len(resp.Results) == 0 {
			continue
		}
		if b.Len() == 0 {
			fmt.Fprintf(&b, "# Intelligence for %s\n", name)
		}
		fmt.Fprintf(&b, "\n## %s\n", dimensionLabel(resp.Dimension))
		for i, r := range resp.Results {
			fmt.Fprintf(&b, "%d. %s", i+1, r.Title)
			if r.Source != "" || r.Published != "" {
				fmt.Fprintf(&b, " (%s)", strings.Trim(r.Source+", "+r.Published, ", "))
			}
			b.WriteString("\n")
			if r.Snippet != "" {
				fmt.Fprintf(&b, "   %s\n", truncate(r.Snippet, 300))
			}
			if r.Content != "" {
				fmt.Fprintf(&b, "   > %s\n", truncate(r.Content, 800))
			}
		}
	}
	return b.String()
}

// FormatIntelReport is the method form used through the pipeline interface.
func (s *Service) FormatIntelReport(responses []*models.IntelResponse, name string) string {
	return FormatIntelReport(responses, name)
}

func dimensionLabel(name string) string {
	for _, d := range Dimensions {
		if d.Name == name {
			return d.Label
		}
	}
	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
