// Package gateway fetches market data from prioritized sources with retry,
// fallback and a short-lived realtime quote cache.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
	apperrors "github.com/WangXiZhu/daily-stock-analysis/internal/errors"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// Source is one market data provider.
type Source interface {
	Name() string
	DailyHistory(ctx context.Context, symbol string, days int) (*models.History, error)
	RealtimeQuote(ctx context.Context, symbol string) (*models.Quote, error)
	// ChipDistribution returns ErrNotSupported when the source has no
	// cost-basis data.
	ChipDistribution(ctx context.Context, symbol string) (*models.ChipSnapshot, error)
}

// Manager tries each source in order and falls back to the next on error.
type Manager struct {
	sources []Source
	retry   RetryConfig
	quotes  *quoteCache
	logger  zerolog.Logger
}

// NewManager creates a manager over sources, in priority order.
func NewManager(sources []Source, retry RetryConfig, cfg config.Market, logger zerolog.Logger) *Manager {
	return &Manager{
		sources: sources,
		retry:   retry,
		quotes:  newQuoteCache(cfg.QuoteCacheTTL),
		logger:  logger.With().Str("component", "gateway").Logger(),
	}
}

// NewFromConfig builds the configured sources.
func NewFromConfig(cfg config.Market, logger zerolog.Logger) (*Manager, error) {
	client := &http.Client{Timeout: cfg.RequestTimeout}

	var sources []Source
	for _, name := range cfg.Sources {
		switch name {
		case "yahoo":
			sources = append(sources, NewYahooSource(cfg.YahooBaseURL, client))
		default:
			return nil, fmt.Errorf("unknown market source: %s", name)
		}
	}

	retry := DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryAttempts
	return NewManager(sources, retry, cfg, logger), nil
}

// DailyHistory returns up to days of daily bars from the first source that
// delivers them.
func (m *Manager) DailyHistory(ctx context.Context, symbol string, days int) (*models.History, error) {
	return firstOf(ctx, m, symbol, "daily_history", func(s Source) (*models.History, error) {
		h, err := s.DailyHistory(ctx, symbol, days)
		if err == nil && (h == nil || len(h.Bars) == 0) {
			return nil, apperrors.ErrNoData
		}
		return h, err
	})
}

// DailyHistoryBatch fetches history for every symbol. Only symbols with a
// non-empty history appear in the result; callers treat the rest as failed.
func (m *Manager) DailyHistoryBatch(ctx context.Context, symbols []string, days int) (map[string]*models.History, error) {
	out := make(map[string]*models.History, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		h, err := m.DailyHistory(ctx, symbol, days)
		if err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("History fetch failed")
			continue
		}
		out[symbol] = h
	}
	return out, nil
}

// RealtimeQuote returns a cached quote when one is fresh, otherwise asks the
// sources.
func (m *Manager) RealtimeQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if q, ok := m.quotes.get(symbol); ok {
		return q, nil
	}
	q, err := firstOf(ctx, m, symbol, "realtime_quote", func(s Source) (*models.Quote, error) {
		return s.RealtimeQuote(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	m.quotes.put(symbol, q)
	return q, nil
}

// ChipDistribution returns the cost-basis distribution, or ErrNotSupported
// when no source offers one.
func (m *Manager) ChipDistribution(ctx context.Context, symbol string) (*models.ChipSnapshot, error) {
	return firstOf(ctx, m, symbol, "chip_distribution", func(s Source) (*models.ChipSnapshot, error) {
		return s.ChipDistribution(ctx, symbol)
	})
}

// PrefetchRealtimeQuotes warms the quote cache and returns how many quotes
// were loaded. Individual failures are logged only.
func (m *Manager) PrefetchRealtimeQuotes(ctx context.Context, symbols []string) int {
	loaded := 0
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		if _, err := m.RealtimeQuote(ctx, symbol); err != nil {
			m.logger.Debug().Err(err).Str("symbol", symbol).Msg("Quote prefetch failed")
			continue
		}
		loaded++
	}
	m.logger.Info().Int("loaded", loaded).Int("requested", len(symbols)).Msg("Realtime quotes prefetched")
	return loaded
}

// firstOf runs fn against each source with retry and returns the first
// success. When every source declines with ErrNotSupported that error is
// returned as is.
func firstOf[T any](ctx context.Context, m *Manager, symbol, op string, fn func(Source) (*T, error)) (*T, error) {
	if len(m.sources) == 0 {
		return nil, fmt.Errorf("%s %s: no market sources configured", op, symbol)
	}

	var errs []error
	supported := false
	for _, src := range m.sources {
		result, err := RetryWithResult(ctx, m.retry, func() (*T, error) {
			return fn(src)
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, apperrors.ErrNotSupported) {
			continue
		}
		supported = true
		m.logger.Debug().Err(err).Str("source", src.Name()).Str("symbol", symbol).Str("op", op).Msg("Source failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}

	if !supported {
		return nil, apperrors.ErrNotSupported
	}
	return nil, fmt.Errorf("%s %s: %w", op, symbol, errors.Join(errs...))
}
