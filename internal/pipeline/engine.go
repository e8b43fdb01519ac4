package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/WangXiZhu/daily-stock-analysis/internal/analyzer"
	"github.com/WangXiZhu/daily-stock-analysis/internal/enrich"
	apperrors "github.com/WangXiZhu/daily-stock-analysis/internal/errors"
	"github.com/WangXiZhu/daily-stock-analysis/internal/logging"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
	"github.com/WangXiZhu/daily-stock-analysis/internal/trend"
)

// prepared holds everything gathered for one symbol before scoring.
type prepared struct {
	task     models.SymbolTask
	context  *models.EnrichedContext
	newsText string
	quote    *models.Quote
	chip     *models.ChipSnapshot
	logger   zerolog.Logger
}

// prepare gathers stored history, realtime quote, chip distribution, trend and
// intel for a symbol. Optional steps that fail are logged and left out.
func (p *Pipeline) prepare(ctx context.Context, task models.SymbolTask, maxSearches int) *prepared {
	logger := logging.WithCorrelation(logging.WithSymbol(p.logger, task.Symbol), task.CorrelationID)
	prep := &prepared{task: task, logger: logger}

	quote := optional(ctx, p, logger, task.Symbol, "realtime_quote", true, p.gateway.RealtimeQuote)
	prep.quote, _ = quote.Get()
	name := enrich.DisplayName(task.Symbol, "", prep.quote)

	chip := optional(ctx, p, logger, task.Symbol, "chip_distribution", p.cfg.Analysis.EnableChip, p.gateway.ChipDistribution)
	prep.chip, _ = chip.Get()

	base, err := p.store.GetStoredContext(task.Symbol)
	if err != nil {
		logger.Warn().Err(apperrors.NewPersistenceError(task.Symbol, "get_stored_context", err)).Msg("Stored context unavailable")
		base = nil
	}

	trendOutcome := models.AbsentOf[models.TrendResult]()
	if base != nil && len(base.History) >= trend.MinBars {
		tr, err := trend.Analyze(task.Symbol, base.History)
		if err != nil {
			trendOutcome = failed[models.TrendResult](p, logger, task.Symbol, "trend", err)
		} else {
			trendOutcome = models.PresentOf(tr)
			logger.Debug().Str("trend", tr.TrendStatus).Int("score", tr.SignalScore).Msg("Trend analyzed")
		}
	}

	prep.newsText = p.gatherIntel(ctx, logger, task, name, maxSearches)
	prep.context = enrich.BuildContext(task.Symbol, base, quote, chip, trendOutcome, "", p.now())
	return prep
}

// optional runs one enrichment fetch and classifies the result. Sources that
// have no data or do not support the call yield Absent.
func optional[T any](
	ctx context.Context,
	p *Pipeline,
	logger zerolog.Logger,
	symbol, step string,
	enabled bool,
	fetch func(context.Context, string) (*T, error),
) models.Outcome[T] {
	if !enabled {
		return models.AbsentOf[T]()
	}
	v, err := fetch(ctx, symbol)
	switch {
	case err == nil && v != nil:
		return models.PresentOf(v)
	case err == nil, errors.Is(err, apperrors.ErrNoData), errors.Is(err, apperrors.ErrNotSupported):
		logger.Debug().Str("step", step).Msg("Enrichment not available")
		return models.AbsentOf[T]()
	default:
		return failed[T](p, logger, symbol, step, err)
	}
}

// failed logs an enrichment failure and returns it as a Failed outcome.
func failed[T any](p *Pipeline, logger zerolog.Logger, symbol, step string, err error) models.Outcome[T] {
	logger.Warn().Err(apperrors.NewEnrichmentError(symbol, step, err)).Msg("Enrichment step failed")
	p.metrics.RecordEnrichmentFailure(step)
	return models.FailedOf[T](err)
}

// gatherIntel runs the intel search, persists hits and returns the formatted
// digest. Returns "" when search is unavailable or found nothing.
func (p *Pipeline) gatherIntel(ctx context.Context, logger zerolog.Logger, task models.SymbolTask, name string, maxSearches int) string {
	if p.search == nil || !p.search.IsAvailable() || maxSearches <= 0 {
		return ""
	}

	responses := p.search.SearchComprehensiveIntel(ctx, task.Symbol, name, maxSearches)
	found := false
	queryContext := task.Requester.QueryContext(task.Origin)
	for _, resp := range responses {
		if resp == nil || !resp.Success || len(resp.Results) == 0 {
			continue
		}
		found = true
		if _, err := p.store.SaveNewsIntel(task.Symbol, name, resp.Dimension, resp.Query, resp, queryContext); err != nil {
			logger.Warn().Err(apperrors.NewPersistenceError(task.Symbol, "save_news_intel", err)).Str("dimension", resp.Dimension).Msg("Saving intel failed")
		}
	}
	if !found {
		logger.Debug().Msg("No intel found")
		return ""
	}
	return p.search.FormatIntelReport(responses, name)
}

// finalize stamps the verdict with realtime price data and records it. A
// history write failure is logged and does not drop the verdict.
func (p *Pipeline) finalize(prep *prepared, v *models.Verdict) *models.Verdict {
	if rt := prep.context.Realtime; rt != nil {
		v.Price = rt.Price
		v.ChangePct = rt.ChangePct
	}

	snapshot := &models.ContextSnapshot{
		Context:  prep.context,
		NewsText: prep.newsText,
		QuoteRaw: prep.quote,
		ChipRaw:  prep.chip,
	}
	if _, err := p.store.SaveAnalysisHistory(v, prep.task.CorrelationID, prep.task.ReportKind, prep.newsText, snapshot, p.cfg.Analysis.SaveContextSnapshot); err != nil {
		prep.logger.Warn().Err(apperrors.NewPersistenceError(v.Symbol, "save_analysis_history", err)).Msg("Saving analysis history failed")
	}

	prep.logger.Info().Str("advice", v.Advice).Int("score", v.SentimentScore).Msg("Analysis complete")
	return v
}

// analyzeOne scores a single symbol with the full search budget.
func (p *Pipeline) analyzeOne(ctx context.Context, task models.SymbolTask) (*models.Verdict, error) {
	prep := p.prepare(ctx, task, p.cfg.Analysis.MaxSearchesSingle)
	v, err := p.scorer.Analyze(ctx, prep.context, prep.newsText)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperrors.NewInferenceError(task.Symbol, "analyze", errors.New("no verdict"))
	}
	return p.finalize(prep, v), nil
}

// analyzeMany prepares every symbol, scores them in one batched call and
// records each verdict. Partial scoring failures are logged; the batch fails
// only when nothing was scored.
func (p *Pipeline) analyzeMany(ctx context.Context, tasks []models.SymbolTask) (map[string]*models.Verdict, error) {
	preps := make(map[string]*prepared, len(tasks))
	items := make([]analyzer.Item, 0, len(tasks))
	for _, task := range tasks {
		prep := p.prepare(ctx, task, p.cfg.Analysis.MaxSearchesBatch)
		preps[task.Symbol] = prep
		items = append(items, analyzer.Item{Context: prep.context, NewsText: prep.newsText})
	}

	scored, err := p.scorer.AnalyzeBatch(ctx, items)
	out := make(map[string]*models.Verdict, len(scored))
	for _, task := range tasks {
		v := scored[task.Symbol]
		if v == nil {
			continue
		}
		out[task.Symbol] = p.finalize(preps[task.Symbol], v)
	}
	if err != nil && len(out) == 0 {
		return out, fmt.Errorf("scoring batch: %w", err)
	}
	if err != nil {
		p.logger.Warn().Err(err).Int("scored", len(out)).Int("requested", len(tasks)).Msg("Batch partially scored")
	}
	return out, nil
}
