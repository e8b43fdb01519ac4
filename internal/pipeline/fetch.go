package pipeline

import (
	"context"
	"time"

	apperrors "github.com/WangXiZhu/daily-stock-analysis/internal/errors"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

const (
	// FullLookbackDays is fetched when nothing is stored or a refresh is forced.
	FullLookbackDays = 300
	// lookbackBuffer re-fetches a few known days so late corrections land.
	lookbackBuffer = 5
)

// LookbackDays computes how many days of history to request.
func LookbackDays(latest *time.Time, today time.Time, force bool) int {
	if force || latest == nil {
		return FullLookbackDays
	}
	d := models.DaysBetween(*latest, today)
	if d <= 0 {
		return lookbackBuffer
	}
	return d + lookbackBuffer
}

// PlanFetch decides per symbol whether history must be fetched and how far
// back. Store read errors are logged and treated as "nothing stored".
func (p *Pipeline) PlanFetch(symbols []string, force bool) map[string]models.FetchPlan {
	today := models.DateOf(p.now())
	plans := make(map[string]models.FetchPlan, len(symbols))

	for _, symbol := range symbols {
		if !force {
			has, err := p.store.HasDataForDate(symbol, today)
			if err != nil {
				p.logger.Warn().Err(apperrors.NewPersistenceError(symbol, "has_data_for_date", err)).Msg("Stored data check failed")
			}
			if has {
				plans[symbol] = models.FetchPlan{Symbol: symbol}
				continue
			}
		}

		var latest *time.Time
		if !force {
			var err error
			latest, err = p.store.LatestStoredDate(symbol)
			if err != nil {
				p.logger.Warn().Err(apperrors.NewPersistenceError(symbol, "latest_stored_date", err)).Msg("Latest date lookup failed")
				latest = nil
			}
		}
		plans[symbol] = models.FetchPlan{
			Symbol:       symbol,
			NeedsFetch:   true,
			LookbackDays: LookbackDays(latest, today, force),
		}
	}
	return plans
}

// FetchAndSave brings stored history up to date with a single batch call
// sized to the largest lookback. The result maps every symbol to whether its
// data is current; symbols skipped by the plan count as current.
func (p *Pipeline) FetchAndSave(ctx context.Context, symbols []string, force bool) map[string]bool {
	results := make(map[string]bool, len(symbols))
	plans := p.PlanFetch(symbols, force)

	var needing []string
	maxDays := 0
	for _, symbol := range symbols {
		plan := plans[symbol]
		if !plan.NeedsFetch {
			p.logger.Debug().Str("symbol", symbol).Msg("Today's data already stored, skipping fetch")
			results[symbol] = true
			p.metrics.RecordFetch("skipped")
			continue
		}
		results[symbol] = false
		needing = append(needing, symbol)
		maxDays = max(maxDays, plan.LookbackDays)
	}
	if len(needing) == 0 {
		return results
	}

	p.logger.Info().Int("symbols", len(needing)).Int("days", maxDays).Msg("Fetching daily history")
	batch, err := p.gateway.DailyHistoryBatch(ctx, needing, maxDays)
	if err != nil {
		p.logger.Error().Err(apperrors.NewFetchError("", "daily_history_batch", err)).Msg("Batch history fetch failed")
	}

	for _, symbol := range needing {
		history, ok := batch[symbol]
		if !ok || history == nil || len(history.Bars) == 0 {
			p.logger.Warn().Str("symbol", symbol).Msg("No history returned")
			p.metrics.RecordFetch("failed")
			continue
		}
		saved, err := p.store.SaveDailyRecords(symbol, history.Bars, history.Source)
		if err != nil {
			p.logger.Error().Err(apperrors.NewPersistenceError(symbol, "save_daily_records", err)).Msg("Saving history failed")
			p.metrics.RecordFetch("failed")
			continue
		}
		p.logger.Info().Str("symbol", symbol).Str("source", history.Source).Int("saved", saved).Msg("History saved")
		p.metrics.RecordFetch("fetched")
		results[symbol] = true
	}
	return results
}
