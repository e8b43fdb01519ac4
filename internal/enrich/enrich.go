// Package enrich merges stored history with optional realtime, chip and
// trend data into the context handed to scoring.
package enrich

import (
	"time"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// NoData is the volume-ratio description used when the ratio is unknown.
const NoData = "no data"

// DescribeVolumeRatio buckets a volume ratio into a label. Buckets are
// half-open: a ratio equal to a bound belongs to the higher bucket.
func DescribeVolumeRatio(v float64) string {
	switch {
	case v < 0.5:
		return "extremely shrunk"
	case v < 0.8:
		return "notably shrunk"
	case v < 1.2:
		return "normal"
	case v < 2.0:
		return "mild expansion"
	case v < 3.0:
		return "notable expansion"
	default:
		return "huge"
	}
}

// DisplayName picks the name shown for a symbol: an explicit name, then the
// quote's name, then "Stock-<symbol>".
func DisplayName(symbol, explicit string, quote *models.Quote) string {
	if explicit != "" {
		return explicit
	}
	if quote != nil && quote.Name != "" {
		return quote.Name
	}
	return "Stock-" + symbol
}

// BuildContext assembles the enriched context. Absent and Failed outcomes
// contribute nothing; a nil base marks the context DataMissing and dates it
// today.
func BuildContext(
	symbol string,
	base *models.StoredContext,
	quote models.Outcome[models.Quote],
	chip models.Outcome[models.ChipSnapshot],
	trend models.Outcome[models.TrendResult],
	displayName string,
	today time.Time,
) *models.EnrichedContext {
	q, hasQuote := quote.Get()

	ec := &models.EnrichedContext{Symbol: symbol}
	if base == nil {
		ec.Date = today.Format(models.DateLayout)
		ec.DataMissing = true
	} else {
		ec.Date = base.Date
		ec.Today = base.Today
		ec.Yesterday = base.Yesterday
		ec.MA5 = base.MA5
		ec.MA10 = base.MA10
		ec.MA20 = base.MA20
		ec.VolumeChangeRatio = base.VolumeChangeRatio
		ec.PriceChangeRatio = base.PriceChangeRatio
		ec.History = base.History
	}
	ec.Name = DisplayName(symbol, displayName, q)

	if hasQuote {
		ec.Realtime = realtimeInfo(q)
	}

	if c, ok := chip.Get(); ok {
		price := 0.0
		if hasQuote && q.Price != nil {
			price = *q.Price
		}
		ec.Chip = &models.ChipInfo{
			ProfitRatio:     c.ProfitRatio,
			AvgCost:         c.AvgCost,
			Concentration90: c.Concentration90,
			Concentration70: c.Concentration70,
			ChipStatus:      c.Status(price),
		}
	}

	if t, ok := trend.Get(); ok {
		ec.Trend = &models.TrendInfo{
			TrendStatus:   t.TrendStatus,
			MAAlignment:   t.MAAlignment,
			TrendStrength: t.TrendStrength,
			BiasMA5:       t.BiasMA5,
			BiasMA10:      t.BiasMA10,
			VolumeStatus:  t.VolumeStatus,
			VolumeTrend:   t.VolumeTrend,
			BuySignal:     t.BuySignal,
			SignalScore:   t.SignalScore,
			SignalReasons: t.SignalReasons,
			RiskFactors:   t.RiskFactors,
		}
	}
	return ec
}

func realtimeInfo(q *models.Quote) *models.RealtimeInfo {
	info := &models.RealtimeInfo{
		Name:            q.Name,
		Price:           q.Price,
		ChangePct:       q.ChangePct,
		VolumeRatio:     q.VolumeRatio,
		VolumeRatioDesc: NoData,
		TurnoverRate:    q.TurnoverRate,
		PERatio:         q.PERatio,
		PBRatio:         q.PBRatio,
		TotalMV:         q.TotalMV,
		CircMV:          q.CircMV,
		Change60d:       q.Change60d,
		Source:          q.Source,
	}
	if q.VolumeRatio != nil {
		info.VolumeRatioDesc = DescribeVolumeRatio(*q.VolumeRatio)
	}
	return info
}
