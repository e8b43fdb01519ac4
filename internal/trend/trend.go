// Package trend derives moving-average trend signals from daily bars.
package trend

import (
	"errors"
	"fmt"
	"math"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// MinBars is the shortest history Analyze accepts.
const MinBars = 20

// ErrInsufficientHistory is returned when fewer than MinBars bars are given.
var ErrInsufficientHistory = errors.New("insufficient history for trend analysis")

// Trend statuses, strongest bull first.
const (
	StrongBull    = "strong bull"
	Bull          = "bull"
	WeakBull      = "weak bull"
	Consolidation = "consolidation"
	WeakBear      = "weak bear"
	Bear          = "bear"
	StrongBear    = "strong bear"
)

// Volume statuses.
const (
	VolumeHeavyUp   = "heavy volume up"
	VolumeHeavyDown = "heavy volume down"
	VolumeLightUp   = "light volume up"
	VolumeLightDown = "light volume pullback"
	VolumeNormal    = "normal volume"
)

// Buy signals.
const (
	SignalStrongBuy = "strong buy"
	SignalBuy       = "buy"
	SignalHold      = "hold"
	SignalWait      = "wait"
	SignalSell      = "sell"
)

// biasLimit is the distance above MA5 (percent) beyond which buying is
// chasing.
const biasLimit = 5.0

// Analyze computes trend signals for bars ordered oldest first.
func Analyze(symbol string, bars []models.DailyBar) (*models.TrendResult, error) {
	if len(bars) < MinBars {
		return nil, fmt.Errorf("%s: %d bars: %w", symbol, len(bars), ErrInsufficientHistory)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	last := bars[len(bars)-1]

	r := &models.TrendResult{
		Symbol: symbol,
		MA5:    round2(mean(closes[len(closes)-5:])),
		MA10:   round2(mean(closes[len(closes)-10:])),
		MA20:   round2(mean(closes[len(closes)-20:])),
	}
	if len(closes) >= 60 {
		r.MA60 = round2(mean(closes[len(closes)-60:]))
	}
	if r.MA5 > 0 {
		r.BiasMA5 = round2((last.Close - r.MA5) / r.MA5 * 100)
	}
	if r.MA10 > 0 {
		r.BiasMA10 = round2((last.Close - r.MA10) / r.MA10 * 100)
	}

	classifyTrend(r, closes)
	classifyVolume(r, bars)
	score(r, last.Close)
	return r, nil
}

func classifyTrend(r *models.TrendResult, closes []float64) {
	spread := 0.0
	if r.MA20 > 0 {
		spread = (r.MA5 - r.MA20) / r.MA20 * 100
	}
	r.TrendStrength = round2(math.Max(0, math.Min(100, 50+spread*10)))

	// MA20 five sessions ago tells whether the slow average is still rising.
	shift := min(5, len(closes)-20)
	prevMA20 := mean(closes[len(closes)-20-shift : len(closes)-shift])
	rising := r.MA20 >= prevMA20

	switch {
	case r.MA5 > r.MA10 && r.MA10 > r.MA20:
		r.MAAlignment = "bullish alignment MA5>MA10>MA20"
		if spread > 5 && rising {
			r.TrendStatus = StrongBull
		} else {
			r.TrendStatus = Bull
		}
	case r.MA5 < r.MA10 && r.MA10 < r.MA20:
		r.MAAlignment = "bearish alignment MA5<MA10<MA20"
		if spread < -5 && !rising {
			r.TrendStatus = StrongBear
		} else {
			r.TrendStatus = Bear
		}
	case r.MA5 > r.MA10:
		r.MAAlignment = "short-term turning up"
		r.TrendStatus = WeakBull
	case r.MA5 < r.MA10 && r.MA5 < r.MA20:
		r.MAAlignment = "short-term turning down"
		r.TrendStatus = WeakBear
	default:
		r.MAAlignment = "averages tangled"
		r.TrendStatus = Consolidation
	}
}

func classifyVolume(r *models.TrendResult, bars []models.DailyBar) {
	n := len(bars)
	last := bars[n-1]
	prev := bars[n-2]

	var sum float64
	for _, b := range bars[n-6 : n-1] {
		sum += b.Volume
	}
	avg := sum / 5
	ratio := 1.0
	if avg > 0 {
		ratio = last.Volume / avg
	}
	up := last.Close >= prev.Close

	switch {
	case ratio >= 1.5 && up:
		r.VolumeStatus = VolumeHeavyUp
	case ratio >= 1.5:
		r.VolumeStatus = VolumeHeavyDown
	case ratio <= 0.7 && up:
		r.VolumeStatus = VolumeLightUp
	case ratio <= 0.7:
		r.VolumeStatus = VolumeLightDown
	default:
		r.VolumeStatus = VolumeNormal
	}
	r.VolumeTrend = fmt.Sprintf("volume %.2fx the 5-day average", ratio)
}

func score(r *models.TrendResult, price float64) {
	points := 0

	switch r.TrendStatus {
	case StrongBull:
		points += 40
		r.SignalReasons = append(r.SignalReasons, "strong bullish trend")
	case Bull:
		points += 35
		r.SignalReasons = append(r.SignalReasons, "bullish moving-average alignment")
	case WeakBull:
		points += 25
	case Consolidation:
		points += 15
	case WeakBear:
		points += 10
	case Bear, StrongBear:
		r.RiskFactors = append(r.RiskFactors, "bearish moving-average alignment")
	}

	switch {
	case r.BiasMA5 > biasLimit:
		r.RiskFactors = append(r.RiskFactors, fmt.Sprintf("price %.2f%% above MA5, avoid chasing", r.BiasMA5))
	case r.BiasMA5 >= 2:
		points += 15
	case r.BiasMA5 >= 0:
		points += 25
		r.SignalReasons = append(r.SignalReasons, "price close to MA5")
	case r.BiasMA5 >= -3:
		points += 30
		r.SignalReasons = append(r.SignalReasons, "pullback to MA5 support")
	default:
		points += 10
		r.RiskFactors = append(r.RiskFactors, "price broke below MA5")
	}

	switch r.VolumeStatus {
	case VolumeLightDown:
		points += 20
		r.SignalReasons = append(r.SignalReasons, "pullback on shrinking volume")
	case VolumeHeavyUp:
		points += 15
		r.SignalReasons = append(r.SignalReasons, "advance on expanding volume")
	case VolumeNormal, VolumeLightUp:
		points += 10
	case VolumeHeavyDown:
		r.RiskFactors = append(r.RiskFactors, "heavy selling volume")
	}

	if price >= r.MA20 {
		points += 10
	} else {
		r.RiskFactors = append(r.RiskFactors, "price below MA20")
	}

	r.SignalScore = max(0, min(100, points))
	switch {
	case r.SignalScore >= 75:
		r.BuySignal = SignalStrongBuy
	case r.SignalScore >= 60:
		r.BuySignal = SignalBuy
	case r.SignalScore >= 45:
		r.BuySignal = SignalHold
	case r.SignalScore >= 30:
		r.BuySignal = SignalWait
	default:
		r.BuySignal = SignalSell
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
