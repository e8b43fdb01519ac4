package trend

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

func series(closes []float64, volume float64) []models.DailyBar {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.DailyBar, len(closes))
	for i, c := range closes {
		bars[i] = models.DailyBar{Date: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: volume}
	}
	return bars
}

func ramp(from, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}

func TestAnalyzeRisingSeries(t *testing.T) {
	r, err := Analyze("AAPL", series(ramp(1, 1, 30), 1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.MA5 != 28 || r.MA10 != 25.5 || r.MA20 != 20.5 {
		t.Errorf("unexpected averages: %v %v %v", r.MA5, r.MA10, r.MA20)
	}
	if r.TrendStatus != StrongBull {
		t.Errorf("expected %q, got %q", StrongBull, r.TrendStatus)
	}
	if !strings.HasPrefix(r.MAAlignment, "bullish") {
		t.Errorf("expected bullish alignment, got %q", r.MAAlignment)
	}
	if r.VolumeStatus != VolumeNormal {
		t.Errorf("expected normal volume, got %q", r.VolumeStatus)
	}
	if r.SignalScore != 60 || r.BuySignal != SignalBuy {
		t.Errorf("expected score 60/buy, got %d/%s", r.SignalScore, r.BuySignal)
	}
	found := false
	for _, risk := range r.RiskFactors {
		if strings.Contains(risk, "avoid chasing") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected chasing risk, got %v", r.RiskFactors)
	}
	if r.MA60 != 0 {
		t.Errorf("expected MA60 unset with 30 bars, got %v", r.MA60)
	}
}

func TestAnalyzeFallingSeries(t *testing.T) {
	r, err := Analyze("AAPL", series(ramp(30, -1, 30), 1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.TrendStatus != StrongBear {
		t.Errorf("expected %q, got %q", StrongBear, r.TrendStatus)
	}
	if r.SignalScore != 20 || r.BuySignal != SignalSell {
		t.Errorf("expected score 20/sell, got %d/%s", r.SignalScore, r.BuySignal)
	}
	if len(r.RiskFactors) < 2 {
		t.Errorf("expected several risks, got %v", r.RiskFactors)
	}
}

func TestAnalyzeHeavyVolume(t *testing.T) {
	bars := series(ramp(10, 0.1, 25), 1000)
	bars[len(bars)-1].Volume = 2000

	r, err := Analyze("AAPL", bars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.VolumeStatus != VolumeHeavyUp {
		t.Errorf("expected %q, got %q", VolumeHeavyUp, r.VolumeStatus)
	}
	if !strings.Contains(r.VolumeTrend, "2.00x") {
		t.Errorf("unexpected volume trend %q", r.VolumeTrend)
	}
}

func TestAnalyzeFlatSeries(t *testing.T) {
	r, err := Analyze("AAPL", series(ramp(10, 0, 60), 1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.TrendStatus != Consolidation {
		t.Errorf("expected %q, got %q", Consolidation, r.TrendStatus)
	}
	if r.MA60 != 10 {
		t.Errorf("expected MA60 10, got %v", r.MA60)
	}
	if r.TrendStrength != 50 {
		t.Errorf("expected neutral strength 50, got %v", r.TrendStrength)
	}
}

func TestAnalyzeInsufficientHistory(t *testing.T) {
	_, err := Analyze("AAPL", series(ramp(1, 1, MinBars-1), 1000))
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("expected ErrInsufficientHistory, got %v", err)
	}
}
