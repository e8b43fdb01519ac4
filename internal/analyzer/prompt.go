package analyzer

import (
	"fmt"
	"strings"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

const singlePrompt = `You are an equity analyst writing a daily decision note for one stock.
Follow the trend: prefer stocks in a bullish moving-average alignment, avoid
chasing prices far above MA5, and flag every material risk in the news.

%s
%s
Respond with ONLY this JSON:
{
    "sentiment_score": 0-100,
    "operation_advice": "Buy" | "Add" | "Hold" | "Reduce" | "Sell" | "Wait",
    "trend_prediction": "Strongly bullish" | "Bullish" | "Sideways" | "Bearish" | "Strongly bearish",
    "confidence_level": "High" | "Medium" | "Low",
    "analysis_summary": "Two or three sentences for the dashboard",
    "narrative": "A short paragraph with the reasoning",
    "risk_warnings": ["risk 1", "risk 2"]
}

sentiment_score: 80+ strong buy, 60-79 buy, 40-59 hold, 20-39 reduce, below 20 sell.`

const batchPrompt = `You are an equity analyst writing daily decision notes for several stocks.
Follow the trend: prefer stocks in a bullish moving-average alignment, avoid
chasing prices far above MA5, and flag every material risk in the news.

%s
Respond with ONLY a JSON array holding one object per stock, in any order:
[
  {
    "code": "the stock code exactly as given",
    "sentiment_score": 0-100,
    "operation_advice": "Buy" | "Add" | "Hold" | "Reduce" | "Sell" | "Wait",
    "trend_prediction": "Strongly bullish" | "Bullish" | "Sideways" | "Bearish" | "Strongly bearish",
    "confidence_level": "High" | "Medium" | "Low",
    "analysis_summary": "Two or three sentences for the dashboard",
    "narrative": "A short paragraph with the reasoning",
    "risk_warnings": ["risk 1"]
  }
]`

// maxNewsChars bounds the intel digest per stock.
const maxNewsChars = 4000

// formatContext renders an enriched context as prompt text.
func formatContext(ec *models.EnrichedContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s (%s) as of %s\n", ec.Name, ec.Symbol, ec.Date)
	if ec.DataMissing {
		b.WriteString("No stored price history is available; rely on realtime data and news.\n")
	}

	if t := ec.Today; t != nil {
		fmt.Fprintf(&b, "Last session: open %.2f, high %.2f, low %.2f, close %.2f, volume %.0f\n",
			t.Open, t.High, t.Low, t.Close, t.Volume)
	}
	if y := ec.Yesterday; y != nil {
		fmt.Fprintf(&b, "Previous session close: %.2f\n", y.Close)
	}
	writeOpt(&b, "MA5", ec.MA5, "%.2f")
	writeOpt(&b, "MA10", ec.MA10, "%.2f")
	writeOpt(&b, "MA20", ec.MA20, "%.2f")
	writeOpt(&b, "Price change vs previous close", ec.PriceChangeRatio, "%.2f%%")
	writeOpt(&b, "Volume vs previous session", ec.VolumeChangeRatio, "%.2fx")

	if rt := ec.Realtime; rt != nil {
		b.WriteString("\n### Realtime\n")
		writeOpt(&b, "Price", rt.Price, "%.2f")
		writeOpt(&b, "Change", rt.ChangePct, "%.2f%%")
		if rt.VolumeRatio != nil {
			fmt.Fprintf(&b, "- Volume ratio: %.2f (%s)\n", *rt.VolumeRatio, rt.VolumeRatioDesc)
		}
		writeOpt(&b, "Turnover rate", rt.TurnoverRate, "%.2f%%")
		writeOpt(&b, "P/E", rt.PERatio, "%.2f")
		writeOpt(&b, "P/B", rt.PBRatio, "%.2f")
		writeOpt(&b, "60-day change", rt.Change60d, "%.2f%%")
	}

	if c := ec.Chip; c != nil {
		b.WriteString("\n### Cost distribution\n")
		fmt.Fprintf(&b, "- Profit ratio: %.1f%%\n- Average cost: %.2f\n- 90%% concentration: %.2f%%\n- Status: %s\n",
			c.ProfitRatio*100, c.AvgCost, c.Concentration90*100, c.ChipStatus)
	}

	if tr := ec.Trend; tr != nil {
		b.WriteString("\n### Trend\n")
		fmt.Fprintf(&b, "- Status: %s (%s), strength %.0f\n", tr.TrendStatus, tr.MAAlignment, tr.TrendStrength)
		fmt.Fprintf(&b, "- Bias to MA5: %.2f%%, to MA10: %.2f%%\n", tr.BiasMA5, tr.BiasMA10)
		fmt.Fprintf(&b, "- Volume: %s, %s\n", tr.VolumeStatus, tr.VolumeTrend)
		fmt.Fprintf(&b, "- Signal: %s (score %d)\n", tr.BuySignal, tr.SignalScore)
		if len(tr.SignalReasons) > 0 {
			fmt.Fprintf(&b, "- Reasons: %s\n", strings.Join(tr.SignalReasons, "; "))
		}
		if len(tr.RiskFactors) > 0 {
			fmt.Fprintf(&b, "- Risks: %s\n", strings.Join(tr.RiskFactors, "; "))
		}
	}
	return b.String()
}

func formatNews(news string) string {
	news = strings.TrimSpace(news)
	if news == "" {
		return "\nNo recent news was found.\n"
	}
	if r := []rune(news); len(r) > maxNewsChars {
		news = string(r[:maxNewsChars]) + "..."
	}
	return "\n### News\n" + news + "\n"
}

func writeOpt(b *strings.Builder, label string, v *float64, format string) {
	if v == nil {
		return
	}
	fmt.Fprintf(b, "- %s: "+format+"\n", label, *v)
}
