package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

const wechatSummaryRunes = 60

// signal groups free-form advice into buy / hold / sell.
type signal int

const (
	signalHold signal = iota
	signalBuy
	signalSell
)

func classifyAdvice(advice string) signal {
	a := strings.ToLower(advice)
	switch {
	case strings.Contains(a, "sell"), strings.Contains(a, "reduce"), strings.Contains(a, "avoid"):
		return signalSell
	case strings.Contains(a, "buy"), strings.Contains(a, "add"), strings.Contains(a, "accumulate"):
		return signalBuy
	default:
		return signalHold
	}
}

func (s signal) emoji() string {
	switch s {
	case signalBuy:
		return "🟢"
	case signalSell:
		return "🔴"
	default:
		return "🟡"
	}
}

func formatPrice(p *float64) string {
	if p == nil {
		return "N/A"
	}
	return decimal.NewFromFloat(*p).StringFixed(2)
}

func formatChange(p *float64) string {
	if p == nil {
		return "N/A"
	}
	d := decimal.NewFromFloat(*p)
	if d.IsPositive() {
		return "+" + d.StringFixed(2) + "%"
	}
	return d.StringFixed(2) + "%"
}

func displayName(v *models.Verdict) string {
	if v.Name == "" || v.Name == v.Symbol {
		return v.Symbol
	}
	return fmt.Sprintf("%s (%s)", v.Name, v.Symbol)
}

// sortByScore returns verdicts ordered by score, highest first, ties by symbol.
func sortByScore(verdicts []*models.Verdict) []*models.Verdict {
	out := make([]*models.Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		if v != nil {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SentimentScore != out[j].SentimentScore {
			return out[i].SentimentScore > out[j].SentimentScore
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func tally(verdicts []*models.Verdict) (buy, hold, sell int) {
	for _, v := range verdicts {
		switch classifyAdvice(v.Advice) {
		case signalBuy:
			buy++
		case signalSell:
			sell++
		default:
			hold++
		}
	}
	return buy, hold, sell
}

// renderSingle is the compact per-stock report.
func renderSingle(v *models.Verdict) string {
	var sb strings.Builder
	sig := classifyAdvice(v.Advice)
	fmt.Fprintf(&sb, "## %s %s\n\n", sig.emoji(), displayName(v))
	fmt.Fprintf(&sb, "**%s** | Score %d | Price %s (%s)\n", v.Advice, v.SentimentScore, formatPrice(v.Price), formatChange(v.ChangePct))
	if v.Trend != "" || v.Confidence != "" {
		fmt.Fprintf(&sb, "Trend: %s | Confidence: %s\n", orNA(v.Trend), orNA(v.Confidence))
	}
	if v.Summary != "" {
		fmt.Fprintf(&sb, "\n%s\n", v.Summary)
	}
	if len(v.Risks) > 0 {
		sb.WriteString("\n**Risks:**\n")
		for _, r := range v.Risks {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	return sb.String()
}

// renderDashboard is the full report: a summary table followed by one
// section per stock.
func renderDashboard(verdicts []*models.Verdict, date time.Time) string {
	sorted := sortByScore(verdicts)
	buy, hold, sell := tally(sorted)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Stock Dashboard %s\n\n", date.Format(models.DateLayout))
	fmt.Fprintf(&sb, "Analyzed %d | 🟢 Buy %d | 🟡 Hold %d | 🔴 Sell %d\n\n", len(sorted), buy, hold, sell)
	if len(sorted) == 0 {
		sb.WriteString("No stocks were analyzed.\n")
		return sb.String()
	}

	sb.WriteString("| Stock | Score | Advice | Price | Change |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, v := range sorted {
		fmt.Fprintf(&sb, "| %s %s | %d | %s | %s | %s |\n",
			classifyAdvice(v.Advice).emoji(), displayName(v), v.SentimentScore, v.Advice,
			formatPrice(v.Price), formatChange(v.ChangePct))
	}

	for _, v := range sorted {
		sb.WriteString("\n---\n\n")
		sb.WriteString(renderSingle(v))
		if v.Narrative != "" {
			fmt.Fprintf(&sb, "\n%s\n", v.Narrative)
		}
	}
	return sb.String()
}

// renderCompact fits the dashboard into size-limited channels: one line per
// stock with a shortened summary.
func renderCompact(verdicts []*models.Verdict, date time.Time) string {
	sorted := sortByScore(verdicts)
	buy, hold, sell := tally(sorted)

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Stock Dashboard %s\n", date.Format(models.DateLayout))
	fmt.Fprintf(&sb, "> Buy %d | Hold %d | Sell %d\n\n", buy, hold, sell)
	for _, v := range sorted {
		fmt.Fprintf(&sb, "%s **%s** %s, score %d, %s (%s)\n",
			classifyAdvice(v.Advice).emoji(), displayName(v), v.Advice, v.SentimentScore,
			formatPrice(v.Price), formatChange(v.ChangePct))
		if v.Summary != "" {
			fmt.Fprintf(&sb, "> %s\n", shorten(v.Summary, wechatSummaryRunes))
		}
	}
	return sb.String()
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
