// Package analyzer turns enriched contexts into scored verdicts with an LLM.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
	apperrors "github.com/WangXiZhu/daily-stock-analysis/internal/errors"
	"github.com/WangXiZhu/daily-stock-analysis/internal/llm"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// Neutral defaults used when the model reply cannot be parsed.
const (
	NeutralScore  = 50
	NeutralAdvice = "Hold"
)

// Item is one stock handed to AnalyzeBatch.
type Item struct {
	Context  *models.EnrichedContext
	NewsText string
}

// Analyzer scores stocks with an llm.Provider.
type Analyzer struct {
	provider  llm.Provider
	maxTokens int
	batchSize int
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates an analyzer. provider may be nil, in which case every call
// fails with ErrNoProvider.
func New(provider llm.Provider, llmCfg config.LLM, analysis config.Analysis, logger zerolog.Logger) *Analyzer {
	batchSize := analysis.LLMBatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	return &Analyzer{
		provider:  provider,
		maxTokens: llmCfg.MaxTokens,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "analyzer").Logger(),
		now:       time.Now,
	}
}

// IsAvailable reports whether a provider is configured.
func (a *Analyzer) IsAvailable() bool {
	return a.provider != nil
}

// Analyze scores a single stock.
func (a *Analyzer) Analyze(ctx context.Context, ec *models.EnrichedContext, newsText string) (*models.Verdict, error) {
	if ec == nil {
		return nil, apperrors.NewInferenceError("", "analyze", errors.New("nil context"))
	}
	if a.provider == nil {
		return nil, apperrors.NewInferenceError(ec.Symbol, "analyze", apperrors.ErrNoProvider)
	}

	prompt := fmt.Sprintf(singlePrompt, formatContext(ec), formatNews(newsText))
	text, err := a.provider.Generate(ctx, prompt, a.maxTokens)
	if err != nil {
		return nil, apperrors.NewInferenceError(ec.Symbol, "generate", err)
	}

	var reply verdictJSON
	if err := llm.DecodeJSON(text, &reply); err != nil {
		a.logger.Warn().Err(err).Str("symbol", ec.Symbol).Msg("Unparseable model reply, using neutral verdict")
		return a.fallbackVerdict(ec, text), nil
	}
	return a.toVerdict(ec, reply, text), nil
}

// AnalyzeBatch scores items in chunks of the configured LLM batch size. Stocks
// missing from a batch reply are scored individually. The returned error joins
// the failures of stocks that got no verdict at all.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, items []Item) (map[string]*models.Verdict, error) {
	out := make(map[string]*models.Verdict, len(items))
	if len(items) == 0 {
		return out, nil
	}
	if a.provider == nil {
		return out, apperrors.NewInferenceError("", "analyze_batch", apperrors.ErrNoProvider)
	}

	var errs []error
	for start := 0; start < len(items); start += a.batchSize {
		chunk := items[start:min(start+a.batchSize, len(items))]

		var got map[string]*models.Verdict
		if len(chunk) > 1 {
			got = a.analyzeChunk(ctx, chunk)
		}
		for _, it := range chunk {
			if it.Context == nil {
				continue
			}
			if v, ok := got[it.Context.Symbol]; ok {
				out[it.Context.Symbol] = v
				continue
			}
			v, err := a.Analyze(ctx, it.Context, it.NewsText)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out[it.Context.Symbol] = v
		}
	}
	return out, errors.Join(errs...)
}

// analyzeChunk sends one prompt for several stocks. Failures are logged and
// yield an empty map so callers fall back to single analysis.
func (a *Analyzer) analyzeChunk(ctx context.Context, chunk []Item) map[string]*models.Verdict {
	byCode := make(map[string]*models.EnrichedContext, len(chunk))
	var body strings.Builder
	for _, it := range chunk {
		if it.Context == nil {
			continue
		}
		byCode[strings.ToUpper(it.Context.Symbol)] = it.Context
		body.WriteString(formatContext(it.Context))
		body.WriteString(formatNews(it.NewsText))
		body.WriteString("\n")
	}

	prompt := fmt.Sprintf(batchPrompt, body.String())
	text, err := a.provider.Generate(ctx, prompt, a.maxTokens*len(chunk))
	if err != nil {
		a.logger.Warn().Err(err).Int("stocks", len(chunk)).Msg("Batch generation failed, falling back to single analysis")
		return nil
	}

	var replies []verdictJSON
	if err := llm.DecodeJSON(text, &replies); err != nil {
		a.logger.Warn().Err(err).Int("stocks", len(chunk)).Msg("Unparseable batch reply, falling back to single analysis")
		return nil
	}

	out := make(map[string]*models.Verdict, len(replies))
	for _, r := range replies {
		ec, ok := byCode[strings.ToUpper(strings.TrimSpace(r.Code))]
		if !ok {
			continue
		}
		out[ec.Symbol] = a.toVerdict(ec, r, "")
	}
	a.logger.Debug().Int("requested", len(chunk)).Int("parsed", len(out)).Msg("Batch analysis done")
	return out
}

type verdictJSON struct {
	Code            string   `json:"code"`
	SentimentScore  flexInt  `json:"sentiment_score"`
	OperationAdvice string   `json:"operation_advice"`
	TrendPrediction string   `json:"trend_prediction"`
	ConfidenceLevel string   `json:"confidence_level"`
	AnalysisSummary string   `json:"analysis_summary"`
	Narrative       string   `json:"narrative"`
	RiskWarnings    []string `json:"risk_warnings"`
}

// flexInt accepts a JSON number or a numeric string.
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.Value = int(n)
	f.Set = true
	return nil
}

var _ json.Unmarshaler = (*flexInt)(nil)

func (a *Analyzer) toVerdict(ec *models.EnrichedContext, r verdictJSON, raw string) *models.Verdict {
	score := NeutralScore
	if r.SentimentScore.Set {
		score = max(0, min(100, r.SentimentScore.Value))
	}
	advice := strings.TrimSpace(r.OperationAdvice)
	if advice == "" {
		advice = NeutralAdvice
	}

	v := &models.Verdict{
		Symbol:         ec.Symbol,
		Name:           ec.Name,
		SentimentScore: score,
		Advice:         advice,
		Trend:          strings.TrimSpace(r.TrendPrediction),
		Confidence:     strings.TrimSpace(r.ConfidenceLevel),
		Summary:        strings.TrimSpace(r.AnalysisSummary),
		Narrative:      strings.TrimSpace(r.Narrative),
		Risks:          r.RiskWarnings,
		RawResponse:    raw,
		GeneratedAt:    a.now(),
	}
	if len(v.Risks) > 5 {
		v.Risks = v.Risks[:5]
	}
	return v
}

func (a *Analyzer) fallbackVerdict(ec *models.EnrichedContext, raw string) *models.Verdict {
	summary := strings.TrimSpace(raw)
	if r := []rune(summary); len(r) > 300 {
		summary = string(r[:300]) + "..."
	}
	return &models.Verdict{
		Symbol:         ec.Symbol,
		Name:           ec.Name,
		SentimentScore: NeutralScore,
		Advice:         NeutralAdvice,
		Trend:          "Sideways",
		Confidence:     "Low",
		Summary:        summary,
		RawResponse:    raw,
		GeneratedAt:    a.now(),
	}
}
