package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/WangXiZhu/daily-stock-analysis/internal/errors"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

const yahooUserAgent = "Mozilla/5.0 (compatible; stockanalyzer/1.0)"

// YahooSource reads daily bars and quotes from the Yahoo Finance v8 chart API.
type YahooSource struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewYahooSource creates a source rooted at baseURL.
func NewYahooSource(baseURL string, client *http.Client) *YahooSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &YahooSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		now:     time.Now,
	}
}

func (y *YahooSource) Name() string { return "yahoo" }

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string   `json:"symbol"`
		ShortName          string   `json:"shortName"`
		LongName           string   `json:"longName"`
		RegularMarketPrice *float64 `json:"regularMarketPrice"`
		ChartPreviousClose *float64 `json:"chartPreviousClose"`
		GMTOffset          int64    `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// DailyHistory returns daily bars covering the last days calendar days.
func (y *YahooSource) DailyHistory(ctx context.Context, symbol string, days int) (*models.History, error) {
	now := y.now()
	params := url.Values{}
	params.Set("period1", fmt.Sprintf("%d", now.AddDate(0, 0, -days).Unix()))
	params.Set("period2", fmt.Sprintf("%d", now.Unix()))
	params.Set("interval", "1d")

	res, err := y.chart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	bars := res.bars()
	if len(bars) == 0 {
		return nil, apperrors.ErrNoData
	}
	return &models.History{Bars: bars, Source: y.Name()}, nil
}

// RealtimeQuote derives a quote from the latest chart meta and the last
// three months of bars.
func (y *YahooSource) RealtimeQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	params := url.Values{}
	params.Set("range", "3mo")
	params.Set("interval", "1d")

	res, err := y.chart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	return res.quote(symbol, y.Name(), y.now()), nil
}

// ChipDistribution is not offered by Yahoo.
func (y *YahooSource) ChipDistribution(ctx context.Context, symbol string) (*models.ChipSnapshot, error) {
	return nil, apperrors.ErrNotSupported
}

func (y *YahooSource) chart(ctx context.Context, symbol string, params url.Values) (*chartResult, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", yahooUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, apperrors.ErrNoData)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo chart %s: status %d", symbol, resp.StatusCode)
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding yahoo chart %s: %w", symbol, err)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart %s: %s: %w", symbol, parsed.Chart.Error.Description, apperrors.ErrNoData)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, apperrors.ErrNoData)
	}
	return &parsed.Chart.Result[0], nil
}

// bars converts the columnar chart arrays into bars, skipping rows with a
// missing close. ChangePct is filled from the previous kept close.
func (r *chartResult) bars() []models.DailyBar {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]

	var out []models.DailyBar
	var prevClose float64
	for i, ts := range r.Timestamp {
		closeV := at(q.Close, i)
		if closeV == nil {
			continue
		}
		b := models.DailyBar{
			Date:   models.DateOf(time.Unix(ts+r.Meta.GMTOffset, 0).UTC()),
			Open:   valueOr(at(q.Open, i), *closeV),
			High:   valueOr(at(q.High, i), *closeV),
			Low:    valueOr(at(q.Low, i), *closeV),
			Close:  *closeV,
			Volume: valueOr(at(q.Volume, i), 0),
		}
		if prevClose > 0 {
			pct := (b.Close - prevClose) / prevClose * 100
			b.ChangePct = &pct
		}
		prevClose = b.Close
		out = append(out, b)
	}
	return out
}

func (r *chartResult) quote(symbol, source string, now time.Time) *models.Quote {
	q := &models.Quote{
		Symbol:    symbol,
		Name:      r.Meta.LongName,
		Source:    source,
		FetchedAt: now,
	}
	if q.Name == "" {
		q.Name = r.Meta.ShortName
	}

	bars := r.bars()
	price := r.Meta.RegularMarketPrice
	if price == nil && len(bars) > 0 {
		last := bars[len(bars)-1].Close
		price = &last
	}
	q.Price = price
	if price == nil {
		return q
	}

	// Previous close is the last bar before today's, when today's bar exists.
	if n := len(bars); n >= 2 {
		prev := bars[n-2].Close
		if prev > 0 {
			pct := (*price - prev) / prev * 100
			q.ChangePct = &pct
		}
	} else if r.Meta.ChartPreviousClose != nil && *r.Meta.ChartPreviousClose > 0 {
		pct := (*price - *r.Meta.ChartPreviousClose) / *r.Meta.ChartPreviousClose * 100
		q.ChangePct = &pct
	}

	if n := len(bars); n >= 6 {
		var sum float64
		for _, b := range bars[n-6 : n-1] {
			sum += b.Volume
		}
		if avg := sum / 5; avg > 0 {
			ratio := bars[n-1].Volume / avg
			q.VolumeRatio = &ratio
		}
	}

	if n := len(bars); n > 60 {
		base := bars[n-61].Close
		if base > 0 {
			chg := (*price - base) / base * 100
			q.Change60d = &chg
		}
	}
	return q
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
