package models

import "time"

// TrendResult is the output of the trend analyzer.
type TrendResult struct {
	Symbol        string   `json:"symbol"`
	TrendStatus   string   `json:"trend_status"`
	MAAlignment   string   `json:"ma_alignment"`
	TrendStrength float64  `json:"trend_strength"`
	MA5           float64  `json:"ma5"`
	MA10          float64  `json:"ma10"`
	MA20          float64  `json:"ma20"`
	MA60          float64  `json:"ma60,omitempty"`
	BiasMA5       float64  `json:"bias_ma5"`
	BiasMA10      float64  `json:"bias_ma10"`
	VolumeStatus  string   `json:"volume_status"`
	VolumeTrend   string   `json:"volume_trend"`
	BuySignal     string   `json:"buy_signal"`
	SignalScore   int      `json:"signal_score"`
	SignalReasons []string `json:"signal_reasons"`
	RiskFactors   []string `json:"risk_factors"`
}

// StoredContext is the history-derived context read back from persistence.
type StoredContext struct {
	Symbol            string     `json:"code"`
	Date              string     `json:"date"`
	Today             *DailyBar  `json:"today,omitempty"`
	Yesterday         *DailyBar  `json:"yesterday,omitempty"`
	MA5               *float64   `json:"ma5,omitempty"`
	MA10              *float64   `json:"ma10,omitempty"`
	MA20              *float64   `json:"ma20,omitempty"`
	VolumeChangeRatio *float64   `json:"volume_change_ratio,omitempty"`
	PriceChangeRatio  *float64   `json:"price_change_ratio,omitempty"`
	History           []DailyBar `json:"-"`
}

// RealtimeInfo is the realtime sub-record of an EnrichedContext.
type RealtimeInfo struct {
	Name            string   `json:"name,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	ChangePct       *float64 `json:"change_pct,omitempty"`
	VolumeRatio     *float64 `json:"volume_ratio,omitempty"`
	VolumeRatioDesc string   `json:"volume_ratio_desc"`
	TurnoverRate    *float64 `json:"turnover_rate,omitempty"`
	PERatio         *float64 `json:"pe_ratio,omitempty"`
	PBRatio         *float64 `json:"pb_ratio,omitempty"`
	TotalMV         *float64 `json:"total_mv,omitempty"`
	CircMV          *float64 `json:"circ_mv,omitempty"`
	Change60d       *float64 `json:"change_60d,omitempty"`
	Source          string   `json:"source,omitempty"`
}

// ChipInfo is the chip-distribution sub-record of an EnrichedContext.
type ChipInfo struct {
	ProfitRatio     float64 `json:"profit_ratio"`
	AvgCost         float64 `json:"avg_cost"`
	Concentration90 float64 `json:"concentration_90"`
	Concentration70 float64 `json:"concentration_70"`
	ChipStatus      string  `json:"chip_status"`
}

// TrendInfo is the trend sub-record of an EnrichedContext.
type TrendInfo struct {
	TrendStatus   string   `json:"trend_status"`
	MAAlignment   string   `json:"ma_alignment"`
	TrendStrength float64  `json:"trend_strength"`
	BiasMA5       float64  `json:"bias_ma5"`
	BiasMA10      float64  `json:"bias_ma10"`
	VolumeStatus  string   `json:"volume_status"`
	VolumeTrend   string   `json:"volume_trend"`
	BuySignal     string   `json:"buy_signal"`
	SignalScore   int      `json:"signal_score"`
	SignalReasons []string `json:"signal_reasons"`
	RiskFactors   []string `json:"risk_factors"`
}

// EnrichedContext is the merged per-symbol input to scoring. It is built
// fresh for every run.
type EnrichedContext struct {
	Symbol            string        `json:"code"`
	Name              string        `json:"stock_name"`
	Date              string        `json:"date"`
	DataMissing       bool          `json:"data_missing,omitempty"`
	Today             *DailyBar     `json:"today,omitempty"`
	Yesterday         *DailyBar     `json:"yesterday,omitempty"`
	MA5               *float64      `json:"ma5,omitempty"`
	MA10              *float64      `json:"ma10,omitempty"`
	MA20              *float64      `json:"ma20,omitempty"`
	VolumeChangeRatio *float64      `json:"volume_change_ratio,omitempty"`
	PriceChangeRatio  *float64      `json:"price_change_ratio,omitempty"`
	Realtime          *RealtimeInfo `json:"realtime,omitempty"`
	Chip              *ChipInfo     `json:"chip,omitempty"`
	Trend             *TrendInfo    `json:"trend_analysis,omitempty"`
	History           []DailyBar    `json:"-"`
}

// Verdict is the AI scoring output for one symbol.
type Verdict struct {
	Symbol         string    `json:"code"`
	Name           string    `json:"name"`
	SentimentScore int       `json:"sentiment_score"`
	Advice         string    `json:"operation_advice"`
	Trend          string    `json:"trend_prediction"`
	Confidence     string    `json:"confidence_level"`
	Summary        string    `json:"analysis_summary"`
	Narrative      string    `json:"narrative,omitempty"`
	Risks          []string  `json:"risk_warnings,omitempty"`
	Price          *float64  `json:"current_price,omitempty"`
	ChangePct      *float64  `json:"change_pct,omitempty"`
	RawResponse    string    `json:"-"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// ContextSnapshot captures every input that fed a verdict, for audit.
type ContextSnapshot struct {
	Context  *EnrichedContext `json:"enhanced_context"`
	NewsText string           `json:"news_content,omitempty"`
	QuoteRaw *Quote           `json:"realtime_quote_raw"`
	ChipRaw  *ChipSnapshot    `json:"chip_distribution_raw"`
}

// IntelResult is one search hit.
type IntelResult struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Source    string `json:"source"`
	Published string `json:"published,omitempty"`
	Content   string `json:"content,omitempty"`
}

// IntelResponse is the result of one search dimension.
type IntelResponse struct {
	Dimension string        `json:"dimension"`
	Query     string        `json:"query"`
	Provider  string        `json:"provider"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Results   []IntelResult `json:"results"`
}
