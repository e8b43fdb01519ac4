// Package models holds the domain types shared across the analysis pipeline.
package models

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used for storage and reports.
const DateLayout = "2006-01-02"

// ReportKind selects how a verdict is rendered for per-symbol delivery.
type ReportKind string

const (
	ReportSimple ReportKind = "simple"
	ReportFull   ReportKind = "full"
)

// ParseReportKind maps a config value to a ReportKind, defaulting to simple.
func ParseReportKind(s string) ReportKind {
	if ReportKind(s) == ReportFull {
		return ReportFull
	}
	return ReportSimple
}

// Requester describes the interactive origin of a run (a bot message or a
// web request). A nil *Requester means the run was scheduled or CLI driven.
type Requester struct {
	QueryID   string
	Platform  string
	UserID    string
	UserName  string
	ChatID    string
	MessageID string
	Query     string
	// ReplyURL receives direct replies for SendToContext.
	ReplyURL string
	// FromMessage is true when the request arrived as a chat message.
	FromMessage bool
}

// Origin resolves where a run came from: an explicit source wins, then "bot"
// for chat messages, then "web" for requests carrying a query id, otherwise
// "system".
func (r *Requester) Origin(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if r == nil {
		return "system"
	}
	if r.FromMessage {
		return "bot"
	}
	if r.QueryID != "" {
		return "web"
	}
	return "system"
}

// QueryContext flattens the requester into the map stored alongside intel.
func (r *Requester) QueryContext(origin string) map[string]string {
	ctx := map[string]string{
		"query_id":     "",
		"query_source": origin,
	}
	if r == nil {
		return ctx
	}
	ctx["query_id"] = r.QueryID
	if r.FromMessage {
		ctx["requester_platform"] = r.Platform
		ctx["requester_user_id"] = r.UserID
		ctx["requester_user_name"] = r.UserName
		ctx["requester_chat_id"] = r.ChatID
		ctx["requester_message_id"] = r.MessageID
		ctx["requester_query"] = r.Query
	}
	return ctx
}

// SymbolTask is one unit of work in a run.
type SymbolTask struct {
	Symbol        string
	ReportKind    ReportKind
	CorrelationID string
	Origin        string
	Requester     *Requester
}

// DeriveCorrelationID builds a per-symbol id from a batch's outer id.
func DeriveCorrelationID(outer, symbol string) string {
	return fmt.Sprintf("%s-%s", outer, symbol)
}

// FetchPlan is the per-symbol decision made by the fetch planner.
type FetchPlan struct {
	Symbol       string
	NeedsFetch   bool
	LookbackDays int
}

// DailyBar is one day of OHLCV history.
type DailyBar struct {
	Date      time.Time `json:"date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount,omitempty"`
	ChangePct *float64  `json:"change_pct,omitempty"`
}

// History is a batch of bars with the name of the source that supplied it.
type History struct {
	Bars   []DailyBar
	Source string
}

// Quote is a realtime snapshot. Unknown numeric fields stay nil.
type Quote struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name,omitempty"`
	Price        *float64  `json:"price,omitempty"`
	ChangePct    *float64  `json:"change_pct,omitempty"`
	VolumeRatio  *float64  `json:"volume_ratio,omitempty"`
	TurnoverRate *float64  `json:"turnover_rate,omitempty"`
	PERatio      *float64  `json:"pe_ratio,omitempty"`
	PBRatio      *float64  `json:"pb_ratio,omitempty"`
	TotalMV      *float64  `json:"total_mv,omitempty"`
	CircMV       *float64  `json:"circ_mv,omitempty"`
	Change60d    *float64  `json:"change_60d,omitempty"`
	Source       string    `json:"source,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// ChipSnapshot is a cost-basis distribution of a symbol's float.
type ChipSnapshot struct {
	Symbol          string  `json:"symbol"`
	Date            string  `json:"date"`
	ProfitRatio     float64 `json:"profit_ratio"`
	AvgCost         float64 `json:"avg_cost"`
	Cost90Low       float64 `json:"cost_90_low"`
	Cost90High      float64 `json:"cost_90_high"`
	Concentration90 float64 `json:"concentration_90"`
	Cost70Low       float64 `json:"cost_70_low"`
	Cost70High      float64 `json:"cost_70_high"`
	Concentration70 float64 `json:"concentration_70"`
	Source          string  `json:"source,omitempty"`
}

// Status describes the holder position relative to price. A zero price means
// the price is unknown and only concentration is assessed.
func (c *ChipSnapshot) Status(price float64) string {
	concentration := "dispersed"
	switch {
	case c.Concentration90 < 0.10:
		concentration = "highly concentrated"
	case c.Concentration90 < 0.20:
		concentration = "concentrated"
	}
	if price <= 0 || c.AvgCost <= 0 {
		return concentration
	}

	position := "near average cost"
	diff := (price - c.AvgCost) / c.AvgCost
	switch {
	case diff > 0.05:
		position = "above average cost"
	case diff < -0.05:
		position = "below average cost"
	}

	profit := "mixed profit"
	switch {
	case c.ProfitRatio >= 0.9:
		profit = "heavy profit-taking pressure"
	case c.ProfitRatio >= 0.7:
		profit = "mostly in profit"
	case c.ProfitRatio <= 0.1:
		profit = "deeply trapped"
	case c.ProfitRatio <= 0.3:
		profit = "mostly trapped"
	}
	return fmt.Sprintf("%s, %s, %s", concentration, position, profit)
}

// DateOf truncates t to its calendar date in t's location, returned as UTC
// midnight so that day arithmetic is exact.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
