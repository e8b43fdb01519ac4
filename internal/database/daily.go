package database

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// contextWindow is how many recent bars GetStoredContext loads.
const contextWindow = 120

// HasDataForDate reports whether a daily record exists for symbol on date.
func (db *DB) HasDataForDate(symbol string, date time.Time) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM daily_records WHERE symbol = ? AND date = ?",
		symbol, date.Format(models.DateLayout),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LatestStoredDate returns the most recent stored date for symbol, or nil.
func (db *DB) LatestStoredDate(symbol string) (*time.Time, error) {
	var raw sql.NullString
	err := db.conn.QueryRow(
		"SELECT MAX(date) FROM daily_records WHERE symbol = ?", symbol,
	).Scan(&raw)
	if err != nil {
		return nil, err
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	d, err := time.Parse(models.DateLayout, raw.String)
	if err != nil {
		return nil, fmt.Errorf("parsing stored date %q: %w", raw.String, err)
	}
	return &d, nil
}

// SaveDailyRecords upserts bars keyed by (symbol, date) and returns the number
// of rows written. Re-saving an existing day overwrites it.
func (db *DB) SaveDailyRecords(symbol string, bars []models.DailyBar, source string) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_records (symbol, date, open, high, low, close, volume, amount, pct_chg, data_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			amount = excluded.amount,
			pct_chg = excluded.pct_chg,
			data_source = excluded.data_source,
			updated_at = datetime('now')`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	saved := 0
	for _, b := range bars {
		if _, err := stmt.Exec(symbol, b.Date.Format(models.DateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount, b.ChangePct, source); err != nil {
			return 0, fmt.Errorf("saving %s %s: %w", symbol, b.Date.Format(models.DateLayout), err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return saved, nil
}

// GetRecentBars returns up to limit bars for symbol, oldest first.
func (db *DB) GetRecentBars(symbol string, limit int) ([]models.DailyBar, error) {
	rows, err := db.conn.Query(
		`SELECT date, open, high, low, close, volume, amount, pct_chg
		FROM daily_records WHERE symbol = ? ORDER BY date DESC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []models.DailyBar
	for rows.Next() {
		var (
			b      models.DailyBar
			date   string
			amount sql.NullFloat64
			pctChg sql.NullFloat64
		)
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &amount, &pctChg); err != nil {
			return nil, err
		}
		b.Date, err = time.Parse(models.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parsing stored date %q: %w", date, err)
		}
		b.Amount = amount.Float64
		if pctChg.Valid {
			v := pctChg.Float64
			b.ChangePct = &v
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// GetStoredContext builds the history-derived analysis context for symbol.
// Returns nil when no history is stored.
func (db *DB) GetStoredContext(symbol string) (*models.StoredContext, error) {
	bars, err := db.GetRecentBars(symbol, contextWindow)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	today := bars[len(bars)-1]
	ctx := &models.StoredContext{
		Symbol:  symbol,
		Date:    today.Date.Format(models.DateLayout),
		Today:   &today,
		History: bars,
		MA5:     movingAverage(bars, 5),
		MA10:    movingAverage(bars, 10),
		MA20:    movingAverage(bars, 20),
	}

	if len(bars) >= 2 {
		yesterday := bars[len(bars)-2]
		ctx.Yesterday = &yesterday
		if yesterday.Volume > 0 {
			v := round2(today.Volume / yesterday.Volume)
			ctx.VolumeChangeRatio = &v
		}
		if yesterday.Close > 0 {
			p := round2((today.Close - yesterday.Close) / yesterday.Close * 100)
			ctx.PriceChangeRatio = &p
		}
	}
	return ctx, nil
}

func movingAverage(bars []models.DailyBar, n int) *float64 {
	if len(bars) < n {
		return nil
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Close
	}
	avg := round2(sum / float64(n))
	return &avg
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
