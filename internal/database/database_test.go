package database

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func fptr(f float64) *float64 { return &f }

func day(s string) time.Time {
	d, _ := time.Parse(models.DateLayout, s)
	return d
}

// bars builds n consecutive daily bars ending at end with closes 1..n.
func bars(end string, n int) []models.DailyBar {
	last := day(end)
	out := make([]models.DailyBar, n)
	for i := 0; i < n; i++ {
		c := float64(i + 1)
		out[i] = models.DailyBar{
			Date:   last.AddDate(0, 0, i-n+1),
			Open:   c,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000 * c,
		}
	}
	return out
}

func TestSaveDailyRecordsAndLatestDate(t *testing.T) {
	db := openTestDB(t)

	latest, err := db.LatestStoredDate("AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil latest date for empty store, got %v", latest)
	}

	saved, err := db.SaveDailyRecords("AAPL", bars("2026-02-06", 3), "yahoo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved != 3 {
		t.Errorf("expected 3 saved, got %d", saved)
	}

	latest, err = db.LatestStoredDate("AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest == nil || latest.Format(models.DateLayout) != "2026-02-06" {
		t.Errorf("expected latest 2026-02-06, got %v", latest)
	}
}

func TestSaveDailyRecordsUpsert(t *testing.T) {
	db := openTestDB(t)
	db.SaveDailyRecords("AAPL", bars("2026-02-06", 5), "yahoo")

	revised := []models.DailyBar{{Date: day("2026-02-06"), Open: 9, High: 10, Low: 8, Close: 9.5, Volume: 42}}
	if _, err := db.SaveDailyRecords("AAPL", revised, "yahoo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := db.GetRecentBars("AAPL", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected upsert to keep 5 rows, got %d", len(got))
	}
	if got[4].Close != 9.5 || got[4].Volume != 42 {
		t.Errorf("expected revised bar, got %+v", got[4])
	}
}

func TestHasDataForDate(t *testing.T) {
	db := openTestDB(t)
	db.SaveDailyRecords("MSFT", bars("2026-02-06", 1), "yahoo")

	has, err := db.HasDataForDate("MSFT", day("2026-02-06"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Error("expected data for 2026-02-06")
	}

	has, _ = db.HasDataForDate("MSFT", day("2026-02-07"))
	if has {
		t.Error("expected no data for 2026-02-07")
	}
	has, _ = db.HasDataForDate("AAPL", day("2026-02-06"))
	if has {
		t.Error("expected no data for another symbol")
	}
}

func TestGetStoredContext(t *testing.T) {
	db := openTestDB(t)

	ctx, err := db.GetStoredContext("AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx != nil {
		t.Error("expected nil context without history")
	}

	db.SaveDailyRecords("AAPL", bars("2026-02-06", 25), "yahoo")
	ctx, err = db.GetStoredContext("AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx == nil {
		t.Fatal("expected context")
	}
	if ctx.Date != "2026-02-06" {
		t.Errorf("expected date 2026-02-06, got %q", ctx.Date)
	}
	if ctx.Today == nil || ctx.Today.Close != 25 {
		t.Errorf("expected today close 25, got %+v", ctx.Today)
	}
	if ctx.Yesterday == nil || ctx.Yesterday.Close != 24 {
		t.Errorf("expected yesterday close 24, got %+v", ctx.Yesterday)
	}
	// closes 21..25
	if ctx.MA5 == nil || *ctx.MA5 != 23 {
		t.Errorf("expected MA5 23, got %v", ctx.MA5)
	}
	if ctx.MA20 == nil || *ctx.MA20 != 15.5 {
		t.Errorf("expected MA20 15.5, got %v", ctx.MA20)
	}
	if len(ctx.History) != 25 || !ctx.History[0].Date.Before(ctx.History[24].Date) {
		t.Error("expected 25 bars, oldest first")
	}
	if ctx.VolumeChangeRatio == nil || *ctx.VolumeChangeRatio != 1.04 {
		t.Errorf("expected volume change ratio 1.04, got %v", ctx.VolumeChangeRatio)
	}
}

func TestGetStoredContextShortHistory(t *testing.T) {
	db := openTestDB(t)
	db.SaveDailyRecords("AAPL", bars("2026-02-06", 1), "yahoo")

	ctx, err := db.GetStoredContext("AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Yesterday != nil || ctx.MA5 != nil || ctx.VolumeChangeRatio != nil {
		t.Error("expected optional fields to stay nil with one bar")
	}
}

func TestSaveNewsIntel(t *testing.T) {
	db := openTestDB(t)
	resp := &models.IntelResponse{
		Dimension: "latest_news",
		Query:     "Apple stock news",
		Provider:  "rss",
		Success:   true,
		Results: []models.IntelResult{
			{Title: "Apple beats", URL: "https://a.com/1", Snippet: "Strong quarter"},
			{Title: "Apple guidance", URL: "https://a.com/2"},
			{Title: "", URL: "https://a.com/3"},
		},
	}
	qctx := map[string]string{"query_id": "q1", "query_source": "web"}

	saved, err := db.SaveNewsIntel("AAPL", "Apple", "latest_news", resp.Query, resp, qctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved != 2 {
		t.Errorf("expected 2 saved, got %d", saved)
	}

	saved, _ = db.SaveNewsIntel("AAPL", "Apple", "latest_news", resp.Query, resp, qctx)
	if saved != 0 {
		t.Errorf("expected duplicates to be skipped, got %d", saved)
	}

	items, err := db.GetNewsIntel("AAPL", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].QuerySource == nil || *items[0].QuerySource != "web" {
		t.Errorf("expected query_source 'web', got %v", items[0].QuerySource)
	}
}

func TestSaveAnalysisHistory(t *testing.T) {
	db := openTestDB(t)
	v := &models.Verdict{
		Symbol:         "AAPL",
		Name:           "Apple",
		SentimentScore: 72,
		Advice:         "Buy",
		Trend:          "Bullish",
		Price:          fptr(190.5),
	}
	snapshot := &models.ContextSnapshot{
		Context:  &models.EnrichedContext{Symbol: "AAPL", Name: "Apple"},
		NewsText: "news",
	}

	if _, err := db.SaveAnalysisHistory(v, "run-AAPL", models.ReportSimple, "news", snapshot, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := db.SaveAnalysisHistory(v, "run2-AAPL", models.ReportFull, "", snapshot, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := db.GetAnalysisByCorrelation("run-AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record")
	}
	if rec.SentimentScore != 72 || rec.CurrentPrice == nil || *rec.CurrentPrice != 190.5 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.ChangePct != nil {
		t.Error("expected change_pct to stay NULL")
	}
	if rec.ContextSnapshot == nil {
		t.Fatal("expected snapshot to be stored")
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(*rec.ContextSnapshot), &decoded); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if _, ok := decoded["enhanced_context"]; !ok {
		t.Error("expected enhanced_context key in snapshot")
	}

	rec, _ = db.GetAnalysisByCorrelation("run2-AAPL")
	if rec.ContextSnapshot != nil {
		t.Error("expected no snapshot when persistence flag is off")
	}
	if rec.NewsContent != nil {
		t.Error("expected empty news to be stored as NULL")
	}

	all, _ := db.GetAnalysesForSymbol("AAPL", 10)
	if len(all) != 2 {
		t.Errorf("expected 2 analyses, got %d", len(all))
	}
}

func TestSaveAnalysisHistoryUnencodableSnapshot(t *testing.T) {
	var buf bytes.Buffer
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), WithLogger(zerolog.New(&buf)))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	defer db.Close()

	v := &models.Verdict{Symbol: "AAPL", Name: "Apple", SentimentScore: 55, Advice: "Hold"}
	snapshot := &models.ContextSnapshot{
		Context: &models.EnrichedContext{Symbol: "AAPL", MA5: fptr(math.NaN())},
	}

	if _, err := db.SaveAnalysisHistory(v, "run-AAPL", models.ReportSimple, "", snapshot, true); err != nil {
		t.Fatalf("expected row stored without snapshot, got %v", err)
	}

	rec, err := db.GetAnalysisByCorrelation("run-AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record")
	}
	if rec.SentimentScore != 55 {
		t.Errorf("expected score 55, got %d", rec.SentimentScore)
	}
	if rec.ContextSnapshot != nil {
		t.Errorf("expected NULL snapshot, got %q", *rec.ContextSnapshot)
	}
	if !strings.Contains(buf.String(), "Context snapshot not stored") {
		t.Errorf("expected snapshot failure logged, got %q", buf.String())
	}
}

func TestConcurrentWriters(t *testing.T) {
	db := openTestDB(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers*6)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbol := fmt.Sprintf("S%d", i)
			if _, err := db.SaveDailyRecords(symbol, bars("2026-02-06", 50), "yahoo"); err != nil {
				errs <- fmt.Errorf("saving %s bars: %w", symbol, err)
			}
			for j := 0; j < 5; j++ {
				v := &models.Verdict{Symbol: symbol, SentimentScore: 50 + j}
				if _, err := db.SaveAnalysisHistory(v, fmt.Sprintf("run%d-%s", j, symbol), models.ReportSimple, "", nil, false); err != nil {
					errs <- fmt.Errorf("saving %s verdict %d: %w", symbol, j, err)
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.DailyRecords != writers*50 {
		t.Errorf("expected %d daily records, got %d", writers*50, stats.DailyRecords)
	}
	if stats.Analyses != writers*5 {
		t.Errorf("expected %d analyses, got %d", writers*5, stats.Analyses)
	}
}

func TestOpenAppliesPragmasToEveryConnection(t *testing.T) {
	db := openTestDB(t)

	// Hold one connection so the pool has to open another.
	held, err := db.conn.Conn(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer held.Close()

	for _, conn := range []interface {
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	}{held, db.conn} {
		var timeout, fk int
		if err := conn.QueryRowContext(t.Context(), "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("reading busy_timeout: %v", err)
		}
		if err := conn.QueryRowContext(t.Context(), "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("reading foreign_keys: %v", err)
		}
		if timeout != 5000 || fk != 1 {
			t.Errorf("expected busy_timeout 5000 and foreign_keys 1, got %d and %d", timeout, fk)
		}
	}
}

func TestRunReportsAndStats(t *testing.T) {
	db := openTestDB(t)

	last, err := db.GetLastRun()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != nil {
		t.Error("expected no runs")
	}

	path := "/tmp/report_20260206.md"
	db.InsertRunReport(RunReport{RunID: "r1", RunDate: "2026-02-06", Requested: 3, Succeeded: 2, Failed: 1, ReportPath: &path})
	db.SaveDailyRecords("AAPL", bars("2026-02-06", 2), "yahoo")
	db.SaveDailyRecords("MSFT", bars("2026-02-05", 2), "yahoo")

	last, err = db.GetLastRun()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last == nil || last.RunID != "r1" || last.Succeeded != 2 {
		t.Errorf("unexpected last run %+v", last)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.DailyRecords != 4 || stats.Symbols != 2 || stats.Runs != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.LatestDataDate != "2026-02-06" {
		t.Errorf("expected latest 2026-02-06, got %q", stats.LatestDataDate)
	}
}

func TestFormatDateDisplay(t *testing.T) {
	if got := FormatDateDisplay("2026-02-06"); got != "Feb 06, 2026" {
		t.Errorf("expected 'Feb 06, 2026', got %q", got)
	}
	if got := FormatDateDisplay("garbage"); got != "garbage" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
