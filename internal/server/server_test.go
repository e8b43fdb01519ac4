package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/WangXiZhu/daily-stock-analysis/internal/database"
	"github.com/WangXiZhu/daily-stock-analysis/internal/metrics"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
	"github.com/WangXiZhu/daily-stock-analysis/internal/pipeline"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func fptr(f float64) *float64 { return &f }

func newTestServer(t *testing.T, db *database.DB, reportDir string) *Server {
	t.Helper()
	srv, err := New(db, reportDir, prometheus.NewRegistry(), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	reportDir := t.TempDir()
	os.WriteFile(filepath.Join(reportDir, "report_20260205.md"), []byte("# old"), 0o644)
	os.WriteFile(filepath.Join(reportDir, "report_20260206.md"), []byte("# new"), 0o644)
	os.WriteFile(filepath.Join(reportDir, "notes.txt"), []byte("ignored"), 0o644)

	v := &models.Verdict{Symbol: "AAPL", Name: "Apple", SentimentScore: 72, Advice: "Buy", Price: fptr(190.5)}
	if _, err := db.SaveAnalysisHistory(v, "run1-AAPL", models.ReportSimple, "", nil, false); err != nil {
		t.Fatalf("saving analysis: %v", err)
	}

	rec := get(newTestServer(t, db, reportDir), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Dashboards", "/report/2026-02-06", "/report/2026-02-05", "/symbol/AAPL", "190.50"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response body", want)
		}
	}
	if strings.Index(body, "2026-02-06") > strings.Index(body, "2026-02-05") {
		t.Error("expected newest report first")
	}
	if strings.Contains(body, "notes.txt") {
		t.Error("expected non-report files ignored")
	}
}

func TestIndexNotFound(t *testing.T) {
	rec := get(newTestServer(t, openTestDB(t), t.TempDir()), "/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestReportRoute(t *testing.T) {
	reportDir := t.TempDir()
	os.WriteFile(filepath.Join(reportDir, "report_20260206.md"), []byte("# Stock Dashboard 2026-02-06\n\n| A | B |\n|---|---|\n| 1 | 2 |\n\n**Buy** now"), 0o644)
	srv := newTestServer(t, openTestDB(t), reportDir)

	rec := get(srv, "/report/2026-02-06")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>Stock Dashboard 2026-02-06</h1>") {
		t.Error("expected markdown heading rendered")
	}
	if !strings.Contains(body, "<strong>Buy</strong>") {
		t.Error("expected markdown emphasis rendered")
	}
	if !strings.Contains(body, "<table>") {
		t.Error("expected dashboard table rendered")
	}

	if rec := get(srv, "/report/2026-02-07"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing report, got %d", rec.Code)
	}
	if rec := get(srv, "/report/not-a-date"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for invalid date, got %d", rec.Code)
	}
	if rec := get(srv, "/report/"); rec.Code != http.StatusFound {
		t.Errorf("expected redirect, got %d", rec.Code)
	}
}

func TestSymbolRoute(t *testing.T) {
	db := openTestDB(t)
	db.SaveAnalysisHistory(&models.Verdict{Symbol: "MSFT", Name: "Microsoft", SentimentScore: 40, Advice: "Sell", Summary: "Momentum fading"}, "run1-MSFT", models.ReportSimple, "", nil, false)
	db.SaveNewsIntel("MSFT", "Microsoft", "latest_news", "msft news", &models.IntelResponse{
		Provider: "rss", Success: true,
		Results: []models.IntelResult{{Title: "Microsoft cuts guidance", URL: "https://news.example.com/msft"}},
	}, nil)

	rec := get(newTestServer(t, db, t.TempDir()), "/symbol/msft")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"MSFT", "Momentum fading", `class="sell"`, "Microsoft cuts guidance"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response body", want)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	rec.RecordRun(false, 0)

	srv, err := New(openTestDB(t), t.TempDir(), reg, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	resp := get(srv, "/metrics")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "stockanalyzer_runs_total") {
		t.Error("expected run counter exposed")
	}
}

func TestStaticRoute(t *testing.T) {
	rec := get(newTestServer(t, openTestDB(t), t.TempDir()), "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAdviceClass(t *testing.T) {
	s := func(v string) *string { return &v }
	tests := []struct {
		advice *string
		want   string
	}{
		{s("Buy"), "buy"},
		{s("Accumulate"), "buy"},
		{s("Reduce position"), "sell"},
		{s("Hold"), "hold"},
		{nil, "hold"},
	}
	for _, tt := range tests {
		if got := adviceClass(tt.advice); got != tt.want {
			t.Errorf("adviceClass(%v) = %q, want %q", deref(tt.advice), got, tt.want)
		}
	}
}

// fakeAnalyzer implements Analyzer for testing.
type fakeAnalyzer struct {
	calls chan analyzeCall
}

type analyzeCall struct {
	requester *models.Requester
	source    string
	symbols   []string
	ctxErr    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, r *models.Requester, source string, symbols []string) *pipeline.RunResult {
	f.calls <- analyzeCall{requester: r, source: source, symbols: symbols, ctxErr: ctx.Err()}
	return &pipeline.RunResult{RunID: "run1", Succeeded: len(symbols)}
}

func post(srv *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeRoute(t *testing.T) {
	fa := &fakeAnalyzer{calls: make(chan analyzeCall, 1)}
	srv, err := New(openTestDB(t), t.TempDir(), prometheus.NewRegistry(), zerolog.Nop(), WithAnalyzer(fa))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := post(srv, "/api/analyze", `{"symbols":["aapl"," msft","AAPL"],"query_id":"q1","reply_url":"http://reply.example.com/hook","user_id":"u7"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp analyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.QueryID != "q1" || strings.Join(resp.Symbols, ",") != "AAPL,MSFT" {
		t.Errorf("unexpected response %+v", resp)
	}

	select {
	case call := <-fa.calls:
		if strings.Join(call.symbols, ",") != "AAPL,MSFT" {
			t.Errorf("expected normalized symbols, got %v", call.symbols)
		}
		r := call.requester
		if r.QueryID != "q1" || r.ReplyURL != "http://reply.example.com/hook" || r.UserID != "u7" {
			t.Errorf("unexpected requester %+v", r)
		}
		if r.Query != "AAPL,MSFT" {
			t.Errorf("expected query defaulted to the symbols, got %q", r.Query)
		}
		if r.Origin(call.source) != "web" {
			t.Errorf("expected web origin, got %q", r.Origin(call.source))
		}
		if call.ctxErr != nil {
			t.Errorf("expected analysis context to outlive the request, got %v", call.ctxErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected analysis to start")
	}
}

func TestAnalyzeRouteGeneratesQueryID(t *testing.T) {
	fa := &fakeAnalyzer{calls: make(chan analyzeCall, 1)}
	srv, _ := New(openTestDB(t), t.TempDir(), prometheus.NewRegistry(), zerolog.Nop(), WithAnalyzer(fa))
	srv.newID = func() string { return "generated" }

	rec := post(srv, "/api/analyze", `{"symbols":["AAPL"],"source":"bot"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	call := <-fa.calls
	if call.requester.QueryID != "generated" {
		t.Errorf("expected generated query id, got %q", call.requester.QueryID)
	}
	if call.requester.Origin(call.source) != "bot" {
		t.Errorf("expected explicit source to win, got %q", call.requester.Origin(call.source))
	}
}

func TestAnalyzeRouteRejects(t *testing.T) {
	fa := &fakeAnalyzer{calls: make(chan analyzeCall, 1)}
	srv, _ := New(openTestDB(t), t.TempDir(), prometheus.NewRegistry(), zerolog.Nop(), WithAnalyzer(fa))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"symbols":`, http.StatusBadRequest},
		{"no symbols", `{"symbols":[" "]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := post(srv, "/api/analyze", tt.body); rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
	if len(fa.calls) != 0 {
		t.Error("expected no analysis for rejected requests")
	}

	disabled := newTestServer(t, openTestDB(t), t.TempDir())
	if rec := post(disabled, "/api/analyze", `{"symbols":["AAPL"]}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without an analyzer, got %d", rec.Code)
	}
}
