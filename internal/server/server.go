package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
	"github.com/WangXiZhu/daily-stock-analysis/internal/database"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
	"github.com/WangXiZhu/daily-stock-analysis/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

const (
	recentLimit = 50
	reportLimit = 30
)

// Report is a saved dashboard file.
type Report struct {
	Date string
	Path string
}

// Analyzer runs an on-demand analysis for an interactive requester.
// Implemented by *pipeline.Pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, r *models.Requester, source string, symbols []string) *pipeline.RunResult
}

// Option configures a Server.
type Option func(*Server)

// WithAnalyzer enables POST /api/analyze.
func WithAnalyzer(a Analyzer) Option {
	return func(s *Server) { s.analyzer = a }
}

// Server is the HTTP viewer for stored analyses and saved dashboards.
type Server struct {
	db        *database.DB
	reportDir string
	pages     map[string]*template.Template
	mux       *http.ServeMux
	analyzer  Analyzer
	newID     func() string
	logger    zerolog.Logger
}

// New creates a new Server. gatherer backs /metrics; nil uses the default
// registry.
func New(db *database.DB, reportDir string, gatherer prometheus.Gatherer, logger zerolog.Logger, opts ...Option) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":    renderMarkdown,
		"formatDate":  database.FormatDateDisplay,
		"deref":       deref,
		"derefFloat":  derefFloat,
		"adviceClass": adviceClass,
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so the "content" blocks don't collide.
	pageNames := []string{"index.html", "report.html", "symbol.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		db:        db,
		reportDir: reportDir,
		pages:     pages,
		mux:       http.NewServeMux(),
		newID:     uuid.NewString,
		logger:    logger.With().Str("component", "server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes(gatherer)
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/report/", s.handleReport)
	s.mux.HandleFunc("/symbol/", s.handleSymbol)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	analyses, err := s.db.GetRecentAnalyses(recentLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Loading recent analyses failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	lastRun, _ := s.db.GetLastRun()

	s.render(w, "index.html", map[string]any{
		"Analyses": analyses,
		"Reports":  s.listReports(),
		"LastRun":  lastRun,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimPrefix(r.URL.Path, "/report/")
	if date == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	content, err := os.ReadFile(s.reportPath(d))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "report.html", map[string]any{
		"Date":    date,
		"Content": string(content),
	})
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/symbol/"))
	if symbol == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	analyses, err := s.db.GetAnalysesForSymbol(symbol, recentLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("Loading symbol history failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	intel, _ := s.db.GetNewsIntel(symbol, 20)

	s.render(w, "symbol.html", map[string]any{
		"Symbol":   symbol,
		"Analyses": analyses,
		"Intel":    intel,
	})
}

// analyzeRequest is the body of POST /api/analyze.
type analyzeRequest struct {
	Symbols  []string `json:"symbols"`
	QueryID  string   `json:"query_id"`
	Source   string   `json:"source"`
	ReplyURL string   `json:"reply_url"`
	Platform string   `json:"platform"`
	UserID   string   `json:"user_id"`
	UserName string   `json:"user_name"`
	ChatID   string   `json:"chat_id"`
	Query    string   `json:"query"`
}

type analyzeResponse struct {
	QueryID string   `json:"query_id"`
	Symbols []string `json:"symbols"`
	Status  string   `json:"status"`
}

// handleAnalyze accepts an on-demand analysis and runs it in the background.
// The dashboard is replied to reply_url and pushed to the configured
// channels.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		http.Error(w, "analysis is not enabled on this server", http.StatusServiceUnavailable)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	symbols := config.NormalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		http.Error(w, "symbols is required", http.StatusBadRequest)
		return
	}
	if req.QueryID == "" {
		req.QueryID = s.newID()
	}

	requester := &models.Requester{
		QueryID:  req.QueryID,
		Platform: req.Platform,
		UserID:   req.UserID,
		UserName: req.UserName,
		ChatID:   req.ChatID,
		Query:    req.Query,
		ReplyURL: req.ReplyURL,
	}
	if requester.Query == "" {
		requester.Query = strings.Join(symbols, ",")
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		res := s.analyzer.Analyze(ctx, requester, req.Source, symbols)
		if res != nil {
			s.logger.Info().Str("query_id", requester.QueryID).Str("run_id", res.RunID).
				Int("succeeded", res.Succeeded).Int("failed", res.Failed).Msg("On-demand analysis finished")
		}
	}()

	s.logger.Info().Str("query_id", requester.QueryID).Strs("symbols", symbols).Msg("On-demand analysis accepted")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(analyzeResponse{QueryID: requester.QueryID, Symbols: symbols, Status: "accepted"})
}

func (s *Server) reportPath(d time.Time) string {
	return filepath.Join(s.reportDir, "report_"+d.Format("20060102")+".md")
}

// listReports returns saved dashboards, newest first.
func (s *Server) listReports() []Report {
	entries, err := os.ReadDir(s.reportDir)
	if err != nil {
		return nil
	}

	var reports []Report
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "report_") || !strings.HasSuffix(name, ".md") {
			continue
		}
		d, err := time.Parse("20060102", strings.TrimSuffix(strings.TrimPrefix(name, "report_"), ".md"))
		if err != nil {
			continue
		}
		reports = append(reports, Report{Date: d.Format(models.DateLayout), Path: filepath.Join(s.reportDir, name)})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Date > reports[j].Date })
	if len(reports) > reportLimit {
		reports = reports[:reportLimit]
	}
	return reports
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error().Str("template", name).Msg("Template not found")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error().Err(err).Str("template", name).Msg("Rendering template failed")
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) string {
	if f == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *f)
}

// adviceClass maps an advice string to a CSS class.
func adviceClass(advice *string) string {
	a := strings.ToLower(deref(advice))
	switch {
	case strings.Contains(a, "sell"), strings.Contains(a, "reduce"), strings.Contains(a, "avoid"):
		return "sell"
	case strings.Contains(a, "buy"), strings.Contains(a, "add"), strings.Contains(a, "accumulate"):
		return "buy"
	default:
		return "hold"
	}
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, reportDir string, gatherer prometheus.Gatherer, port int, logger zerolog.Logger, opts ...Option) error {
	srv, err := New(db, reportDir, gatherer, logger, opts...)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv.logger.Info().Str("addr", "http://"+addr).Msg("Server listening")
	return http.ListenAndServe(addr, srv.Handler())
}
