package pipeline

import (
	"context"
	"time"

	"github.com/WangXiZhu/daily-stock-analysis/internal/analyzer"
	"github.com/WangXiZhu/daily-stock-analysis/internal/database"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
	"github.com/WangXiZhu/daily-stock-analysis/internal/notify"
)

// Watchlist supplies the default symbols of a run.
type Watchlist interface {
	List() []string
}

// MarketGateway is the market data source. Implemented by *gateway.Manager.
type MarketGateway interface {
	DailyHistory(ctx context.Context, symbol string, days int) (*models.History, error)
	DailyHistoryBatch(ctx context.Context, symbols []string, days int) (map[string]*models.History, error)
	RealtimeQuote(ctx context.Context, symbol string) (*models.Quote, error)
	ChipDistribution(ctx context.Context, symbol string) (*models.ChipSnapshot, error)
	PrefetchRealtimeQuotes(ctx context.Context, symbols []string) int
}

// Store is the persistence layer. Implemented by *database.DB.
type Store interface {
	HasDataForDate(symbol string, date time.Time) (bool, error)
	LatestStoredDate(symbol string) (*time.Time, error)
	SaveDailyRecords(symbol string, bars []models.DailyBar, source string) (int, error)
	GetStoredContext(symbol string) (*models.StoredContext, error)
	SaveNewsIntel(symbol, name, dimension, query string, resp *models.IntelResponse, queryContext map[string]string) (int, error)
	SaveAnalysisHistory(v *models.Verdict, correlationID string, kind models.ReportKind, newsText string, snapshot *models.ContextSnapshot, persistSnapshot bool) (int64, error)
	InsertRunReport(r database.RunReport) (int64, error)
}

// IntelSearch gathers news intelligence. Implemented by *search.Service.
type IntelSearch interface {
	IsAvailable() bool
	SearchComprehensiveIntel(ctx context.Context, symbol, name string, maxSearches int) []*models.IntelResponse
	FormatIntelReport(responses []*models.IntelResponse, name string) string
}

// Scorer produces verdicts. Implemented by *analyzer.Analyzer.
type Scorer interface {
	Analyze(ctx context.Context, ec *models.EnrichedContext, newsText string) (*models.Verdict, error)
	AnalyzeBatch(ctx context.Context, items []analyzer.Item) (map[string]*models.Verdict, error)
}

// Notifier renders and delivers reports. Implemented by *notify.Service.
type Notifier interface {
	IsAvailable() bool
	AvailableChannels() []string
	GenerateSingleStockReport(v *models.Verdict) string
	GenerateDashboardReport(verdicts []*models.Verdict) string
	GenerateChannelSpecificReport(channel string, verdicts []*models.Verdict) string
	Send(ctx context.Context, content string) []notify.Envelope
	SendToChannel(ctx context.Context, id, content string) notify.Envelope
	SendToContext(ctx context.Context, r *models.Requester, content string) bool
	SaveReportToFile(content string) (string, error)
}
