// Package pipeline runs the watchlist analysis: incremental history fetch,
// per-batch enrichment and scoring on a bounded worker pool, and
// notification fan-out.
package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/WangXiZhu/daily-stock-analysis/internal/analyzer"
	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
	"github.com/WangXiZhu/daily-stock-analysis/internal/database"
	"github.com/WangXiZhu/daily-stock-analysis/internal/gateway"
	"github.com/WangXiZhu/daily-stock-analysis/internal/llm"
	"github.com/WangXiZhu/daily-stock-analysis/internal/metrics"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
	"github.com/WangXiZhu/daily-stock-analysis/internal/notify"
	"github.com/WangXiZhu/daily-stock-analysis/internal/search"
)

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Watchlist Watchlist
	Gateway   MarketGateway
	Store     Store
	Search    IntelSearch
	Scorer    Scorer
	Notifier  Notifier
	Metrics   *metrics.Recorder
}

// RunResult is the tally of one run.
type RunResult struct {
	RunID      string
	Verdicts   []*models.Verdict
	Requested  int
	Succeeded  int
	Failed     int
	Elapsed    time.Duration
	ReportPath string
}

// Pipeline coordinates one analysis run over a set of symbols.
type Pipeline struct {
	cfg       *config.Config
	watchlist Watchlist
	gateway   MarketGateway
	store     Store
	search    IntelSearch
	scorer    Scorer
	notifier  Notifier
	metrics   *metrics.Recorder
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string

	requester *models.Requester
	origin    string
}

// New creates a pipeline over explicit collaborators.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		watchlist: deps.Watchlist,
		gateway:   deps.Gateway,
		store:     deps.Store,
		search:    deps.Search,
		scorer:    deps.Scorer,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
		newID:     uuid.NewString,
		origin:    "system",
	}
}

// NewFromConfig wires the production collaborators from cfg.
func NewFromConfig(cfg *config.Config, db *database.DB, rec *metrics.Recorder, logger zerolog.Logger) (*Pipeline, error) {
	gw, err := gateway.NewFromConfig(cfg.Market, logger)
	if err != nil {
		return nil, err
	}

	provider := llm.CreateProvider(cfg.LLM, logger)
	if provider == nil {
		logger.Warn().Msg("No LLM provider available, analysis will fail until one is configured")
	}

	client := &http.Client{Timeout: cfg.Market.RequestTimeout}
	return New(cfg, Deps{
		Watchlist: cfg.Watchlist,
		Gateway:   gw,
		Store:     db,
		Search:    search.NewFromConfig(cfg.Search, client, logger),
		Scorer:    analyzer.New(provider, cfg.LLM, cfg.Analysis, logger),
		Notifier:  notify.New(cfg.Notification, cfg.ReportDir(), logger),
		Metrics:   rec,
	}, logger), nil
}

// WithRequester returns a copy of the pipeline serving an interactive
// request. source overrides the derived origin when non-empty.
func (p *Pipeline) WithRequester(r *models.Requester, source string) *Pipeline {
	cp := *p
	cp.requester = r
	cp.origin = r.Origin(source)
	return &cp
}

// Analyze runs symbols on behalf of an interactive requester. The dashboard
// is replied to the requester's context and pushed to every channel.
func (p *Pipeline) Analyze(ctx context.Context, r *models.Requester, source string, symbols []string) *RunResult {
	return p.WithRequester(r, source).Run(ctx, symbols, false, true)
}

// Run analyzes symbols, or the watchlist when symbols is empty. It never
// fails: errors are logged where they occur and reflected in the tally.
// A dry run only fetches history.
func (p *Pipeline) Run(ctx context.Context, symbols []string, dryRun, sendNotification bool) *RunResult {
	start := p.now()
	if len(symbols) == 0 {
		symbols = p.watchlist.List()
	} else {
		symbols = config.NormalizeSymbols(symbols)
	}

	res := &RunResult{RunID: p.newID(), Requested: len(symbols)}
	logger := p.logger.With().Str("run_id", res.RunID).Logger()
	if len(symbols) == 0 {
		logger.Error().Msg("No symbols to analyze; set watchlist.symbols or STOCK_LIST")
		return res
	}

	logger.Info().
		Strs("symbols", symbols).
		Int("workers", p.cfg.Analysis.MaxWorkers).
		Bool("dry_run", dryRun).
		Msg("Starting analysis run")

	fetched := p.FetchAndSave(ctx, symbols, false)

	if len(symbols) >= p.cfg.Market.PrefetchThreshold {
		n := p.gateway.PrefetchRealtimeQuotes(ctx, symbols)
		logger.Info().Int("quotes", n).Msg("Prefetched realtime quotes")
	}

	immediate := p.cfg.Notification.SingleStockNotify
	if !dryRun {
		res.Verdicts = p.analyze(ctx, symbols, res.RunID, immediate && sendNotification)
	}

	if dryRun {
		today := models.DateOf(p.now())
		for _, s := range symbols {
			ok := fetched[s]
			if !ok {
				ok, _ = p.store.HasDataForDate(s, today)
			}
			if ok {
				res.Succeeded++
			}
		}
	} else {
		res.Succeeded = len(res.Verdicts)
	}
	res.Failed = res.Requested - res.Succeeded

	if len(res.Verdicts) > 0 && sendNotification && !dryRun {
		res.ReportPath = p.dispatchDashboard(ctx, res.Verdicts, immediate)
	}

	res.Elapsed = p.now().Sub(start)
	logger.Info().
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Dur("elapsed", res.Elapsed).
		Msg("Analysis run complete")

	p.recordRun(logger, res, dryRun, start)
	return res
}

// analyze partitions symbols into batches and scores them on the worker
// pool. Verdicts come back in watchlist order.
func (p *Pipeline) analyze(ctx context.Context, symbols []string, runID string, notifyEach bool) []*models.Verdict {
	kind := models.ParseReportKind(p.cfg.Analysis.ReportType)
	batches := Partition(symbols, p.cfg.Analysis.BatchSize)
	p.logger.Info().Int("batch_size", p.cfg.Analysis.BatchSize).Int("batches", len(batches)).Msg("Dispatching batches")

	orch := NewOrchestrator(p.cfg.Analysis.MaxWorkers, p.cfg.Analysis.BatchDelay, p.metrics, p.logger)
	results := orch.Run(ctx, batches, func(ctx context.Context, _ int, batch []string) (map[string]*models.Verdict, error) {
		verdicts, err := p.processBatch(ctx, batch, kind, runID)
		if notifyEach {
			for _, s := range batch {
				if v := verdicts[s]; v != nil {
					p.notifyImmediate(ctx, v, kind)
				}
			}
		}
		return verdicts, err
	})

	bySymbol := make(map[string]*models.Verdict, len(symbols))
	for _, r := range results {
		for s, v := range r.Verdicts {
			bySymbol[s] = v
		}
	}

	out := make([]*models.Verdict, 0, len(bySymbol))
	for _, s := range symbols {
		if v, ok := bySymbol[s]; ok {
			out = append(out, v)
		}
	}
	p.metrics.RecordVerdicts(len(out))
	return out
}

// processBatch scores one batch. Every symbol gets its own correlation id
// derived from the run id.
func (p *Pipeline) processBatch(ctx context.Context, batch []string, kind models.ReportKind, runID string) (map[string]*models.Verdict, error) {
	tasks := make([]models.SymbolTask, len(batch))
	for i, s := range batch {
		tasks[i] = models.SymbolTask{
			Symbol:        s,
			ReportKind:    kind,
			CorrelationID: models.DeriveCorrelationID(runID, s),
			Origin:        p.origin,
			Requester:     p.requester,
		}
	}

	if len(tasks) == 1 {
		v, err := p.analyzeOne(ctx, tasks[0])
		if err != nil {
			return nil, err
		}
		return map[string]*models.Verdict{v.Symbol: v}, nil
	}
	return p.analyzeMany(ctx, tasks)
}

// notifyImmediate pushes one verdict as soon as it exists. A push that
// panics is logged and dropped; the verdict stays with the batch.
func (p *Pipeline) notifyImmediate(ctx context.Context, v *models.Verdict, kind models.ReportKind) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("symbol", v.Symbol).Interface("panic", r).Msg("Single stock push panicked")
		}
	}()
	if !p.notifier.IsAvailable() {
		return
	}
	content := p.notifier.GenerateSingleStockReport(v)
	if kind == models.ReportFull {
		content = p.notifier.GenerateDashboardReport([]*models.Verdict{v})
	}

	envs := p.notifier.Send(ctx, content)
	for _, e := range envs {
		if !errors.Is(e.Err, notify.ErrUnknownChannel) {
			p.metrics.RecordDispatch(e.Channel, e.Success)
		}
	}
	logger := p.logger.With().Str("symbol", v.Symbol).Logger()
	if notify.Delivered(envs) {
		logger.Info().Msg("Single stock report pushed")
	} else {
		logger.Warn().Msg("Single stock report push failed")
	}
}

// dispatchDashboard saves the dashboard and, unless per-symbol pushes already
// went out, fans it out to every channel and to the requester. Returns the
// saved report path.
func (p *Pipeline) dispatchDashboard(ctx context.Context, verdicts []*models.Verdict, skipPush bool) string {
	report := p.notifier.GenerateDashboardReport(verdicts)
	path, err := p.notifier.SaveReportToFile(report)
	if err != nil {
		p.logger.Error().Err(err).Msg("Saving dashboard failed")
	}

	if skipPush {
		p.logger.Info().Msg("Single stock mode: dashboard saved, not pushed")
		return path
	}
	if !p.notifier.IsAvailable() && p.requester == nil {
		p.logger.Info().Msg("No notification channel configured, skipping push")
		return path
	}

	contextOK := p.notifier.SendToContext(ctx, p.requester, report)
	channelOK := false
	for _, id := range p.notifier.AvailableChannels() {
		content := report
		if id == notify.ChannelWeChat {
			content = p.notifier.GenerateChannelSpecificReport(id, verdicts)
		}
		env := p.notifier.SendToChannel(ctx, id, content)
		if errors.Is(env.Err, notify.ErrUnknownChannel) {
			p.logger.Warn().Str("channel", id).Msg("Unknown notification channel, skipped")
			continue
		}
		p.metrics.RecordDispatch(id, env.Success)
		channelOK = channelOK || env.Success
	}

	if channelOK || contextOK {
		p.logger.Info().Msg("Dashboard pushed")
	} else {
		p.logger.Warn().Msg("Dashboard push failed on every channel")
	}
	return path
}

func (p *Pipeline) recordRun(logger zerolog.Logger, res *RunResult, dryRun bool, start time.Time) {
	p.metrics.RecordRun(dryRun, res.Elapsed)

	var reportPath *string
	if res.ReportPath != "" {
		reportPath = &res.ReportPath
	}
	_, err := p.store.InsertRunReport(database.RunReport{
		RunID:      res.RunID,
		RunDate:    start.Format(models.DateLayout),
		Requested:  res.Requested,
		Succeeded:  res.Succeeded,
		Failed:     res.Failed,
		DryRun:     dryRun,
		ReportPath: reportPath,
		ElapsedMS:  res.Elapsed.Milliseconds(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Recording run report failed")
	}
}
