// Package scheduler runs the watchlist analysis once a day.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/WangXiZhu/daily-stock-analysis/internal/config"
	"github.com/WangXiZhu/daily-stock-analysis/internal/pipeline"
)

// Runner executes one analysis run. Implemented by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, symbols []string, dryRun, sendNotification bool) *pipeline.RunResult
}

// Scheduler triggers a full watchlist run at a fixed time of day.
type Scheduler struct {
	cron       *gocron.Scheduler
	job        *gocron.Job
	runner     Runner
	at         string
	runOnStart bool
	logger     zerolog.Logger
}

// New creates a scheduler firing daily at cfg.Time in loc.
func New(cfg config.Schedule, loc *time.Location, runner Runner, logger zerolog.Logger) *Scheduler {
	cron := gocron.NewScheduler(loc)
	cron.SingletonModeAll()
	return &Scheduler{
		cron:       cron,
		runner:     runner,
		at:         cfg.Time,
		runOnStart: cfg.RunOnStart,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the daily job and starts the scheduler in the background.
// With run_on_start set, one run is triggered right away.
func (s *Scheduler) Start(ctx context.Context) error {
	job, err := s.cron.Every(1).Day().At(s.at).WaitForSchedule().Do(s.RunOnce, ctx)
	if err != nil {
		return fmt.Errorf("scheduling daily run at %q: %w", s.at, err)
	}
	s.job = job

	s.cron.StartAsync()
	s.logger.Info().Str("at", s.at).Time("next_run", s.NextRun()).Msg("Scheduler started")

	if s.runOnStart {
		go s.RunOnce(ctx)
	}
	return nil
}

// Stop halts the scheduler. A run in progress is not interrupted.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Scheduler stopped")
}

// NextRun is the time of the next scheduled run, zero before Start.
func (s *Scheduler) NextRun() time.Time {
	if s.job == nil {
		return time.Time{}
	}
	return s.job.NextRun()
}

// RunOnce runs the whole watchlist with notifications.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info().Msg("Scheduled run starting")
	res := s.runner.Run(ctx, nil, false, true)
	if res == nil {
		return
	}
	s.logger.Info().
		Str("run_id", res.RunID).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Dur("elapsed", res.Elapsed).
		Time("next_run", s.NextRun()).
		Msg("Scheduled run finished")
}
