package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/WangXiZhu/daily-stock-analysis/internal/logging"
	"github.com/WangXiZhu/daily-stock-analysis/internal/metrics"
	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// Partition splits symbols into contiguous batches of at most size,
// preserving order. size < 1 is treated as 1.
func Partition(symbols []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(symbols); start += size {
		out = append(out, symbols[start:min(start+size, len(symbols))])
	}
	return out
}

// BatchResult is the outcome of one batch. Err is set when the batch failed
// as a whole; Verdicts may still hold partial results.
type BatchResult struct {
	Index    int
	Symbols  []string
	Verdicts map[string]*models.Verdict
	Err      error
}

// BatchFunc analyzes one batch.
type BatchFunc func(ctx context.Context, index int, symbols []string) (map[string]*models.Verdict, error)

// Orchestrator runs batches on a bounded worker pool.
type Orchestrator struct {
	maxWorkers int
	delay      time.Duration
	metrics    *metrics.Recorder
	logger     zerolog.Logger
}

// NewOrchestrator creates an orchestrator. delay is the pause before
// dispatching each batch after the first.
func NewOrchestrator(maxWorkers int, delay time.Duration, rec *metrics.Recorder, logger zerolog.Logger) *Orchestrator {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Orchestrator{
		maxWorkers: maxWorkers,
		delay:      delay,
		metrics:    rec,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes fn for every batch and returns the results in completion
// order. A failing or panicking batch never affects the others.
func (o *Orchestrator) Run(ctx context.Context, batches [][]string, fn BatchFunc) []BatchResult {
	results := make(chan BatchResult, len(batches))

	var g errgroup.Group
	g.SetLimit(o.maxWorkers)

	go func() {
		for i, batch := range batches {
			if i > 0 && o.delay > 0 {
				select {
				case <-time.After(o.delay):
				case <-ctx.Done():
				}
			}
			g.Go(func() error {
				results <- o.runBatch(ctx, i, batch, fn)
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	out := make([]BatchResult, 0, len(batches))
	for res := range results {
		logger := logging.WithBatch(o.logger, res.Index)
		if res.Err != nil {
			logger.Error().Err(res.Err).Strs("symbols", res.Symbols).Msg("Batch failed")
		} else {
			logger.Debug().Int("verdicts", len(res.Verdicts)).Msg("Batch done")
		}
		o.metrics.RecordBatch(res.Err != nil)
		out = append(out, res)
	}
	return out
}

func (o *Orchestrator) runBatch(ctx context.Context, index int, symbols []string, fn BatchFunc) (res BatchResult) {
	res = BatchResult{Index: index, Symbols: symbols}
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("batch %d panicked: %v", index, r)
		}
	}()
	res.Verdicts, res.Err = fn(ctx, index, symbols)
	return res
}
